// tstrip - drops an object's symbol and relocation sections in place.
//
// Usage: tstrip [flags] file.to
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/objfmt"
)

func main() {
	var output string

	cmd := &cobra.Command{
		Use:           "tstrip [flags] file",
		Short:         "Strip an object's symbol and relocation sections",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to overwriting the input)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, output string) error {
	obj, err := objfmt.ReadFile(path)
	if err != nil {
		return err
	}

	obj.Header.Info &^= objfmt.InfoLinkable
	obj.Relocs = nil
	obj.Symbols = nil

	if output == "" {
		output = path
	}
	return obj.WriteFile(output)
}
