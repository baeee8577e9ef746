// tas - TRASM two-pass Z80 assembler.
//
// Usage: tas [flags] file1.s file2.s ...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/assembler"
)

func main() {
	var output string
	var opts assembler.Options

	cmd := &cobra.Command{
		Use:           "tas [flags] file...",
		Short:         "Assemble Z80 source into a relocatable object",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, output, opts)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "a.to", "output file")
	cmd.Flags().BoolVarP(&opts.AutoGlobal, "auto-globl", "g", false, "auto-globalise every label")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	if err := cmd.Execute(); err != nil {
		// Errors from the driver already carry a "source-file:line:"
		// prefix (spec §5/§7); print them verbatim.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(paths []string, output string, opts assembler.Options) error {
	contents := make([][]byte, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		contents[i] = data
		if opts.Verbose {
			fmt.Printf("tas: reading %s\n", p)
		}
	}

	obj, err := assembler.Assemble(paths, contents, opts)
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Printf("tas: writing %s (text %d, data %d bytes)\n", output, len(obj.Text), len(obj.Data))
	}

	if err := obj.WriteFile(output); err != nil {
		return err
	}
	return nil
}
