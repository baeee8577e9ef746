// tld - TRASM link editor.
//
// Usage: tld [flags] file1.to file2.to lib.ta ...
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/linker"
)

func main() {
	var output string
	var opts linker.Options

	cmd := &cobra.Command{
		Use:           "tld [flags] file...",
		Short:         "Link relocatable objects and archives into one object",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, output, opts)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "a.out", "output file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVarP(&opts.KeepUnresolved, "keep-unresolved", "r", false, "keep unresolved externals for further linking")
	cmd.Flags().BoolVarP(&opts.Squash, "squash", "s", false, "strip the global symbol table")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(paths []string, output string, opts linker.Options) error {
	opts.Log = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }

	inputs := make([]linker.Input, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		inputs[i] = linker.Input{Name: p, Data: data}
	}

	obj, err := linker.Link(inputs, opts)
	if err != nil {
		return err
	}

	if err := obj.WriteFile(output); err != nil {
		return err
	}
	if opts.Verbose {
		fmt.Printf("tld: wrote %s (text_top=0x%04x data_top=0x%04x bss_top=0x%04x)\n",
			output, obj.Header.TextTop, obj.Header.DataTop, obj.Header.BssTop)
	}
	return nil
}
