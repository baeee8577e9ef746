// treloc - TRASM relocator: rebase a single object to a new load
// address, optionally freezing its data segment to absolute.
//
// Usage: treloc [flags] file.to
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/linker"
	"github.com/tergav17/trasm/internal/objfmt"
)

func main() {
	var output string
	var base uint16
	var verbose bool
	var opts linker.RelocateOptions

	cmd := &cobra.Command{
		Use:           "treloc [flags] file",
		Short:         "Rebase a relocatable object to a new load address",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseGiven := cmd.Flags().Changed("base")
			if baseGiven {
				opts.Base = base
			}
			return run(args[0], output, opts, baseGiven, verbose)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "a.out", "output file")
	cmd.Flags().Uint16VarP(&base, "base", "b", 0, "new text origin (defaults to the object's current origin)")
	cmd.Flags().BoolVarP(&opts.Headerless, "headerless", "n", false, "omit the 16-byte header from the output")
	cmd.Flags().BoolVarP(&opts.Freeze, "freeze", "d", false, "convert data-segment symbols to absolute")
	cmd.Flags().BoolVarP(&opts.Squash, "squash", "s", false, "strip the symbol table")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, output string, opts linker.RelocateOptions, baseGiven, verbose bool) error {
	obj, err := objfmt.ReadFile(path)
	if err != nil {
		return err
	}
	// Without an explicit -b, rebase to a no-op by keeping the
	// object's own current origin (spec §8 Idempotence).
	if !baseGiven {
		opts.Base = obj.Header.TextOrigin
	}

	out, err := linker.Relocate(obj, opts)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Printf("treloc: %s: origin 0x%04x -> 0x%04x\n", path, obj.Header.TextOrigin, out.Header.TextOrigin)
	}

	if opts.Headerless {
		var buf bytes.Buffer
		buf.Write(out.Text)
		buf.Write(out.Data)
		return os.WriteFile(output, buf.Bytes(), 0o644)
	}
	return out.WriteFile(output)
}
