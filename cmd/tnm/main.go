// tnm - TRASM name-list utility: print an object's symbol table.
//
// Usage: tnm [flags] file.to
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/objfmt"
)

func main() {
	var unsorted, reverse, externsOnly, byValue, noHeader bool

	cmd := &cobra.Command{
		Use:           "tnm [flags] file",
		Short:         "List the symbols of a relocatable object",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], unsorted, reverse, externsOnly, byValue, noHeader)
		},
	}
	cmd.Flags().BoolVarP(&unsorted, "unsorted", "p", false, "print symbols in their on-disk order, unsorted")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "reverse sort order")
	cmd.Flags().BoolVarP(&externsOnly, "externs", "g", false, "list external references only")
	cmd.Flags().BoolVarP(&byValue, "by-value", "v", false, "sort by value instead of name")
	cmd.Flags().BoolVarP(&noHeader, "no-header", "h", false, "omit the column header")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, unsorted, reverse, externsOnly, byValue, noHeader bool) error {
	obj, err := objfmt.ReadFile(path)
	if err != nil {
		return err
	}

	syms := append([]objfmt.SymbolRecord{}, obj.Symbols...)
	if externsOnly {
		filtered := syms[:0]
		for _, s := range syms {
			if s.Tag >= uint8(objfmt.FirstExtern) {
				filtered = append(filtered, s)
			}
		}
		syms = filtered
	}

	if !unsorted {
		sort.SliceStable(syms, func(i, j int) bool {
			if byValue {
				return syms[i].Value < syms[j].Value
			}
			return syms[i].Name < syms[j].Name
		})
	}
	if reverse {
		for i, j := 0, len(syms)-1; i < j; i, j = i+1, j-1 {
			syms[i], syms[j] = syms[j], syms[i]
		}
	}

	if !noHeader {
		fmt.Println("value t name")
	}
	for _, s := range syms {
		fmt.Printf("%04x %c %s\n", s.Value, objfmt.TagLetter(s.Tag), s.Name)
	}
	return nil
}
