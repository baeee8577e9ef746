// tsize - prints an object's segment sizes, Unix size(1) style.
//
// Usage: tsize file.to
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tergav17/trasm/internal/objfmt"
)

func main() {
	cmd := &cobra.Command{
		Use:           "tsize file",
		Short:         "Print the text, data, bss and total size of an object",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	obj, err := objfmt.ReadFile(path)
	if err != nil {
		return err
	}

	h := obj.Header
	text := h.TextTop - objfmt.HeaderSize
	data := h.DataTop - h.TextTop
	bss := h.BssTop - h.DataTop
	total := text + data + bss

	fmt.Println("text\tdata\tbss\ttotal (hex)")
	fmt.Printf("%x\t%x\t%x\t%x\n", text, data, bss, total)
	return nil
}
