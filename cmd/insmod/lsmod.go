package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conn-castle/modutils/internal/messages"
)

func newLsmodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   messages.LsmodUse,
		Short: messages.LsmodShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, residents, err := newKernel().QueryInfo()
			if err != nil {
				return fmt.Errorf(messages.KernelQueryFailedFmt, err)
			}

			header := color.New(color.Bold)
			if !isInteractive() {
				header.DisableColor()
			}
			out := cmd.OutOrStdout()
			header.Fprintln(out, messages.LsmodHeader)
			for _, m := range residents {
				refs := ""
				if len(m.Refs) > 0 {
					refs = "[" + strings.Join(m.Refs, " ") + "]"
				}
				fmt.Fprintf(out, messages.LsmodRowFmt+"\n", m.Name, m.Size, m.UseCount, refs)
			}
			return nil
		},
	}
}
