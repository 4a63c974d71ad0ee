package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conn-castle/modutils/internal/messages"
)

func newKsymsCmd() *cobra.Command {
	var (
		all     bool
		modInfo bool
	)

	cmd := &cobra.Command{
		Use:   messages.KsymsUse,
		Short: messages.KsymsShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, residents, err := newKernel().QueryInfo()
			if err != nil {
				return fmt.Errorf(messages.KernelQueryFailedFmt, err)
			}

			out := cmd.OutOrStdout()
			const addrWidth = 16
			for _, m := range residents {
				if modInfo {
					fmt.Fprintf(out, messages.KsymsModuleInfoFmt+"\n", m.Name, m.Size, m.Addr)
				}
				for _, s := range m.Symbols {
					fmt.Fprintf(out, messages.KsymsRowModuleFmt+"\n", addrWidth, s.Value, s.Name, m.Name)
				}
			}
			if all {
				for _, s := range snap.Symbols {
					fmt.Fprintf(out, messages.KsymsRowFmt+"\n", addrWidth, s.Value, s.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, messages.KsymsAllUsage)
	cmd.Flags().BoolVarP(&modInfo, "modules", "m", false, messages.KsymsModulesUsage)
	return cmd
}
