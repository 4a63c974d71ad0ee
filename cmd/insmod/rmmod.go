package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conn-castle/modutils/internal/messages"
)

func newRmmodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   messages.RmmodUse,
		Short: messages.RmmodShort,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New(messages.RmmodMissingModuleArg)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newKernel()
			var failed []string
			for _, name := range args {
				if err := k.Uninstall(name); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(),
						fmt.Errorf(messages.KernelRemoveFailedFmt, name, err))
					failed = append(failed, name)
				}
			}
			if len(failed) > 0 {
				return SilentExitError{Code: 1}
			}
			return nil
		},
	}
}
