package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/conn-castle/modutils/internal/config"
	"github.com/conn-castle/modutils/internal/load"
	"github.com/conn-castle/modutils/internal/messages"
	"github.com/conn-castle/modutils/internal/terminal"
)

// unameRelease reports the running kernel's release for path searches.
var unameRelease = func() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

var isInteractive = terminal.IsInteractive

func newInsmodCmd() *cobra.Command {
	var (
		opts       load.Options
		noExport   bool
		noKsym     bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:   messages.InsmodUse,
		Short: messages.InsmodShort,
		Long:  messages.InsmodLong,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New(messages.InsmodMissingModuleArg)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			opts.Args = args[1:]
			opts.Export = !noExport
			opts.DebugSyms = !noKsym
			opts.Color = isInteractive()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if config.IsBareName(path) {
				paths, err := cfg.SearchPaths(unameRelease())
				if err != nil {
					return err
				}
				found, ok := config.FindModule(paths, path)
				if !ok {
					return fmt.Errorf(messages.NoModuleByNameFmt, path)
				}
				if opts.Verbose {
					fmt.Fprintf(cmd.OutOrStdout(), messages.UsingModuleFmt, found)
				}
				path = found
			}

			applyConfigDefaults(cmd, cfg, &opts, path)

			ctx := load.New(newKernel(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return ctx.Run(path)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.Force, "force", "f", false, messages.FlagForceUsage)
	flags.BoolVarP(&opts.Autoclean, "autoclean", "k", false, messages.FlagAutocleanUsage)
	flags.BoolVarP(&opts.Map, "map", "m", false, messages.FlagMapUsage)
	flags.BoolVarP(&opts.Noload, "noload", "n", false, messages.FlagNoloadUsage)
	flags.StringVarP(&opts.Name, "name", "o", "", messages.FlagNameUsage)
	flags.BoolVarP(&opts.Poll, "poll", "p", false, messages.FlagPollUsage)
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, messages.FlagQuietUsage)
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, messages.FlagVerboseUsage)
	flags.BoolVarP(&opts.Lock, "lock", "L", false, messages.FlagLockUsage)
	flags.StringVarP(&opts.Prefix, "prefix", "P", "", messages.FlagPrefixUsage)
	flags.BoolVarP(&noExport, "no-export", "x", false, messages.FlagNoExportUsage)
	flags.BoolVarP(&noKsym, "no-ksym", "y", false, messages.FlagNoKsymUsage)
	flags.StringVarP(&configPath, "config", "C", config.DefaultPath, messages.FlagConfigUsage)
	return cmd
}

// applyConfigDefaults folds the module's configured defaults into the
// run options. Explicit command-line flags win.
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config, opts *load.Options, path string) {
	name := opts.Name
	if name == "" {
		name = load.ModuleName(path)
	}
	mo, ok := cfg.ModuleOptions(name)
	if !ok {
		return
	}
	if mo.Autoclean != nil && !cmd.Flags().Changed("autoclean") {
		opts.Autoclean = *mo.Autoclean
	}
	if mo.Force != nil && !cmd.Flags().Changed("force") {
		opts.Force = *mo.Force
	}
	if mo.Prefix != "" && opts.Prefix == "" {
		opts.Prefix = mo.Prefix
	}
	if len(mo.Args) > 0 {
		opts.Args = append(append([]string{}, mo.Args...), opts.Args...)
	}
}
