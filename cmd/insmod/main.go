// Command insmod is the combined module utility binary: invoked as
// insmod, rmmod, lsmod, or ksyms it acts accordingly, decided by the
// name it was started under.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conn-castle/modutils/internal/kernel"
	"github.com/conn-castle/modutils/internal/messages"
)

// SilentExitError reports an exit code without emitting error output;
// the command already said what went wrong.
type SilentExitError struct {
	Code int
}

func (e SilentExitError) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// tools are the personalities this binary can assume.
var tools = []string{"insmod", "rmmod", "lsmod", "ksyms"}

// newKernel is the kernel boundary; tests substitute fakes.
var newKernel = func() kernel.Interface { return kernel.Syscall{} }

func main() {
	runMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

// pickTool decides the personality from the invoked program name, which
// must contain exactly one tool name.
func pickTool(prog string) (string, error) {
	var found []string
	for _, t := range tools {
		if strings.Contains(prog, t) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", fmt.Errorf(messages.DispatchUnrecognizedNameFmt, prog, strings.Join(tools, ", "))
	default:
		return "", fmt.Errorf(messages.DispatchAmbiguousNameFmt, prog, strings.Join(tools, ", "))
	}
}

// newCmd builds the cobra command for the chosen personality.
func newCmd(tool string) *cobra.Command {
	var cmd *cobra.Command
	switch tool {
	case "rmmod":
		cmd = newRmmodCmd()
	case "lsmod":
		cmd = newLsmodCmd()
	case "ksyms":
		cmd = newKsymsCmd()
	default:
		cmd = newInsmodCmd()
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

// runMain dispatches on the program name and executes the command,
// exiting non-zero on the first error.
func runMain(args []string, stdout, stderr io.Writer, exit func(int)) {
	tool, err := pickTool(filepath.Base(args[0]))
	if err != nil {
		fmt.Fprintln(stderr, err)
		exit(1)
		return
	}

	cmd := newCmd(tool)
	cmd.SetArgs(args[1:])
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		var silent SilentExitError
		if errors.As(err, &silent) {
			exit(silent.Code)
			return
		}
		fmt.Fprintln(stderr, err)
		exit(1)
	}
}
