// Package load orchestrates a module installation: interrogate the
// kernel, check versions, resolve symbols, synthesize the kernel-facing
// structures, patch parameters, and hand the relocated image over. At
// most one kernel mutation happens per run.
package load

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/conn-castle/modutils/internal/abi"
	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/kernel"
	"github.com/conn-castle/modutils/internal/messages"
	"github.com/conn-castle/modutils/internal/modversion"
	"github.com/conn-castle/modutils/internal/ncv"
	"github.com/conn-castle/modutils/internal/params"
	"github.com/conn-castle/modutils/internal/symmerge"
)

// Failure classification sentinels.
var (
	ErrVersion    = errors.New("version check failed")
	ErrSymbol     = errors.New("symbol resolution failed")
	ErrParameter  = errors.New("parameter error")
	ErrAbiBuild   = errors.New("module synthesis failed")
	ErrKernelCall = errors.New("kernel call failed")
)

// noloadBase is the placeholder load address used when the kernel is
// not touched; the resulting map is still representative.
const noloadBase = 0x12340000

// Phase tracks how far an installation got.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseKernelInfoLoaded
	PhaseVersionChecked
	PhaseSymbolsMerged
	PhaseSelfDescriptorCreated
	PhaseUndefinedChecked
	PhaseCommonsAllocated
	PhaseParametersPatched
	PhaseAbiFinalized
	PhaseRelocated
	PhaseInstalled
	PhaseAborted
)

var phaseNames = map[Phase]string{
	PhaseStart:                 "start",
	PhaseKernelInfoLoaded:      "kernel-info-loaded",
	PhaseVersionChecked:        "version-checked",
	PhaseSymbolsMerged:         "symbols-merged",
	PhaseSelfDescriptorCreated: "self-descriptor-created",
	PhaseUndefinedChecked:      "undefined-checked",
	PhaseCommonsAllocated:      "commons-allocated",
	PhaseParametersPatched:     "parameters-patched",
	PhaseAbiFinalized:          "abi-finalized",
	PhaseRelocated:             "relocated",
	PhaseInstalled:             "installed",
	PhaseAborted:               "aborted",
}

func (p Phase) String() string { return phaseNames[p] }

// Options are the per-run settings, resolved from flags and config
// before the run starts.
type Options struct {
	Force     bool
	Autoclean bool
	Map       bool
	Noload    bool
	Poll      bool
	Quiet     bool
	Verbose   bool
	Lock      bool

	// Export and DebugSyms default to on; the flags turn them off.
	Export    bool
	DebugSyms bool

	// Name overrides the module name derived from the file name.
	Name string
	// Prefix overrides the derived symbol version prefix.
	Prefix string
	// Args are the key=value parameter assignments.
	Args []string

	// Color enables highlighted report output.
	Color bool
}

// Context carries one installation run. It is a value handed down the
// phases, never package state.
type Context struct {
	k    kernel.Interface
	opts Options
	out  io.Writer
	errw io.Writer

	phase    Phase
	reserved bool
	modname  string
}

// New returns a run context against the given kernel boundary.
func New(k kernel.Interface, opts Options, out, errw io.Writer) *Context {
	return &Context{k: k, opts: opts, out: out, errw: errw}
}

// Phase reports how far the run got, for reporting and tests.
func (c *Context) Phase() Phase { return c.phase }

// fail marks the run aborted and returns a classified error.
func (c *Context) fail(sentinel error, format string, args ...any) error {
	c.phase = PhaseAborted
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}

// ModuleName derives the kernel-visible module name from the object
// path: the base name with its extension dropped.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Run installs the module object at path. The file stays open (and,
// when requested, flocked) for the whole run.
func (c *Context) Run(path string) error {
	file, err := os.Open(path)
	if err != nil {
		c.phase = PhaseAborted
		return fmt.Errorf(messages.LoadOpenFailedFmt, path, err)
	}
	defer file.Close()

	if c.opts.Lock {
		if err := lockFile(file); err != nil {
			c.phase = PhaseAborted
			return fmt.Errorf(messages.LoadLockFailedFmt, path, err)
		}
		defer unlockFile(file)
	}

	f, err := elfobj.Load(file)
	if err != nil {
		c.phase = PhaseAborted
		return fmt.Errorf(messages.LoadOpenFailedFmt, path, err)
	}

	mtime := time.Time{}
	if fi, err := file.Stat(); err == nil {
		mtime = fi.ModTime()
	}

	name := c.opts.Name
	if name == "" {
		name = ModuleName(path)
	}
	return c.Install(f, name, path, mtime)
}

// Install drives the phase machine over an already-parsed object.
// filename and mtime feed the debug tag symbols.
func (c *Context) Install(f *elfobj.File, modname, filename string, mtime time.Time) error {
	c.modname = modname

	snap, residents, err := c.k.QueryInfo()
	if err != nil {
		return c.fail(ErrKernelCall, messages.KernelQueryFailedFmt, err)
	}
	c.phase = PhaseKernelInfoLoaded

	for _, m := range residents {
		if m.Name != modname {
			continue
		}
		if c.opts.Lock {
			// Another holder of the lock beat us to it.
			c.phase = PhaseInstalled
			return nil
		}
		return c.fail(ErrKernelCall, messages.KernelReserveExistsFmt, modname)
	}

	if err := c.checkVersion(f, snap, filename); err != nil {
		return err
	}
	c.phase = PhaseVersionChecked

	used := symmerge.Merge(f, residents, snap.Symbols)
	c.phase = PhaseSymbolsMerged

	if snap.NewModuleABI {
		abi.CreateSelfDescriptor(f, modname)
	} else {
		abi.CreateUseCount(f)
	}
	abi.HideSpecialSymbols(f)
	c.phase = PhaseSelfDescriptorCreated

	if !f.CheckUndefined(c.opts.Quiet, c.errw) {
		return c.fail(ErrSymbol, messages.SymbolUnresolvedFmt, modname)
	}
	c.phase = PhaseUndefinedChecked

	f.AllocateCommons()
	c.phase = PhaseCommonsAllocated

	if err := params.Apply(f, c.opts.Args); err != nil {
		return c.fail(ErrParameter, "%w", err)
	}
	c.phase = PhaseParametersPatched

	if snap.NewModuleABI {
		if err := abi.CreateTables(f, residents, used, c.opts.Export); err != nil {
			return c.fail(ErrAbiBuild, "%w", err)
		}
		if c.opts.DebugSyms {
			version := -1
			if mver, err := modversion.ModuleVersion(f); err == nil {
				if spec, err := modversion.Parse(mver); err == nil {
					version = spec.Encode()
				}
			}
			abi.AddDebugSymbols(f, filename, modname, version, mtime, c.opts.Export)
		}
		abi.HideSpecialSymbols(f)
	}
	c.phase = PhaseAbiFinalized

	if c.opts.Poll {
		return nil
	}

	size := f.LoadSize()

	base := uint64(noloadBase)
	if !c.opts.Noload {
		base, err = c.k.Reserve(modname, size)
		if err != nil {
			switch {
			case errors.Is(err, unix.EEXIST):
				if c.opts.Lock {
					// Someone installed it between our query and the
					// reservation; with the lock held that is success.
					c.phase = PhaseInstalled
					return nil
				}
				return c.fail(ErrKernelCall, messages.KernelReserveExistsFmt, modname)
			case errors.Is(err, unix.ENOMEM):
				return c.fail(ErrKernelCall, messages.KernelReserveNomemFmt, size)
			default:
				return c.fail(ErrKernelCall, messages.KernelReserveFailedFmt, err)
			}
		}
		c.reserved = true
	}

	if err := f.Relocate(base); err != nil {
		c.rollback()
		return c.fail(ErrAbiBuild, "%w", err)
	}
	c.phase = PhaseRelocated

	if snap.NewModuleABI {
		abi.FinalizeSelfDescriptor(f, size, c.opts.Autoclean, used)
	}
	image := f.BuildImage(base)

	if !c.opts.Noload {
		if err := c.k.Install(modname, image); err != nil {
			c.rollback()
			if errors.Is(err, unix.EBUSY) {
				fmt.Fprint(c.errw, messages.KernelInstallBusyHint)
			}
			return c.fail(ErrKernelCall, messages.KernelInstallFailedFmt, err)
		}
	}
	c.phase = PhaseInstalled

	if c.opts.Map {
		printLoadMap(c.out, f, c.opts.Color)
	}
	return nil
}

// checkVersion applies the version policy and, when the two sides run
// different checksum modes, installs the tolerant name comparator.
func (c *Context) checkVersion(f *elfobj.File, snap *kernel.Snapshot, filename string) error {
	// A module that does not say what it was compiled for cannot be
	// checked at all; force only downgrades a mismatch.
	mver, err := modversion.ModuleVersion(f)
	if err != nil {
		return c.fail(ErrVersion, "%w", err)
	}

	kCRC := snap.Checksummed
	mCRC := modversion.ModuleChecksummed(f)

	if !modversion.Compatible(snap.Release, mver, kCRC, mCRC) {
		if !c.opts.Force {
			return c.fail(ErrVersion, messages.VersionMismatchFmt, filename, mver, snap.Release)
		}
		fmt.Fprintf(c.errw, messages.VersionMismatchWarnFmt, filename, mver, snap.Release)
	}

	if kCRC != mCRC {
		policy := ncv.ResolvePrefix(c.opts.Prefix, snap.SymbolNames(), snap.SMP())
		policy.Install(f)
		if c.opts.Verbose {
			fmt.Fprintf(c.errw, messages.VersionPrefixFmt, policy.Prefix)
		}
	}
	return nil
}

// rollback undoes the reservation on the failure paths. Best effort:
// the run is already failing for a better reason.
func (c *Context) rollback() {
	if !c.reserved {
		return
	}
	_ = c.k.Uninstall(c.modname)
	c.reserved = false
}
