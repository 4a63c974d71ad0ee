// Package kernel is the narrow boundary to the running kernel's module
// namespace: one query of live state, plus reserve, install, and
// uninstall. Everything above it is pure computation.
package kernel

import (
	"strings"
)

// Symbol is one exported symbol of the kernel or a resident module.
type Symbol struct {
	Name  string
	Value uint64
}

// Snapshot is the immutable per-run view of the kernel proper.
type Snapshot struct {
	// Release is the kernel release string, e.g. "2.2.16".
	Release string
	// Version is the full build banner, used for SMP detection.
	Version string
	// Checksummed reports whether the kernel exports checksummed
	// symbol names.
	Checksummed bool
	// NewModuleABI selects the self-descriptor module format; old
	// kernels take a bare use-count cell instead.
	NewModuleABI bool
	// Symbols are the kernel proper's exports.
	Symbols []Symbol
}

// SMP reports whether the kernel identifies itself as a multiprocessor
// build.
func (s *Snapshot) SMP() bool {
	_, rest, ok := strings.Cut(s.Version, " ")
	return ok && strings.HasPrefix(rest, "SMP ")
}

// SymbolNames returns the export names in order.
func (s *Snapshot) SymbolNames() []string {
	names := make([]string, len(s.Symbols))
	for i, sym := range s.Symbols {
		names[i] = sym.Name
	}
	return names
}

// ResidentModule is one already-loaded module, a potential symbol donor.
type ResidentModule struct {
	Name     string
	Addr     uint64
	Size     uint64
	UseCount int64
	Refs     []string
	Symbols  []Symbol

	// Used is set during symbol merge when this module satisfied at
	// least one import.
	Used bool
}

// Interface is the kernel call surface the orchestrator consumes. The
// syscall-backed implementation lives in this package; tests substitute
// fakes.
type Interface interface {
	// QueryInfo fetches the snapshot and resident module list, once
	// per run.
	QueryInfo() (*Snapshot, []*ResidentModule, error)
	// Reserve asks the kernel for load space and returns the base
	// address. Failure is classified through errors.Is against
	// unix.EEXIST and unix.ENOMEM.
	Reserve(name string, size uint64) (uint64, error)
	// Install hands the finished image to the kernel.
	Install(name string, image []byte) error
	// Uninstall removes a module, used for rollback and by rmmod.
	Uninstall(name string) error
}
