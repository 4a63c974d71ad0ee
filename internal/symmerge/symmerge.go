// Package symmerge imports the exported symbols of resident modules and
// the kernel into a new module's namespace, tracking which donors it
// ends up depending on.
package symmerge

import (
	"debug/elf"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/kernel"
)

// addFrom promotes one donor's exports into the module's table. Only
// names the module already references externally are considered:
// overriding locals could corrupt parameter storage and would create a
// false dependency. Reports whether at least one symbol landed with the
// donor's reserved index.
func addFrom(f *elfobj.File, donorIdx int, syms []kernel.Symbol) bool {
	used := false
	for _, ks := range syms {
		existing := f.FindSymbol(ks.Name)
		if existing == nil || existing.Binding == elfobj.BindLocal {
			continue
		}
		s := f.AddSymbol(ks.Name, donorIdx, elfobj.BindGlobal, int(elf.STT_NOTYPE), ks.Value, 0)
		if s.Section == donorIdx {
			used = true
		}
	}
	return used
}

// Merge runs the two promotion passes: resident modules first, then the
// kernel proper. Because the kernel pass runs last, a name exported by
// both resolves to the kernel's value. Each satisfied donor is marked
// Used; the returned count sizes the dependency table.
func Merge(f *elfobj.File, residents []*kernel.ResidentModule, kernelSyms []kernel.Symbol) int {
	used := 0
	for i, m := range residents {
		if len(m.Symbols) == 0 {
			continue
		}
		if addFrom(f, elfobj.SecModuleBase+i, m.Symbols) {
			m.Used = true
			used++
		}
	}
	if len(kernelSyms) > 0 {
		addFrom(f, elfobj.SecKernel, kernelSyms)
	}
	return used
}
