package elfobj

import (
	"fmt"
	"io"
)

// stringPatch records a pointer-sized slot that must receive the final
// address of a NUL-terminated string.
type stringPatch struct {
	section int
	offset  uint64
	str     string

	// strOffset is assigned when the string table is materialized.
	strOffset uint64
}

// symbolPatch records a pointer-sized slot that must receive the final
// value of a symbol.
type symbolPatch struct {
	section int
	offset  uint64
	sym     *Symbol
}

// StringPatch defers writing the address of str into the given slot
// until the image is built, when addresses are final.
func (f *File) StringPatch(secidx int, offset uint64, str string) {
	f.stringPatches = append(f.stringPatches, stringPatch{
		section: secidx,
		offset:  offset,
		str:     str,
	})
}

// SymbolPatch defers writing the final value of sym into the given slot.
func (f *File) SymbolPatch(secidx int, offset uint64, sym *Symbol) {
	f.symbolPatches = append(f.symbolPatches, symbolPatch{
		section: secidx,
		offset:  offset,
		sym:     sym,
	})
}

// StringPatchTargets returns the pending string patch payloads for a
// section, keyed by slot offset. Tests pin parameter encoding with it.
func (f *File) StringPatchTargets(secidx int) map[uint64]string {
	out := make(map[uint64]string)
	for _, p := range f.stringPatches {
		if p.section == secidx {
			out[p.offset] = p.str
		}
	}
	return out
}

// CheckUndefined verifies that no required symbol remains unresolved.
// Weak symbols become absolute zero; anything else fails. quiet
// suppresses the per-symbol report, never the failure.
func (f *File) CheckUndefined(quiet bool, w io.Writer) bool {
	ok := true
	f.Symbols(func(s *Symbol) {
		if s.Defined() || s.Name == "" {
			return
		}
		if s.Binding == BindWeak {
			s.Section = SecAbs
			s.Value = 0
			return
		}
		ok = false
		if !quiet {
			fmt.Fprintf(w, "unresolved symbol %s\n", s.Name)
		}
	})
	return ok
}

// AllocateCommons assigns storage in .bss to size-only common symbols.
// A common symbol carries its alignment in Value until placed.
func (f *File) AllocateCommons() {
	var commons []*Symbol
	f.Symbols(func(s *Symbol) {
		if s.Section == SecCommon {
			commons = append(commons, s)
		}
	})
	if len(commons) == 0 {
		return
	}

	bss := f.FindSection(".bss")
	if bss == nil {
		bss = f.addSection(&Section{
			Name:  ".bss",
			Flags: FlagAlloc | FlagWrite | FlagNobits,
			Align: uint64(f.WordSize),
		})
		f.loadOrder = append(f.loadOrder, bss)
	}

	ofs := bss.Size
	for _, s := range commons {
		align := s.Value
		if align == 0 {
			align = 1
		}
		ofs = (ofs + align - 1) &^ (align - 1)
		s.Section = bss.Index
		s.Value = ofs
		ofs += s.Size
		if align > bss.Align {
			bss.Align = align
		}
	}
	bss.Size = ofs
	bss.Data = append(bss.Data, make([]byte, ofs-uint64(len(bss.Data)))...)
}
