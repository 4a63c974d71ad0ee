// Package abi synthesizes the kernel-visible pieces of a module image:
// the self-descriptor header, the export table, the dependency table,
// and the debug tag symbols.
package abi

import (
	"debug/elf"
	"fmt"
	"time"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/kernel"
	"github.com/conn-castle/modutils/internal/messages"
)

// Well-known section and symbol names of the module ABI.
const (
	SectionThis    = ".this"
	SectionModuse  = ".moduse"
	SectionKsymtab = "__ksymtab"
	SectionKmodtab = ".kmodtab"

	ThisModuleSymbol = "__this_module"
	UseCountSymbol   = "mod_use_count_"
)

// debugSymbolPrefix tags the synthesized debug symbols.
const debugSymbolPrefix = "__insmod_"

// autocleanFlag is the module header flag requesting autoclean.
const autocleanFlag = 4

// Header word slots of the kernel's struct module.
const (
	hdrSizeOfStruct = iota
	hdrNext
	hdrName
	hdrSize
	hdrUsecount
	hdrFlags
	hdrNsyms
	hdrNdeps
	hdrSyms
	hdrDeps
	hdrRefs
	hdrInit
	hdrCleanup
	hdrExTableStart
	hdrExTableEnd
	hdrRunsize

	headerWords
)

// debugSections are tagged with a size symbol when present and
// non-empty.
var debugSections = []string{".text", ".rodata", ".data", ".bss"}

// specialSymbols must never be exported; the kernel reaches them
// through the self-descriptor instead.
var specialSymbols = []string{"init_module", "cleanup_module", "kernel_version"}

// HeaderSize returns the self-descriptor size for the given word size.
func HeaderSize(wordSize int) uint64 {
	return uint64(headerWords * wordSize)
}

// CreateSelfDescriptor allocates the fixed-layout module header as the
// first loaded section, zeroed, with the module's chosen name deferred
// as a string patch (final addresses are not known yet).
func CreateSelfDescriptor(f *elfobj.File, name string) *elfobj.Section {
	size := HeaderSize(f.WordSize)
	sec := f.CreateAllocatedSectionFirst(SectionThis, uint64(f.WordSize), size)
	f.AddSymbol(ThisModuleSymbol, sec.Index, elfobj.BindLocal, int(elf.STT_OBJECT), 0, size)
	f.StringPatch(sec.Index, uint64(hdrName*f.WordSize), name)
	return sec
}

// CreateUseCount allocates the bare use-count cell old-generation
// kernels expect instead of a self-descriptor.
func CreateUseCount(f *elfobj.File) *elfobj.Section {
	sec := f.CreateAllocatedSectionFirst(SectionModuse, uint64(f.WordSize), uint64(f.WordSize))
	f.AddSymbol(UseCountSymbol, sec.Index, elfobj.BindLocal, int(elf.STT_OBJECT), 0, uint64(f.WordSize))
	return sec
}

// HideSpecialSymbols forces local binding on the reserved entry points
// so they are never candidates for export.
func HideSpecialSymbols(f *elfobj.File) {
	for _, name := range specialSymbols {
		if sym := f.FindSymbol(name); sym != nil {
			sym.Binding = elfobj.BindLocal
		}
	}
}

// exportTable returns the allocated __ksymtab section, creating it when
// needed. A pre-existing non-allocated __ksymtab (EXPORT_NO_SYMBOLS
// builds produce one) is retired by rename and replaced.
func exportTable(f *elfobj.File) *elfobj.Section {
	sec := f.FindSection(SectionKsymtab)
	if sec != nil && sec.Flags&elfobj.FlagAlloc == 0 {
		sec.Name = "x" + sec.Name[1:]
		sec = nil
	}
	if sec == nil {
		sec = f.CreateAllocatedSection(SectionKsymtab, uint64(f.WordSize), 0)
	}
	return sec
}

// AddExportEntry appends a {symbol, name} record to the export table:
// a deferred symbol patch followed by a deferred string patch, two
// pointer widths in total.
func AddExportEntry(f *elfobj.File, sym *elfobj.Symbol) {
	sec := exportTable(f)
	ofs := f.ExtendSection(sec, 2*uint64(f.WordSize))
	f.SymbolPatch(sec.Index, ofs, sym)
	f.StringPatch(sec.Index, ofs+uint64(f.WordSize), sym.Name)
}

// exportable reports whether a symbol belongs in the export table: a
// non-local definition residing in a loaded section (or the absolute
// range), never one satisfied by a donor.
func exportable(f *elfobj.File, s *elfobj.Symbol) bool {
	if s.Binding == elfobj.BindLocal || !s.Defined() || s.Imported() {
		return false
	}
	if s.Section >= len(f.Sections) {
		return true // absolute range
	}
	return f.Sections[s.Section].Flags&elfobj.FlagAlloc != 0
}

// CreateTables builds the dependency table for the used donors and,
// when exporting is enabled and the object did not bring its own export
// table, fills the export table with every exportable symbol.
func CreateTables(f *elfobj.File, residents []*kernel.ResidentModule, usedCount int, export bool) error {
	if usedCount > 0 {
		recWords := 3 // dep, ref, next_ref
		recSize := uint64(recWords * f.WordSize)
		sec := f.CreateAllocatedSection(SectionKmodtab, uint64(f.WordSize), recSize*uint64(usedCount))
		if sec == nil {
			return fmt.Errorf(messages.AbiSectionFailedFmt, SectionKmodtab)
		}
		self := f.FindSymbol(ThisModuleSymbol)
		ofs := uint64(0)
		for _, m := range residents {
			if !m.Used {
				continue
			}
			f.PutWord(sec, ofs, m.Addr)
			f.SymbolPatch(sec.Index, ofs+uint64(f.WordSize), self)
			f.PutWord(sec, ofs+2*uint64(f.WordSize), 0)
			ofs += recSize
		}
	}

	if export && f.FindSection(SectionKsymtab) == nil {
		seen := make(map[string]bool)
		f.Symbols(func(s *elfobj.Symbol) {
			if !exportable(f, s) || seen[s.Name] {
				return
			}
			seen[s.Name] = true
			AddExportEntry(f, s)
		})
	}
	return nil
}

// AddDebugSymbols tags the image for oops decoding: one symbol on the
// self-descriptor encoding the source file, its modification time, and
// the declared version, and one per well-known non-empty section
// encoding its name and byte length. Entries join the export table
// under the same rule the original compatibility path uses: when a
// ksymtab already exists, or when exporting is off entirely.
func AddDebugSymbols(f *elfobj.File, filename, modname string, version int, mtime time.Time, export bool) {
	useKsymtab := f.FindSection(SectionKsymtab) != nil || !export

	if sec := f.FindSection(SectionThis); sec != nil {
		name := fmt.Sprintf("%s%s_O%s_M%016X_V%d",
			debugSymbolPrefix, modname, filename, mtime.Unix(), version)
		sym := f.AddSymbol(name, sec.Index, elfobj.BindGlobal, int(elf.STT_NOTYPE), sec.Addr, 0)
		if useKsymtab {
			AddExportEntry(f, sym)
		}
	}

	for _, secName := range debugSections {
		sec := f.FindSection(secName)
		if sec == nil || sec.Size == 0 {
			continue
		}
		name := fmt.Sprintf("%s%s_S%s_L%d", debugSymbolPrefix, modname, sec.Name, sec.Size)
		sym := f.AddSymbol(name, sec.Index, elfobj.BindGlobal, int(elf.STT_NOTYPE), sec.Addr, 0)
		if useKsymtab {
			AddExportEntry(f, sym)
		}
	}
}

// FinalizeSelfDescriptor fills the header fields once section addresses
// are final, immediately before the image is serialized.
func FinalizeSelfDescriptor(f *elfobj.File, imageSize uint64, autoclean bool, usedCount int) {
	sec := f.FindSection(SectionThis)
	if sec == nil {
		return
	}
	ws := uint64(f.WordSize)
	put := func(slot int, v uint64) { f.PutWord(sec, uint64(slot)*ws, v) }

	put(hdrSizeOfStruct, HeaderSize(f.WordSize))
	put(hdrSize, imageSize)
	if autoclean {
		put(hdrFlags, autocleanFlag)
	}

	if ksymtab := f.FindSection(SectionKsymtab); ksymtab != nil && ksymtab.Size > 0 {
		put(hdrSyms, ksymtab.Addr)
		put(hdrNsyms, ksymtab.Size/(2*ws))
	}
	if usedCount > 0 {
		if deps := f.FindSection(SectionKmodtab); deps != nil {
			put(hdrDeps, deps.Addr)
			put(hdrNdeps, uint64(usedCount))
		}
	}
	put(hdrInit, f.SymbolValue(f.FindSymbol("init_module")))
	put(hdrCleanup, f.SymbolValue(f.FindSymbol("cleanup_module")))

	if ex := f.FindSection("__ex_table"); ex != nil {
		put(hdrExTableStart, ex.Addr)
		put(hdrExTableEnd, ex.Addr+ex.Size)
	}

	// Init-only sections trail the resident part of the image; the
	// kernel may discard everything past runsize after initialization.
	runsize := uint64(0)
	for _, name := range []string{".text.init", ".data.init"} {
		if s := f.FindSection(name); s != nil && s.Addr > sec.Addr {
			if off := s.Addr - sec.Addr; runsize == 0 || off < runsize {
				runsize = off
			}
		}
	}
	if runsize > 0 {
		put(hdrRunsize, runsize)
	}
}
