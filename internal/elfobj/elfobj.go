// Package elfobj holds the mutable model of a relocatable object on its
// way into the kernel: sections that can be created and grown after the
// parse, a symbol table with a pluggable comparator and hash, deferred
// string/symbol patches, and final image layout.
package elfobj

import (
	"encoding/binary"
	"strings"
)

// Section flag bits, mirroring the ELF section header flags the loader
// cares about.
const (
	FlagAlloc     = 1 << 0
	FlagWrite     = 1 << 1
	FlagExecinstr = 1 << 2
	FlagNobits    = 1 << 3
)

// Symbol bindings.
const (
	BindLocal = iota
	BindGlobal
	BindWeak
)

// Special section indexes. Real sections use their slice index; imported
// symbols are tagged with a reserved index identifying their donor.
const (
	SecUndef  = 0
	SecAbs    = 0xfff1
	SecCommon = 0xfff2

	secHiReserve = 0xffff

	// SecKernel marks a symbol satisfied by the kernel proper.
	SecKernel = secHiReserve + 1
	// SecModuleBase marks symbols satisfied by resident modules;
	// donor i uses SecModuleBase + i.
	SecModuleBase = secHiReserve + 2
)

const hashBuckets = 521

// Section is one section of the object, with contents that may be
// created or extended after the initial parse.
type Section struct {
	Name  string
	Flags uint32
	Addr  uint64
	Size  uint64
	Align uint64
	Data  []byte
	Index int

	relocs []Reloc
}

// Reloc is a single relocation entry against a section. SymIndex refers
// to the object's original symbol table; named symbols are resolved
// through the file's comparator when the relocation is applied.
type Reloc struct {
	Offset   uint64
	SymIndex uint32
	Type     uint32
	Addend   int64
}

// Symbol is one entry of the object's symbol table.
type Symbol struct {
	Name    string
	Binding int
	Type    int
	Section int
	Value   uint64
	Size    uint64

	next *Symbol
}

// Imported reports whether the symbol is satisfied by a donor (the
// kernel or a resident module) rather than defined in the object itself.
func (s *Symbol) Imported() bool {
	return s.Section > secHiReserve
}

// Defined reports whether the symbol has a definition at all.
func (s *Symbol) Defined() bool {
	return s.Section != SecUndef
}

// CompareFunc reports 0 when two symbol names are considered equal.
type CompareFunc func(a, b string) int

// HashFunc buckets a symbol name.
type HashFunc func(name string) uint32

// File is the in-process representation of the module object.
type File struct {
	Machine   uint16
	WordSize  int
	ByteOrder binary.ByteOrder
	Sections  []*Section

	// Entry and name of the source, kept for reporting.
	SourceName string

	buckets [hashBuckets]*Symbol
	cmp     CompareFunc
	hash    HashFunc

	stringPatches []stringPatch
	symbolPatches []symbolPatch
	strtab        *Section

	// relsyms mirrors the object's original symbol table so relocations
	// can refer to locals and section symbols by index.
	relsyms []relSym

	loadOrder []*Section
}

// relSym is one original symtab entry, kept for relocation resolution.
type relSym struct {
	name      string
	section   int
	value     uint64
	local     bool
	isSection bool
}

// New returns an empty file with exact-match symbol resolution. Tests
// and the loader both build on it.
func New(machine uint16, wordSize int, order binary.ByteOrder) *File {
	f := &File{
		Machine:   machine,
		WordSize:  wordSize,
		ByteOrder: order,
	}
	f.cmp = strings.Compare
	f.hash = func(name string) uint32 { return ElfHash(name, len(name)) }
	// Index 0 is the null section, as in ELF proper.
	f.Sections = append(f.Sections, &Section{Index: 0})
	return f
}

// ElfHash is the standard ELF symbol hash over the first n bytes of name.
func ElfHash(name string, n int) uint32 {
	var h uint32
	for i := 0; i < n && i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}

// SetSymbolCompare installs a comparator and hash pair and rebuckets the
// table. The two are always replaced together; a tolerant comparator
// with an exact hash would never see its candidates.
func (f *File) SetSymbolCompare(cmp CompareFunc, hash HashFunc) {
	var all []*Symbol
	for i := range f.buckets {
		for s := f.buckets[i]; s != nil; s = s.next {
			all = append(all, s)
		}
		f.buckets[i] = nil
	}
	f.cmp = cmp
	f.hash = hash
	for _, s := range all {
		h := f.hash(s.Name) % hashBuckets
		s.next = f.buckets[h]
		f.buckets[h] = s
	}
}

// FindSymbol looks a name up through the installed comparator.
func (f *File) FindSymbol(name string) *Symbol {
	h := f.hash(name) % hashBuckets
	for s := f.buckets[h]; s != nil; s = s.next {
		if f.cmp(s.Name, name) == 0 {
			return s
		}
	}
	return nil
}

// AddSymbol inserts or redefines a symbol. Definition strength follows
// the loader's needs: a real definition replaces an undefined reference,
// and a later donor definition replaces an earlier donor definition, so
// the donor processed last wins. A definition carried by the object
// itself is never displaced.
func (f *File) AddSymbol(name string, secidx int, binding int, typ int, value uint64, size uint64) *Symbol {
	h := f.hash(name) % hashBuckets
	for s := f.buckets[h]; s != nil; s = s.next {
		if f.cmp(s.Name, name) != 0 {
			continue
		}
		if s.Binding == BindLocal {
			// Locals shadow nothing and are never merged into.
			break
		}
		if secidx == SecUndef {
			return s
		}
		if !s.Defined() || s.Imported() {
			s.Binding = binding
			s.Type = typ
			s.Section = secidx
			s.Value = value
			s.Size = size
		}
		return s
	}
	s := &Symbol{
		Name:    name,
		Binding: binding,
		Type:    typ,
		Section: secidx,
		Value:   value,
		Size:    size,
	}
	s.next = f.buckets[h]
	f.buckets[h] = s
	return s
}

// Symbols calls fn for every symbol in the table, in bucket order.
func (f *File) Symbols(fn func(*Symbol)) {
	for i := range f.buckets {
		for s := f.buckets[i]; s != nil; s = s.next {
			fn(s)
		}
	}
}

// FindSection returns the named section, or nil.
func (f *File) FindSection(name string) *Section {
	for _, sec := range f.Sections {
		if sec != nil && sec.Name == name {
			return sec
		}
	}
	return nil
}

// addSection appends a section and assigns its index.
func (f *File) addSection(sec *Section) *Section {
	sec.Index = len(f.Sections)
	f.Sections = append(f.Sections, sec)
	return sec
}

// CreateAllocatedSection adds a fresh allocated section of the given
// size at the end of the load order.
func (f *File) CreateAllocatedSection(name string, align uint64, size uint64) *Section {
	sec := f.addSection(&Section{
		Name:  name,
		Flags: FlagAlloc,
		Align: align,
		Size:  size,
		Data:  make([]byte, size),
	})
	f.loadOrder = append(f.loadOrder, sec)
	return sec
}

// CreateAllocatedSectionFirst adds an allocated section at the head of
// the load order, ahead of everything parsed from the object. It always
// succeeds, even for a zero size.
func (f *File) CreateAllocatedSectionFirst(name string, align uint64, size uint64) *Section {
	sec := f.addSection(&Section{
		Name:  name,
		Flags: FlagAlloc,
		Align: align,
		Size:  size,
		Data:  make([]byte, size),
	})
	f.loadOrder = append([]*Section{sec}, f.loadOrder...)
	return sec
}

// ExtendSection grows sec by n zero bytes and returns the old size.
func (f *File) ExtendSection(sec *Section, n uint64) uint64 {
	old := sec.Size
	sec.Size += n
	sec.Data = append(sec.Data, make([]byte, n)...)
	return old
}

// SymbolValue returns the final (post-relocation) value of a symbol.
func (f *File) SymbolValue(s *Symbol) uint64 {
	if s == nil {
		return 0
	}
	switch {
	case s.Section == SecAbs, s.Imported():
		return s.Value
	case s.Section == SecUndef:
		return 0
	default:
		return f.Sections[s.Section].Addr + s.Value
	}
}
