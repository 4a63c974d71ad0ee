package elfobj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Load parses a relocatable object and builds the mutable file model.
// Section indexes are preserved from the object so parsed symbol
// references stay valid as synthetic sections are appended.
func Load(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	if ef.Type != elf.ET_REL {
		return nil, fmt.Errorf("not a relocatable object (type %v)", ef.Type)
	}

	wordSize := 4
	if ef.Class == elf.ELFCLASS64 {
		wordSize = 8
	}
	var order binary.ByteOrder = binary.LittleEndian
	if ef.Data == elf.ELFDATA2MSB {
		order = binary.BigEndian
	}

	f := New(uint16(ef.Machine), wordSize, order)

	// Mirror the object's section table, index for index.
	for i, es := range ef.Sections {
		if i == 0 {
			continue
		}
		sec := &Section{
			Name:  es.Name,
			Align: es.Addralign,
			Size:  es.Size,
			Index: i,
		}
		if es.Flags&elf.SHF_ALLOC != 0 {
			sec.Flags |= FlagAlloc
		}
		if es.Flags&elf.SHF_WRITE != 0 {
			sec.Flags |= FlagWrite
		}
		if es.Flags&elf.SHF_EXECINSTR != 0 {
			sec.Flags |= FlagExecinstr
		}
		if es.Type == elf.SHT_NOBITS {
			sec.Flags |= FlagNobits
			sec.Data = make([]byte, sec.Size)
		} else if es.Type != elf.SHT_NULL {
			data, err := es.Data()
			if err != nil {
				return nil, fmt.Errorf("read section %s: %w", es.Name, err)
			}
			sec.Data = data
		}
		f.Sections = append(f.Sections, sec)
	}

	if err := loadSymbols(f, ef); err != nil {
		return nil, err
	}
	if err := loadRelocations(f, ef); err != nil {
		return nil, err
	}

	f.buildLoadOrder()
	return f, nil
}

// loadSymbols fills the symbol table and the index-aligned relocation
// symbol mirror.
func loadSymbols(f *File, ef *elf.File) error {
	syms, err := ef.Symbols()
	if err != nil {
		return fmt.Errorf("read symbol table: %w", err)
	}

	// debug/elf drops the leading null entry; relocations do not.
	f.relsyms = make([]relSym, len(syms)+1)

	for i, es := range syms {
		bind := int(elf.ST_BIND(es.Info))
		typ := int(elf.ST_TYPE(es.Info))
		secidx := int(es.Section)
		switch es.Section {
		case elf.SHN_UNDEF:
			secidx = SecUndef
		case elf.SHN_ABS:
			secidx = SecAbs
		case elf.SHN_COMMON:
			secidx = SecCommon
		}

		rs := relSym{
			name:      es.Name,
			section:   secidx,
			value:     es.Value,
			local:     bind == int(elf.STB_LOCAL),
			isSection: typ == int(elf.STT_SECTION),
		}
		f.relsyms[i+1] = rs

		if rs.isSection || es.Name == "" {
			continue
		}

		binding := BindGlobal
		switch elf.ST_BIND(es.Info) {
		case elf.STB_LOCAL:
			binding = BindLocal
		case elf.STB_WEAK:
			binding = BindWeak
		}
		f.AddSymbol(es.Name, secidx, binding, typ, es.Value, es.Size)
	}
	return nil
}

// loadRelocations captures REL/RELA entries against allocated sections.
// Implicit REL addends are read out of the target section now, while the
// raw contents are still authoritative.
func loadRelocations(f *File, ef *elf.File) error {
	for _, es := range ef.Sections {
		if es.Type != elf.SHT_RELA && es.Type != elf.SHT_REL {
			continue
		}
		target := int(es.Info)
		if target <= 0 || target >= len(f.Sections) {
			continue
		}
		tsec := f.Sections[target]
		if tsec.Flags&FlagAlloc == 0 {
			continue
		}
		data, err := es.Data()
		if err != nil {
			return fmt.Errorf("read relocations for %s: %w", tsec.Name, err)
		}
		switch {
		case ef.Class == elf.ELFCLASS64 && es.Type == elf.SHT_RELA:
			for off := 0; off+24 <= len(data); off += 24 {
				info := f.ByteOrder.Uint64(data[off+8:])
				tsec.relocs = append(tsec.relocs, Reloc{
					Offset:   f.ByteOrder.Uint64(data[off:]),
					SymIndex: uint32(info >> 32),
					Type:     uint32(info & 0xffffffff),
					Addend:   int64(f.ByteOrder.Uint64(data[off+16:])),
				})
			}
		case ef.Class == elf.ELFCLASS32 && es.Type == elf.SHT_REL:
			for off := 0; off+8 <= len(data); off += 8 {
				roff := uint64(f.ByteOrder.Uint32(data[off:]))
				info := f.ByteOrder.Uint32(data[off+4:])
				var addend int64
				if roff+4 <= uint64(len(tsec.Data)) {
					addend = int64(int32(f.ByteOrder.Uint32(tsec.Data[roff:])))
				}
				tsec.relocs = append(tsec.relocs, Reloc{
					Offset:   roff,
					SymIndex: info >> 8,
					Type:     info & 0xff,
					Addend:   addend,
				})
			}
		}
	}
	return nil
}

// sectionRank orders allocated sections for loading: code first, then
// read-only data, initialized data, and NOBITS last.
func sectionRank(sec *Section) int {
	switch {
	case sec.Flags&FlagExecinstr != 0:
		return 0
	case sec.Flags&FlagNobits != 0:
		return 3
	case sec.Flags&FlagWrite != 0:
		return 2
	default:
		return 1
	}
}

// buildLoadOrder collects the parsed allocated sections in load order.
// Synthetic sections created later append behind these (or in front, for
// the self-descriptor).
func (f *File) buildLoadOrder() {
	var alloc []*Section
	for i, sec := range f.Sections {
		if i == 0 || sec.Flags&FlagAlloc == 0 {
			continue
		}
		alloc = append(alloc, sec)
	}
	sort.SliceStable(alloc, func(i, j int) bool {
		return sectionRank(alloc[i]) < sectionRank(alloc[j])
	})
	f.loadOrder = alloc
}
