package elfobj

import (
	"debug/elf"
	"fmt"
)

// stringTableName holds the deferred patch strings in the final image.
const stringTableName = ".kstrtab"

// LoadSize materializes the patch string table, assigns every allocated
// section its (relative) load address, and returns the total image size.
// The module must be done growing before this is called.
func (f *File) LoadSize() uint64 {
	if f.strtab == nil && len(f.stringPatches) > 0 {
		size := uint64(0)
		for i := range f.stringPatches {
			f.stringPatches[i].strOffset = size
			size += uint64(len(f.stringPatches[i].str)) + 1
		}
		f.strtab = f.CreateAllocatedSection(stringTableName, 1, size)
		for i := range f.stringPatches {
			copy(f.strtab.Data[f.stringPatches[i].strOffset:], f.stringPatches[i].str)
		}
	}

	var ofs uint64
	for _, sec := range f.loadOrder {
		align := sec.Align
		if align == 0 {
			align = 1
		}
		ofs = (ofs + align - 1) &^ (align - 1)
		sec.Addr = ofs
		ofs += sec.Size
	}
	return ofs
}

// Relocate rebases the allocated sections on addr and applies the
// object's relocations. LoadSize must have run first.
func (f *File) Relocate(addr uint64) error {
	for _, sec := range f.loadOrder {
		sec.Addr += addr
	}
	for _, sec := range f.loadOrder {
		if sec.Flags&FlagNobits != 0 {
			continue
		}
		for _, r := range sec.relocs {
			if err := f.applyReloc(sec, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// relocTarget resolves the value a relocation refers to.
func (f *File) relocTarget(r Reloc) (uint64, error) {
	if int(r.SymIndex) >= len(f.relsyms) {
		return 0, fmt.Errorf("relocation against out-of-range symbol %d", r.SymIndex)
	}
	rs := f.relsyms[r.SymIndex]
	if rs.isSection {
		if rs.section <= 0 || rs.section >= len(f.Sections) {
			return 0, fmt.Errorf("relocation against unloaded section %d", rs.section)
		}
		return f.Sections[rs.section].Addr, nil
	}
	if rs.local {
		switch rs.section {
		case SecAbs:
			return rs.value, nil
		case SecUndef:
			return 0, fmt.Errorf("relocation against undefined local %s", rs.name)
		}
		return f.Sections[rs.section].Addr + rs.value, nil
	}
	sym := f.FindSymbol(rs.name)
	if sym == nil {
		return 0, fmt.Errorf("relocation against unknown symbol %s", rs.name)
	}
	return f.SymbolValue(sym), nil
}

// applyReloc patches one relocation in place. Only the handful of
// relocation kinds a kernel module object actually carries are handled.
func (f *File) applyReloc(sec *Section, r Reloc) error {
	v, err := f.relocTarget(r)
	if err != nil {
		return err
	}
	place := sec.Addr + r.Offset
	val := v + uint64(r.Addend)

	// The patched field must fit entirely inside the section; a
	// truncated object must fail, not panic.
	fits := func(width uint64) error {
		if r.Offset+width > uint64(len(sec.Data)) {
			return fmt.Errorf("relocation offset %#x outside %s", r.Offset, sec.Name)
		}
		return nil
	}

	switch elf.Machine(f.Machine) {
	case elf.EM_X86_64:
		switch elf.R_X86_64(r.Type) {
		case elf.R_X86_64_NONE:
		case elf.R_X86_64_64:
			if err := fits(8); err != nil {
				return err
			}
			f.ByteOrder.PutUint64(sec.Data[r.Offset:], val)
		case elf.R_X86_64_32, elf.R_X86_64_32S:
			if err := fits(4); err != nil {
				return err
			}
			f.ByteOrder.PutUint32(sec.Data[r.Offset:], uint32(val))
		case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
			if err := fits(4); err != nil {
				return err
			}
			f.ByteOrder.PutUint32(sec.Data[r.Offset:], uint32(val-place))
		default:
			return fmt.Errorf("unhandled relocation type %d in %s", r.Type, sec.Name)
		}
	case elf.EM_386:
		switch elf.R_386(r.Type) {
		case elf.R_386_NONE:
		case elf.R_386_32:
			if err := fits(4); err != nil {
				return err
			}
			f.ByteOrder.PutUint32(sec.Data[r.Offset:], uint32(val))
		case elf.R_386_PC32:
			if err := fits(4); err != nil {
				return err
			}
			f.ByteOrder.PutUint32(sec.Data[r.Offset:], uint32(val-place))
		default:
			return fmt.Errorf("unhandled relocation type %d in %s", r.Type, sec.Name)
		}
	default:
		return fmt.Errorf("unhandled machine %#x", f.Machine)
	}
	return nil
}

// PutWord writes a native word at the given section offset.
func (f *File) PutWord(sec *Section, offset uint64, v uint64) {
	if f.WordSize == 8 {
		f.ByteOrder.PutUint64(sec.Data[offset:], v)
	} else {
		f.ByteOrder.PutUint32(sec.Data[offset:], uint32(v))
	}
}

// BuildImage lays the relocated sections out into a single buffer,
// applying the deferred string and symbol patches on the way. base is
// the address the image was relocated to.
func (f *File) BuildImage(base uint64) []byte {
	for _, p := range f.symbolPatches {
		sec := f.Sections[p.section]
		f.PutWord(sec, p.offset, f.SymbolValue(p.sym))
	}
	for _, p := range f.stringPatches {
		sec := f.Sections[p.section]
		f.PutWord(sec, p.offset, f.strtab.Addr+p.strOffset)
	}

	var size uint64
	for _, sec := range f.loadOrder {
		if end := sec.Addr - base + sec.Size; end > size {
			size = end
		}
	}
	image := make([]byte, size)
	for _, sec := range f.loadOrder {
		// NOBITS sections carry zeroed backing data so parameter patches
		// into them reach the kernel.
		if len(sec.Data) == 0 {
			continue
		}
		copy(image[sec.Addr-base:], sec.Data)
	}
	return image
}

// LoadOrder exposes the allocated sections in their final order, for
// load-map reporting.
func (f *File) LoadOrder() []*Section {
	return f.loadOrder
}
