package abi

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/kernel"
)

func newFile() *elfobj.File {
	return elfobj.New(0x3e, 8, binary.LittleEndian)
}

func TestCreateSelfDescriptor(t *testing.T) {
	f := newFile()
	sec := CreateSelfDescriptor(f, "mymod")

	require.NotNil(t, sec)
	assert.Equal(t, HeaderSize(8), sec.Size)
	assert.Equal(t, sec, f.LoadOrder()[0], "self-descriptor must load first")

	sym := f.FindSymbol(ThisModuleSymbol)
	require.NotNil(t, sym)
	assert.Equal(t, elfobj.BindLocal, sym.Binding)

	patches := f.StringPatchTargets(sec.Index)
	assert.Equal(t, "mymod", patches[uint64(hdrName*8)], "module name must be a deferred patch")
}

func TestCreateSelfDescriptorZeroed(t *testing.T) {
	f := newFile()
	sec := CreateSelfDescriptor(f, "m")
	for i, b := range sec.Data {
		require.Zerof(t, b, "byte %d not zeroed", i)
	}
}

func TestCreateUseCount(t *testing.T) {
	f := newFile()
	sec := CreateUseCount(f)
	assert.Equal(t, uint64(8), sec.Size)
	require.NotNil(t, f.FindSymbol(UseCountSymbol))
}

func TestHideSpecialSymbols(t *testing.T) {
	f := newFile()
	sec := f.CreateAllocatedSection(".text", 8, 64)
	f.AddSymbol("init_module", sec.Index, elfobj.BindGlobal, 0, 0, 0)
	f.AddSymbol("cleanup_module", sec.Index, elfobj.BindGlobal, 0, 8, 0)
	f.AddSymbol("my_export", sec.Index, elfobj.BindGlobal, 0, 16, 0)

	HideSpecialSymbols(f)

	assert.Equal(t, elfobj.BindLocal, f.FindSymbol("init_module").Binding)
	assert.Equal(t, elfobj.BindLocal, f.FindSymbol("cleanup_module").Binding)
	assert.Equal(t, elfobj.BindGlobal, f.FindSymbol("my_export").Binding)
}

func TestAddExportEntryGrowsTable(t *testing.T) {
	f := newFile()
	sec := f.CreateAllocatedSection(".text", 8, 16)
	sym := f.AddSymbol("exported", sec.Index, elfobj.BindGlobal, 0, 0, 0)

	AddExportEntry(f, sym)
	AddExportEntry(f, sym)

	tab := f.FindSection(SectionKsymtab)
	require.NotNil(t, tab)
	assert.Equal(t, uint64(32), tab.Size, "two records of two words each")
}

func TestAddExportEntryRetiresNonAllocTable(t *testing.T) {
	f := newFile()
	stale := f.CreateAllocatedSection(SectionKsymtab, 8, 8)
	stale.Flags = 0 // EXPORT_NO_SYMBOLS leaves a non-allocated table

	sec := f.CreateAllocatedSection(".text", 8, 16)
	sym := f.AddSymbol("exported", sec.Index, elfobj.BindGlobal, 0, 0, 0)
	AddExportEntry(f, sym)

	assert.Equal(t, "x_ksymtab", stale.Name, "stale table must be renamed out of the way")
	tab := f.FindSection(SectionKsymtab)
	require.NotNil(t, tab)
	assert.NotEqual(t, stale.Index, tab.Index)
	assert.NotZero(t, tab.Flags&elfobj.FlagAlloc)
}

func TestCreateTablesDependencyRecords(t *testing.T) {
	f := newFile()
	CreateSelfDescriptor(f, "m")
	residents := []*kernel.ResidentModule{
		{Name: "a", Addr: 0xd0001000, Used: true},
		{Name: "skipped", Addr: 0xd0002000},
		{Name: "b", Addr: 0xd0003000, Used: true},
	}

	require.NoError(t, CreateTables(f, residents, 2, false))

	tab := f.FindSection(SectionKmodtab)
	require.NotNil(t, tab)
	assert.Equal(t, uint64(2*3*8), tab.Size, "table sized exactly to the used count")
	assert.Equal(t, uint64(0xd0001000), binary.LittleEndian.Uint64(tab.Data[0:]))
	assert.Equal(t, uint64(0xd0003000), binary.LittleEndian.Uint64(tab.Data[24:]))
}

func TestCreateTablesNoDependencySectionWhenUnused(t *testing.T) {
	f := newFile()
	CreateSelfDescriptor(f, "m")
	require.NoError(t, CreateTables(f, nil, 0, false))
	assert.Nil(t, f.FindSection(SectionKmodtab))
}

func TestCreateTablesExportsGlobals(t *testing.T) {
	f := newFile()
	CreateSelfDescriptor(f, "m")
	sec := f.CreateAllocatedSection(".text", 8, 64)
	f.AddSymbol("visible", sec.Index, elfobj.BindGlobal, 0, 0, 0)
	f.AddSymbol("hidden", sec.Index, elfobj.BindLocal, 0, 8, 0)
	f.AddSymbol("imported", elfobj.SecKernel, elfobj.BindGlobal, 0, 0xc0100000, 0)

	require.NoError(t, CreateTables(f, nil, 0, true))

	tab := f.FindSection(SectionKsymtab)
	require.NotNil(t, tab)
	// visible plus __insmod-free table: locals and donor imports stay out.
	entries := int(tab.Size) / 16
	assert.Equal(t, 1, entries, "only the module's own global is exportable")
}

func TestCreateTablesRespectsExistingKsymtab(t *testing.T) {
	f := newFile()
	sec := f.CreateAllocatedSection(SectionKsymtab, 8, 16)
	text := f.CreateAllocatedSection(".text", 8, 16)
	f.AddSymbol("visible", text.Index, elfobj.BindGlobal, 0, 0, 0)

	require.NoError(t, CreateTables(f, nil, 0, true))
	assert.Equal(t, uint64(16), sec.Size, "a module-provided export table is left alone")
}

func TestAddDebugSymbols(t *testing.T) {
	f := newFile()
	CreateSelfDescriptor(f, "mymod")
	f.CreateAllocatedSection(".text", 8, 128)
	f.CreateAllocatedSection(".rodata", 8, 0) // empty: no tag

	mtime := time.Unix(0x5d000000, 0)
	AddDebugSymbols(f, "/lib/modules/mymod.o", "mymod", 2<<16|2<<8|16, mtime, false)

	var tags []string
	f.Symbols(func(s *elfobj.Symbol) {
		if len(s.Name) > len("__insmod_") && s.Name[:len("__insmod_")] == "__insmod_" {
			tags = append(tags, s.Name)
		}
	})
	require.Len(t, tags, 2, "descriptor tag plus .text tag")

	assert.Contains(t, tags, "__insmod_mymod_S.text_L128")
	found := false
	for _, tag := range tags {
		if tag == "__insmod_mymod_O/lib/modules/mymod.o_M000000005D000000_V131600" {
			found = true
		}
	}
	assert.True(t, found, "descriptor tag must encode file, mtime, and version: %v", tags)

	// Export disabled: tags still join the table (ksymoops needs them).
	tab := f.FindSection(SectionKsymtab)
	require.NotNil(t, tab)
	assert.Equal(t, uint64(2*2*8), tab.Size)
}

func TestAddDebugSymbolsExportDeferred(t *testing.T) {
	// With exporting on and no pre-existing table, the tags are left to
	// the export-all pass and do not create a table of their own.
	f := newFile()
	CreateSelfDescriptor(f, "m")
	AddDebugSymbols(f, "m.o", "m", -1, time.Unix(0, 0), true)
	assert.Nil(t, f.FindSection(SectionKsymtab))
}

func TestFinalizeSelfDescriptor(t *testing.T) {
	f := newFile()
	this := CreateSelfDescriptor(f, "m")
	text := f.CreateAllocatedSection(".text", 8, 64)
	f.AddSymbol("init_module", text.Index, elfobj.BindGlobal, 0, 0, 0)
	f.AddSymbol("cleanup_module", text.Index, elfobj.BindGlobal, 0, 16, 0)

	size := f.LoadSize()
	require.NoError(t, f.Relocate(0x12340000))

	FinalizeSelfDescriptor(f, size, true, 0)

	words := func(slot int) uint64 {
		return binary.LittleEndian.Uint64(this.Data[slot*8:])
	}
	assert.Equal(t, HeaderSize(8), words(hdrSizeOfStruct))
	assert.Equal(t, size, words(hdrSize))
	assert.Equal(t, uint64(autocleanFlag), words(hdrFlags))
	assert.Equal(t, text.Addr, words(hdrInit))
	assert.Equal(t, text.Addr+16, words(hdrCleanup))
}
