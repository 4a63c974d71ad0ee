package params

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/testutil"
)

// paramFile builds an object with one data section holding parameter
// storage and a .modinfo section describing the parameters.
func paramFile(t *testing.T, modinfo map[string]string) (*elfobj.File, *elfobj.Section) {
	t.Helper()
	f := testutil.NewObject()
	data := f.CreateAllocatedSection(".data", 8, 256)

	if len(modinfo) > 0 {
		var records []string
		for k, v := range modinfo {
			records = append(records, k+"="+v)
		}
		testutil.AddModinfo(f, records...)
	}
	return f, data
}

func TestApplyIntWithRange(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_count": "1-4i"})
	f.AddSymbol("count", data.Index, elfobj.BindGlobal, 0, 16, 16)

	require.NoError(t, Apply(f, []string{"count=3"}))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data.Data[16:]))
	assert.Zero(t, binary.LittleEndian.Uint32(data.Data[20:]), "only one slot written")
}

func TestApplyIntArray(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_io": "1-4i"})
	f.AddSymbol("io", data.Index, elfobj.BindGlobal, 0, 0, 16)

	require.NoError(t, Apply(f, []string{"io=0x300,0x240,-1"}))
	assert.Equal(t, uint32(0x300), binary.LittleEndian.Uint32(data.Data[0:]))
	assert.Equal(t, uint32(0x240), binary.LittleEndian.Uint32(data.Data[4:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(data.Data[8:]))
}

func TestApplyTooManyValues(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_io": "1-4i"})
	f.AddSymbol("io", data.Index, elfobj.BindGlobal, 0, 0, 16)

	err := Apply(f, []string{"io=1,2,3,4,5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many values for io")
}

func TestApplyTooFewValues(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_io": "2-4i"})
	f.AddSymbol("io", data.Index, elfobj.BindGlobal, 0, 0, 16)

	err := Apply(f, []string{"io=1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too few values for io")
}

func TestApplySizedInts(t *testing.T) {
	f, data := paramFile(t, map[string]string{
		"parm_flag": "b",
		"parm_port": "h",
		"parm_mask": "l",
	})
	f.AddSymbol("flag", data.Index, elfobj.BindGlobal, 0, 0, 1)
	f.AddSymbol("port", data.Index, elfobj.BindGlobal, 0, 8, 2)
	f.AddSymbol("mask", data.Index, elfobj.BindGlobal, 0, 16, 8)

	require.NoError(t, Apply(f, []string{"flag=1", "port=0x3f8", "mask=0x123456789a"}))
	assert.Equal(t, byte(1), data.Data[0])
	assert.Equal(t, uint16(0x3f8), binary.LittleEndian.Uint16(data.Data[8:]))
	assert.Equal(t, uint64(0x123456789a), binary.LittleEndian.Uint64(data.Data[16:]))
}

func TestApplyStringPointer(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_msg": "s"})
	f.AddSymbol("msg", data.Index, elfobj.BindGlobal, 0, 32, 8)

	require.NoError(t, Apply(f, []string{`msg="a\tb"`}))
	patches := f.StringPatchTargets(data.Index)
	assert.Equal(t, "a\tb", patches[32], "escapes decoded, pointer deferred")
}

func TestApplyStringEscapes(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_msg": "s"})
	f.AddSymbol("msg", data.Index, elfobj.BindGlobal, 0, 0, 8)

	require.NoError(t, Apply(f, []string{`msg="\a\e\101\n"`}))
	patches := f.StringPatchTargets(data.Index)
	assert.Equal(t, "\a\x1bA\n", patches[0])
}

func TestApplyUnterminatedString(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_msg": "s"})
	f.AddSymbol("msg", data.Index, elfobj.BindGlobal, 0, 0, 8)

	err := Apply(f, []string{`msg="oops`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "improperly terminated string")
}

func TestApplyCharArrayInPlace(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_name": "c8"})
	f.AddSymbol("name", data.Index, elfobj.BindGlobal, 0, 64, 8)

	require.NoError(t, Apply(f, []string{"name=tty0"}))
	assert.Equal(t, []byte("tty0\x00"), data.Data[64:69])
}

func TestApplyCharArrayTooLong(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_name": "c4"})
	f.AddSymbol("name", data.Index, elfobj.BindGlobal, 0, 0, 4)

	err := Apply(f, []string{"name=toolong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string too long for name (max 3)")
}

func TestApplyCharArrayMissingSize(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_name": "c"})
	f.AddSymbol("name", data.Index, elfobj.BindGlobal, 0, 0, 4)

	err := Apply(f, []string{"name=x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be followed by the maximum size")
}

func TestApplyRejectsUndeclaredParameter(t *testing.T) {
	// Parameter metadata present but no record for this key: the symbol
	// exists, yet patching it would write into undeclared storage.
	f := testutil.NewObject()
	data := f.CreateAllocatedSection(".data", 8, 256)
	testutil.AddModinfo(f, "kernel_version=2.2.16")
	f.AddSymbol("io", data.Index, elfobj.BindGlobal, 0, 0, 4)

	err := Apply(f, []string{"io=7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameter io")
	assert.Zero(t, binary.LittleEndian.Uint32(data.Data[0:]), "storage must stay untouched")
}

func TestApplyToleratesSpacesAroundSeparators(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_io": "1-4i"})
	f.AddSymbol("io", data.Index, elfobj.BindGlobal, 0, 0, 16)

	require.NoError(t, Apply(f, []string{"io=1, 2 ,3"}))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data.Data[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data.Data[4:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data.Data[8:]))
}

func TestApplyInferredTypes(t *testing.T) {
	// Without a parameter description the value decides: digits patch an
	// int, anything else a string pointer.
	f, data := paramFile(t, nil)
	f.AddSymbol("irq", data.Index, elfobj.BindGlobal, 0, 0, 4)
	f.AddSymbol("dev", data.Index, elfobj.BindGlobal, 0, 8, 8)

	require.NoError(t, Apply(f, []string{"irq=7", "dev=ttyS1"}))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data.Data[0:]))
	assert.Equal(t, "ttyS1", f.StringPatchTargets(data.Index)[8])
}

func TestApplyRejectsDonorResolvedSymbol(t *testing.T) {
	f, _ := paramFile(t, nil)
	f.AddSymbol("shared", elfobj.SecKernel, elfobj.BindGlobal, 0, 0xc0100000, 0)

	err := Apply(f, []string{"shared=1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol for parameter shared not found")
}

func TestApplyRejectsUnknownSymbol(t *testing.T) {
	f, _ := paramFile(t, nil)
	err := Apply(f, []string{"nosuch=1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol for parameter nosuch not found")
}

func TestApplySkipsNonAssignments(t *testing.T) {
	f, _ := paramFile(t, nil)
	require.NoError(t, Apply(f, []string{"justakey"}))
}

func TestApplyRejectsEmptyKey(t *testing.T) {
	f, _ := paramFile(t, nil)
	err := Apply(f, []string{"=1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameter")
}

func TestApplyRejectsBadInt(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_irq": "i"})
	f.AddSymbol("irq", data.Index, elfobj.BindGlobal, 0, 0, 4)

	err := Apply(f, []string{"irq=seven"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid value "seven" for irq`)
}

func TestApplyRejectsTrailingGarbageAfterQuote(t *testing.T) {
	f, data := paramFile(t, map[string]string{"parm_msg": "1-2s"})
	f.AddSymbol("msg", data.Index, elfobj.BindGlobal, 0, 0, 16)

	err := Apply(f, []string{`msg="a"x`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument syntax for msg")
}

func TestApplyStorageOverrun(t *testing.T) {
	f := elfobj.New(0x3e, 8, binary.LittleEndian)
	data := f.CreateAllocatedSection(".data", 8, 4)
	f.AddSymbol("tail", data.Index, elfobj.BindGlobal, 0, 2, 2)

	err := Apply(f, []string{"tail=1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too much data for tail storage")
}
