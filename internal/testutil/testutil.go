// Package testutil builds synthetic module objects for tests.
package testutil

import (
	"encoding/binary"

	"github.com/conn-castle/modutils/internal/elfobj"
)

// NewObject returns an empty 64-bit little-endian object, the shape the
// x86-64 tests work with.
func NewObject() *elfobj.File {
	return elfobj.New(0x3e, 8, binary.LittleEndian)
}

// AddModinfo attaches a .modinfo section holding the given records,
// NUL-separated as the kernel build emits them.
func AddModinfo(f *elfobj.File, records ...string) *elfobj.Section {
	var raw []byte
	for _, rec := range records {
		raw = append(raw, rec...)
		raw = append(raw, 0)
	}
	sec := f.CreateAllocatedSection(".modinfo", 1, uint64(len(raw)))
	copy(sec.Data, raw)
	return sec
}

// BoolPtr returns a pointer to v, for optional config fields.
func BoolPtr(v bool) *bool {
	return &v
}
