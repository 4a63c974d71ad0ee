package kernel

import (
	"unsafe"
)

// wordBytes is the native long/pointer width. The classic module
// interface exchanges word-sized fields laid out for the caller's
// architecture.
const wordBytes = int(unsafe.Sizeof(uintptr(0)))

// word reads a native word at off.
func word(buf []byte, off int) uint64 {
	return uint64(*(*uintptr)(unsafe.Pointer(&buf[off])))
}

// sword reads a native signed long at off.
func sword(buf []byte, off int) int64 {
	if wordBytes == 4 {
		return int64(int32(word(buf, off)))
	}
	return int64(word(buf, off))
}

// Word slots of the struct module_info returned by query_module(QM_INFO).
const (
	infoAddr = iota
	infoSize
	infoFlags
	infoUsecount

	infoWords
)

// parseNames splits a NUL-separated name table with n entries.
func parseNames(buf []byte, n uintptr) []string {
	names := make([]string, 0, n)
	start := 0
	for i := 0; i < len(buf) && uintptr(len(names)) < n; i++ {
		if buf[i] == 0 {
			names = append(names, string(buf[start:i]))
			start = i + 1
		}
	}
	return names
}

// parseSymbols decodes the {value, name offset} pair table returned by
// query_module(QM_SYMBOLS). Both fields are native words; the name
// offset is relative to the buffer start.
func parseSymbols(buf []byte, n uintptr) []Symbol {
	pair := 2 * wordBytes
	syms := make([]Symbol, 0, n)
	for i := 0; i < int(n); i++ {
		off := i * pair
		if off+pair > len(buf) {
			break
		}
		value := word(buf, off)
		nameOff := word(buf, off+wordBytes)
		name := ""
		if nameOff < uint64(len(buf)) {
			end := nameOff
			for end < uint64(len(buf)) && buf[end] != 0 {
				end++
			}
			name = string(buf[nameOff:end])
		}
		syms = append(syms, Symbol{Name: name, Value: value})
	}
	return syms
}
