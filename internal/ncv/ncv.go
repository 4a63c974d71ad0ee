// Package ncv implements the non-co-versioned symbol name policy: a
// comparator and hash that treat "name" and "name_R<prefix><8 hex>" as
// the same symbol, used when exactly one side of a load is built with
// symbol checksums.
package ncv

import (
	"strings"

	"github.com/conn-castle/modutils/internal/elfobj"
)

// wellKnownSymbol is the kernel export the checksum prefix is derived
// from: "get_module_symbol_R" + prefix + 8 hex digits.
const wellKnownSymbol = "get_module_symbol_R"

// suffixBase is the length of "_R" plus the 8 hex checksum digits.
const suffixBase = 10

// Policy is a fixed per-run prefix with its tolerant comparator and
// hash. The zero value uses an empty prefix.
type Policy struct {
	Prefix string
}

// ResolvePrefix determines the checksum prefix once per run: an
// explicit override wins; otherwise the prefix is extracted from the
// well-known kernel export; otherwise "smp_" on multiprocessor kernels
// for backwards compatibility, else empty.
func ResolvePrefix(override string, kernelSymbols []string, smp bool) Policy {
	if override != "" {
		return Policy{Prefix: override}
	}
	for _, name := range kernelSymbols {
		if !strings.HasPrefix(name, wellKnownSymbol) {
			continue
		}
		tail := name[len(wellKnownSymbol):]
		if len(tail) < 8 || !isHex(tail[len(tail)-8:]) {
			continue
		}
		return Policy{Prefix: tail[:len(tail)-8]}
	}
	if smp {
		return Policy{Prefix: "smp_"}
	}
	return Policy{}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// hasSuffix reports whether b equals a plus the "_R<prefix><8 hex>"
// checksum suffix.
func (p Policy) hasSuffix(a, b string) bool {
	if len(b) != len(a)+suffixBase+len(p.Prefix) {
		return false
	}
	if b[len(a)] != '_' || b[len(a)+1] != 'R' {
		return false
	}
	if p.Prefix != "" && b[len(a)+2:len(a)+2+len(p.Prefix)] != p.Prefix {
		return false
	}
	if !isHex(b[len(b)-8:]) {
		return false
	}
	return b[:len(a)] == a
}

// Compare reports 0 when the two names match up to a checksum suffix on
// either side; names without the suffix relationship compare exactly.
func (p Policy) Compare(a, b string) int {
	if len(b) > len(a) && p.hasSuffix(a, b) {
		return 0
	}
	if len(a) > len(b) && p.hasSuffix(b, a) {
		return 0
	}
	return strings.Compare(a, b)
}

// Hash buckets a name by its checksum-stripped form, so the suffixed
// and unsuffixed spellings always land in the same chain.
func (p Policy) Hash(name string) uint32 {
	n := len(name)
	if n > suffixBase+len(p.Prefix) {
		cut := n - suffixBase - len(p.Prefix)
		if name[cut] == '_' && name[cut+1] == 'R' &&
			(p.Prefix == "" || name[cut+2:cut+2+len(p.Prefix)] == p.Prefix) &&
			isHex(name[n-8:]) {
			n = cut
		}
	}
	return elfobj.ElfHash(name, n)
}

// Install wires the comparator and hash into the object's symbol table
// as a pair; they are never installed independently.
func (p Policy) Install(f *elfobj.File) {
	f.SetSymbolCompare(p.Compare, p.Hash)
}
