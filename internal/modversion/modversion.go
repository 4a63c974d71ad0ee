// Package modversion decides whether a module object and the running
// kernel agree on their version, and in which checksum mode each side
// operates.
package modversion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/messages"
)

// ChecksumSentinel is exported by checksummed kernels and referenced by
// checksummed modules.
const ChecksumSentinel = "Using_Versions"

// ErrNoVersion reports a module that does not declare the kernel
// version it was compiled for.
var ErrNoVersion = errors.New(messages.VersionModuleMissing)

// Spec is a parsed three-part version.
type Spec struct {
	Major int
	Minor int
	Patch int
}

// Parse reads a "major.minor.patch" version string. All three parts are
// required; extra release suffixes after the patch level (as in
// "2.2.16-22") are tolerated, but a missing part is fatal.
func Parse(s string) (Spec, error) {
	var spec Spec
	rest := s

	var err error
	if spec.Major, rest, err = leadingInt(rest); err != nil {
		return Spec{}, fmt.Errorf(messages.VersionMalformedFmt, s)
	}
	if !strings.HasPrefix(rest, ".") {
		return Spec{}, fmt.Errorf(messages.VersionMalformedFmt, s)
	}
	if spec.Minor, rest, err = leadingInt(rest[1:]); err != nil {
		return Spec{}, fmt.Errorf(messages.VersionMalformedFmt, s)
	}
	if !strings.HasPrefix(rest, ".") {
		return Spec{}, fmt.Errorf(messages.VersionMalformedFmt, s)
	}
	if spec.Patch, _, err = leadingInt(rest[1:]); err != nil {
		return Spec{}, fmt.Errorf(messages.VersionMalformedFmt, s)
	}
	return spec, nil
}

// leadingInt consumes the leading decimal digits of s.
func leadingInt(s string) (int, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, errors.New("no digits")
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, err
	}
	return n, s[i:], nil
}

// Encode returns the canonical integer form major<<16 | minor<<8 | patch.
func (s Spec) Encode() int {
	return s.Major<<16 | s.Minor<<8 | s.Patch
}

// Decode unpacks the canonical integer form.
func Decode(v int) Spec {
	return Spec{Major: v >> 16 & 0xff, Minor: v >> 8 & 0xff, Patch: v & 0xff}
}

// String renders the dotted form.
func (s Spec) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// ModinfoValue returns the value of key from the object's .modinfo
// section, or "" and false when the section or key is absent. Records
// are NUL-separated key=value pairs; a bare key yields an empty value.
func ModinfoValue(f *elfobj.File, key string) (string, bool) {
	sec := f.FindSection(".modinfo")
	if sec == nil {
		return "", false
	}
	for _, rec := range strings.Split(string(sec.Data), "\x00") {
		if rec == key {
			return "", true
		}
		if k, v, ok := strings.Cut(rec, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// HasModinfo reports whether the object carries a .modinfo section with
// a kernel_version record, the marker for the modinfo metadata format.
func HasModinfo(f *elfobj.File) bool {
	_, ok := ModinfoValue(f, "kernel_version")
	return ok
}

// ModuleVersion extracts the kernel version string the module declares,
// from modinfo when present, else from the version symbol's contents.
func ModuleVersion(f *elfobj.File) (string, error) {
	if v, ok := ModinfoValue(f, "kernel_version"); ok {
		return v, nil
	}
	sym := f.FindSymbol("kernel_version")
	if sym == nil {
		sym = f.FindSymbol("__module_kernel_version")
	}
	if sym == nil || !sym.Defined() || sym.Imported() {
		return "", ErrNoVersion
	}
	sec := f.Sections[sym.Section]
	data := sec.Data[sym.Value:]
	if i := strings.IndexByte(string(data), 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// KernelChecksummed reports whether the running kernel exports
// checksummed symbols, detected by the sentinel export.
func KernelChecksummed(names []string) bool {
	for _, n := range names {
		if n == ChecksumSentinel {
			return true
		}
	}
	return false
}

// ModuleChecksummed reports whether the module was built against
// checksummed symbols: the modinfo flag when metadata is present,
// otherwise the sentinel symbol.
func ModuleChecksummed(f *elfobj.File) bool {
	if HasModinfo(f) {
		v, ok := ModinfoValue(f, "using_checksums")
		if !ok {
			return false
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return err == nil && n != 0
	}
	return f.FindSymbol(ChecksumSentinel) != nil
}

// Compatible decides version compatibility. When both sides are
// checksummed, symbol-level matching governs and the strings are not
// compared; otherwise the version strings must match exactly.
func Compatible(kernel, module string, kernelCRC, moduleCRC bool) bool {
	if kernelCRC && moduleCRC {
		return true
	}
	return kernel == module
}
