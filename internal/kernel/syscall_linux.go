//go:build 386 || amd64

package kernel

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// query_module which values.
const (
	qmModules = 1
	qmRefs    = 3
	qmSymbols = 4
	qmInfo    = 5
)

var (
	syscallFn = unix.Syscall6
	unameFn   = unix.Uname
)

// Syscall talks to the running kernel through the classic module
// syscalls. The syscall numbers live in the per-arch sysnum files; the
// classic interface predates the tables shipped with x/sys.
type Syscall struct{}

// rawQuery wraps query_module, growing the buffer until the kernel
// stops reporting ENOSPC.
func rawQuery(name string, which uintptr) ([]byte, uintptr, error) {
	var namePtr unsafe.Pointer
	if name != "" {
		b, err := unix.BytePtrFromString(name)
		if err != nil {
			return nil, 0, err
		}
		namePtr = unsafe.Pointer(b)
	}
	buf := make([]byte, 4096)
	for {
		var ret uintptr
		_, _, errno := syscallFn(sysQueryModule,
			uintptr(namePtr), which,
			uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
			uintptr(unsafe.Pointer(&ret)), 0)
		if errno == 0 {
			return buf, ret, nil
		}
		if errno == unix.ENOSPC {
			buf = make([]byte, len(buf)*2)
			continue
		}
		return nil, 0, errno
	}
}

// QueryInfo interrogates the kernel once: release and build banner via
// uname, the export table, and every resident module with its exports.
func (Syscall) QueryInfo() (*Snapshot, []*ResidentModule, error) {
	var uts unix.Utsname
	if err := unameFn(&uts); err != nil {
		return nil, nil, fmt.Errorf("uname: %w", err)
	}

	snap := &Snapshot{
		Release: unix.ByteSliceToString(uts.Release[:]),
		Version: unix.ByteSliceToString(uts.Version[:]),
	}

	// New-ABI probe: the classic query_module exists only on kernels
	// with the self-descriptor module format.
	_, _, err := rawQuery("", 0)
	snap.NewModuleABI = err == nil

	buf, n, err := rawQuery("", qmSymbols)
	if err != nil {
		return nil, nil, fmt.Errorf("query kernel symbols: %w", err)
	}
	snap.Symbols = parseSymbols(buf, n)
	for _, s := range snap.Symbols {
		if s.Name == "Using_Versions" {
			snap.Checksummed = true
			break
		}
	}

	buf, n, err = rawQuery("", qmModules)
	if err != nil {
		return nil, nil, fmt.Errorf("query module list: %w", err)
	}

	var residents []*ResidentModule
	for _, name := range parseNames(buf, n) {
		m := &ResidentModule{Name: name}
		if buf, _, err := rawQuery(name, qmInfo); err == nil && len(buf) >= infoWords*wordBytes {
			m.Addr = word(buf, infoAddr*wordBytes)
			m.Size = word(buf, infoSize*wordBytes)
			m.UseCount = sword(buf, infoUsecount*wordBytes)
		}
		if buf, n, err := rawQuery(name, qmSymbols); err == nil {
			m.Symbols = parseSymbols(buf, n)
		}
		if buf, n, err := rawQuery(name, qmRefs); err == nil {
			m.Refs = parseNames(buf, n)
		}
		residents = append(residents, m)
	}
	return snap, residents, nil
}

// Reserve maps create_module: the kernel allocates size bytes for the
// named module and returns the load address. Errno passes through so
// callers can classify EEXIST and ENOMEM.
func (Syscall) Reserve(name string, size uint64) (uint64, error) {
	namePtr, err := unix.BytePtrFromString(name)
	if err != nil {
		return 0, err
	}
	addr, _, errno := syscallFn(sysCreateModule,
		uintptr(unsafe.Pointer(namePtr)), uintptr(size), 0, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return uint64(addr), nil
}

// Install hands the relocated image to init_module.
func (Syscall) Install(name string, image []byte) error {
	namePtr, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	var imagePtr unsafe.Pointer
	if len(image) > 0 {
		imagePtr = unsafe.Pointer(&image[0])
	}
	_, _, errno := syscallFn(sysInitModule,
		uintptr(unsafe.Pointer(namePtr)), uintptr(imagePtr), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Uninstall removes the named module via delete_module.
func (Syscall) Uninstall(name string) error {
	namePtr, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	_, _, errno := syscallFn(sysDeleteModule,
		uintptr(unsafe.Pointer(namePtr)), 0, 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
