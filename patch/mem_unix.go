//go:build unix

package patch

import (
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MakeRWX makes the pages covering [addr, addr+n) readable, writable and executable.
func MakeRWX(addr uintptr, n int) error {
	pageSize := uintptr(unix.Getpagesize())
	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(n) + pageSize - 1) &^ (pageSize - 1)
	return unix.Mprotect(memoryAt(start, int(end-start)), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}

func memoryAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// FuncAddr returns the code address of the function fn.
func FuncAddr(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic("patch: FuncAddr of non-func " + v.Kind().String())
	}
	return v.Pointer()
}
