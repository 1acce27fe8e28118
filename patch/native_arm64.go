package patch

import "unsafe"

// Both directions overflow unless pointers are exactly AddrSize bytes wide.
const (
	_ = unsafe.Sizeof(uintptr(0)) - AddrSize
	_ = AddrSize - unsafe.Sizeof(uintptr(0))
)

// Native returns the trampoline for the instruction set this binary was built for.
func Native() Template {
	return ARM64
}
