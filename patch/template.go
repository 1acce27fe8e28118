package patch

import (
	"encoding/binary"
	"fmt"
)

// AddrSize is the width of the address immediate in every trampoline.
const AddrSize = 8

// Template is the trampoline for one instruction set.
type Template struct {
	Name string
	// Code holds the instructions with a zeroed address immediate.
	Code []byte
	// AddrOffset is where the little-endian address immediate starts within Code.
	AddrOffset int
}

// Size is the number of bytes overwritten at the entry point.
func (t Template) Size() int {
	return len(t.Code)
}

// ReturnAdjust is the number of instruction bytes that precede the address immediate.
func (t Template) ReturnAdjust() int {
	return len(t.Code) - AddrSize
}

// Assemble returns the trampoline calling target.
func (t Template) Assemble(target uintptr) []byte {
	code := make([]byte, len(t.Code))
	copy(code, t.Code)
	binary.LittleEndian.PutUint64(code[t.AddrOffset:t.AddrOffset+AddrSize], uint64(target))
	return code
}

func (t Template) validate() error {
	if t.AddrOffset < 0 || t.AddrOffset+AddrSize > len(t.Code) {
		return fmt.Errorf("template %s: address immediate [%d,%d) outside of %d code bytes", t.Name, t.AddrOffset, t.AddrOffset+AddrSize, len(t.Code))
	}
	return nil
}

// AMD64 preserves rdx, which carries the dynamic linker's termination function into _start.
var AMD64 = Template{
	Name: "amd64",
	Code: []byte{
		// movabs $imm64, %rax
		0x48, 0xb8,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// call *%rax
		0xff, 0xd0,
	},
	AddrOffset: 2,
}

// ARM64 preserves x0. The address is a literal placed right after the branch.
var ARM64 = Template{
	Name: "arm64",
	Code: []byte{
		// ldr x1, #8
		0x41, 0x00, 0x00, 0x58,
		// blr x1
		0x20, 0x00, 0x3f, 0xd6,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	},
	AddrOffset: 8,
}
