package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// atEntry is the auxiliary vector key holding the program entry point.
const atEntry = 9

// EntryPoint returns the address the kernel started this process at.
func EntryPoint() (uintptr, error) {
	b, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return 0, fmt.Errorf("reading auxiliary vector: %w", err)
	}
	return auxvLookup(b, atEntry)
}

// auxvLookup finds key in a raw auxiliary vector of native-endian 8-byte pairs.
func auxvLookup(auxv []byte, key uint64) (uintptr, error) {
	for len(auxv) >= 2*AddrSize {
		k := binary.LittleEndian.Uint64(auxv)
		v := binary.LittleEndian.Uint64(auxv[AddrSize:])
		if k == 0 {
			break
		}
		if k == key {
			return uintptr(v), nil
		}
		auxv = auxv[2*AddrSize:]
	}
	return 0, errors.New("entry point not found in auxiliary vector")
}
