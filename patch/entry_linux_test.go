package patch

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPoint(t *testing.T) {
	entry, err := EntryPoint()
	require.NoError(t, err)
	assert.NotZero(t, entry)

	exe, err := elf.Open("/proc/self/exe")
	require.NoError(t, err)
	defer exe.Close()
	if exe.Type == elf.ET_EXEC {
		assert.EqualValues(t, exe.Entry, entry)
	}
}

func TestAuxvLookup(t *testing.T) {
	pair := func(k, v uint64) []byte {
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b, k)
		binary.LittleEndian.PutUint64(b[8:], v)
		return b
	}
	var auxv []byte
	auxv = append(auxv, pair(6, 4096)...)
	auxv = append(auxv, pair(atEntry, 0x401000)...)
	auxv = append(auxv, pair(0, 0)...)

	v, err := auxvLookup(auxv, atEntry)
	require.NoError(t, err)
	assert.EqualValues(t, 0x401000, v)

	_, err = auxvLookup(auxv, 31)
	assert.Error(t, err)

	_, err = auxvLookup(auxv[:8], atEntry)
	assert.Error(t, err)
}
