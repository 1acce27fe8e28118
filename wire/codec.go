package wire

import (
	"encoding/binary"
	"io"
)

// MessageSize is the width of every integer on the wire.
const MessageSize = 4

// Encode returns the big-endian representation of v.
func Encode(v int32) [MessageSize]byte {
	var b [MessageSize]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b
}

// Decode is the inverse of Encode.
func Decode(b [MessageSize]byte) int32 {
	return int32(binary.BigEndian.Uint32(b[:]))
}

// WriteInt32 writes the encoded value to w.
func WriteInt32(w io.Writer, v int32) error {
	b := Encode(v)
	_, err := w.Write(b[:])
	return err
}

// ReadInt32 reads exactly one encoded value from r.
// A stream ending before all four bytes arrive yields io.ErrUnexpectedEOF (or io.EOF if nothing was read).
func ReadInt32(r io.Reader) (int32, error) {
	var b [MessageSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Decode(b), nil
}
