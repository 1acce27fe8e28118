package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	// ErrEnvironment is returned when the working directory of the caller cannot be determined.
	ErrEnvironment = errors.New("unable to determine working directory")
	// ErrAllocation is returned when a payload cannot be built or framed.
	ErrAllocation = errors.New("unable to allocate request payload")
)

// Request is one command invocation, serialized and ready to be sent on the control connection.
type Request struct {
	ArgumentCount int32
	PayloadLength int32
	// Payload is the working directory followed by every argument, each NUL-terminated.
	Payload []byte
}

// BuildRequest builds a request for argv using the current working directory.
func BuildRequest(argv []string) (*Request, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvironment, err)
	}
	return NewRequest(wd, argv)
}

// NewRequest builds a request for argv to be run in workingDir.
func NewRequest(workingDir string, argv []string) (*Request, error) {
	if len(argv) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d arguments", ErrAllocation, len(argv))
	}

	size := len(workingDir) + 1
	for _, a := range argv {
		size += len(a) + 1
	}
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds the frame limit", ErrAllocation, size)
	}

	payload := make([]byte, 0, size)
	payload = append(payload, workingDir...)
	payload = append(payload, 0)
	for _, a := range argv {
		payload = append(payload, a...)
		payload = append(payload, 0)
	}

	return &Request{
		ArgumentCount: int32(len(argv)),
		PayloadLength: int32(size),
		Payload:       payload,
	}, nil
}

// Release drops the payload buffer. The request must not be sent afterwards.
func (r *Request) Release() {
	r.Payload = nil
}

// WriteError reports the part of a request that could not be written.
type WriteError struct {
	Field string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sending %s: %s", e.Field, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SendAll writes all of b to w, retrying partial writes.
func SendAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// WriteTo sends argc, the payload length and the payload to w, in that order.
// A failure is reported as a *WriteError naming the part that could not be sent.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	argc := Encode(r.ArgumentCount)
	length := Encode(r.PayloadLength)
	parts := []struct {
		field string
		b     []byte
	}{
		{"argc", argc[:]},
		{"payload length", length[:]},
		{"payload", r.Payload},
	}

	var n int64
	for _, p := range parts {
		if err := SendAll(w, p.b); err != nil {
			return n, &WriteError{Field: p.field, Err: err}
		}
		n += int64(len(p.b))
	}
	return n, nil
}

// Command is a decoded request, as seen by the execution service.
type Command struct {
	WorkingDir string
	Args       []string
}

// MaxPayload bounds the payload a reader of requests is willing to accept.
const MaxPayload = 1 << 20

// ReadRequest reads a framed request from r and decodes it.
func ReadRequest(r io.Reader) (*Command, error) {
	argc, err := ReadInt32(r)
	if err != nil {
		return nil, fmt.Errorf("reading argc: %w", err)
	}
	length, err := ReadInt32(r)
	if err != nil {
		return nil, fmt.Errorf("reading payload length: %w", err)
	}
	if length < 0 || length > MaxPayload {
		return nil, fmt.Errorf("invalid payload length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return ParsePayload(argc, payload)
}

// ParsePayload splits a payload into the working directory and argc arguments.
func ParsePayload(argc int32, payload []byte) (*Command, error) {
	if argc < 0 {
		return nil, fmt.Errorf("invalid argc %d", argc)
	}
	if len(payload) == 0 || payload[len(payload)-1] != 0 {
		return nil, errors.New("payload is not NUL-terminated")
	}
	fields := bytes.Split(payload[:len(payload)-1], []byte{0})
	if len(fields) != int(argc)+1 {
		return nil, fmt.Errorf("payload holds %d strings, want %d", len(fields), argc+1)
	}
	cmd := &Command{
		WorkingDir: string(fields[0]),
		Args:       make([]string, 0, argc),
	}
	for _, f := range fields[1:] {
		cmd.Args = append(cmd.Args, string(f))
	}
	return cmd, nil
}
