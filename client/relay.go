package client

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ChunkSize is the most bytes moved per readiness event.
const ChunkSize = 1024

// Slot identifies one of the watched sources of a relay.
type Slot int

const (
	SlotStdout Slot = iota
	SlotStderr
	SlotStdin
	numSlots
)

func (s Slot) String() string {
	switch s {
	case SlotStdout:
		return "stdout"
	case SlotStderr:
		return "stderr"
	case SlotStdin:
		return "stdin"
	}
	return fmt.Sprintf("slot(%d)", int(s))
}

var (
	// ErrStreamClosed ends a relay when the remote side closes stdout or stderr.
	ErrStreamClosed = errors.New("stream closed")
	// ErrPollEvent ends a relay when a watched descriptor reports an error condition.
	ErrPollEvent = errors.New("error condition on descriptor")
)

type slot struct {
	// src is polled and read.
	src int
	dst io.Writer
	// sock is the connection owned by the slot, closed on retirement.
	// For stdout and stderr it is the source; for stdin it is the destination.
	sock    *os.File
	retired bool
	closed  bool
	relayed int64
}

// Stats counts the bytes relayed per slot.
type Stats struct {
	Stdout int64
	Stderr int64
	Stdin  int64
}

// Relay pumps bytes between the local standard streams and the three I/O connections of a session.
// It is not safe for concurrent use.
type Relay struct {
	log   *zap.SugaredLogger
	slots [numSlots]slot
	pfds  [numSlots]unix.PollFd
	buf   [ChunkSize]byte
}

// RelayConfig holds the connections and local streams for a relay.
// The relay takes ownership of the three sockets.
type RelayConfig struct {
	Logger *zap.SugaredLogger

	StdoutSock *os.File
	StderrSock *os.File
	StdinSock  *os.File

	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
}

// NewRelay returns a relay watching the stdout and stderr sockets and the local stdin.
func NewRelay(cfg RelayConfig) *Relay {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Relay{log: log}
	r.slots[SlotStdout] = slot{src: int(cfg.StdoutSock.Fd()), dst: cfg.Stdout, sock: cfg.StdoutSock}
	r.slots[SlotStderr] = slot{src: int(cfg.StderrSock.Fd()), dst: cfg.Stderr, sock: cfg.StderrSock}
	r.slots[SlotStdin] = slot{src: int(cfg.Stdin.Fd()), dst: cfg.StdinSock, sock: cfg.StdinSock}
	for i := range r.slots {
		r.pfds[i] = unix.PollFd{Fd: int32(r.slots[i].src), Events: unix.POLLIN}
	}
	return r
}

// Retired reports whether s has been closed and removed from polling.
func (r *Relay) Retired(s Slot) bool {
	return r.slots[s].retired
}

// Live reports whether s is still watched.
func (r *Relay) Live(s Slot) bool {
	return !r.Retired(s)
}

// Stats returns the bytes relayed so far.
func (r *Relay) Stats() Stats {
	return Stats{
		Stdout: r.slots[SlotStdout].relayed,
		Stderr: r.slots[SlotStderr].relayed,
		Stdin:  r.slots[SlotStdin].relayed,
	}
}

// Run relays until the remote side closes stdout or stderr, or an I/O error occurs.
// The returned error describes why the loop ended; it is never nil.
func (r *Relay) Run() error {
	for {
		_, err := unix.Poll(r.pfds[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		for i := range r.pfds {
			if r.pfds[i].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				return fmt.Errorf("%s: %w (revents %#x)", Slot(i), ErrPollEvent, r.pfds[i].Revents)
			}
		}

		// Output slots reported ready get their chunk before a terminal error ends the loop,
		// so output that arrived together with the closing of the other stream is not dropped.
		// Local stdin is never read once the loop is ending.
		var terminal error
		for i := range r.pfds {
			if terminal != nil && Slot(i) == SlotStdin {
				break
			}
			// A hang-up is reported without POLLIN on some descriptors, a pipe with no writers
			// being the common case. Reading surfaces it as end of file.
			if r.pfds[i].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
				continue
			}
			if err := r.handle(Slot(i)); err != nil && terminal == nil {
				terminal = err
			}
		}
		if terminal != nil {
			return terminal
		}
	}
}

// handle moves one chunk for s. A nil return means the loop continues.
func (r *Relay) handle(s Slot) error {
	sl := &r.slots[s]
	n, err := unix.Read(sl.src, r.buf[:])
	if err == unix.EINTR {
		return nil
	}
	if n <= 0 {
		r.retire(s)
		if s == SlotStdin && err == nil {
			r.log.Debugw("local stdin reached end of file", "Relayed", sl.relayed)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s, err)
		}
		return fmt.Errorf("%s: %w", s, ErrStreamClosed)
	}

	written, err := sl.dst.Write(r.buf[:n])
	if err == nil && written != n {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", s, err)
	}
	sl.relayed += int64(n)
	return nil
}

func (r *Relay) retire(s Slot) {
	sl := &r.slots[s]
	if sl.retired {
		return
	}
	closeSocket(sl.sock)
	sl.retired = true
	sl.closed = true
	r.pfds[s].Fd = -1
	r.pfds[s].Revents = 0
	r.log.Debugw("retired slot", "Slot", s.String())
}

// Close closes the sockets of every slot that was not retired.
func (r *Relay) Close() error {
	var firstErr error
	for i := range r.slots {
		sl := &r.slots[i]
		if sl.retired || sl.closed {
			continue
		}
		if err := sl.sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		sl.closed = true
		r.pfds[i].Fd = -1
	}
	return firstErr
}

func closeSocket(f *os.File) {
	_ = unix.Shutdown(int(f.Fd()), unix.SHUT_RDWR)
	_ = f.Close()
}
