package client

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns the local end (owned by the relay) and the remote end of a stream socket.
func socketPair(t *testing.T, name string) (*os.File, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	local := os.NewFile(uintptr(fds[0]), name+"-local")
	remote := os.NewFile(uintptr(fds[1]), name+"-remote")
	t.Cleanup(func() { remote.Close() })
	return local, remote
}

type relayFixture struct {
	relay *Relay

	remoteStdout *os.File
	remoteStderr *os.File
	remoteStdin  *os.File

	localStdin *os.File
	// stdinReader is the read end of localStdin, as seen by the relay.
	stdinReader *os.File

	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newRelayFixture(t *testing.T, stdout, stderr io.Writer) *relayFixture {
	stdoutLocal, stdoutRemote := socketPair(t, "stdout")
	stderrLocal, stderrRemote := socketPair(t, "stderr")
	stdinLocal, stdinRemote := socketPair(t, "stdin")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})

	f := &relayFixture{
		remoteStdout: stdoutRemote,
		remoteStderr: stderrRemote,
		remoteStdin:  stdinRemote,
		localStdin:   w,
		stdinReader:  r,
		stdout:       &bytes.Buffer{},
		stderr:       &bytes.Buffer{},
	}
	if stdout == nil {
		stdout = f.stdout
	}
	if stderr == nil {
		stderr = f.stderr
	}
	f.relay = NewRelay(RelayConfig{
		Logger:     logger.Sugar(),
		StdoutSock: stdoutLocal,
		StderrSock: stderrLocal,
		StdinSock:  stdinLocal,
		Stdin:      r,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	t.Cleanup(func() { f.relay.Close() })
	return f
}

func (f *relayFixture) runAsync() <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.relay.Run() }()
	return done
}

func TestRelayEndsWhenStdoutCloses(t *testing.T) {
	f := newRelayFixture(t, nil, nil)

	_, err := f.remoteStdout.Write([]byte("file1\nfile2\n"))
	require.NoError(t, err)
	require.NoError(t, f.remoteStdout.Close())

	err = f.relay.Run()
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorContains(t, err, "stdout")

	assert.Equal(t, "file1\nfile2\n", f.stdout.String())
	assert.True(t, f.relay.Retired(SlotStdout))
	assert.True(t, f.relay.Live(SlotStderr))
	assert.True(t, f.relay.Live(SlotStdin))
	assert.EqualValues(t, 12, f.relay.Stats().Stdout)
}

func TestRelayEndsWhenStderrCloses(t *testing.T) {
	f := newRelayFixture(t, nil, nil)

	_, err := f.remoteStderr.Write([]byte("boom\n"))
	require.NoError(t, err)
	require.NoError(t, f.remoteStderr.Close())

	err = f.relay.Run()
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, "boom\n", f.stderr.String())
	assert.True(t, f.relay.Retired(SlotStderr))
	assert.True(t, f.relay.Live(SlotStdout))
}

func TestRelayStdinEOFRetiresOnlyStdin(t *testing.T) {
	f := newRelayFixture(t, nil, nil)

	_, err := f.localStdin.Write([]byte("some input"))
	require.NoError(t, err)
	require.NoError(t, f.localStdin.Close())

	done := f.runAsync()

	// The remote side sees the forwarded bytes followed by end of file while the relay keeps running.
	got, err := io.ReadAll(f.remoteStdin)
	require.NoError(t, err)
	assert.Equal(t, "some input", string(got))

	select {
	case err := <-done:
		t.Fatalf("relay ended after stdin EOF: %v", err)
	default:
	}

	_, err = f.remoteStdout.Write([]byte("still here"))
	require.NoError(t, err)
	require.NoError(t, f.remoteStdout.Close())

	err = <-done
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, "still here", f.stdout.String())
	assert.True(t, f.relay.Retired(SlotStdin))
	assert.True(t, f.relay.Retired(SlotStdout))
	assert.True(t, f.relay.Live(SlotStderr))
	assert.EqualValues(t, 10, f.relay.Stats().Stdin)
}

func TestRelayLeavesStdinUnreadWhenOutputCloses(t *testing.T) {
	f := newRelayFixture(t, nil, nil)

	// Both are ready before the first poll, so they are reported in the same batch.
	_, err := f.localStdin.Write([]byte("must-not-forward"))
	require.NoError(t, err)
	require.NoError(t, f.remoteStdout.Close())

	err = f.relay.Run()
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.EqualValues(t, 0, f.relay.Stats().Stdin)
	assert.True(t, f.relay.Live(SlotStdin))

	require.NoError(t, f.relay.Close())
	forwarded, err := io.ReadAll(f.remoteStdin)
	require.NoError(t, err)
	assert.Empty(t, forwarded)

	// The input is still available to whoever reads stdin next.
	require.NoError(t, f.localStdin.Close())
	left, err := io.ReadAll(f.stdinReader)
	require.NoError(t, err)
	assert.Equal(t, "must-not-forward", string(left))
}

func TestRelayChunksLargeInput(t *testing.T) {
	f := newRelayFixture(t, nil, nil)
	data := bytes.Repeat([]byte("x"), ChunkSize*3+17)

	go func() {
		f.remoteStdout.Write(data)
		f.remoteStdout.Close()
	}()

	err := f.relay.Run()
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, len(data), f.stdout.Len())
}

type relayFailingWriter struct{}

func (relayFailingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestRelayWriteFailureIsTerminal(t *testing.T) {
	cases := []struct {
		name   string
		w      io.Writer
		errMsg string
	}{
		{name: "error", w: relayFailingWriter{}, errMsg: "disk full"},
		{name: "short write", w: shortWriter{}, errMsg: io.ErrShortWrite.Error()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newRelayFixture(t, c.w, nil)

			_, err := f.remoteStdout.Write([]byte("data"))
			require.NoError(t, err)

			err = f.relay.Run()
			require.ErrorContains(t, err, c.errMsg)
			assert.NotErrorIs(t, err, ErrStreamClosed)
			// The slot is not retired by a failed write; Close releases it.
			assert.True(t, f.relay.Live(SlotStdout))
		})
	}
}

func TestRelayStdinForwardFailureIsTerminal(t *testing.T) {
	f := newRelayFixture(t, nil, nil)

	// Tear down the remote end of the stdin connection so forwarding fails.
	require.NoError(t, f.remoteStdin.Close())
	_, err := f.localStdin.Write([]byte("lost"))
	require.NoError(t, err)

	err = f.relay.Run()
	require.ErrorContains(t, err, "writing stdin")
	assert.True(t, f.relay.Live(SlotStdin))
}

func TestRelayCloseSkipsRetiredSlots(t *testing.T) {
	f := newRelayFixture(t, nil, nil)
	require.NoError(t, f.remoteStderr.Close())

	err := f.relay.Run()
	require.ErrorIs(t, err, ErrStreamClosed)
	require.True(t, f.relay.Retired(SlotStderr))

	require.NoError(t, f.relay.Close())
	// Closing again is a no-op.
	require.NoError(t, f.relay.Close())

	// The remote ends of the closed sockets now read end of file.
	n, err := f.remoteStdout.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "stdout", SlotStdout.String())
	assert.Equal(t, "stderr", SlotStderr.String())
	assert.Equal(t, "stdin", SlotStdin.String())
	assert.Equal(t, "slot(7)", Slot(7).String())
}
