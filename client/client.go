package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/uuid"
	"github.com/guseggert/preloader/wire"
	"go.uber.org/zap"
)

// StatusIndeterminate is reported when the control connection does not deliver a complete exit status.
const StatusIndeterminate int32 = 42

// Client runs commands on an execution service listening on loopback.
type Client struct {
	Logger *zap.SugaredLogger
	Port   int

	stdin      *os.File
	stdout     io.Writer
	stderr     io.Writer
	workingDir string
}

// Option configures a Client.
type Option func(c *Client)

// WithPort sets the control port. The I/O connections use the three ports after it.
func WithPort(port int) Option {
	return func(c *Client) {
		c.Port = port
	}
}

// WithLogger logs sessions to a child of l named "client".
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.Logger = l.Named("client").Sugar()
	}
}

// WithStdio replaces the local standard streams relayed by the client.
// stdin must be backed by a descriptor that can be polled.
func WithStdio(stdin *os.File, stdout, stderr io.Writer) Option {
	return func(c *Client) {
		c.stdin = stdin
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithWorkingDir sends dir instead of the current working directory.
func WithWorkingDir(dir string) Option {
	return func(c *Client) {
		c.workingDir = dir
	}
}

// New returns a client for DefaultPort relaying the process's own standard streams.
func New(opts ...Option) *Client {
	c := &Client{
		Logger: zap.NewNop().Sugar(),
		Port:   DefaultPort,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run asks the execution service to run argv and relays its standard streams until it finishes.
// The returned error is non-nil only if the session could not be established; once relaying
// starts, Run always returns a status, which is StatusIndeterminate if none was received.
func (c *Client) Run(ctx context.Context, argv []string) (int32, error) {
	log := c.Logger.With("Session", uuid.NewString())

	var (
		req *wire.Request
		err error
	)
	if c.workingDir != "" {
		req, err = wire.NewRequest(c.workingDir, argv)
	} else {
		req, err = wire.BuildRequest(argv)
	}
	if err != nil {
		return 0, fmt.Errorf("preparing request: %w", err)
	}

	sess, err := c.open(ctx, log, req)
	if err != nil {
		return 0, err
	}
	defer sess.close()

	reason := sess.relay.Run()
	log.Debugw("relay finished", "Reason", reason, "Stats", sess.relay.Stats())

	status := sess.readStatus()
	log.Debugf("got exit status %d", status)
	return status, nil
}

type session struct {
	log     *zap.SugaredLogger
	control net.Conn
	relay   *Relay
}

// open connects the control port, sends req, then connects the three I/O ports.
// On error every connection opened so far is closed.
func (c *Client) open(ctx context.Context, log *zap.SugaredLogger, req *wire.Request) (*session, error) {
	log.Debugw("connecting", "Port", c.Port, "Argc", req.ArgumentCount, "PayloadLength", req.PayloadLength)
	control, err := Dial(ctx, c.Port)
	if err != nil {
		return nil, err
	}

	err = sendRequest(control, req)
	req.Release()
	if err != nil {
		control.Close()
		return nil, err
	}

	var socks []*os.File
	closeAll := func() {
		control.Close()
		for _, f := range socks {
			f.Close()
		}
	}
	for _, offset := range []int{StdoutOffset, StderrOffset, StdinOffset} {
		conn, err := Dial(ctx, c.Port+offset)
		if err != nil {
			closeAll()
			return nil, err
		}
		f, err := detach(conn)
		if err != nil {
			closeAll()
			return nil, &ConnectError{Port: c.Port + offset, Err: err}
		}
		socks = append(socks, f)
	}

	relay := NewRelay(RelayConfig{
		Logger:     log.Named("relay"),
		StdoutSock: socks[0],
		StderrSock: socks[1],
		StdinSock:  socks[2],
		Stdin:      c.stdin,
		Stdout:     c.stdout,
		Stderr:     c.stderr,
	})
	return &session{log: log, control: control, relay: relay}, nil
}

func sendRequest(w io.Writer, req *wire.Request) error {
	if _, err := req.WriteTo(w); err != nil {
		var writeErr *wire.WriteError
		if errors.As(err, &writeErr) {
			return &SendError{What: writeErr.Field, Err: writeErr.Err}
		}
		return &SendError{What: "request", Err: err}
	}
	return nil
}

// readStatus reads the exit status from the control connection.
func (s *session) readStatus() int32 {
	status, err := wire.ReadInt32(s.control)
	if err != nil {
		s.log.Debugf("no complete exit status: %s", err)
		return StatusIndeterminate
	}
	return status
}

func (s *session) close() {
	if err := s.control.Close(); err != nil {
		s.log.Debugf("error closing control conn: %s", err)
	}
	if err := s.relay.Close(); err != nil {
		s.log.Debugf("error closing I/O conns: %s", err)
	}
}
