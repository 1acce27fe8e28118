// Package servicetest provides an in-process execution service speaking the preloader wire protocol, for tests.
package servicetest

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	internalnet "github.com/guseggert/preloader/internal/net"
	"github.com/guseggert/preloader/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// acceptTimeout bounds how long the service waits for the I/O connections after a request.
const acceptTimeout = 5 * time.Second

// Session is one accepted client session.
type Session struct {
	Command *wire.Command

	Control net.Conn
	Stdout  net.Conn
	Stderr  net.Conn
	Stdin   net.Conn
}

// Exit sends the exit status on the control connection.
func (s *Session) Exit(status int32) error {
	return wire.WriteInt32(s.Control, status)
}

func (s *Session) close() {
	for _, c := range []net.Conn{s.Stdin, s.Stderr, s.Stdout, s.Control} {
		if c != nil {
			c.Close()
		}
	}
}

// Handler serves one session. Every connection of the session is closed after it returns.
type Handler func(s *Session) error

// Service accepts sessions on four consecutive loopback ports and hands them to a Handler one at a time.
type Service struct {
	Log     *zap.SugaredLogger
	Handler Handler

	listeners []net.Listener

	mut      sync.Mutex
	sessions []*wire.Command
	errs     []error

	closeOnce sync.Once
	done      chan struct{}
}

// New listens on a free range of ports. Call Serve to start accepting sessions.
func New(log *zap.SugaredLogger, handler Handler) (*Service, error) {
	listeners, err := internalnet.ListenConsecutive(4)
	if err != nil {
		return nil, err
	}
	return &Service{
		Log:       log.Named("execution_service"),
		Handler:   handler,
		listeners: listeners,
		done:      make(chan struct{}),
	}, nil
}

// Start starts a service in the background and stops it when the test ends.
func Start(t testing.TB, handler Handler) *Service {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("building logger: %s", err)
	}
	s, err := New(logger.Sugar(), handler)
	if err != nil {
		t.Fatalf("starting execution service: %s", err)
	}
	go s.Serve()
	t.Cleanup(s.Close)
	return s
}

// Port is the control port. The I/O ports follow it.
func (s *Service) Port() int {
	return s.listeners[0].Addr().(*net.TCPAddr).Port
}

// Serve accepts sessions until the service is closed.
func (s *Service) Serve() {
	defer close(s.done)
	for {
		control, err := s.listeners[0].Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.record(nil, fmt.Errorf("accepting control conn: %w", err))
			}
			return
		}
		s.serveSession(control)
	}
}

func (s *Service) serveSession(control net.Conn) {
	sess := &Session{Control: control}
	defer sess.close()

	cmd, err := wire.ReadRequest(control)
	if err != nil {
		s.record(nil, fmt.Errorf("reading request: %w", err))
		return
	}
	sess.Command = cmd
	s.Log.Debugw("got request", "Command", cmd)

	conns, err := s.acceptIO()
	if err != nil {
		s.record(cmd, err)
		return
	}
	sess.Stdout, sess.Stderr, sess.Stdin = conns[0], conns[1], conns[2]

	err = s.Handler(sess)
	if err != nil {
		s.Log.Debugf("handler error: %s", err)
	}
	s.record(cmd, err)
}

func (s *Service) acceptIO() ([3]net.Conn, error) {
	var conns [3]net.Conn
	var group errgroup.Group
	deadline := time.Now().Add(acceptTimeout)
	for i := range conns {
		i := i
		l := s.listeners[i+1].(*net.TCPListener)
		group.Go(func() error {
			if err := l.SetDeadline(deadline); err != nil {
				return err
			}
			c, err := l.Accept()
			if err != nil {
				return fmt.Errorf("accepting I/O conn on %s: %w", l.Addr(), err)
			}
			conns[i] = c
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
		return conns, err
	}
	return conns, nil
}

func (s *Service) record(cmd *wire.Command, err error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if cmd != nil {
		s.sessions = append(s.sessions, cmd)
	}
	if err != nil {
		s.errs = append(s.errs, err)
	}
}

// Sessions returns the commands received so far.
func (s *Service) Sessions() []*wire.Command {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]*wire.Command(nil), s.sessions...)
}

// Errors returns the errors from failed sessions and handlers.
func (s *Service) Errors() []error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]error(nil), s.errs...)
}

// Close stops accepting sessions and waits for the current one to finish.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for _, l := range s.listeners {
			l.Close()
		}
		<-s.done
	})
}
