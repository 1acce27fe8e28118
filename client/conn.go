package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultPort is the control port of the execution service when none is configured.
const DefaultPort = 3636

// Offsets of the I/O connections from the control port.
const (
	StdoutOffset = 1
	StderrOffset = 2
	StdinOffset  = 3
)

// ConnectError is returned when a connection to the execution service cannot be established.
type ConnectError struct {
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect on port %d: %s", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is returned when part of the request cannot be written to the control connection.
type SendError struct {
	What string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("unable to send %s: %s", e.What, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Dial opens a stream connection to the loopback address on port.
func Dial(ctx context.Context, port int) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, &ConnectError{Port: port, Err: err}
	}
	return conn, nil
}

// detach converts conn into a file holding a blocking descriptor that can be polled directly.
// conn is closed; the returned file owns the only remaining descriptor.
func detach(conn net.Conn) (*os.File, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unsupported connection type %T", conn)
	}
	f, err := tcpConn.File()
	tcpConn.Close()
	if err != nil {
		return nil, fmt.Errorf("duplicating socket: %w", err)
	}
	// Fd puts the descriptor in blocking mode.
	f.Fd()
	return f, nil
}
