package net

import (
	"fmt"
	"net"
)

func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// ListenConsecutive listens on n consecutive loopback ports and returns the listeners in port order.
func ListenConsecutive(n int) ([]net.Listener, error) {
	const attempts = 20
	var lastErr error
	for i := 0; i < attempts; i++ {
		base, err := GetEphemeralTCPPort()
		if err != nil {
			return nil, err
		}
		listeners, err := listenRange(base, n)
		if err == nil {
			return listeners, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free range of %d ports after %d attempts: %w", n, attempts, lastErr)
}

func listenRange(base, n int) ([]net.Listener, error) {
	var listeners []net.Listener
	for port := base; port < base+n; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("listening on port %d: %w", port, err)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}
