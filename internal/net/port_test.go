package net

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenConsecutive(t *testing.T) {
	listeners, err := ListenConsecutive(4)
	require.NoError(t, err)
	require.Len(t, listeners, 4)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	base := listeners[0].Addr().(*net.TCPAddr).Port
	for i, l := range listeners {
		assert.Equal(t, base+i, l.Addr().(*net.TCPAddr).Port)
	}
}
