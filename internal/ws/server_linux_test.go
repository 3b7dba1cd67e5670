//go:build linux

package ws

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_PollerRejectsClosesSocket(t *testing.T) {
	s := newTestServer()
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()
	s.epoll = ep

	// A pipe has no file descriptor, so epoll refuses it.
	server, client := net.Pipe()
	defer client.Close()

	c, err := s.admit(server, "u1")
	assert.ErrorIs(t, err, errNoDescriptor)
	assert.Nil(t, c)
	assert.Zero(t, s.conns.Count())
	assert.Empty(t, s.registry.ConnectionsOf("u1"))

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server side must be closed")
}
