package ws

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/protocol"
	"github.com/whisper/randomchat/internal/registry"
)

func newTestServer() *Server {
	return NewServer(DefaultServerConfig(), registry.New(), auth.NewVerifier("", ""), nil, nil)
}

// pipeConn returns a server-side Connection and the client end of its pipe.
func pipeConn(id, userID string) (*Connection, net.Conn) {
	server, client := net.Pipe()
	c := &Connection{ID: id, UserID: userID, Conn: server, Fd: -1, CreatedAt: time.Now()}
	c.Touch()
	return c, client
}

func TestSweep(t *testing.T) {
	s := newTestServer()
	hb := HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second}

	var (
		mu   sync.Mutex
		gone []string
	)
	s.SetOnDisconnect(func(connID string) {
		mu.Lock()
		gone = append(gone, connID)
		mu.Unlock()
	})

	stale, staleClient := pipeConn("stale", "u1")
	defer staleClient.Close()
	stale.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())

	fresh, freshClient := pipeConn("fresh", "u2")
	defer freshClient.Close()

	broken, brokenClient := pipeConn("broken", "u3")
	brokenClient.Close()

	for _, c := range []*Connection{stale, fresh, broken} {
		s.conns.Add(c)
		s.registry.Bind(c.ID, c.UserID)
	}

	pings := make(chan ws.OpCode, 1)
	go func() {
		f, err := ws.ReadFrame(freshClient)
		if err == nil {
			pings <- f.Header.OpCode
		}
	}()

	evicted := s.sweep(hb, time.Now())
	assert.Equal(t, 2, evicted)

	select {
	case op := <-pings:
		assert.Equal(t, ws.OpPing, op)
	case <-time.After(time.Second):
		t.Fatal("fresh connection was not pinged")
	}

	assert.NotNil(t, s.conns.Get("fresh"))
	assert.Nil(t, s.conns.Get("stale"))
	assert.Nil(t, s.conns.Get("broken"))

	_, ok := s.registry.Resolve("stale")
	assert.False(t, ok, "evicted connection must be unbound")

	mu.Lock()
	assert.ElementsMatch(t, []string{"stale", "broken"}, gone)
	mu.Unlock()
}

func TestRemoveConnection_Once(t *testing.T) {
	s := newTestServer()
	calls := 0
	s.SetOnDisconnect(func(string) { calls++ })

	c, client := pipeConn("c1", "u1")
	defer client.Close()
	s.conns.Add(c)

	s.RemoveConnection(c)
	s.RemoveConnection(c)
	assert.Equal(t, 1, calls)
}

func TestSendMessage_Unknown(t *testing.T) {
	s := newTestServer()
	err := s.SendMessage("nobody", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrConnectionNotFound))
}

// dispatchAndRead runs Dispatch and returns the decoded reply, if any.
func dispatchAndRead(t *testing.T, d *MessageDispatcher, c *Connection, client net.Conn, frame string) map[string]interface{} {
	t.Helper()
	go d.Dispatch(c, []byte(frame))

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	data, err := wsutil.ReadServerText(client)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestDispatch(t *testing.T) {
	d := NewMessageDispatcher(nil)
	c, client := pipeConn("c1", "u1")
	defer client.Close()

	got := dispatchAndRead(t, d, c, client, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, got["type"])

	got = dispatchAndRead(t, d, c, client, `{"type":"random.dance"}`)
	assert.Equal(t, protocol.TypeRandomError, got["type"])
	assert.Equal(t, "unsupported_type", got["code"])

	got = dispatchAndRead(t, d, c, client, `not json`)
	assert.Equal(t, "parse_error", got["code"])

	handled := make(chan *Connection, 1)
	d.Register(protocol.TypeEnd, func(conn *Connection, _ interface{}) { handled <- conn })
	d.Dispatch(c, []byte(`{"type":"random.end"}`))
	select {
	case conn := <-handled:
		assert.Same(t, c, conn)
	default:
		t.Fatal("handler not called")
	}
}
