package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/randomchat/internal/protocol"
)

var errClosed = errors.New("connection closed")

// event is one server message as seen by a simulated user.
type event struct {
	Type string
	Raw  json.RawMessage
	At   time.Time
}

// client is one simulated user connection. Server messages are queued on a
// channel by a background reader; the session.created handshake is consumed
// internally.
type client struct {
	conn      net.Conn
	connID    string
	ready     chan struct{}
	events    chan event
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	ConnectLatency time.Duration
}

func dial(ctx context.Context, baseURL, token string) (*client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &client{
		conn:           conn,
		ready:          make(chan struct{}),
		events:         make(chan event, 256),
		done:           make(chan struct{}),
		ConnectLatency: time.Since(start),
	}
	go c.readLoop()
	return c, nil
}

// send writes a client message of msgType with the given extra fields.
func (c *client) send(msgType string, fields map[string]string) error {
	m := map[string]string{"type": msgType}
	for k, v := range fields {
		m[k] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// waitReady blocks until session.created has arrived.
func (c *client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next returns the next server message.
func (c *client) next(ctx context.Context) (event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return event{}, errClosed
		}
		return ev, nil
	case <-ctx.Done():
		return event{}, ctx.Err()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readLoop() {
	defer close(c.events)
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			c.close()
			return
		}
		var env struct {
			Type         string `json:"type"`
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == protocol.TypeSessionCreated {
			c.connID = env.ConnectionID
			close(c.ready)
			continue
		}
		select {
		case c.events <- event{Type: env.Type, Raw: data, At: time.Now()}:
		case <-c.done:
			return
		}
	}
}
