//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// Epoll is the goroutine-per-connection fallback used off Linux so the
// gateway runs on developer machines. Each connection gets a monitor that
// peeks for data through a buffered reader, reports readiness once, and then
// waits for the server to Rearm it after the frame has been consumed.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type bufferedConn struct {
	net.Conn
	br     *bufio.Reader
	rearm  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.br.Read(p) }

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Wrap puts a buffered reader in front of conn so readiness can be detected
// without losing bytes. All reads and writes must go through the result.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return &bufferedConn{
		Conn:   conn,
		br:     bufio.NewReader(conn),
		rearm:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Rearm lets the monitor look for the next frame.
func (e *Epoll) Rearm(conn net.Conn) {
	if bc, ok := conn.(*bufferedConn); ok {
		select {
		case bc.rearm <- struct{}{}:
		default:
		}
	}
}

// Add starts monitoring a connection returned by Wrap.
func (e *Epoll) Add(conn net.Conn) error {
	bc, ok := conn.(*bufferedConn)
	if !ok {
		bc = e.Wrap(conn).(*bufferedConn)
	}
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn, bc)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, bc *bufferedConn) {
	for {
		_, err := bc.br.Peek(1)

		// Errors are reported as readiness too so the server's read path
		// notices the closure.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		case <-bc.closed:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-bc.rearm:
		case <-e.done:
			return
		case <-bc.closed:
			return
		}
	}
}

// Remove stops monitoring conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	if bc, ok := conn.(*bufferedConn); ok {
		bc.once.Do(func() { close(bc.closed) })
	}
	return nil
}

// Wait blocks until at least one connection is ready and drains any others
// that are ready at the same time.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

func isEINTR(error) bool { return false }

func socketFD(net.Conn) int { return -1 }
