//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// errNoDescriptor is returned for connections that are not backed by a
// socket, such as net.Pipe ends.
var errNoDescriptor = errors.New("ws: connection has no file descriptor")

// Epoll parks idle connections in the kernel so they cost no goroutine. Only
// connections with data ready are handed to the worker pool.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	events []unix.EpollEvent // reused by Wait, which has a single caller
}

// NewEpoll opens an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll_create1: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Wrap returns conn unchanged; the kernel tracks readiness without reading.
func (e *Epoll) Wrap(conn net.Conn) net.Conn { return conn }

// Rearm is a no-op: level-triggered epoll reports pending data again on its own.
func (e *Epoll) Rearm(net.Conn) {}

// Add watches conn for input and hang-up.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := e.ctl(unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	e.mu.Lock()
	e.byFD[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove stops watching conn.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	e.mu.Lock()
	delete(e.byFD, fd)
	e.mu.Unlock()
	return e.ctl(unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *Epoll) ctl(op, fd int, ev *unix.EpollEvent) error {
	if fd < 0 {
		return errNoDescriptor
	}
	if err := unix.EpollCtl(e.fd, op, fd, ev); err != nil {
		return fmt.Errorf("ws: epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until registered connections are readable. A connection
// removed after epoll_wait returned is left out.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	ready := make([]net.Conn, 0, n)
	e.mu.RLock()
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll descriptor. Registered sockets stay open.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byFD = nil
	return unix.Close(e.fd)
}

func isEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// socketFD extracts the file descriptor through SyscallConn, which, unlike
// File(), does not duplicate it.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
