// Package ws handles WebSocket connection management: upgrading HTTP
// connections, authenticating them, keeping the live connection table and
// dispatching incoming frames to the registered handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/metrics"
	"github.com/whisper/randomchat/internal/protocol"
	"github.com/whisper/randomchat/internal/registry"
)

// ErrConnectionNotFound is returned by SendMessage for unknown or closed
// connections.
var ErrConnectionNotFound = errors.New("ws: connection not found")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// SessionMirror records connection lifecycles in shared storage. Failures are
// logged and never block a connection.
type SessionMirror interface {
	Create(ctx context.Context, connID, userID string) error
	Delete(ctx context.Context, connID string) error
}

// Server is the WebSocket gateway built on gobwas/ws and Linux epoll. Idle
// connections are parked in epoll; readable ones are handed to a bounded
// worker pool that reads exactly one frame each.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	registry     *registry.Registry
	verifier     *auth.Verifier
	mirror       SessionMirror
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called when a connection is removed
	mux          *http.ServeMux
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
	log          *zap.Logger
}

// NewServer creates a Server. Authenticated connections are bound in reg at
// upgrade and unbound when they close. onMessage runs on a worker goroutine
// for every complete text frame.
func NewServer(config ServerConfig, reg *registry.Registry, verifier *auth.Verifier, onMessage func(conn *Connection, data []byte), log *zap.Logger) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	if reg == nil {
		reg = registry.New()
	}
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		registry:   reg,
		verifier:   verifier,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
		log:        logger.OrNop(log).Named("ws"),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// SetSessionMirror installs the shared-state mirror. Call before Start.
func (s *Server) SetSessionMirror(m SessionMirror) {
	s.mirror = m
}

// Handle mounts an extra HTTP handler (metrics, REST API) on the gateway
// listener. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start creates the poller, starts the event loop and the heartbeat, and
// blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.startEventLoop()
	go s.runHeartbeat()

	s.log.Info("server listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections),
		zap.Bool("auth_enabled", s.verifier.Enabled()))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request, upgrades it and registers the
// connection. A missing or invalid token does not refuse the upgrade; the
// connection simply stays anonymous.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	var userID string
	if token := auth.TokenFromRequest(r); token != "" {
		var err error
		userID, err = s.verifier.Verify(token)
		if err != nil {
			s.log.Debug("token rejected", zap.Error(err))
		}
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c, err := s.admit(raw, userID)
	if err != nil {
		s.log.Error("epoll add failed", zap.Error(err))
		return
	}
	metrics.ConnectionsTotal.Inc()

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.mirror.Create(ctx, c.ID, userID); err != nil {
			s.log.Warn("session mirror create failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		cancel()
	}

	greeting, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		ConnectionID:  c.ID,
		Authenticated: c.Authenticated(),
	})
	if err == nil {
		err = c.WriteMessage(greeting)
	}
	if err != nil {
		s.log.Warn("failed to send session.created", zap.String("conn_id", c.ID), zap.Error(err))
	}

	s.log.Debug("connection opened",
		zap.String("conn_id", c.ID),
		zap.String("user_id", userID),
		zap.Int("fd", c.Fd),
		zap.Int("total", s.conns.Count()))
}

// admit registers an upgraded socket with the connection table, the registry
// and the poller. On failure the socket is closed and nothing stays
// registered.
func (s *Server) admit(raw net.Conn, userID string) (*Connection, error) {
	fd := socketFD(raw)
	conn := s.epoll.Wrap(raw)
	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	if c.Authenticated() {
		s.registry.Bind(c.ID, userID)
	}
	if err := s.epoll.Add(conn); err != nil {
		s.conns.Remove(c.ID)
		s.registry.Unbind(c.ID)
		_ = conn.Close()
		return nil, fmt.Errorf("ws: register %s: %w", c.ID, err)
	}
	return c, nil
}

// handleHealth reports liveness, connection counts and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status        string `json:"status"`
		Connections   int    `json:"connections"`
		Authenticated int    `json:"authenticated"`
		Uptime        string `json:"uptime"`
	}{
		Status:        "ok",
		Connections:   s.conns.Count(),
		Authenticated: s.registry.Count(),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop waits on the poller and hands each ready connection to a
// worker, blocking when the pool is exhausted.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				s.log.Error("epoll wait error", zap.Error(err))
			}
			continue
		}

		for _, conn := range conns {
			conn := conn
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single frame from a ready connection. Control frames are
// consumed here; a read failure removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered epoll may dispatch the same connection twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer func() {
		atomic.StoreInt32(&c.processing, 0)
		s.epoll.Rearm(netConn)
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means a stale dispatch with nothing to read; dead peers
		// are the heartbeat's job.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers the callback invoked once per removed connection,
// after it has been unbound from the registry.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection unregisters and closes c. Concurrent calls for the same
// connection (read error racing the heartbeat) run the cleanup once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	// Unbind first: a match request still in flight for this connection
	// re-checks the registry and must see it gone.
	s.registry.Unbind(c.ID)
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.mirror.Delete(ctx, c.ID); err != nil {
			s.log.Warn("session mirror delete failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		cancel()
	}

	s.log.Debug("connection closed", zap.String("conn_id", c.ID), zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to connID. An unknown connection yields
// ErrConnectionNotFound, which callers treat as an offline peer.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Connections returns the live connection table.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the listener, runs the disconnect path for every live
// connection and closes the poller.
func (s *Server) Shutdown() error {
	s.log.Info("shutting down server")
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown error", zap.Error(err))
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info("server stopped")
	return nil
}
