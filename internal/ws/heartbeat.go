package ws

import (
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/metrics"
)

// HeartbeatConfig controls liveness probing. A connection silent for longer
// than Interval + Timeout is evicted.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultHeartbeatConfig pings every 30s with a 10s grace period.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second}
}

// runHeartbeat sweeps the connection table every interval until Shutdown.
func (s *Server) runHeartbeat() {
	hb := s.config.Heartbeat
	if hb.Interval <= 0 {
		hb = DefaultHeartbeatConfig()
	}
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.sweep(hb, now)
		}
	}
}

// sweep evicts silent connections and pings the rest. Evictions go through
// RemoveConnection so an abandoned pairing is torn down like any disconnect.
// It returns the number of evicted connections.
func (s *Server) sweep(hb HeartbeatConfig, now time.Time) int {
	deadline := hb.Interval + hb.Timeout
	evicted := 0

	for _, c := range s.conns.All() {
		cause := ""
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			cause = "timeout"
			s.log.Info("heartbeat timeout", zap.String("conn_id", c.ID), zap.Duration("idle", idle.Round(time.Second)))
		} else if err := c.WritePing(s.config.WriteTimeout); err != nil {
			cause = "ping_failed"
			s.log.Debug("heartbeat ping failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		if cause == "" {
			continue
		}
		metrics.HeartbeatEvictions.WithLabelValues(cause).Inc()
		s.RemoveConnection(c)
		evicted++
	}
	return evicted
}

// WritePing sends a ping control frame. Browsers answer it with a pong on
// their own. A positive timeout bounds the write.
func (c *Connection) WritePing(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
