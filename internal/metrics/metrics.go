// Package metrics provides Prometheus instrumentation for the random-chat
// gateway. It exposes gauges for connection, queue and pairing counts,
// counters for session teardown, media cleanup and friend requests, and a
// histogram for time spent waiting for a partner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randomchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// WaitingPoolSize tracks the number of connections waiting for a partner.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randomchat_waiting_pool_size",
		Help: "Current number of connections waiting for a random partner",
	})

	// ActivePairs tracks the number of active random pairings.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randomchat_active_pairs",
		Help: "Current number of active random-chat pairings",
	})

	// MatchWait records how long the earlier caller waited before being matched.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "randomchat_match_wait_seconds",
		Help:    "Time a connection spent in the waiting pool before being matched",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	// Teardowns counts pairing teardowns by reason: "skip", "end" or "disconnect".
	Teardowns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomchat_session_teardowns_total",
		Help: "Random-chat pairings torn down, by reason",
	}, []string{"reason"})

	// MediaDeletes counts remote media deletions by outcome: "ok" or "failed".
	MediaDeletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomchat_media_deletes_total",
		Help: "Remote media deletions attempted during session cleanup",
	}, []string{"outcome"})

	// FriendRequests counts friend request transitions:
	// "requested", "accepted", "rejected", "cancelled", "blocked".
	FriendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomchat_friend_requests_total",
		Help: "Friend request transitions",
	}, []string{"transition"})

	// MessagesTotal counts random-chat messages by outcome:
	// "relayed", "rejected" or "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomchat_messages_total",
		Help: "Random-chat messages processed",
	}, []string{"outcome"})

	// HeartbeatEvictions counts connections dropped by the heartbeat, by
	// cause: "timeout" or "ping_failed".
	HeartbeatEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randomchat_heartbeat_evictions_total",
		Help: "Connections evicted by the heartbeat",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		WaitingPoolSize,
		ActivePairs,
		MatchWait,
		Teardowns,
		MediaDeletes,
		FriendRequests,
		MessagesTotal,
		HeartbeatEvictions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
