// Package chat holds the gateway-side helpers for relayed random-chat
// messages: content validation and the short per-conversation history
// attached to abuse reports.
package chat

import "sync"

// DefaultHistorySize is the number of recent messages kept per conversation.
const DefaultHistorySize = 5

// Line is one relayed message kept in a conversation history.
type Line struct {
	SenderID string
	Text     string
	Ts       int64 // unix millis
}

// History stores the last few relayed messages of every live random
// conversation in memory. It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	size  int
	rings map[string]*ring // conversation id -> ring
}

type ring struct {
	items []Line
	pos   int
	count int
}

// NewHistory returns a History keeping size lines per conversation. A
// non-positive size uses DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, rings: make(map[string]*ring)}
}

// Add appends line to the conversation, overwriting the oldest line when
// full.
func (h *History) Add(conversationID string, line Line) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[conversationID]
	if !ok {
		r = &ring{items: make([]Line, h.size)}
		h.rings[conversationID] = r
	}

	r.items[r.pos] = line
	r.pos = (r.pos + 1) % h.size
	if r.count < h.size {
		r.count++
	}
}

// Get returns the retained lines oldest first. It never returns nil.
func (h *History) Get(conversationID string) []Line {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rings[conversationID]
	if !ok {
		return []Line{}
	}

	out := make([]Line, r.count)
	start := (r.pos - r.count + h.size) % h.size
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%h.size]
	}
	return out
}

// Remove drops the conversation. Session teardown calls it so nothing of a
// random conversation outlives the pairing in memory either.
func (h *History) Remove(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rings, conversationID)
}

// Len returns the number of conversations with retained lines.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rings)
}
