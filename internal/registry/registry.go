// Package registry maps live connection handles to authenticated user ids.
// A user may hold several connections at once (one per browser tab), so the
// registry indexes both directions. State lives only for the process uptime.
package registry

import (
	"sort"
	"sync"
)

// Registry is a goroutine-safe bidirectional index of connection -> user and
// user -> connections.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string              // conn_id -> user_id
	byUser map[string]map[string]struct{} // user_id -> set of conn_id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Bind associates userID with connID. Rebinding a connection to a different
// user moves it.
func (r *Registry) Bind(connID, userID string) {
	if connID == "" || userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.dropLocked(connID, prev)
	}

	r.byConn[connID] = userID
	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
}

// Resolve returns the user bound to connID.
func (r *Registry) Resolve(connID string) (string, bool) {
	r.mu.RLock()
	userID, ok := r.byConn[connID]
	r.mu.RUnlock()
	return userID, ok
}

// ConnectionsOf returns every live connection of userID in a stable order.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Unbind forgets connID. It reports whether a binding was removed, so a second
// call is a harmless no-op.
func (r *Registry) Unbind(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return false
	}
	r.dropLocked(connID, userID)
	return true
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byConn)
	r.mu.RUnlock()
	return n
}

func (r *Registry) dropLocked(connID, userID string) {
	delete(r.byConn, connID)
	if set := r.byUser[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}
