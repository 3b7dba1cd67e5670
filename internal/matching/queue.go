// Package matching owns the random-chat waiting pool and the map of active
// pairings. Every read and write of either structure goes through Queue, whose
// operations are atomic and idempotent so that racing disconnect and skip
// events cannot corrupt pairing state.
package matching

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/models"
)

// Entry is a connection taking part in random matching, together with the
// profile snapshot taken when it asked for a partner.
type Entry struct {
	ConnID   string
	UserID   string
	Profile  models.Profile
	JoinedAt time.Time
}

// Status is the outcome of RequestMatch.
type Status int

const (
	// StatusWaiting means the connection sits in the waiting pool.
	StatusWaiting Status = iota + 1
	// StatusMatched means a partner was found and the pairing recorded.
	StatusMatched
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Result is returned by RequestMatch.
type Result struct {
	Status  Status
	Self    Entry
	Partner Entry // zero unless Status == StatusMatched

	// Duplicate is set when the connection was already waiting or paired and
	// the request changed nothing.
	Duplicate bool

	// Waited is how long the partner spent in the pool before this match.
	Waited time.Duration
}

// Ended describes what EndPairing tore down.
type Ended struct {
	Self     Entry
	Partner  Entry
	Paired   bool // an active pairing was removed
	Dequeued bool // the connection left the waiting pool
}

// PartnerID returns the former partner's connection, or "" if there was none.
func (e Ended) PartnerID() string {
	if !e.Paired {
		return ""
	}
	return e.Partner.ConnID
}

// Filter decides whether candidate is an acceptable partner for self. It runs
// while the queue lock is held and must not block.
type Filter func(self, candidate Entry) bool

// AcceptAll is the permissive filter: the first waiting entry always matches.
func AcceptAll(Entry, Entry) bool { return true }

// Option configures a Queue.
type Option func(*Queue)

// WithFilter sets the eligibility filter applied during the FIFO scan.
func WithFilter(f Filter) Option {
	return func(q *Queue) {
		if f != nil {
			q.filter = f
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger used to report queue corruption.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.log = logger.OrNop(l) }
}

type pairing struct {
	self    Entry
	partner Entry
}

// Queue is the single owner of the waiting pool and the active-pair map.
type Queue struct {
	mu      sync.Mutex
	waiting []Entry             // FIFO, oldest first
	queued  map[string]struct{} // conn_id set mirroring waiting
	active  map[string]pairing  // conn_id -> its pairing, stored for both sides
	linked  map[string]struct{} // models.PairKey of every user pair in active

	filter Filter
	now    func() time.Time
	log    *zap.Logger
}

// NewQueue returns an empty Queue that accepts the first waiting candidate
// unless a filter option says otherwise.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		queued: make(map[string]struct{}),
		active: make(map[string]pairing),
		linked: make(map[string]struct{}),
		filter: AcceptAll,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RequestMatch pairs self with the longest-waiting eligible entry, or appends
// it to the back of the pool. A connection that is already waiting or paired
// gets StatusWaiting with Duplicate set and no state changes.
//
// Two users share one random conversation, so a candidate whose user is
// already paired with self's user on another connection is never eligible.
func (q *Queue) RequestMatch(self Entry) Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[self.ConnID]; ok {
		return Result{Status: StatusWaiting, Self: self, Duplicate: true}
	}
	if _, ok := q.active[self.ConnID]; ok {
		return Result{Status: StatusWaiting, Self: self, Duplicate: true}
	}

	now := q.now()
	if self.JoinedAt.IsZero() {
		self.JoinedAt = now
	}

	for i, candidate := range q.waiting {
		if candidate.UserID != "" && candidate.UserID == self.UserID {
			continue
		}
		if _, ok := q.linked[models.PairKey(self.UserID, candidate.UserID)]; ok {
			continue
		}
		if !q.filter(self, candidate) || !q.filter(candidate, self) {
			continue
		}

		q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
		delete(q.queued, candidate.ConnID)

		q.active[self.ConnID] = pairing{self: self, partner: candidate}
		q.active[candidate.ConnID] = pairing{self: candidate, partner: self}
		q.linked[models.PairKey(self.UserID, candidate.UserID)] = struct{}{}

		return Result{
			Status:  StatusMatched,
			Self:    self,
			Partner: candidate,
			Waited:  now.Sub(candidate.JoinedAt),
		}
	}

	q.waiting = append(q.waiting, self)
	q.queued[self.ConnID] = struct{}{}
	return Result{Status: StatusWaiting, Self: self}
}

// EndPairing removes connID from the waiting pool or tears down its pairing,
// removing both directions. Calling it again for the same connection is a
// no-op that returns a zero Ended.
func (q *Queue) EndPairing(connID string) Ended {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[connID]; ok {
		for i, e := range q.waiting {
			if e.ConnID == connID {
				q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
				delete(q.queued, connID)
				return Ended{Self: e, Dequeued: true}
			}
		}
		delete(q.queued, connID)
		q.log.Error("invariant: queued connection missing from waiting pool",
			zap.String("conn_id", connID))
		return Ended{}
	}

	p, ok := q.active[connID]
	if !ok {
		return Ended{}
	}
	delete(q.active, connID)
	delete(q.linked, models.PairKey(p.self.UserID, p.partner.UserID))

	back, ok := q.active[p.partner.ConnID]
	if !ok || back.partner.ConnID != connID {
		q.log.Error("invariant: asymmetric pairing",
			zap.String("conn_id", connID),
			zap.String("partner_id", p.partner.ConnID))
		return Ended{Self: p.self}
	}
	delete(q.active, p.partner.ConnID)

	return Ended{Self: p.self, Partner: p.partner, Paired: true}
}

// PartnerOf returns the connection currently paired with connID.
func (q *Queue) PartnerOf(connID string) (string, bool) {
	q.mu.Lock()
	p, ok := q.active[connID]
	q.mu.Unlock()
	if !ok {
		return "", false
	}
	return p.partner.ConnID, true
}

// Pairing returns both entries of connID's active pairing.
func (q *Queue) Pairing(connID string) (self, partner Entry, ok bool) {
	q.mu.Lock()
	p, ok := q.active[connID]
	q.mu.Unlock()
	return p.self, p.partner, ok
}

// IsWaiting reports whether connID is in the waiting pool.
func (q *Queue) IsWaiting(connID string) bool {
	q.mu.Lock()
	_, ok := q.queued[connID]
	q.mu.Unlock()
	return ok
}

// Waiting returns the waiting connections, oldest first.
func (q *Queue) Waiting() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.waiting))
	for i, e := range q.waiting {
		out[i] = e.ConnID
	}
	return out
}

// Stats returns the waiting pool size and the number of active pairs.
func (q *Queue) Stats() (waiting, pairs int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting), len(q.active) / 2
}
