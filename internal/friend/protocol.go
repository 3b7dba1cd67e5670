// Package friend lets two users who are currently matched in random chat
// turn the pairing into a durable relationship by mutual consent. One side
// requests, the other accepts or rejects, and the initiator may cancel while
// the request is pending. At most one live request exists per user pair.
package friend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/matching"
	"github.com/whisper/randomchat/internal/metrics"
	"github.com/whisper/randomchat/internal/models"
	"github.com/whisper/randomchat/internal/protocol"
	"github.com/whisper/randomchat/internal/registry"
	"github.com/whisper/randomchat/internal/session"
	"github.com/whisper/randomchat/internal/store"
)

// DefaultRequestTTL is how long a request row lives regardless of status.
const DefaultRequestTTL = 30 * 24 * time.Hour

var (
	ErrNoActiveMatch        = errors.New("friend: no active match")
	ErrNoActiveConversation = errors.New("friend: no active conversation")
	ErrAlreadyPending       = errors.New("friend: request already pending")
	ErrRequestNotFound      = errors.New("friend: request not found")
)

// UserMessage maps an error returned by Protocol to the short text shown to
// the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveMatch):
		return "No active match found"
	case errors.Is(err, ErrNoActiveConversation):
		return "No active conversation found"
	case errors.Is(err, ErrAlreadyPending):
		return "A request is already pending"
	case errors.Is(err, ErrRequestNotFound):
		return "Friend request not found"
	case errors.Is(err, session.ErrNotAuthenticated):
		return "Not authenticated"
	default:
		return "Something went wrong"
	}
}

// Store is the friend request persistence.
type Store interface {
	FindByPair(ctx context.Context, userA, userB string) (*models.FriendRequest, error)
	CreatePending(ctx context.Context, req *models.FriendRequest) (*models.FriendRequest, error)
	ListPendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error)
	Transition(ctx context.Context, id string, from, to models.FriendRequestStatus) (*models.FriendRequest, error)
}

// Pairings exposes the active random pairing of a connection.
type Pairings interface {
	Pairing(connID string) (self, partner matching.Entry, ok bool)
}

// Conversations finds the active random conversation of a pair.
type Conversations interface {
	FindActiveRandom(ctx context.Context, userA, userB string) (*models.Conversation, error)
}

// Protocol runs friend request transitions and notifies both parties.
type Protocol struct {
	store         Store
	pairings      Pairings
	conversations Conversations
	registry      *registry.Registry
	notifier      session.Notifier
	ttl           time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// NewProtocol returns a Protocol. A non-positive ttl uses DefaultRequestTTL.
func NewProtocol(st Store, pairings Pairings, convs Conversations, reg *registry.Registry, notifier session.Notifier, ttl time.Duration, log *zap.Logger) *Protocol {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &Protocol{
		store:         st,
		pairings:      pairings,
		conversations: convs,
		registry:      reg,
		notifier:      notifier,
		ttl:           ttl,
		now:           time.Now,
		log:           logger.OrNop(log).Named("friend"),
	}
}

// Request escalates connID's current pairing into a pending friend request
// addressed to the partner.
func (p *Protocol) Request(ctx context.Context, connID string) (*models.FriendRequest, error) {
	if _, ok := p.registry.Resolve(connID); !ok {
		return nil, session.ErrNotAuthenticated
	}
	self, partner, ok := p.pairings.Pairing(connID)
	if !ok {
		return nil, ErrNoActiveMatch
	}

	conv, err := p.conversations.FindActiveRandom(ctx, self.UserID, partner.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveConversation
	}
	if err != nil {
		return nil, fmt.Errorf("friend: find conversation: %w", err)
	}

	existing, err := p.store.FindByPair(ctx, self.UserID, partner.UserID)
	switch {
	case err == nil && existing.Status.BlocksNewRequest():
		metrics.FriendRequests.WithLabelValues("blocked").Inc()
		return nil, ErrAlreadyPending
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("friend: find request: %w", err)
	}

	req, err := p.store.CreatePending(ctx, &models.FriendRequest{
		From:           self.UserID,
		To:             partner.UserID,
		ConversationID: conv.ID,
		DeleteAt:       p.now().Add(p.ttl),
	})
	if errors.Is(err, store.ErrConflict) {
		// The partner's own request landed between the check and the insert.
		metrics.FriendRequests.WithLabelValues("blocked").Inc()
		return nil, ErrAlreadyPending
	}
	if err != nil {
		return nil, fmt.Errorf("friend: create request: %w", err)
	}
	metrics.FriendRequests.WithLabelValues("requested").Inc()

	p.log.Debug("friend request created",
		zap.String("request_id", req.ID),
		zap.String("from", req.From),
		zap.String("to", req.To))

	p.notifyUser(req.To, protocol.TypeFriendRequestReceived, *req)
	p.notifyUser(req.From, protocol.TypeFriendRequestSent, *req)
	return req, nil
}

// Accept accepts the pending request addressed to connID's user. With a
// partner connection the request of that pair is used; otherwise the newest
// pending incoming request is looked up.
func (p *Protocol) Accept(ctx context.Context, connID, partnerConnID string) (*models.FriendRequest, error) {
	return p.resolve(ctx, connID, partnerConnID, roleRecipient, models.FriendRequestAccepted, protocol.TypeFriendRequestAccepted)
}

// Reject rejects the pending request addressed to connID's user. A rejected
// pair may request again.
func (p *Protocol) Reject(ctx context.Context, connID, partnerConnID string) (*models.FriendRequest, error) {
	return p.resolve(ctx, connID, partnerConnID, roleRecipient, models.FriendRequestRejected, protocol.TypeFriendRequestRejected)
}

// Cancel withdraws the pending request sent by connID's user.
func (p *Protocol) Cancel(ctx context.Context, connID, partnerConnID string) (*models.FriendRequest, error) {
	return p.resolve(ctx, connID, partnerConnID, roleInitiator, models.FriendRequestCancelled, protocol.TypeFriendRequestCancelled)
}

type role int

const (
	roleRecipient role = iota
	roleInitiator
)

func (r role) holds(req models.FriendRequest, userID string) bool {
	if r == roleInitiator {
		return req.From == userID
	}
	return req.To == userID
}

func (p *Protocol) resolve(ctx context.Context, connID, partnerConnID string, r role, to models.FriendRequestStatus, event string) (*models.FriendRequest, error) {
	userID, ok := p.registry.Resolve(connID)
	if !ok {
		return nil, session.ErrNotAuthenticated
	}

	pending, err := p.findPending(ctx, userID, partnerConnID, r)
	if err != nil {
		return nil, err
	}

	req, err := p.store.Transition(ctx, pending.ID, models.FriendRequestPending, to)
	if errors.Is(err, store.ErrNotFound) {
		// Resolved by the other side, cancelled or expired in the meantime.
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friend: %s request: %w", to, err)
	}
	metrics.FriendRequests.WithLabelValues(string(to)).Inc()

	p.log.Debug("friend request resolved",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("by", userID))

	p.notifyUser(req.From, event, *req)
	p.notifyUser(req.To, event, *req)
	return req, nil
}

// findPending locates the pending request userID may act on. The partner
// connection, when given and still bound, pins the pair; otherwise the
// request is looked up from persistence.
func (p *Protocol) findPending(ctx context.Context, userID, partnerConnID string, r role) (*models.FriendRequest, error) {
	if partnerConnID != "" {
		if partnerID, ok := p.registry.Resolve(partnerConnID); ok {
			req, err := p.store.FindByPair(ctx, userID, partnerID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRequestNotFound
			}
			if err != nil {
				return nil, fmt.Errorf("friend: find request: %w", err)
			}
			if req.Status != models.FriendRequestPending || !r.holds(*req, userID) {
				return nil, ErrRequestNotFound
			}
			return req, nil
		}
	}

	all, err := p.store.ListPendingFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("friend: list pending: %w", err)
	}
	for i := range all {
		if r.holds(all[i], userID) {
			return &all[i], nil
		}
	}
	return nil, ErrRequestNotFound
}

// notifyUser delivers the request record to every live connection of
// userID. Offline users get nothing; the row is retrievable later.
func (p *Protocol) notifyUser(userID, event string, req models.FriendRequest) {
	data, err := protocol.NewServerMessage(event, protocol.NewFriendRequestRecord(req))
	if err != nil {
		p.log.Error("failed to build notification", zap.String("type", event), zap.Error(err))
		return
	}
	for _, connID := range p.registry.ConnectionsOf(userID) {
		if err := p.notifier.SendMessage(connID, data); err != nil {
			p.log.Debug("delivery skipped", zap.String("conn_id", connID), zap.Error(err))
		}
	}
}
