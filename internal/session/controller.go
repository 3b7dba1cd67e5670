package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/ban"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/matching"
	"github.com/whisper/randomchat/internal/media"
	"github.com/whisper/randomchat/internal/metrics"
	"github.com/whisper/randomchat/internal/models"
	"github.com/whisper/randomchat/internal/protocol"
	"github.com/whisper/randomchat/internal/registry"
	"github.com/whisper/randomchat/internal/store"
)

// Notifier delivers a server message to one connection. Delivery to a
// connection that is gone fails and is ignored.
type Notifier interface {
	SendMessage(connID string, data []byte) error
}

// Conversations is the conversation persistence the controller needs.
type Conversations interface {
	FindActiveRandom(ctx context.Context, userA, userB string) (*models.Conversation, error)
	Activate(ctx context.Context, userA, userB string) (*models.Conversation, error)
	Deactivate(ctx context.Context, id string) error
}

// Messages is the message persistence the controller needs.
type Messages interface {
	Create(ctx context.Context, msg *models.Message) error
	ListWithMedia(ctx context.Context, conversationID string) ([]models.Message, error)
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

// Profiles looks up the display and preference profile of a user.
type Profiles interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
}

// Purger deletes remote media objects. It never fails as a whole.
type Purger interface {
	Purge(ctx context.Context, publicIDs []string) media.Outcome
}

// BanChecker reports whether a user may enter random matching.
type BanChecker interface {
	Check(ctx context.Context, userID string) (ban.Status, error)
}

// Mirror receives state changes for operational visibility.
type Mirror interface {
	SetWaiting(ctx context.Context, connID string) error
	SetMatched(ctx context.Context, connID, partnerConnID, conversationID string) error
	SetIdle(ctx context.Context, connID string) error
}

// History drops the in-memory recent messages of a finished conversation.
type History interface {
	Remove(conversationID string)
}

// Deps are the Controller's collaborators. Bans, Mirror and History are
// optional.
type Deps struct {
	Queue         *matching.Queue
	Registry      *registry.Registry
	Conversations Conversations
	Messages      Messages
	Profiles      Profiles
	Purger        Purger
	Notifier      Notifier
	Bans          BanChecker
	Mirror        Mirror
	History       History
}

// Pairing is a connection's active pairing and its conversation.
type Pairing struct {
	Self         matching.Entry
	Partner      matching.Entry
	Conversation *models.Conversation
}

// Controller runs the random-chat state machine of every connection.
type Controller struct {
	Deps
	locks pairLocks
	log   *zap.Logger
	now   func() time.Time
}

// NewController returns a Controller over deps.
func NewController(deps Deps, log *zap.Logger) *Controller {
	return &Controller{
		Deps:  deps,
		locks: pairLocks{m: make(map[string]*pairLock)},
		log:   logger.OrNop(log).Named("session"),
		now:   time.Now,
	}
}

// State returns where connID is in the lifecycle.
func (c *Controller) State(connID string) State {
	if c.Queue.IsWaiting(connID) {
		return StateWaiting
	}
	if _, ok := c.Queue.PartnerOf(connID); ok {
		return StateMatched
	}
	return StateIdle
}

// RequestMatch moves an idle connection to Waiting or Matched. A connection
// that is already waiting or matched is told it is waiting and nothing else
// changes.
func (c *Controller) RequestMatch(ctx context.Context, connID string) error {
	userID, ok := c.Registry.Resolve(connID)
	if !ok {
		return ErrNotAuthenticated
	}
	if c.State(connID) != StateIdle {
		c.send(connID, protocol.TypeWaiting, protocol.WaitingMsg{})
		return nil
	}

	if c.Bans != nil {
		st, err := c.Bans.Check(ctx, userID)
		if err != nil {
			c.log.Warn("ban check failed, allowing", zap.String("user_id", userID), zap.Error(err))
		} else if st.Banned {
			c.send(connID, protocol.TypeBanned, protocol.BannedMsg{
				Duration: int(st.Remaining.Seconds()),
				Reason:   st.Reason,
			})
			return ErrBanned
		}
	}

	profile, err := c.Profiles.Get(ctx, userID)
	if err != nil {
		c.log.Warn("profile lookup failed, matching without profile",
			zap.String("user_id", userID), zap.Error(err))
		profile = models.Profile{UserID: userID}
	}

	// The connection may have closed while the lookups were in flight.
	if uid, ok := c.Registry.Resolve(connID); !ok || uid != userID {
		return nil
	}

	res := c.Queue.RequestMatch(matching.Entry{ConnID: connID, UserID: userID, Profile: profile})

	// Disconnect cleanup may have run between the check above and the
	// insert, leaving an entry for a dead connection behind.
	if _, ok := c.Registry.Resolve(connID); !ok {
		c.log.Debug("connection closed while queueing", zap.String("conn_id", connID))
		return c.teardown(ctx, connID, ReasonDisconnect)
	}
	c.updateGauges()

	if res.Duplicate || res.Status == matching.StatusWaiting {
		if !res.Duplicate {
			c.mirror(func(ctx context.Context, m Mirror) error { return m.SetWaiting(ctx, connID) })
		}
		c.send(connID, protocol.TypeWaiting, protocol.WaitingMsg{})
		return nil
	}

	metrics.MatchWait.Observe(res.Waited.Seconds())
	return c.announce(ctx, res.Self, res.Partner)
}

// announce activates the pair's conversation and tells both sides.
func (c *Controller) announce(ctx context.Context, self, partner matching.Entry) error {
	unlock := c.locks.lock(models.PairKey(self.UserID, partner.UserID))
	defer unlock()

	conv, err := c.Conversations.Activate(ctx, self.UserID, partner.UserID)
	if err != nil {
		c.log.Error("activate conversation failed",
			zap.String("conn_id", self.ConnID),
			zap.String("partner_id", partner.ConnID),
			zap.Error(err))
		c.Queue.EndPairing(self.ConnID)
		c.updateGauges()
		c.send(partner.ConnID, protocol.TypeRandomError, protocol.ErrorTextMsg{Message: UserMessage(err)})
		c.mirror(func(ctx context.Context, m Mirror) error { return m.SetIdle(ctx, partner.ConnID) })
		return fmt.Errorf("session: activate conversation: %w", err)
	}

	// A skip or disconnect that ran before this lock was taken found no
	// conversation to close. Close it here instead of announcing a dead pair.
	if p, ok := c.Queue.PartnerOf(self.ConnID); !ok || p != partner.ConnID {
		c.log.Debug("pairing ended before announcement",
			zap.String("conn_id", self.ConnID),
			zap.String("conversation_id", conv.ID))
		if err := c.Conversations.Deactivate(ctx, conv.ID); err != nil {
			c.log.Error("deactivate stale conversation failed",
				zap.String("conversation_id", conv.ID), zap.Error(err))
		}
		return nil
	}

	c.send(self.ConnID, protocol.TypeMatched, protocol.MatchedMsg{
		PartnerID:      partner.ConnID,
		PartnerProfile: partner.Profile.Public(),
	})
	c.send(partner.ConnID, protocol.TypeMatched, protocol.MatchedMsg{
		PartnerID:      self.ConnID,
		PartnerProfile: self.Profile.Public(),
	})
	c.mirror(func(ctx context.Context, m Mirror) error {
		return m.SetMatched(ctx, self.ConnID, partner.ConnID, conv.ID)
	})
	c.mirror(func(ctx context.Context, m Mirror) error {
		return m.SetMatched(ctx, partner.ConnID, self.ConnID, conv.ID)
	})

	c.log.Debug("matched",
		zap.String("conn_id", self.ConnID),
		zap.String("partner_id", partner.ConnID),
		zap.String("conversation_id", conv.ID))
	return nil
}

// Next ends the current pairing, if any, and asks for a new partner.
func (c *Controller) Next(ctx context.Context, connID string) error {
	if _, ok := c.Registry.Resolve(connID); !ok {
		return ErrNotAuthenticated
	}
	tdErr := c.teardown(ctx, connID, ReasonSkip)
	if err := c.RequestMatch(ctx, connID); err != nil {
		return err
	}
	return tdErr
}

// End leaves the waiting pool or ends the current pairing and acknowledges
// with random.ended.
func (c *Controller) End(ctx context.Context, connID string) error {
	if _, ok := c.Registry.Resolve(connID); !ok {
		return ErrNotAuthenticated
	}
	if c.State(connID) == StateIdle {
		return ErrNotMatched
	}
	err := c.teardown(ctx, connID, ReasonEnd)
	c.send(connID, protocol.TypeEnded, protocol.EndedMsg{})
	return err
}

// Disconnect runs the cleanup for a closed connection. There is nobody left
// to report errors to, so they are only logged.
func (c *Controller) Disconnect(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.teardown(ctx, connID, ReasonDisconnect); err != nil {
		c.log.Error("disconnect cleanup failed", zap.String("conn_id", connID), zap.Error(err))
	}
}

// teardown ends connID's pairing. EndPairing runs first and is the
// idempotence guard: of several racing callers only one sees Paired and
// performs the cleanup. The pair lock keeps a concurrent re-match of the
// same two users from reactivating the conversation mid-cleanup.
func (c *Controller) teardown(ctx context.Context, connID, reason string) error {
	ended := c.Queue.EndPairing(connID)
	c.updateGauges()

	if !ended.Paired {
		if ended.Dequeued {
			c.mirror(func(ctx context.Context, m Mirror) error { return m.SetIdle(ctx, connID) })
		}
		return nil
	}
	metrics.Teardowns.WithLabelValues(reason).Inc()

	self, partner := ended.Self, ended.Partner
	unlock := c.locks.lock(models.PairKey(self.UserID, partner.UserID))
	defer unlock()

	c.send(partner.ConnID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
	c.mirror(func(ctx context.Context, m Mirror) error { return m.SetIdle(ctx, partner.ConnID) })
	c.mirror(func(ctx context.Context, m Mirror) error { return m.SetIdle(ctx, self.ConnID) })

	log := c.log.With(
		zap.String("conn_id", self.ConnID),
		zap.String("partner_id", partner.ConnID),
		zap.String("reason", reason))

	conv, err := c.Conversations.FindActiveRandom(ctx, self.UserID, partner.UserID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("no active conversation for ended pairing")
		return nil
	}
	if err != nil {
		log.Error("find conversation failed", zap.Error(err))
		return fmt.Errorf("session: find conversation: %w", err)
	}
	log = log.With(zap.String("conversation_id", conv.ID))

	if c.History != nil {
		c.History.Remove(conv.ID)
	}

	var firstErr error
	if conv.IsRandomChat {
		firstErr = c.purge(ctx, log, conv.ID)
	}

	if err := c.Conversations.Deactivate(ctx, conv.ID); err != nil {
		log.Error("deactivate conversation failed", zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("session: deactivate conversation: %w", err)
		}
	}
	return firstErr
}

// purge deletes the media objects and then every message of a random-chat
// conversation. Media delete failures never stop the message delete. If the
// media messages cannot be listed the rows are kept, since they hold the only
// record of the public ids.
func (c *Controller) purge(ctx context.Context, log *zap.Logger, conversationID string) error {
	withMedia, err := c.Messages.ListWithMedia(ctx, conversationID)
	if err != nil {
		log.Error("list media messages failed, keeping messages", zap.Error(err))
		return fmt.Errorf("session: list media messages: %w", err)
	}

	ids := make([]string, 0, len(withMedia))
	for _, m := range withMedia {
		if m.HasMedia() {
			ids = append(ids, m.PublicID)
		}
	}
	if len(ids) > 0 && c.Purger != nil {
		out := c.Purger.Purge(ctx, ids)
		if len(out.Failed) > 0 {
			log.Warn("some media objects were not deleted",
				zap.Int("attempted", out.Attempted),
				zap.Int("failed", len(out.Failed)))
		}
	}

	n, err := c.Messages.DeleteByConversation(ctx, conversationID)
	if err != nil {
		log.Error("delete messages failed", zap.Error(err))
		return fmt.Errorf("session: delete messages: %w", err)
	}
	log.Debug("conversation purged", zap.Int64("messages", n), zap.Int("media", len(ids)))
	return nil
}

// Pairing returns both entries of connID's active pairing.
func (c *Controller) Pairing(connID string) (self, partner matching.Entry, ok bool) {
	return c.Queue.Pairing(connID)
}

// Current returns connID's pairing and its active conversation.
func (c *Controller) Current(ctx context.Context, connID string) (Pairing, error) {
	self, partner, ok := c.Queue.Pairing(connID)
	if !ok {
		return Pairing{}, ErrNotMatched
	}
	conv, err := c.Conversations.FindActiveRandom(ctx, self.UserID, partner.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Pairing{}, ErrNotMatched
		}
		return Pairing{}, fmt.Errorf("session: find conversation: %w", err)
	}
	return Pairing{Self: self, Partner: partner, Conversation: conv}, nil
}

// Relay stores a message in the active conversation and forwards it to the
// partner. The caller validates content and applies rate limits.
func (c *Controller) Relay(ctx context.Context, connID string, in protocol.ChatMsg) (*models.Message, Pairing, error) {
	if _, ok := c.Registry.Resolve(connID); !ok {
		return nil, Pairing{}, ErrNotAuthenticated
	}
	p, err := c.Current(ctx, connID)
	if err != nil {
		return nil, Pairing{}, err
	}

	msg := &models.Message{
		ConversationID: p.Conversation.ID,
		SenderID:       p.Self.UserID,
		Text:           in.Text,
		PublicID:       in.PublicID,
		MediaURL:       in.MediaURL,
	}
	if err := c.Messages.Create(ctx, msg); err != nil {
		return nil, p, fmt.Errorf("session: store message: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}

	c.send(p.Partner.ConnID, protocol.TypeMessage, protocol.ServerChatMsg{
		ID:       msg.ID,
		Text:     msg.Text,
		PublicID: msg.PublicID,
		MediaURL: msg.MediaURL,
		Ts:       msg.CreatedAt.UnixMilli(),
	})
	return msg, p, nil
}

// Notify sends a message of msgType to connID, best effort.
func (c *Controller) Notify(connID, msgType string, payload interface{}) {
	c.send(connID, msgType, payload)
}

func (c *Controller) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		c.log.Error("failed to build message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := c.Notifier.SendMessage(connID, data); err != nil {
		c.log.Debug("delivery skipped", zap.String("conn_id", connID), zap.String("type", msgType), zap.Error(err))
	}
}

func (c *Controller) mirror(fn func(ctx context.Context, m Mirror) error) {
	if c.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx, c.Mirror); err != nil {
		c.log.Debug("session mirror update failed", zap.Error(err))
	}
}

func (c *Controller) updateGauges() {
	waiting, pairs := c.Queue.Stats()
	metrics.WaitingPoolSize.Set(float64(waiting))
	metrics.ActivePairs.Set(float64(pairs))
}

// pairLocks is a set of mutexes keyed by user pair, created on demand and
// dropped when unused.
type pairLocks struct {
	mu sync.Mutex
	m  map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func (l *pairLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.m[key]
	if !ok {
		pl = &pairLock{}
		l.m[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
