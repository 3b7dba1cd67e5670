package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/chat"
	"github.com/whisper/randomchat/internal/friend"
	"github.com/whisper/randomchat/internal/metrics"
	"github.com/whisper/randomchat/internal/models"
	"github.com/whisper/randomchat/internal/moderation"
	"github.com/whisper/randomchat/internal/protocol"
	"github.com/whisper/randomchat/internal/ratelimit"
	"github.com/whisper/randomchat/internal/report"
	"github.com/whisper/randomchat/internal/session"
	"github.com/whisper/randomchat/internal/ws"
)

const handlerTimeout = 10 * time.Second

// limiter is the subset of ratelimit.Limiter the handlers use.
type limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

type reportStore interface {
	Create(ctx context.Context, r *report.Report) error
}

type banStore interface {
	Escalate(ctx context.Context, userID, reason string) (time.Duration, error)
	Report(ctx context.Context, userID string) (bool, time.Duration, error)
}

type moderationPublisher interface {
	PublishModerationRequest(data []byte) error
}

// gateway holds the per-event handlers. Each handler works on a connection
// id so the logic can run without a live socket.
type gateway struct {
	ctl        *session.Controller
	friends    *friend.Protocol
	history    *chat.History
	limiter    limiter             // optional
	reports    reportStore         // optional
	bans       banStore            // optional
	moderation moderationPublisher // optional
	isLocal    func(connID string) bool
	log        *zap.Logger
}

// register binds every client event to its handler.
func (g *gateway) register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeRequestMatch, func(conn *ws.Connection, _ interface{}) {
		g.onRequestMatch(conn.ID)
	})
	d.Register(protocol.TypeNext, func(conn *ws.Connection, _ interface{}) {
		g.onNext(conn.ID)
	})
	d.Register(protocol.TypeEnd, func(conn *ws.Connection, _ interface{}) {
		g.onEnd(conn.ID)
	})
	d.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChatMsg); ok {
			g.onMessage(conn.ID, m)
		}
	})
	d.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReportMsg); ok {
			g.onReport(conn.ID, m)
		}
	})
	d.Register(protocol.TypeFriendRequest, func(conn *ws.Connection, _ interface{}) {
		g.onFriendRequest(conn.ID)
	})
	for _, t := range []string{protocol.TypeFriendAccept, protocol.TypeFriendReject, protocol.TypeFriendCancel} {
		msgType := t
		d.Register(msgType, func(conn *ws.Connection, msg interface{}) {
			if m, ok := msg.(protocol.FriendResolveMsg); ok {
				g.onFriendResolve(conn.ID, msgType, m)
			}
		})
	}
}

func (g *gateway) onRequestMatch(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !g.allow(ctx, connID, ratelimit.RuleMatch) {
		return
	}
	if err := g.ctl.RequestMatch(ctx, connID); err != nil {
		g.randomError(connID, "request match", err)
	}
}

func (g *gateway) onNext(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !g.allow(ctx, connID, ratelimit.RuleMatch) {
		return
	}
	if err := g.ctl.Next(ctx, connID); err != nil {
		g.randomError(connID, "next", err)
	}
}

func (g *gateway) onEnd(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := g.ctl.End(ctx, connID); err != nil {
		g.randomError(connID, "end", err)
	}
}

// onMessage validates, rate limits and relays a message, then hands its
// text to the moderator.
func (g *gateway) onMessage(connID string, m protocol.ChatMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := chat.ValidateMessage(m.Text, m.PublicID); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.ctl.Notify(connID, protocol.TypeRandomError, protocol.ErrorTextMsg{Message: chat.UserMessage(err)})
		return
	}
	if !g.allow(ctx, connID, ratelimit.RuleMessage) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	msg, p, err := g.ctl.Relay(ctx, connID, m)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.randomError(connID, "relay", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	g.history.Add(p.Conversation.ID, chat.Line{
		SenderID: msg.SenderID,
		Text:     msg.Text,
		Ts:       msg.CreatedAt.UnixMilli(),
	})

	if g.moderation == nil || msg.Text == "" {
		return
	}
	data, err := json.Marshal(moderation.Request{
		ConnID:         connID,
		UserID:         msg.SenderID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Text:           msg.Text,
		Ts:             msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		g.log.Error("marshal moderation request failed", zap.Error(err))
		return
	}
	if err := g.moderation.PublishModerationRequest(data); err != nil {
		g.log.Warn("publish moderation request failed", zap.String("conn_id", connID), zap.Error(err))
	}
}

// onModerationResult handles a verdict from the moderator. Verdicts for
// connections held by other gateways are ignored so an offense is counted
// once.
func (g *gateway) onModerationResult(connID string, data []byte) {
	if g.isLocal != nil && !g.isLocal(connID) {
		return
	}
	var res moderation.Result
	if err := json.Unmarshal(data, &res); err != nil {
		g.log.Warn("bad moderation result", zap.Error(err))
		return
	}
	if !res.Blocked {
		return
	}
	metrics.MessagesTotal.WithLabelValues("blocked").Inc()

	g.log.Info("message blocked",
		zap.String("conn_id", connID),
		zap.String("user_id", res.UserID),
		zap.String("message_id", res.MessageID),
		zap.String("reason", res.Reason),
		zap.String("term", res.Term))
	g.ctl.Notify(connID, protocol.TypeRandomError, protocol.ErrorTextMsg{Message: "Message blocked"})

	if g.bans == nil || res.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	d, err := g.bans.Escalate(ctx, res.UserID, res.Reason)
	if err != nil {
		g.log.Error("escalate offense failed", zap.String("user_id", res.UserID), zap.Error(err))
		return
	}
	g.log.Info("user banned", zap.String("user_id", res.UserID), zap.Duration("duration", d))
}

// onReport files an abuse report against the current partner with the
// conversation's recent messages.
func (g *gateway) onReport(connID string, m protocol.ReportMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !report.ValidReason(m.Reason) {
		g.ctl.Notify(connID, protocol.TypeRandomError, protocol.ErrorTextMsg{Message: "Invalid report reason"})
		return
	}
	p, err := g.ctl.Current(ctx, connID)
	if err != nil {
		g.randomError(connID, "report", err)
		return
	}

	lines := g.history.Get(p.Conversation.ID)
	snapshot := make([]report.MessageEntry, 0, len(lines))
	for _, l := range lines {
		from := "reported"
		if l.SenderID == p.Self.UserID {
			from = "reporter"
		}
		snapshot = append(snapshot, report.MessageEntry{From: from, Text: l.Text, Ts: l.Ts})
	}

	if g.reports != nil {
		err := g.reports.Create(ctx, &report.Report{
			ReporterID:     p.Self.UserID,
			ReportedID:     p.Partner.UserID,
			ConversationID: p.Conversation.ID,
			Reason:         m.Reason,
			Messages:       snapshot,
		})
		if err != nil {
			g.randomError(connID, "report", err)
			return
		}
	}

	if g.bans != nil {
		banned, d, err := g.bans.Report(ctx, p.Partner.UserID)
		switch {
		case err != nil:
			g.log.Error("count report failed", zap.String("user_id", p.Partner.UserID), zap.Error(err))
		case banned:
			g.log.Info("user banned after reports", zap.String("user_id", p.Partner.UserID), zap.Duration("duration", d))
		}
	}
	g.log.Info("report filed",
		zap.String("reporter_id", p.Self.UserID),
		zap.String("reported_id", p.Partner.UserID),
		zap.String("conversation_id", p.Conversation.ID),
		zap.String("reason", m.Reason))
}

func (g *gateway) onFriendRequest(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !g.allow(ctx, connID, ratelimit.RuleFriend) {
		return
	}
	if _, err := g.friends.Request(ctx, connID); err != nil {
		g.friendError(connID, "request", err)
	}
}

func (g *gateway) onFriendResolve(connID, msgType string, m protocol.FriendResolveMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if !g.allow(ctx, connID, ratelimit.RuleFriend) {
		return
	}

	var (
		req *models.FriendRequest
		err error
	)
	switch msgType {
	case protocol.TypeFriendAccept:
		req, err = g.friends.Accept(ctx, connID, m.PartnerSocketID)
	case protocol.TypeFriendReject:
		req, err = g.friends.Reject(ctx, connID, m.PartnerSocketID)
	case protocol.TypeFriendCancel:
		req, err = g.friends.Cancel(ctx, connID, m.PartnerSocketID)
	default:
		return
	}
	if err != nil {
		g.friendError(connID, msgType, err)
		return
	}
	g.log.Debug("friend request resolved", zap.String("request_id", req.ID), zap.String("status", string(req.Status)))
}

// allow applies rule to connID and tells the client when it is over the
// limit. A limiter failure lets the request through.
func (g *gateway) allow(ctx context.Context, connID string, rule ratelimit.Rule) bool {
	if g.limiter == nil {
		return true
	}
	ok, err := g.limiter.Allow(ctx, connID, rule)
	if err != nil || ok {
		return true
	}
	retry := g.limiter.RetryAfter(ctx, connID, rule)
	g.ctl.Notify(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(math.Ceil(retry.Seconds())),
	})
	return false
}

func (g *gateway) randomError(connID, op string, err error) {
	if errors.Is(err, session.ErrBanned) {
		return // random.banned was sent
	}
	g.logFailure(connID, op, err, session.UserMessage(err))
	g.ctl.Notify(connID, protocol.TypeRandomError, protocol.ErrorTextMsg{Message: session.UserMessage(err)})
}

func (g *gateway) friendError(connID, op string, err error) {
	g.logFailure(connID, op, err, friend.UserMessage(err))
	g.ctl.Notify(connID, protocol.TypeFriendError, protocol.ErrorTextMsg{Message: friend.UserMessage(err)})
}

// logFailure logs unexpected failures loudly and user errors quietly.
func (g *gateway) logFailure(connID, op string, err error, userMsg string) {
	if userMsg == "Something went wrong" {
		g.log.Error(op+" failed", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	g.log.Debug(op+" refused", zap.String("conn_id", connID), zap.Error(err))
}
