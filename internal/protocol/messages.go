// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the gateway. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisper/randomchat/internal/models"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRequestMatch  = "random.requestMatch"
	TypeNext          = "random.next"
	TypeEnd           = "random.end"
	TypeMessage       = "random.message"
	TypeReport        = "random.report"
	TypeFriendRequest = "privateChat.request"
	TypeFriendAccept  = "privateChat.accept"
	TypeFriendReject  = "privateChat.reject"
	TypeFriendCancel  = "privateChat.cancel"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated         = "session.created"
	TypeWaiting                = "random.waiting"
	TypeMatched                = "random.matched"
	TypePartnerDisconnected    = "random.partnerDisconnected"
	TypeEnded                  = "random.ended"
	TypeRandomError            = "random.error"
	TypeBanned                 = "random.banned"
	TypeRateLimited            = "random.rateLimited"
	TypeFriendRequestReceived  = "privateChat.requestReceived"
	TypeFriendRequestSent      = "privateChat.requestSent"
	TypeFriendRequestAccepted  = "privateChat.requestAccepted"
	TypeFriendRequestRejected  = "privateChat.requestRejected"
	TypeFriendRequestCancelled = "privateChat.requestCancelled"
	TypeFriendError            = "privateChat.error"
	TypePong                   = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RequestMatchMsg asks to enter the waiting pool or be paired immediately.
type RequestMatchMsg struct {
	Type string `json:"type"`
}

// NextMsg ends the current pairing and asks for a new partner.
type NextMsg struct {
	Type string `json:"type"`
}

// EndMsg ends the current pairing, or leaves the waiting pool.
type EndMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a message sent to the current random partner. Either Text or
// PublicID must be set.
type ChatMsg struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// ReportMsg reports the current partner.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// FriendRequestMsg escalates the current pairing into a friend request.
type FriendRequestMsg struct {
	Type string `json:"type"`
}

// FriendResolveMsg accepts, rejects or cancels a pending request. The partner
// connection is optional; without it the pending request is looked up from
// persistence.
type FriendResolveMsg struct {
	Type            string `json:"type"`
	PartnerSocketID string `json:"partnerSocketId,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg greets a new connection.
type SessionCreatedMsg struct {
	Type          string `json:"type"`
	ConnectionID  string `json:"connectionId"`
	Authenticated bool   `json:"authenticated"`
}

// WaitingMsg confirms the connection is in the waiting pool.
type WaitingMsg struct {
	Type string `json:"type"`
}

// MatchedMsg announces a new pairing. PartnerID is the partner's connection
// handle; the profile carries display fields only.
type MatchedMsg struct {
	Type           string               `json:"type"`
	PartnerID      string               `json:"partnerId"`
	PartnerProfile models.PublicProfile `json:"partnerProfile"`
}

// PartnerDisconnectedMsg tells the surviving side its partner left.
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// EndedMsg acknowledges an explicit end.
type EndedMsg struct {
	Type string `json:"type"`
}

// ServerChatMsg is a message relayed from the partner.
type ServerChatMsg struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Ts       int64  `json:"ts"`
}

// ErrorTextMsg carries a short user-visible failure message. It is the
// payload of random.error and privateChat.error.
type ErrorTextMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BannedMsg is sent when a banned user asks for a partner.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// FriendRequestRecord is the request record sent with every privateChat
// notification.
type FriendRequestRecord struct {
	Type           string    `json:"type"`
	RequestID      string    `json:"requestId"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Status         string    `json:"status"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewFriendRequestRecord converts a persisted request to its wire form.
func NewFriendRequestRecord(r models.FriendRequest) FriendRequestRecord {
	return FriendRequestRecord{
		RequestID:      r.ID,
		From:           r.From,
		To:             r.To,
		Status:         string(r.Status),
		ConversationID: r.ConversationID,
		CreatedAt:      r.CreatedAt,
	}
}

// ErrorMsg is the random.error payload the dispatcher sends for malformed or
// unsupported frames.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRequestMatch:
		var m RequestMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEnd:
		var m EndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendRequest:
		var m FriendRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendAccept, TypeFriendReject, TypeFriendCancel:
		var m FriendResolveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
