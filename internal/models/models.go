// Package models holds the persisted records shared by the engine packages
// and the PostgreSQL store: profiles, conversations, messages and friend
// requests.
package models

import (
	"strconv"
	"time"
)

// Profile is the display and preference data for one user. Only the display
// fields are ever sent to a partner.
type Profile struct {
	UserID      string
	DisplayName string
	Location    string // coarse, e.g. "Berlin, DE"
	AvatarURL   string
	Preferences Preferences
}

// Preferences are the optional match preferences stored with a profile.
// Zero values mean "no preference".
type Preferences struct {
	Gender  string // the user's own gender
	Seeking string // gender the user wants to be matched with
	Age     int
	MinAge  int
	MaxAge  int
}

// PublicProfile is the subset of Profile that a partner may see.
type PublicProfile struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Public strips everything but the display fields.
func (p Profile) Public() PublicProfile {
	name := p.DisplayName
	if name == "" {
		name = "Stranger"
	}
	return PublicProfile{Name: name, Location: p.Location, Avatar: p.AvatarURL}
}

// Conversation is the durable record of a chat between two users. At most one
// active random-chat conversation exists per unordered pair.
type Conversation struct {
	ID           string
	UserA        string
	UserB        string
	IsRandomChat bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message belongs to exactly one conversation. PublicID is the remote media
// object reference, empty for text-only messages.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	PublicID       string
	MediaURL       string
	CreatedAt      time.Time
}

// HasMedia reports whether the message references a remote media object.
func (m Message) HasMedia() bool {
	return m.PublicID != ""
}

// FriendRequestStatus is the lifecycle state of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestRejected  FriendRequestStatus = "rejected"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

// BlocksNewRequest reports whether a request in this status prevents a fresh
// request between the same pair. Only rejected requests can be superseded.
func (s FriendRequestStatus) BlocksNewRequest() bool {
	switch s {
	case FriendRequestPending, FriendRequestAccepted, FriendRequestCancelled:
		return true
	default:
		return false
	}
}

// FriendRequest is the persisted escalation of a random pairing into a
// durable relationship. One row exists per unordered user pair.
type FriendRequest struct {
	ID             string              `json:"requestId"`
	From           string              `json:"from"`
	To             string              `json:"to"`
	ConversationID string              `json:"conversationId"`
	Status         FriendRequestStatus `json:"status"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	DeleteAt       time.Time           `json:"deleteAt"`
}

// Involves reports whether userID is either party of the request.
func (r FriendRequest) Involves(userID string) bool {
	return r.From == userID || r.To == userID
}

// PairKey returns the canonical key for an unordered user pair. The first id
// is length-prefixed so ids containing ':' cannot collide.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}
