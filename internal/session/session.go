// Package session drives the random-chat lifecycle of a connection:
// Idle -> Waiting -> Matched -> Idle. The Controller asks the match queue for
// partners, announces pairings, relays messages and, when a pairing ends by
// skip, explicit end or disconnect, runs the cleanup that deletes the
// conversation's messages and media and deactivates the conversation.
package session

import (
	"errors"

	"github.com/whisper/randomchat/internal/store"
)

// State is a connection's place in the random-chat lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateMatched State = "matched"
)

// Teardown reasons, used as metric labels.
const (
	ReasonSkip       = "skip"
	ReasonEnd        = "end"
	ReasonDisconnect = "disconnect"
)

var (
	// ErrNotAuthenticated is returned for connections with no bound user.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrBanned is returned when a banned user asks for a partner. The
	// random.banned notice has already been sent.
	ErrBanned = errors.New("session: banned")
	// ErrNotMatched is returned when an operation needs an active pairing
	// and the connection has none.
	ErrNotMatched = errors.New("session: no active match")
)

// UserMessage maps an error returned by the Controller to the short text
// shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrNotMatched), errors.Is(err, store.ErrNotFound):
		return "No active match found"
	case errors.Is(err, ErrBanned):
		return "You are banned from matching"
	default:
		return "Something went wrong"
	}
}
