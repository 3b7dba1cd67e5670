package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 8192 // 2000 characters of up to 4 bytes
	MaxTextChars    = 2000
)

var (
	ErrEmptyMessage   = errors.New("chat: message has neither text nor media")
	ErrMessageTooLong = errors.New("chat: message too long")
	ErrInvalidUTF8    = errors.New("chat: message contains invalid UTF-8")
)

// ValidateMessage checks a relayed message. Either text or a media
// reference must be present; text is limited to MaxTextChars characters.
func ValidateMessage(text, publicID string) error {
	if strings.TrimSpace(text) == "" && strings.TrimSpace(publicID) == "" {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: exceeds %d bytes", ErrMessageTooLong, MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d characters", ErrMessageTooLong, MaxTextChars)
	}
	return nil
}

// UserMessage maps a validation error to the text shown to the sender.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Message is empty"
	case errors.Is(err, ErrMessageTooLong):
		return fmt.Sprintf("Message exceeds %d characters", MaxTextChars)
	case errors.Is(err, ErrInvalidUTF8):
		return "Message is not valid text"
	default:
		return "Something went wrong"
	}
}
