package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		publicID string
		want     error
	}{
		{"text", "hello", "", nil},
		{"media only", "", "img/abc", nil},
		{"text and media", "look", "img/abc", nil},
		{"empty", "", "", ErrEmptyMessage},
		{"whitespace", "  \n", " ", ErrEmptyMessage},
		{"max chars", strings.Repeat("a", MaxTextChars), "", nil},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), "", ErrMessageTooLong},
		{"multibyte at limit", strings.Repeat("é", MaxTextChars), "", nil},
		{"multibyte over", strings.Repeat("€", MaxTextChars+1), "", ErrMessageTooLong},
		{"invalid utf8", "bad \xff byte", "", ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text, tt.publicID)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Message is empty", UserMessage(ErrEmptyMessage))
	assert.Equal(t, "Message exceeds 2000 characters", UserMessage(ValidateMessage(strings.Repeat("x", 2001), "")))
	assert.Equal(t, "Something went wrong", UserMessage(assert.AnError))
}
