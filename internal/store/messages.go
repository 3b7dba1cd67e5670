package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/randomchat/internal/models"
)

// Messages persists chat messages.
type Messages struct {
	db *sql.DB
}

// NewMessages creates a message store on db.
func NewMessages(db *sql.DB) *Messages {
	return &Messages{db: db}
}

// Create inserts msg, filling in ID and CreatedAt when empty.
func (s *Messages) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO messages (id, conversation_id, sender_id, text, public_id, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.PublicID, msg.MediaURL, msg.CreatedAt)
	return wrap("create message", err)
}

// ListWithMedia returns the messages of a conversation that reference a
// remote media object, oldest first.
func (s *Messages) ListWithMedia(ctx context.Context, conversationID string) ([]models.Message, error) {
	const query = `
		SELECT id, conversation_id, sender_id, text, public_id, media_url, created_at
		FROM messages
		WHERE conversation_id = $1 AND public_id <> ''
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, wrap("list media messages", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.PublicID, &m.MediaURL, &m.CreatedAt); err != nil {
			return nil, wrap("scan message", err)
		}
		out = append(out, m)
	}
	return out, wrap("list media messages", rows.Err())
}

// DeleteByConversation removes every message of a conversation and returns
// how many were deleted.
func (s *Messages) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	const query = `DELETE FROM messages WHERE conversation_id = $1`

	res, err := s.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return 0, wrap("delete messages", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
