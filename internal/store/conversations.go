package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/whisper/randomchat/internal/models"
)

// Conversations persists conversation rows.
type Conversations struct {
	db *sql.DB
}

// NewConversations creates a conversation store on db.
func NewConversations(db *sql.DB) *Conversations {
	return &Conversations{db: db}
}

const conversationColumns = `id, user_a, user_b, is_random_chat, is_active, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.UserA, &c.UserB, &c.IsRandomChat, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindActiveRandom returns the active random-chat conversation between the
// two users, in either order, or ErrNotFound.
func (s *Conversations) FindActiveRandom(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	const query = `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE LEAST(user_a, user_b) = LEAST($1::text, $2::text)
		  AND GREATEST(user_a, user_b) = GREATEST($1::text, $2::text)
		  AND is_random_chat AND is_active
		LIMIT 1`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, userA, userB))
	if err != nil {
		return nil, wrap("find active conversation", err)
	}
	return c, nil
}

// Activate returns an active random-chat conversation for the pair, reusing
// the most recent random conversation between them when one exists.
func (s *Conversations) Activate(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	const reactivate = `
		UPDATE conversations SET is_active = TRUE, updated_at = NOW()
		WHERE id = (
			SELECT id FROM conversations
			WHERE LEAST(user_a, user_b) = LEAST($1::text, $2::text)
			  AND GREATEST(user_a, user_b) = GREATEST($1::text, $2::text)
			  AND is_random_chat
			ORDER BY is_active DESC, updated_at DESC
			LIMIT 1
		)
		RETURNING ` + conversationColumns

	c, err := scanConversation(s.db.QueryRowContext(ctx, reactivate, userA, userB))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("reactivate conversation", err)
	}

	const insert = `
		INSERT INTO conversations (id, user_a, user_b, is_random_chat, is_active)
		VALUES ($1, $2, $3, TRUE, TRUE)
		ON CONFLICT (LEAST(user_a, user_b), GREATEST(user_a, user_b)) WHERE is_random_chat AND is_active
		DO UPDATE SET updated_at = NOW()
		RETURNING ` + conversationColumns

	c, err = scanConversation(s.db.QueryRowContext(ctx, insert, uuid.NewString(), userA, userB))
	if err != nil {
		return nil, wrap("create conversation", err)
	}
	return c, nil
}

// Deactivate clears the active flag. The row and its participant pair are kept.
func (s *Conversations) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE conversations SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrap("deactivate conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("deactivate conversation", sql.ErrNoRows)
	}
	return nil
}

// Get returns a conversation by id.
func (s *Conversations) Get(ctx context.Context, id string) (*models.Conversation, error) {
	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	return c, nil
}
