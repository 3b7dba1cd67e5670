package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/randomchat/internal/models"
)

// FriendRequests persists friend requests, one row per unordered user pair.
// Rows past their delete_at are treated as absent and removed by
// DeleteExpired.
type FriendRequests struct {
	db  *sql.DB
	now func() time.Time
}

// NewFriendRequests creates a friend request store on db.
func NewFriendRequests(db *sql.DB) *FriendRequests {
	return &FriendRequests{db: db, now: time.Now}
}

const friendRequestColumns = `id, from_user, to_user, COALESCE(conversation_id::text, ''), status, created_at, updated_at, delete_at`

func scanFriendRequest(row interface{ Scan(...any) error }) (*models.FriendRequest, error) {
	var r models.FriendRequest
	var status string
	if err := row.Scan(&r.ID, &r.From, &r.To, &r.ConversationID, &status, &r.CreatedAt, &r.UpdatedAt, &r.DeleteAt); err != nil {
		return nil, err
	}
	r.Status = models.FriendRequestStatus(status)
	return &r, nil
}

// FindByPair returns the live request between two users, or ErrNotFound.
func (s *FriendRequests) FindByPair(ctx context.Context, userA, userB string) (*models.FriendRequest, error) {
	const query = `
		SELECT ` + friendRequestColumns + `
		FROM friend_requests
		WHERE pair_key = $1 AND delete_at > $2`

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, models.PairKey(userA, userB), s.now()))
	if err != nil {
		return nil, wrap("find friend request", err)
	}
	return r, nil
}

// Get returns a live request by id.
func (s *FriendRequests) Get(ctx context.Context, id string) (*models.FriendRequest, error) {
	const query = `SELECT ` + friendRequestColumns + ` FROM friend_requests WHERE id = $1 AND delete_at > $2`

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, id, s.now()))
	if err != nil {
		return nil, wrap("get friend request", err)
	}
	return r, nil
}

// CreatePending upserts a pending request for the pair of req.From and req.To.
// An existing live row replaces only when it was rejected; otherwise the call
// fails with ErrConflict. The insert and the status check happen in one
// statement, so two users requesting at once cannot both succeed.
func (s *FriendRequests) CreatePending(ctx context.Context, req *models.FriendRequest) (*models.FriendRequest, error) {
	now := s.now().UTC()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}

	var convID any
	if req.ConversationID != "" {
		convID = req.ConversationID
	}

	const query = `
		INSERT INTO friend_requests (id, pair_key, from_user, to_user, conversation_id, status, created_at, updated_at, delete_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6, $7)
		ON CONFLICT (pair_key) DO UPDATE SET
			id = EXCLUDED.id,
			from_user = EXCLUDED.from_user,
			to_user = EXCLUDED.to_user,
			conversation_id = EXCLUDED.conversation_id,
			status = 'pending',
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			delete_at = EXCLUDED.delete_at
		WHERE friend_requests.status = 'rejected' OR friend_requests.delete_at <= EXCLUDED.created_at
		RETURNING ` + friendRequestColumns

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query,
		req.ID, models.PairKey(req.From, req.To), req.From, req.To, convID, req.CreatedAt, req.DeleteAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("create friend request", ErrConflict)
	}
	if err != nil {
		return nil, wrap("create friend request", err)
	}
	return r, nil
}

// ListPendingFor returns live pending requests where userID is either party,
// newest first.
func (s *FriendRequests) ListPendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	const query = `
		SELECT ` + friendRequestColumns + `
		FROM friend_requests
		WHERE (from_user = $1 OR to_user = $1) AND status = 'pending' AND delete_at > $2
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, s.now())
	if err != nil {
		return nil, wrap("list pending friend requests", err)
	}
	defer rows.Close()

	var out []models.FriendRequest
	for rows.Next() {
		r, err := scanFriendRequest(rows)
		if err != nil {
			return nil, wrap("scan friend request", err)
		}
		out = append(out, *r)
	}
	return out, wrap("list pending friend requests", rows.Err())
}

// Transition moves request id from one status to another. It fails with
// ErrNotFound when the request is missing, expired or no longer in from.
func (s *FriendRequests) Transition(ctx context.Context, id string, from, to models.FriendRequestStatus) (*models.FriendRequest, error) {
	const query = `
		UPDATE friend_requests SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND delete_at > $4
		RETURNING ` + friendRequestColumns

	r, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, id, string(from), string(to), s.now().UTC()))
	if err != nil {
		return nil, wrap("transition friend request", err)
	}
	return r, nil
}

// DeleteExpired removes rows whose delete_at has passed.
func (s *FriendRequests) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM friend_requests WHERE delete_at <= $1`, s.now())
	if err != nil {
		return 0, wrap("delete expired friend requests", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
