package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for connection state hashes.
	KeyPrefix = "session:"

	// TTL bounds how long a hash outlives its last update.
	TTL = 1 * time.Hour
)

// Record is one connection's mirrored state.
type Record struct {
	ConnID         string `redis:"conn_id"`
	UserID         string `redis:"user_id"`
	Status         string `redis:"status"`          // idle | waiting | matched
	PartnerConnID  string `redis:"partner_conn_id"` // empty unless matched
	ConversationID string `redis:"conversation_id"` // empty unless matched
	Server         string `redis:"server"`          // gateway instance
	CreatedAt      int64  `redis:"created_at"`      // unix seconds
	LastActive     int64  `redis:"last_active"`     // unix seconds
}

// Store mirrors connection state into Redis for operators and other tooling.
// The engine never reads it back.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(addr string, db int, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create writes an idle record for a new connection.
func (s *Store) Create(ctx context.Context, connID, userID string) error {
	now := time.Now().Unix()
	return s.write(ctx, connID, map[string]interface{}{
		"conn_id":         connID,
		"user_id":         userID,
		"status":          string(StateIdle),
		"partner_conn_id": "",
		"conversation_id": "",
		"server":          s.serverName,
		"created_at":      now,
		"last_active":     now,
	})
}

// SetWaiting marks the connection as sitting in the waiting pool.
func (s *Store) SetWaiting(ctx context.Context, connID string) error {
	return s.write(ctx, connID, map[string]interface{}{
		"status":          string(StateWaiting),
		"partner_conn_id": "",
		"conversation_id": "",
		"last_active":     time.Now().Unix(),
	})
}

// SetMatched records the partner and the conversation of a new pairing.
func (s *Store) SetMatched(ctx context.Context, connID, partnerConnID, conversationID string) error {
	return s.write(ctx, connID, map[string]interface{}{
		"status":          string(StateMatched),
		"partner_conn_id": partnerConnID,
		"conversation_id": conversationID,
		"last_active":     time.Now().Unix(),
	})
}

// SetIdle clears the pairing fields.
func (s *Store) SetIdle(ctx context.Context, connID string) error {
	return s.write(ctx, connID, map[string]interface{}{
		"status":          string(StateIdle),
		"partner_conn_id": "",
		"conversation_id": "",
		"last_active":     time.Now().Unix(),
	})
}

// Get returns the record for connID, or nil if there is none.
func (s *Store) Get(ctx context.Context, connID string) (*Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, KeyPrefix+connID).Scan(&rec); err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if rec.ConnID == "" {
		return nil, nil
	}
	return &rec, nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, KeyPrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client so the ban store and the rate
// limiter can share it.
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) write(ctx context.Context, connID string, fields map[string]interface{}) error {
	key := KeyPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}
