// Package ban keeps per-user match bans and report counters in Redis:
//
//	ban:<userId>      reason, TTL = ban duration
//	reports:<userId>  offense counter, TTL = 24h from the first offense
//
// The gateway consults it before queueing a user for random matching and
// feeds it from partner reports and blocked messages.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// ReportsPrefix is the Redis key prefix for offense counters.
	ReportsPrefix = "reports:"

	// Escalating ban durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// ReportsTTL is the window after which the offense counter resets.
	ReportsTTL = 24 * time.Hour

	// AutoBanThreshold is the number of reports within ReportsTTL that bans
	// the reported user.
	AutoBanThreshold = 3
)

// Status describes a user's current ban.
type Status struct {
	Banned    bool
	Remaining time.Duration
	Reason    string
}

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store on an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Check returns the user's ban status. Redis errors are returned so the
// caller can choose its policy; the gateway fails open.
func (s *Store) Check(ctx context.Context, userID string) (Status, error) {
	key := BanPrefix + userID

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("ban: check: %w", err)
	}

	reason, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("ban: check: %w", err)
	}

	st := Status{Banned: true, Reason: reason}
	if ttl := ttlCmd.Val(); ttl > 0 {
		st.Remaining = ttl
	}
	return st, nil
}

// Ban bans userID for duration.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	if err := s.client.Set(ctx, BanPrefix+userID, reason, duration).Err(); err != nil {
		return fmt.Errorf("ban: set: %w", err)
	}
	return nil
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, BanPrefix+userID).Err(); err != nil {
		return fmt.Errorf("ban: unban: %w", err)
	}
	return nil
}

// escalationDuration returns the ban duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// OffenseCount returns the user's offense counter, 0 if absent or expired.
func (s *Store) OffenseCount(ctx context.Context, userID string) (int, error) {
	n, err := s.client.Get(ctx, ReportsPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offense count: %w", err)
	}
	return n, nil
}

// incrOffense bumps the counter and starts its TTL on the first offense so
// the window does not slide.
func (s *Store) incrOffense(ctx context.Context, userID string) (int, error) {
	key := ReportsPrefix + userID

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ReportsTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// Escalate records an offense and bans the user for a duration that grows
// with the offense count: 15 minutes, then 1 hour, then 24 hours.
func (s *Store) Escalate(ctx context.Context, userID, reason string) (time.Duration, error) {
	count, err := s.incrOffense(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ban: escalate: %w", err)
	}

	duration := escalationDuration(count)
	if err := s.Ban(ctx, userID, duration, reason); err != nil {
		return 0, err
	}
	return duration, nil
}

// Report records a partner report against userID and bans them once
// AutoBanThreshold reports land within ReportsTTL.
func (s *Store) Report(ctx context.Context, userID string) (bool, time.Duration, error) {
	count, err := s.incrOffense(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("ban: report: %w", err)
	}
	if count < AutoBanThreshold {
		return false, 0, nil
	}

	duration := escalationDuration(count)
	if err := s.Ban(ctx, userID, duration, "multiple_reports"); err != nil {
		return false, 0, err
	}
	return true, duration, nil
}
