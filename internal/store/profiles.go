package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/whisper/randomchat/internal/models"
)

// Profiles reads user profiles. Profile writes belong to the account service.
type Profiles struct {
	db *sql.DB
}

// NewProfiles creates a profile reader on db.
func NewProfiles(db *sql.DB) *Profiles {
	return &Profiles{db: db}
}

// Get returns the profile of userID, or ErrNotFound.
func (s *Profiles) Get(ctx context.Context, userID string) (models.Profile, error) {
	const query = `
		SELECT user_id, display_name, location, avatar_url, gender, seeking, age, min_age, max_age
		FROM profiles WHERE user_id = $1`

	var p models.Profile
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Location, &p.AvatarURL,
		&p.Preferences.Gender, &p.Preferences.Seeking,
		&p.Preferences.Age, &p.Preferences.MinAge, &p.Preferences.MaxAge,
	)
	if err != nil {
		return models.Profile{}, wrap("get profile", err)
	}
	return p, nil
}

// ProfileSource is anything that can look a profile up by user id.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
}

// CachedProfiles is a size and TTL bounded cache in front of a ProfileSource.
// Missing profiles are cached too, as the anonymous default.
type CachedProfiles struct {
	src   ProfileSource
	cache *expirable.LRU[string, models.Profile]
}

// NewCachedProfiles wraps src with an LRU of at most size entries kept for ttl.
func NewCachedProfiles(src ProfileSource, size int, ttl time.Duration) *CachedProfiles {
	return &CachedProfiles{
		src:   src,
		cache: expirable.NewLRU[string, models.Profile](size, nil, ttl),
	}
}

// Get returns the cached profile or loads it from the source.
func (c *CachedProfiles) Get(ctx context.Context, userID string) (models.Profile, error) {
	if p, ok := c.cache.Get(userID); ok {
		return p, nil
	}

	p, err := c.src.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		p = models.Profile{UserID: userID}
	} else if err != nil {
		return models.Profile{}, err
	}

	c.cache.Add(userID, p)
	return p, nil
}

// Invalidate drops userID from the cache.
func (c *CachedProfiles) Invalidate(userID string) {
	c.cache.Remove(userID)
}
