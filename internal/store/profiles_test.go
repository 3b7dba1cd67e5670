package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/whisper/randomchat/internal/models"
)

type mockProfileSource struct {
	mock.Mock
}

func (m *mockProfileSource) Get(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Profile), args.Error(1)
}

func TestCachedProfiles_CachesHits(t *testing.T) {
	src := new(mockProfileSource)
	alice := models.Profile{UserID: "alice", DisplayName: "Alice", Location: "Lisbon, PT"}
	src.On("Get", mock.Anything, "alice").Return(alice, nil).Once()

	c := NewCachedProfiles(src, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := c.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice, p)
	}
	src.AssertExpectations(t)
}

func TestCachedProfiles_MissingProfileIsAnonymous(t *testing.T) {
	src := new(mockProfileSource)
	src.On("Get", mock.Anything, "ghost").Return(models.Profile{}, ErrNotFound).Once()

	c := NewCachedProfiles(src, 10, time.Minute)

	p, err := c.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", p.UserID)
	assert.Equal(t, "Stranger", p.Public().Name)

	_, err = c.Get(context.Background(), "ghost")
	require.NoError(t, err)
	src.AssertExpectations(t)
}

func TestCachedProfiles_ErrorsAreNotCached(t *testing.T) {
	src := new(mockProfileSource)
	boom := errors.New("connection refused")
	src.On("Get", mock.Anything, "bob").Return(models.Profile{}, boom).Once()
	src.On("Get", mock.Anything, "bob").Return(models.Profile{UserID: "bob"}, nil).Once()

	c := NewCachedProfiles(src, 10, time.Minute)

	_, err := c.Get(context.Background(), "bob")
	require.ErrorIs(t, err, boom)

	p, err := c.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.UserID)
	src.AssertExpectations(t)
}

func TestCachedProfiles_Invalidate(t *testing.T) {
	src := new(mockProfileSource)
	src.On("Get", mock.Anything, "alice").Return(models.Profile{UserID: "alice", DisplayName: "A"}, nil).Once()
	src.On("Get", mock.Anything, "alice").Return(models.Profile{UserID: "alice", DisplayName: "Alice"}, nil).Once()

	c := NewCachedProfiles(src, 10, time.Minute)
	ctx := context.Background()

	p, _ := c.Get(ctx, "alice")
	assert.Equal(t, "A", p.DisplayName)

	c.Invalidate("alice")
	p, _ = c.Get(ctx, "alice")
	assert.Equal(t, "Alice", p.DisplayName)
	src.AssertExpectations(t)
}
