package media

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
	fail    map[string]bool
}

func (r *recordingRemover) Remove(_ context.Context, publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, publicID)
	if r.fail[publicID] {
		return errors.New("object store unavailable")
	}
	return nil
}

func (r *recordingRemover) sorted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.removed...)
	sort.Strings(out)
	return out
}

func TestPurge_Sequential(t *testing.T) {
	rm := &recordingRemover{}
	p := NewPurger(rm, nil, nil)

	out := p.Purge(context.Background(), []string{"img/1", "img/2"})
	assert.Equal(t, 2, out.Attempted)
	assert.Empty(t, out.Failed)
	assert.Equal(t, []string{"img/1", "img/2"}, rm.sorted())
}

func TestPurge_PoolAttemptsEveryObjectDespiteFailure(t *testing.T) {
	pool, err := NewPool(3, nil)
	require.NoError(t, err)
	defer pool.Release()

	rm := &recordingRemover{fail: map[string]bool{"img/2": true}}
	p := NewPurger(rm, pool, nil)

	ids := []string{"img/1", "img/2", "img/3", "img/4", "img/5"}
	out := p.Purge(context.Background(), ids)

	assert.Equal(t, 5, out.Attempted)
	assert.Equal(t, ids, rm.sorted(), "every object is targeted even when one fails")
	require.Len(t, out.Failed, 1)
	assert.Contains(t, out.Failed, "img/2")
}

func TestPurge_ReleasedPoolFallsBackInline(t *testing.T) {
	pool, err := NewPool(2, nil)
	require.NoError(t, err)
	pool.Release()

	rm := &recordingRemover{}
	out := NewPurger(rm, pool, nil).Purge(context.Background(), []string{"a", "b", "c"})

	assert.Equal(t, 3, out.Attempted)
	assert.Equal(t, []string{"a", "b", "c"}, rm.sorted())
}

func TestPurge_Empty(t *testing.T) {
	out := NewPurger(&recordingRemover{}, nil, nil).Purge(context.Background(), nil)
	assert.Equal(t, 0, out.Attempted)
	assert.Nil(t, out.Failed)
}

func TestNewMinIORemover_Validation(t *testing.T) {
	_, err := NewMinIORemover(Config{Bucket: "media"}, nil)
	require.Error(t, err)

	_, err = NewMinIORemover(Config{Endpoint: "localhost:9000"}, nil)
	require.Error(t, err)

	r, err := NewMinIORemover(DefaultConfig(), nil)
	require.NoError(t, err, "client construction does not dial")
	assert.Equal(t, "chat-media", r.bucket)
}
