package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindResolve(t *testing.T) {
	r := New()
	r.Bind("c1", "alice")

	user, ok := r.Resolve("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	_, ok = r.Resolve("unknown")
	assert.False(t, ok)
}

func TestBind_IgnoresEmpty(t *testing.T) {
	r := New()
	r.Bind("", "alice")
	r.Bind("c1", "")

	assert.Equal(t, 0, r.Count())
}

func TestConnectionsOf_MultipleTabs(t *testing.T) {
	r := New()
	r.Bind("c2", "alice")
	r.Bind("c1", "alice")
	r.Bind("c3", "bob")

	assert.Equal(t, []string{"c1", "c2"}, r.ConnectionsOf("alice"))
	assert.Equal(t, []string{"c3"}, r.ConnectionsOf("bob"))
	assert.Empty(t, r.ConnectionsOf("carol"))
}

func TestRebindMovesConnection(t *testing.T) {
	r := New()
	r.Bind("c1", "alice")
	r.Bind("c1", "bob")

	assert.Empty(t, r.ConnectionsOf("alice"))
	assert.Equal(t, []string{"c1"}, r.ConnectionsOf("bob"))
	assert.Equal(t, 1, r.Count())
}

func TestUnbind_Idempotent(t *testing.T) {
	r := New()
	r.Bind("c1", "alice")
	r.Bind("c2", "alice")

	assert.True(t, r.Unbind("c1"))
	assert.False(t, r.Unbind("c1"), "second unbind must be a no-op")

	_, ok := r.Resolve("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c2"}, r.ConnectionsOf("alice"))

	assert.True(t, r.Unbind("c2"))
	assert.Empty(t, r.ConnectionsOf("alice"))
	assert.Equal(t, 0, r.Count())
}

func TestConcurrentBindUnbind(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Bind(id, fmt.Sprintf("u%d", i%5))
			r.Resolve(id)
			r.Unbind(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}
