package matching

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/randomchat/internal/models"
)

func entry(conn, user string) Entry {
	return Entry{ConnID: conn, UserID: user, Profile: models.Profile{UserID: user, DisplayName: user}}
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestRequestMatch_EmptyQueueWaits(t *testing.T) {
	q := NewQueue()

	res := q.RequestMatch(entry("a", "alice"))
	assert.Equal(t, StatusWaiting, res.Status)
	assert.False(t, res.Duplicate)
	assert.True(t, q.IsWaiting("a"))

	waiting, pairs := q.Stats()
	assert.Equal(t, 1, waiting)
	assert.Equal(t, 0, pairs)
}

func TestRequestMatch_SecondCallerMatchesFirst(t *testing.T) {
	q := NewQueue(WithClock(fixedClock(time.Unix(1000, 0))))

	require.Equal(t, StatusWaiting, q.RequestMatch(entry("a", "alice")).Status)

	res := q.RequestMatch(entry("b", "bob"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "a", res.Partner.ConnID)
	assert.Equal(t, "alice", res.Partner.UserID)
	assert.Equal(t, time.Second, res.Waited)

	assert.False(t, q.IsWaiting("a"))
	partner, ok := q.PartnerOf("b")
	require.True(t, ok)
	assert.Equal(t, "a", partner)
}

func TestRequestMatch_FIFOFairness(t *testing.T) {
	q := NewQueue()

	// Two users of the same account cannot match each other, so both wait.
	for i := 0; i < 5; i++ {
		res := q.RequestMatch(entry(fmt.Sprintf("w%d", i), "same-user"))
		require.Equal(t, StatusWaiting, res.Status)
	}
	assert.Equal(t, []string{"w0", "w1", "w2", "w3", "w4"}, q.Waiting())

	for i := 0; i < 5; i++ {
		res := q.RequestMatch(entry(fmt.Sprintf("n%d", i), fmt.Sprintf("user-%d", i)))
		require.Equal(t, StatusMatched, res.Status)
		assert.Equal(t, fmt.Sprintf("w%d", i), res.Partner.ConnID, "longest waiting entry must be taken first")
	}
	assert.Empty(t, q.Waiting())
}

func TestRequestMatch_IdempotenceGuard(t *testing.T) {
	q := NewQueue()

	q.RequestMatch(entry("a", "alice"))
	dup := q.RequestMatch(entry("a", "alice"))
	assert.Equal(t, StatusWaiting, dup.Status)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, []string{"a"}, q.Waiting())

	q.RequestMatch(entry("b", "bob"))
	dup = q.RequestMatch(entry("a", "alice"))
	assert.Equal(t, StatusWaiting, dup.Status)
	assert.True(t, dup.Duplicate, "paired connection must not be re-queued")

	partner, _ := q.PartnerOf("a")
	assert.Equal(t, "b", partner)
	assert.Empty(t, q.Waiting())
}

func TestRequestMatch_SkipsSameUser(t *testing.T) {
	q := NewQueue()

	q.RequestMatch(entry("tab1", "alice"))
	res := q.RequestMatch(entry("tab2", "alice"))
	assert.Equal(t, StatusWaiting, res.Status)

	res = q.RequestMatch(entry("b", "bob"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "tab1", res.Partner.ConnID)
	assert.Equal(t, []string{"tab2"}, q.Waiting())
}

func TestRequestMatch_SameUsersPairOnce(t *testing.T) {
	q := NewQueue()

	q.RequestMatch(entry("a1", "alice"))
	q.RequestMatch(entry("a2", "alice"))
	res := q.RequestMatch(entry("b1", "bob"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "a1", res.Partner.ConnID)

	// alice and bob are already talking, so bob's second tab waits.
	res = q.RequestMatch(entry("b2", "bob"))
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Equal(t, []string{"a2", "b2"}, q.Waiting())

	// A third user is still free to take either tab.
	res = q.RequestMatch(entry("c1", "carol"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "a2", res.Partner.ConnID)

	// Once the first pairing ends the two users may meet again.
	q.EndPairing("a1")
	q.EndPairing("a2")
	res = q.RequestMatch(entry("a3", "alice"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "b2", res.Partner.ConnID)
}

func TestRequestMatch_FilterSkipsIneligible(t *testing.T) {
	onlyBob := func(self, candidate Entry) bool {
		return self.UserID != "carol" || candidate.UserID == "bob"
	}
	q := NewQueue(WithFilter(onlyBob))

	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("b", "bob"))
	// alice and bob matched each other
	q.RequestMatch(entry("d", "dave"))
	q.RequestMatch(entry("b2", "bob"))
	// dave and bob matched; queue empty

	q.RequestMatch(entry("e", "erin"))
	res := q.RequestMatch(entry("c", "carol"))
	assert.Equal(t, StatusWaiting, res.Status, "carol only accepts bob")
	assert.Equal(t, []string{"e", "c"}, q.Waiting())
}

func TestEndPairing_RemovesBothDirections(t *testing.T) {
	q := NewQueue()
	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("b", "bob"))

	ended := q.EndPairing("a")
	require.True(t, ended.Paired)
	assert.Equal(t, "b", ended.PartnerID())
	assert.Equal(t, "alice", ended.Self.UserID)
	assert.Equal(t, "bob", ended.Partner.UserID)

	_, ok := q.PartnerOf("a")
	assert.False(t, ok)
	_, ok = q.PartnerOf("b")
	assert.False(t, ok)

	_, pairs := q.Stats()
	assert.Equal(t, 0, pairs)
}

func TestEndPairing_Idempotent(t *testing.T) {
	q := NewQueue()
	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("b", "bob"))
	q.RequestMatch(entry("c", "carol"))

	first := q.EndPairing("b")
	require.True(t, first.Paired)

	second := q.EndPairing("b")
	assert.Equal(t, Ended{}, second)
	third := q.EndPairing("a")
	assert.Equal(t, Ended{}, third, "partner side was already torn down")

	assert.Equal(t, []string{"c"}, q.Waiting())
}

func TestEndPairing_WaitingConnectionLeavesPool(t *testing.T) {
	q := NewQueue()
	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("tab2", "alice"))

	ended := q.EndPairing("a")
	assert.True(t, ended.Dequeued)
	assert.False(t, ended.Paired)
	assert.Equal(t, "", ended.PartnerID())
	assert.Equal(t, []string{"tab2"}, q.Waiting())

	assert.Equal(t, Ended{}, q.EndPairing("a"))
}

func TestSkipThenRequestDoesNotSeeStalePartner(t *testing.T) {
	q := NewQueue()
	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("b", "bob"))

	// alice skips and immediately asks again before bob reacts.
	q.EndPairing("a")
	res := q.RequestMatch(entry("a", "alice"))
	assert.Equal(t, StatusWaiting, res.Status)
	assert.False(t, res.Duplicate)
	_, ok := q.PartnerOf("a")
	assert.False(t, ok)

	// bob's own teardown arrives late and must not disturb alice's new state.
	assert.Equal(t, Ended{}, q.EndPairing("b"))
	assert.True(t, q.IsWaiting("a"))

	// bob asks again and is matched with alice as a fresh pairing.
	res = q.RequestMatch(entry("b", "bob"))
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "a", res.Partner.ConnID)
}

func TestPairingSymmetry_Concurrent(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			q.RequestMatch(entry(id, fmt.Sprintf("u%d", i)))
			if i%3 == 0 {
				q.EndPairing(id)
				q.EndPairing(id)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("c%d", i)
		partner, ok := q.PartnerOf(id)
		if !ok {
			continue
		}
		back, ok := q.PartnerOf(partner)
		require.True(t, ok, "partner %s of %s has no pairing", partner, id)
		assert.Equal(t, id, back)
	}

	waiting, pairs := q.Stats()
	assert.LessOrEqual(t, waiting, 1, "at most one connection can remain unmatched")
	assert.GreaterOrEqual(t, pairs, 0)
}

func TestPairing_ReturnsBothEntries(t *testing.T) {
	q := NewQueue()
	q.RequestMatch(entry("a", "alice"))
	q.RequestMatch(entry("b", "bob"))

	self, partner, ok := q.Pairing("a")
	require.True(t, ok)
	assert.Equal(t, "alice", self.UserID)
	assert.Equal(t, "bob", partner.UserID)

	_, _, ok = q.Pairing("nobody")
	assert.False(t, ok)
}
