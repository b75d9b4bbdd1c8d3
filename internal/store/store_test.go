package store_test

import (
	"fmt"
	"testing"
	"time"

	"whispr/client/internal/models"
	"whispr/client/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender string, offset int) models.Message {
	return models.Message{
		ID:        id,
		Content:   "content-" + id,
		SenderID:  sender,
		CreatedAt: base.Add(time.Duration(offset) * time.Minute),
	}
}

func msgs(sender string, ids ...string) []models.Message {
	out := make([]models.Message, 0, len(ids))
	for i, id := range ids {
		out = append(out, msg(id, sender, i))
	}
	return out
}

// TestSeedRecentReportsUnderfill verifies that seeding fewer messages than the
// page threshold signals a prefetch, but only while older history remains.
func TestSeedRecentReportsUnderfill(t *testing.T) {
	s := store.New()

	// 10 < 15 and three history pages exist: prefetch wanted.
	underfilled := s.SeedRecent("chat-1", msgs("alice", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j"), 3)
	assert.True(t, underfilled)

	// Same count but no history pages at all: nothing to prefetch.
	underfilled = s.SeedRecent("chat-2", msgs("alice", "a", "b"), 0)
	assert.False(t, underfilled)

	// A full page never asks for a prefetch.
	full := make([]models.Message, 0, 15)
	for i := 0; i < 15; i++ {
		full = append(full, msg(fmt.Sprintf("m%d", i), "alice", i))
	}
	underfilled = s.SeedRecent("chat-3", full, 3)
	assert.False(t, underfilled)
}

// TestMergeHistoryPageIsIdempotent verifies that merging the same index twice
// leaves the store unchanged the second time.
func TestMergeHistoryPageIsIdempotent(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 2)

	require.True(t, s.MergeHistoryPage("chat-1", 1, msgs("bob", "h1", "h2")))
	v := s.Version()

	merged := s.MergeHistoryPage("chat-1", 1, msgs("bob", "x1", "x2"))

	assert.False(t, merged, "second merge of the same index must be a no-op")
	assert.Equal(t, v, s.Version(), "no-op merge must not bump the version")
	assert.Equal(t, "h1", s.Flatten("chat-1")[0].ID, "original page content must survive")
}

// TestMessageIDUniqueAcrossBuckets verifies that a message id never appears in
// two buckets: duplicate appends are dropped and merge filters ids that are
// already loaded elsewhere.
func TestMessageIDUniqueAcrossBuckets(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1", "r2"), 2)

	assert.False(t, s.Append("chat-1", msg("r1", "alice", 9)), "duplicate append must be dropped")

	// A history page echoing an id that already lives in recent.
	s.MergeHistoryPage("chat-1", 1, []models.Message{msg("h1", "bob", 0), msg("r2", "alice", 1)})

	seen := map[string]int{}
	for _, m := range s.Flatten("chat-1") {
		seen[m.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s appears %d times", id, n)
	}
}

// TestFlattenOrder verifies the rendering contract: numbered pages oldest-first,
// then the recent tail.
func TestFlattenOrder(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1", "r2"), 2)
	s.MergeHistoryPage("chat-1", 1, msgs("bob", "p1a", "p1b"))
	s.MergeHistoryPage("chat-1", 0, msgs("bob", "p0a"))

	var ids []string
	for _, m := range s.Flatten("chat-1") {
		ids = append(ids, m.ID)
	}

	assert.Equal(t, []string{"p0a", "p1a", "p1b", "r1", "r2"}, ids)
}

// TestNextOlderIndexWalk verifies pagination bookkeeping: the next request
// walks down from the newest history page, the loaded pages stay contiguous,
// an already-fetched index is never requested again, and reaching page 0
// exhausts history.
func TestNextOlderIndexWalk(t *testing.T) {
	s := store.New()

	// Not seeded yet: nothing to request.
	_, ok := s.NextOlderIndex("chat-1")
	assert.False(t, ok)

	s.SeedRecent("chat-1", msgs("alice", "r1"), 3)

	fetched := []int{}
	for {
		idx, ok := s.NextOlderIndex("chat-1")
		if !ok {
			break
		}
		assert.NotContains(t, fetched, idx, "must never request an already-fetched index")
		s.MergeHistoryPage("chat-1", idx, msgs("bob", fmt.Sprintf("p%da", idx)))
		fetched = append(fetched, idx)
	}

	assert.Equal(t, []int{2, 1, 0}, fetched)
	assert.Equal(t, []int{0, 1, 2}, s.PageIndexes("chat-1"), "loaded pages form a contiguous range starting at 0")
	assert.True(t, s.HistoryExhausted("chat-1"))
}

// TestReseedAfterServerArchivalDropsStalePages verifies that a bulk re-sync
// reporting a different page count discards previously loaded pages: they end
// at the old newest index, and keeping them would leave a gap the downward
// walk can never request.
func TestReseedAfterServerArchivalDropsStalePages(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1", "r2"), 2)
	require.True(t, s.MergeHistoryPage("chat-1", 1, msgs("bob", "p1a")))

	// Reconnect after the server rolled part of the old tail into page 2.
	s.SeedRecent("chat-1", msgs("alice", "r2", "r3"), 3)

	assert.Empty(t, s.PageIndexes("chat-1"))
	idx, ok := s.NextOlderIndex("chat-1")
	require.True(t, ok)
	assert.Equal(t, 2, idx, "the walk must restart at the new newest page")
}

// TestReseedWithSamePageCountKeepsPages verifies that a clean reconnect (no
// archival happened) does not throw loaded history away.
func TestReseedWithSamePageCountKeepsPages(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 2)
	require.True(t, s.MergeHistoryPage("chat-1", 1, msgs("bob", "p1a")))

	s.SeedRecent("chat-1", msgs("alice", "r1", "r2"), 2)

	assert.True(t, s.HasPage("chat-1", 1))
	idx, ok := s.NextOlderIndex("chat-1")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

// TestHistoryExhaustedWithoutPages verifies that a chat with no server-side
// history at all counts as exhausted immediately.
func TestHistoryExhaustedWithoutPages(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 0)

	assert.True(t, s.HistoryExhausted("chat-1"))
	_, ok := s.NextOlderIndex("chat-1")
	assert.False(t, ok)
}

// TestRemoveSearchesAllBucketsAndClearsReplyRefs verifies delete propagation:
// removing a message that was already paginated into history works, and every
// loaded message referencing it - in any bucket - loses its reply reference.
func TestRemoveSearchesAllBucketsAndClearsReplyRefs(t *testing.T) {
	s := store.New()

	target := msg("old-1", "bob", 0)
	replyInPage := msg("old-2", "alice", 1)
	replyInPage.ReplyToID = "old-1"
	replyInPage.ReplyToContent = target.Content
	replyInRecent := msg("r2", "bob", 3)
	replyInRecent.ReplyToID = "old-1"
	replyInRecent.ReplyToContent = target.Content

	s.SeedRecent("chat-1", []models.Message{msg("r1", "alice", 2), replyInRecent}, 1)
	s.MergeHistoryPage("chat-1", 0, []models.Message{target, replyInPage})

	removed := s.Remove("chat-1", "old-1")

	require.True(t, removed)
	_, found := s.Find("chat-1", "old-1")
	assert.False(t, found)
	for _, m := range s.Flatten("chat-1") {
		assert.Empty(t, m.ReplyToID, "message %s still references the deleted message", m.ID)
		assert.Empty(t, m.ReplyToContent)
	}
}

// TestRemoveUnknownMessageIsNoOp verifies that deleting an id that is not
// loaded leaves the store untouched.
func TestRemoveUnknownMessageIsNoOp(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 0)
	v := s.Version()

	assert.False(t, s.Remove("chat-1", "ghost"))
	assert.Equal(t, v, s.Version())
}

// TestLocateReportsRetentionTier verifies that Locate distinguishes the recent
// tail from a specific history page, which the tiered unsend endpoints need.
func TestLocateReportsRetentionTier(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 2)
	s.MergeHistoryPage("chat-1", 1, msgs("bob", "h1"))

	idx, ok := s.Locate("chat-1", "r1")
	require.True(t, ok)
	assert.Equal(t, store.RecentIndex, idx)

	idx, ok = s.Locate("chat-1", "h1")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = s.Locate("chat-1", "ghost")
	assert.False(t, ok)
}

// TestLastMessageAndOnChange verifies that the on-change hook fires after
// commits and that LastMessage reflects the store at that point.
func TestLastMessageAndOnChange(t *testing.T) {
	s := store.New()

	var lastSeen []string
	s.SetOnChange(func(chatID string) {
		// The hook runs post-commit: the new state must already be visible.
		if m, ok := s.LastMessage(chatID); ok {
			lastSeen = append(lastSeen, m.ID)
		} else {
			lastSeen = append(lastSeen, "")
		}
	})

	s.SeedRecent("chat-1", msgs("alice", "r1"), 0)
	s.Append("chat-1", msg("r2", "bob", 5))
	s.Remove("chat-1", "r2")

	assert.Equal(t, []string{"r1", "r2", "r1"}, lastSeen)
}

// TestDropChatDiscardsBuckets verifies wholesale teardown of a chat entry.
func TestDropChatDiscardsBuckets(t *testing.T) {
	s := store.New()
	s.SeedRecent("chat-1", msgs("alice", "r1"), 1)
	s.MergeHistoryPage("chat-1", 0, msgs("bob", "h1"))

	s.DropChat("chat-1")

	assert.Empty(t, s.Flatten("chat-1"))
	_, ok := s.Find("chat-1", "r1")
	assert.False(t, ok)
}
