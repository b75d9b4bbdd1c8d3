package inbox_test

import (
	"testing"
	"time"

	"whispr/client/internal/inbox"
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

// TestSummaryFollowsStoreMutations verifies that appends and removes update the
// tracked chat's last message, strictly after the mutation is committed.
func TestSummaryFollowsStoreMutations(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)
	r.Track("chat-1", "them", models.LastMessage{})

	st.SeedRecent("chat-1", []models.Message{msg("m1", "them", 0)}, 0)
	s, ok := r.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, "content-m1", s.LastMessage.Content)
	assert.Equal(t, "them", s.LastMessage.SentBy)

	st.Append("chat-1", msg("m2", "me", 1))
	s, _ = r.Get("chat-1")
	assert.Equal(t, "content-m2", s.LastMessage.Content)

	// Deleting the newest message rolls the summary back to the previous one.
	st.Remove("chat-1", "m2")
	s, _ = r.Get("chat-1")
	assert.Equal(t, "content-m1", s.LastMessage.Content)
}

// TestSeenDoesNotChangeLastMessage verifies that a seen batch leaves the
// summary untouched: seen is not a last-message mutation.
func TestSeenDoesNotChangeLastMessage(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)
	r.Track("chat-1", "them", models.LastMessage{})

	st.SeedRecent("chat-1", []models.Message{msg("m1", "me", 0)}, 0)
	before, _ := r.Get("chat-1")

	st.MarkOutboundSeen("chat-1", "me", base.Add(time.Hour))

	after, _ := r.Get("chat-1")
	assert.Equal(t, before.LastMessage, after.LastMessage)
}

// TestUntrackedChatIsIgnored verifies that store mutations for chats outside
// the inbox do not create phantom summaries.
func TestUntrackedChatIsIgnored(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)

	st.SeedRecent("chat-x", []models.Message{msg("m1", "them", 0)}, 0)

	_, ok := r.Get("chat-x")
	assert.False(t, ok)
}

// TestTrackRefreshesExistingSummary verifies that re-tracking a chat (a fresh
// inbox listing from the server) replaces the stale last message instead of
// keeping whatever the previous session left behind.
func TestTrackRefreshesExistingSummary(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)
	r.Track("chat-1", "them", models.LastMessage{Content: "old", SentBy: "them"})

	r.Track("chat-1", "them", models.LastMessage{Content: "fresh", SentBy: "me", CreatedAt: base})

	s, ok := r.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, "fresh", s.LastMessage.Content)
	assert.Equal(t, "me", s.LastMessage.SentBy)
}

// TestResetDropsAllSummaries verifies the logout teardown.
func TestResetDropsAllSummaries(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)
	r.Track("chat-1", "a", models.LastMessage{})
	r.Track("chat-2", "b", models.LastMessage{})

	r.Reset()

	assert.Empty(t, r.Snapshot())
	_, ok := r.Get("chat-1")
	assert.False(t, ok)
}

// TestSnapshotOrdersByRecency verifies the inbox listing order.
func TestSnapshotOrdersByRecency(t *testing.T) {
	st := store.New()
	r := inbox.NewReconciler(st)
	r.Track("chat-1", "a", models.LastMessage{})
	r.Track("chat-2", "b", models.LastMessage{})

	st.SeedRecent("chat-1", []models.Message{msg("m1", "a", 0)}, 0)
	st.SeedRecent("chat-2", []models.Message{msg("m2", "b", 10)}, 0)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "chat-2", snap[0].ChatID)

	r.MarkDeleted("chat-2")
	s, _ := r.Get("chat-2")
	assert.True(t, s.Deleted)
}
