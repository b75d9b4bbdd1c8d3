package inbox

import (
	"sort"
	"sync"

	"whispr/client/internal/models"
	"whispr/client/internal/store"
)

// Summary is the denormalized inbox view of one chat. It is derived from the
// message store and is never the source of truth.
type Summary struct {
	ChatID        string             `json:"chat_id"`
	ParticipantID string             `json:"participant_id"`
	LastMessage   models.LastMessage `json:"last_message"`
	Deleted       bool               `json:"deleted"`
}

// Reconciler keeps the per-chat inbox summaries consistent with the message
// store. It registers itself as the store's on-change hook, so every committed
// seed/append/remove recomputes the affected chat's last message strictly after
// the mutation - the summary can never observe a half-applied delete.
type Reconciler struct {
	mu    sync.Mutex
	store *store.MessageStore
	chats map[string]*Summary
}

// NewReconciler wires a reconciler to the store's mutation hook.
func NewReconciler(st *store.MessageStore) *Reconciler {
	r := &Reconciler{
		store: st,
		chats: make(map[string]*Summary),
	}
	st.SetOnChange(r.Recompute)
	return r
}

// Track registers a chat in the inbox, typically from the server's inbox
// listing on login or after creating a chat.
func (r *Reconciler) Track(chatID, participantID string, last models.LastMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.chats[chatID]; ok {
		s.ParticipantID = participantID
		s.LastMessage = last
		s.Deleted = false
		return
	}
	r.chats[chatID] = &Summary{
		ChatID:        chatID,
		ParticipantID: participantID,
		LastMessage:   last,
	}
}

// Recompute rewrites the chat's last-message summary from the store's current
// state. Only the given chat is touched.
func (r *Reconciler) Recompute(chatID string) {
	last, ok := r.store.LastMessage(chatID)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, tracked := r.chats[chatID]
	if !tracked {
		return
	}
	if !ok {
		s.LastMessage = models.LastMessage{}
		return
	}
	s.LastMessage = models.LastMessage{
		Content:   last.Content,
		CreatedAt: last.CreatedAt,
		SentBy:    last.SenderID,
	}
}

// MarkDeleted flags the chat as deleted in the inbox view.
func (r *Reconciler) MarkDeleted(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.chats[chatID]; ok {
		s.Deleted = true
	}
}

// Drop removes the chat from the inbox entirely.
func (r *Reconciler) Drop(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chats, chatID)
}

// Reset drops every summary. Called on logout so a later login, possibly as a
// different user, starts from an empty inbox.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = make(map[string]*Summary)
}

// Get returns the chat's current summary.
func (r *Reconciler) Get(chatID string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.chats[chatID]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// Snapshot returns all summaries, newest last message first.
func (r *Reconciler) Snapshot() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.chats))
	for _, s := range r.chats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}
