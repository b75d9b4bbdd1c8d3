// Package session ties the client together: it owns the selected chat and the
// reply draft, runs the realtime channel lifecycle, and routes user actions
// and inbound events into the message store.
package session

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"whispr/client/internal/api"
	"whispr/client/internal/auth"
	"whispr/client/internal/inbox"
	"whispr/client/internal/models"
	"whispr/client/internal/paginate"
	"whispr/client/internal/realtime"
	"whispr/client/internal/reply"
	"whispr/client/internal/store"
)

// Notifier surfaces user-visible, non-fatal failures (failed unsend, failed
// pagination). Nothing routed through it aborts the process.
type Notifier func(message string)

// Session is the per-process client state machine. All of its entry points are
// safe for concurrent use; mutations funnel into the store, which serializes
// them.
type Session struct {
	api    *api.Client
	tokens *auth.FileTokenStore
	store  *store.MessageStore
	inbox  *inbox.Reconciler

	pager    *paginate.Controller
	resolver *reply.Resolver

	notify Notifier
	now    func() time.Time

	// reconnectDelay is forwarded to every channel; tests shrink it.
	reconnectDelay time.Duration

	mu       sync.Mutex
	userID   string
	selected models.SelectedChat
	channel  *realtime.Channel
	draft    models.ReplyDraft
}

// New wires a session over the shared store and inbox reconciler. If a token
// is already stored the user identity is restored from its claims.
func New(apiClient *api.Client, tokens *auth.FileTokenStore, st *store.MessageStore, rec *inbox.Reconciler, notify Notifier) *Session {
	if notify == nil {
		notify = func(string) {}
	}
	s := &Session{
		api:    apiClient,
		tokens: tokens,
		store:  st,
		inbox:  rec,
		notify: notify,
		now:    time.Now,
	}
	s.pager = paginate.New(st, apiClient, func() string { return s.Selected().ChatID })
	s.resolver = reply.New(st, s.pager)

	if tok, err := tokens.Token(); err == nil {
		if id, err := auth.UserID(tok); err == nil {
			s.userID = id
		}
	}
	return s
}

// SetReconnectDelay overrides the realtime back-off for subsequent channels.
func (s *Session) SetReconnectDelay(d time.Duration) {
	s.mu.Lock()
	s.reconnectDelay = d
	s.mu.Unlock()
}

// SetViewport attaches the scroll surface for anchor preservation.
func (s *Session) SetViewport(v paginate.Viewport) { s.pager.SetViewport(v) }

// UserID returns the authenticated user's id, empty when logged out.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Selected returns the currently open chat, zero if none.
func (s *Session) Selected() models.SelectedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// ChannelState reports the realtime connection state for the open chat.
func (s *Session) ChannelState() realtime.State {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return realtime.StateDisconnected
	}
	return ch.State()
}

// Signup registers a new account. The caller logs in separately.
func (s *Session) Signup(ctx context.Context, username, email, password string) error {
	return s.api.Signup(ctx, username, email, password)
}

// SearchUsers finds accounts matching a username fragment.
func (s *Session) SearchUsers(ctx context.Context, username string) ([]models.Profile, error) {
	return s.api.SearchUsers(ctx, username)
}

// Profile loads another user's public profile.
func (s *Session) Profile(ctx context.Context, profileID string) (models.Profile, error) {
	return s.api.FetchProfile(ctx, profileID)
}

// Login authenticates, persists the token, and loads the inbox.
func (s *Session) Login(ctx context.Context, username, password string) error {
	tok, err := s.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := s.tokens.Save(tok); err != nil {
		return err
	}
	id, err := auth.UserID(tok)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
	return s.RefreshInbox(ctx)
}

// RefreshInbox re-reads the user's profile and registers every chat with the
// reconciler.
func (s *Session) RefreshInbox(ctx context.Context) error {
	info, err := s.api.FetchUser(ctx)
	if err != nil {
		return err
	}
	for _, c := range info.Inbox.Chats {
		s.inbox.Track(c.ChatID, c.ParticipantID, c.LastMessage)
	}
	return nil
}

// Logout clears the stored credential and tears all client state down. The
// message store is memory-only and will be rebuilt from the boundary on the
// next login.
func (s *Session) Logout() error {
	s.ClearSelection()
	s.store.Reset()
	s.inbox.Reset()
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
	return s.tokens.Clear()
}

// SelectChat opens a conversation. This is the sole realtime lifecycle
// trigger: any previous channel is force-closed first (at most one live
// connection system-wide), the reply draft is cleared, and the new channel's
// open-hook performs the bulk sync before sends are accepted.
func (s *Session) SelectChat(_ context.Context, chatID, participantID string) error {
	wsURL, err := s.api.WebSocketURL(chatID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	s.selected = models.SelectedChat{ChatID: chatID, ParticipantID: participantID}
	s.draft = models.ReplyDraft{}

	ch := realtime.NewChannel(realtime.Options{
		ChatID:         chatID,
		URL:            wsURL,
		ReconnectDelay: s.reconnectDelay,
		OnEvent: func(ev models.Event) {
			s.handleEvent(chatID, ev)
		},
		Sync: func(ctx context.Context) error {
			return s.bulkSync(ctx, chatID)
		},
	})
	s.channel = ch
	s.mu.Unlock()

	// The channel outlives the caller's request scope; Close is its
	// deterministic teardown.
	go ch.Run(context.Background())
	return nil
}

// ClearSelection closes the open chat, if any.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	s.selected = models.SelectedChat{}
	s.draft = models.ReplyDraft{}
	s.mu.Unlock()
}

// bulkSync seeds the store from the bulk fetch and prefetches one older page
// when the recent bucket came back under-filled, so a first open never shows
// an artificially empty history.
func (s *Session) bulkSync(ctx context.Context, chatID string) error {
	page, err := s.api.FetchRecent(ctx, chatID)
	if err != nil {
		if _, ok := err.(*api.StatusError); ok {
			// The chat exists but has nothing for us; seed empty rather than
			// block the channel on a retry loop.
			s.store.SeedRecent(chatID, nil, 0)
			return nil
		}
		return err
	}

	// The fetch suspended us; discard the completion if the user moved on.
	if s.Selected().ChatID != chatID {
		return nil
	}

	if underfilled := s.store.SeedRecent(chatID, page.Messages, page.BucketCount); underfilled {
		if _, err := s.pager.FetchOlder(ctx, chatID); err != nil {
			log.Printf("session: underfill prefetch for %s: %v", chatID, err)
			s.notify("Failed to load older messages")
		}
	}
	return nil
}

// LoadOlder pulls one more history page for the open chat, typically wired to
// the viewport's oldest-edge trigger. Request failures notify the user and
// leave the store untouched.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	sel := s.Selected()
	if sel.IsZero() {
		return false, nil
	}
	merged, err := s.pager.FetchOlder(ctx, sel.ChatID)
	if err != nil {
		s.notify("Failed to load older messages")
		return false, err
	}
	return merged, nil
}

// Send builds a message with a client-generated id, optimistically appends it
// to the store, then transmits it. At-most-once: when the channel is not open
// and synced the send is dropped - the store is not mutated and no error is
// raised. The returned flag is the only delivery signal there is.
func (s *Session) Send(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	s.mu.Lock()
	ch := s.channel
	sel := s.selected
	draft := s.draft
	uid := s.userID
	s.mu.Unlock()

	if sel.IsZero() || ch == nil || !ch.Ready() {
		return false
	}

	m := models.Message{
		ID:        newMessageID(s.now()),
		Content:   content,
		SenderID:  uid,
		CreatedAt: s.now().UTC(),
	}
	if draft.Open {
		m.ReplyToID = draft.MessageID
		m.ReplyToContent = draft.Content
	}
	s.CloseReply()

	s.store.Append(sel.ChatID, m)
	return ch.Send(models.SendFrame(m))
}

// Delete unsends a message. Not optimistic: the store is only mutated after
// the tier-specific endpoint confirmed, and a failure leaves it untouched.
func (s *Session) Delete(ctx context.Context, chatID, messageID string) error {
	tier, ok := s.store.Locate(chatID, messageID)
	if !ok {
		s.notify("Message not found")
		return reply.ErrMessageNotFound
	}

	var err error
	if tier == store.RecentIndex {
		err = s.api.UnsendRecent(ctx, chatID, messageID)
	} else {
		err = s.api.UnsendOlder(ctx, chatID, messageID, tier)
	}
	if err != nil {
		s.notify("Failed to unsend the message")
		return err
	}

	s.store.Remove(chatID, messageID)
	s.notify("Message unsent")
	return nil
}

// MarkSeen syncs a read receipt for the partner's unseen recent messages and
// then applies the shared timestamp locally. The receipt goes out first: a
// rejected request leaves the store untouched, so the messages still count as
// unseen and the next call retries the receipt instead of losing it.
func (s *Session) MarkSeen(ctx context.Context) error {
	sel := s.Selected()
	if sel.IsZero() {
		return nil
	}
	if s.store.UnseenInbound(sel.ChatID, s.UserID()) == 0 {
		return nil
	}
	ts := s.now().UTC()
	if err := s.api.MarkAsSeen(ctx, sel.ChatID, ts); err != nil {
		s.notify("Failed to sync read receipt")
		return err
	}
	s.store.MarkInboundSeen(sel.ChatID, s.UserID(), ts)
	return nil
}

// OpenReply starts a reply draft for the given message. An unloaded target
// degrades to a placeholder preview; the denormalized content keeps the Reply
// header rendering even then.
func (s *Session) OpenReply(messageID string) models.ReplyDraft {
	sel := s.Selected()
	draft := models.ReplyDraft{Open: true, MessageID: messageID}
	if m, ok := s.store.Find(sel.ChatID, messageID); ok {
		draft.Content = m.Content
		draft.SenderID = m.SenderID
	} else {
		draft.Content = "Message not found"
	}

	s.mu.Lock()
	s.draft = draft
	s.mu.Unlock()
	return draft
}

// CloseReply cancels the reply draft.
func (s *Session) CloseReply() {
	s.mu.Lock()
	s.draft = models.ReplyDraft{}
	s.mu.Unlock()
}

// Draft returns the current reply draft.
func (s *Session) Draft() models.ReplyDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// ResolveReply looks the reply target up in the open chat, paging history as
// needed (awaited by the caller even though it may hit the network).
func (s *Session) ResolveReply(ctx context.Context, messageID string) (models.Message, error) {
	sel := s.Selected()
	if sel.IsZero() {
		return models.Message{}, reply.ErrMessageNotFound
	}
	return s.resolver.Resolve(ctx, sel.ChatID, messageID)
}

// CreateChat opens a one-to-one chat with the participant and tracks it.
func (s *Session) CreateChat(ctx context.Context, participantID string) (string, error) {
	chatID, err := s.api.CreateChat(ctx, participantID)
	if err != nil {
		return "", err
	}
	s.inbox.Track(chatID, participantID, models.LastMessage{})
	return chatID, nil
}

// DeleteChat removes the conversation server-side, then discards its buckets
// wholesale and flags the inbox entry.
func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.api.DeleteChat(ctx, chatID); err != nil {
		s.notify("Failed to delete chat")
		return err
	}
	if s.Selected().ChatID == chatID {
		s.ClearSelection()
	}
	s.store.DropChat(chatID)
	s.inbox.MarkDeleted(chatID)
	return nil
}

// handleEvent applies one inbound frame. Handlers operate on the store's
// current snapshot at apply-time - never on state captured when the channel
// was built - so a seen batch racing a delete lands correctly.
func (s *Session) handleEvent(chatID string, ev models.Event) {
	switch ev.Action {
	case models.ActionMessage:
		s.store.Append(chatID, ev.Message())
	case models.ActionDelete:
		s.store.Remove(chatID, ev.MessageID)
	case models.ActionSeen:
		if ev.SeenTimestamp != nil {
			s.store.MarkOutboundSeen(chatID, s.UserID(), *ev.SeenTimestamp)
		}
	}
}

// newMessageID builds the client-side message id: a base36 millisecond
// timestamp prefix, so optimistic appends sort correctly before server
// confirmation, plus a short random suffix.
func newMessageID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return ts + "-" + suffix
}
