package store

import (
	"sort"
	"sync"

	"whispr/client/internal/config"
	"whispr/client/internal/models"
)

// RecentIndex is the bucket index reported by Locate for messages living in the
// live recent tail. Numbered history pages use their real index (0 = oldest).
const RecentIndex = -1

// chatEntry is the per-chat bucket set: the unbounded recent tail plus the
// numbered history pages fetched so far. bucketCount is the total number of
// history pages the server reported for the chat, or -1 while unknown.
type chatEntry struct {
	recent      []models.Message
	pages       map[int][]models.Message
	bucketCount int
}

func newChatEntry() *chatEntry {
	return &chatEntry{pages: make(map[int][]models.Message), bucketCount: -1}
}

// MessageStore is the process-wide, in-memory message state for all chats.
// Every entry point takes the lock and works on the current snapshot, so
// concurrent handlers (socket events, HTTP completions, user actions) are
// serialized the same way the mutations of a single-threaded event loop are.
//
// The version counter increases on every committed mutation and lets callers
// detect that state moved underneath a suspension point.
type MessageStore struct {
	mu      sync.Mutex
	version uint64
	chats   map[string]*chatEntry

	pageThreshold int
	onChange      func(chatID string)
}

// New returns an empty store using the configured recent-page threshold.
func New() *MessageStore {
	return &MessageStore{
		chats:         make(map[string]*chatEntry),
		pageThreshold: config.RecentPageThreshold,
	}
}

// SetOnChange installs the hook fired after every committed mutation that can
// change a chat's latest message (seed, append, remove). The hook runs strictly
// after the mutation, outside the lock; seen updates never fire it.
func (s *MessageStore) SetOnChange(fn func(chatID string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MessageStore) changed(chatID string) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(chatID)
	}
}

// Version returns the current mutation counter.
func (s *MessageStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *MessageStore) entry(chatID string) *chatEntry {
	e, ok := s.chats[chatID]
	if !ok {
		e = newChatEntry()
		s.chats[chatID] = e
	}
	return e
}

// SeedRecent replaces the chat's recent bucket with a freshly fetched page and
// records how many numbered history pages the server holds. The returned flag
// tells the caller to prefetch one older page so a first open is never
// under-filled: it is set when fewer than the page threshold arrived and older
// history exists.
func (s *MessageStore) SeedRecent(chatID string, msgs []models.Message, bucketCount int) (underfilled bool) {
	s.mu.Lock()
	e := s.entry(chatID)
	e.recent = append([]models.Message(nil), msgs...)
	if e.bucketCount >= 0 && bucketCount != e.bucketCount {
		// The server re-paged history since the last sync (part of the old
		// tail was archived). Loaded pages end at the old newest index, so
		// keeping them would leave a hole between them and the new count
		// that the downward walk could never fill. Drop and refetch.
		e.pages = make(map[int][]models.Message)
	}
	e.bucketCount = bucketCount
	s.version++
	underfilled = len(msgs) < s.pageThreshold && bucketCount > 0 && !e.exhausted()
	s.mu.Unlock()

	s.changed(chatID)
	return underfilled
}

// MergeHistoryPage inserts a numbered history bucket. Merging an index that is
// already present is a silent no-op (idempotent against duplicate fetches), and
// messages whose id is already loaded in any bucket are dropped so an id never
// appears twice.
func (s *MessageStore) MergeHistoryPage(chatID string, index int, msgs []models.Message) bool {
	if index < 0 {
		return false
	}

	s.mu.Lock()
	e := s.entry(chatID)
	if _, exists := e.pages[index]; exists {
		s.mu.Unlock()
		return false
	}

	page := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if e.locate(m.ID) == nil {
			page = append(page, m)
		}
	}
	e.pages[index] = page
	if index+1 > e.bucketCount {
		e.bucketCount = index + 1
	}
	s.version++
	s.mu.Unlock()

	s.changed(chatID)
	return true
}

// Append adds a message to the chat's recent tail. The whole loaded set is
// scanned first so a duplicate id (optimistic send echoed back, redelivered
// frame) is dropped rather than stored twice.
func (s *MessageStore) Append(chatID string, msg models.Message) bool {
	s.mu.Lock()
	e := s.entry(chatID)
	if e.locate(msg.ID) != nil {
		s.mu.Unlock()
		return false
	}
	e.recent = append(e.recent, msg)
	s.version++
	s.mu.Unlock()

	s.changed(chatID)
	return true
}

// Remove deletes a message wherever it lives: the recent tail or any loaded
// history page. A delete confirmation may arrive after the message was
// paginated into history, so the search covers the entire bucket set. Every
// other loaded message that replied to it gets its reply reference cleared.
func (s *MessageStore) Remove(chatID, messageID string) bool {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	removed := false
	if i := indexOf(e.recent, messageID); i >= 0 {
		e.recent = append(e.recent[:i], e.recent[i+1:]...)
		removed = true
	} else {
		for idx, page := range e.pages {
			if i := indexOf(page, messageID); i >= 0 {
				e.pages[idx] = append(page[:i], page[i+1:]...)
				removed = true
				break
			}
		}
	}
	if !removed {
		s.mu.Unlock()
		return false
	}

	e.clearReplyRefs(messageID)
	s.version++
	s.mu.Unlock()

	s.changed(chatID)
	return true
}

// Locate reports which retention tier holds the message: RecentIndex for the
// live tail, or the history page index. The unsend endpoints are split by tier,
// so callers need this before issuing a delete.
func (s *MessageStore) Locate(chatID, messageID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return 0, false
	}
	loc := e.locate(messageID)
	if loc == nil {
		return 0, false
	}
	return *loc, true
}

// Find returns a copy of the message with the given id from any loaded bucket.
func (s *MessageStore) Find(chatID, messageID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return models.Message{}, false
	}
	if i := indexOf(e.recent, messageID); i >= 0 {
		return e.recent[i], true
	}
	for _, page := range e.pages {
		if i := indexOf(page, messageID); i >= 0 {
			return page[i], true
		}
	}
	return models.Message{}, false
}

// Flatten returns the chat's loaded messages in chronological order: numbered
// pages ascending (0 = oldest first), then the recent tail.
func (s *MessageStore) Flatten(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]models.Message, 0, e.size())
	for _, idx := range e.sortedPageIndexes() {
		out = append(out, e.pages[idx]...)
	}
	out = append(out, e.recent...)
	return out
}

// LastMessage returns the chronologically last loaded message of the chat.
func (s *MessageStore) LastMessage(chatID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return models.Message{}, false
	}
	if n := len(e.recent); n > 0 {
		return e.recent[n-1], true
	}
	idxs := e.sortedPageIndexes()
	for i := len(idxs) - 1; i >= 0; i-- {
		if page := e.pages[idxs[i]]; len(page) > 0 {
			return page[len(page)-1], true
		}
	}
	return models.Message{}, false
}

// NextOlderIndex returns the history page the pagination controller should
// request next. Loaded pages always form a contiguous run ending at the newest
// history page, so the next one older is min(loaded)-1, seeded from the
// server-reported bucket count. ok is false when history is exhausted or the
// chat has not been seeded yet.
func (s *MessageStore) NextOlderIndex(chatID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok || e.bucketCount <= 0 {
		return 0, false
	}
	if len(e.pages) == 0 {
		return e.bucketCount - 1, true
	}
	min := e.sortedPageIndexes()[0]
	if min == 0 {
		return 0, false
	}
	return min - 1, true
}

// HistoryExhausted reports that no older history remains: the oldest page
// (index 0) is loaded, or the server reported no history pages at all.
func (s *MessageStore) HistoryExhausted(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return false
	}
	return e.exhausted()
}

// HasPage reports whether the numbered bucket is loaded.
func (s *MessageStore) HasPage(chatID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return false
	}
	_, got := e.pages[index]
	return got
}

// PageIndexes returns the loaded history page indexes in ascending order.
func (s *MessageStore) PageIndexes(chatID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return e.sortedPageIndexes()
}

// Recent returns a copy of the chat's recent bucket.
func (s *MessageStore) Recent(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return append([]models.Message(nil), e.recent...)
}

// DropChat discards the chat's buckets wholesale (chat deleted).
func (s *MessageStore) DropChat(chatID string) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.version++
	s.mu.Unlock()
}

// Reset tears down the whole store (logout).
func (s *MessageStore) Reset() {
	s.mu.Lock()
	s.chats = make(map[string]*chatEntry)
	s.version++
	s.mu.Unlock()
}

// --- chatEntry helpers (callers hold the store lock) ---

func (e *chatEntry) locate(messageID string) *int {
	if indexOf(e.recent, messageID) >= 0 {
		idx := RecentIndex
		return &idx
	}
	for idx, page := range e.pages {
		if indexOf(page, messageID) >= 0 {
			idx := idx
			return &idx
		}
	}
	return nil
}

func (e *chatEntry) clearReplyRefs(messageID string) {
	for i := range e.recent {
		if e.recent[i].RepliesTo(messageID) {
			e.recent[i].ClearReplyRef()
		}
	}
	for _, page := range e.pages {
		for i := range page {
			if page[i].RepliesTo(messageID) {
				page[i].ClearReplyRef()
			}
		}
	}
}

func (e *chatEntry) sortedPageIndexes() []int {
	idxs := make([]int, 0, len(e.pages))
	for idx := range e.pages {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

func (e *chatEntry) size() int {
	n := len(e.recent)
	for _, page := range e.pages {
		n += len(page)
	}
	return n
}

func (e *chatEntry) exhausted() bool {
	if e.bucketCount == 0 {
		return true
	}
	_, ok := e.pages[0]
	return ok
}

func indexOf(msgs []models.Message, messageID string) int {
	for i := range msgs {
		if msgs[i].ID == messageID {
			return i
		}
	}
	return -1
}
