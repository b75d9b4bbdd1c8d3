// Package paginate decides when and how older history is pulled into the
// message store: one page at a time, one request in flight, without moving the
// user's viewport.
package paginate

import (
	"context"
	"sync"

	"whispr/client/internal/api"
	"whispr/client/internal/models"
)

// Store is the slice of the message store the controller needs.
type Store interface {
	NextOlderIndex(chatID string) (int, bool)
	MergeHistoryPage(chatID string, index int, msgs []models.Message) bool
}

// Fetcher loads one numbered history page. *api.Client satisfies it.
type Fetcher interface {
	FetchOlder(ctx context.Context, chatID string, index int) (api.HistoryPage, error)
}

// Controller serializes history fetches for the visible scroll surface. It is
// triggered by the bulk-sync underfill signal and by the viewport reaching its
// oldest-loaded edge; concurrent duplicate triggers collapse into one request.
type Controller struct {
	mu       sync.Mutex
	inflight bool

	store Store
	fetch Fetcher

	// current reports the currently selected chat id. A completion whose
	// requested chat no longer matches is stale and gets discarded.
	current func() string

	viewport Viewport
}

// New builds a controller. current may be nil when staleness tracking is not
// needed (tests, single-chat tools).
func New(store Store, fetch Fetcher, current func() string) *Controller {
	return &Controller{store: store, fetch: fetch, current: current}
}

// SetViewport attaches the scroll surface whose anchor must survive merges.
func (p *Controller) SetViewport(v Viewport) {
	p.mu.Lock()
	p.viewport = v
	p.mu.Unlock()
}

// InFlight reports whether a fetch is currently outstanding.
func (p *Controller) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// FetchOlder requests the next older history page for the chat and merges it.
// Returns whether a page was merged. No-ops: a fetch already in flight, history
// exhausted, or a completion that arrived after the selected chat changed.
// The scroll anchor is captured before the merge and restored after it.
func (p *Controller) FetchOlder(ctx context.Context, chatID string) (bool, error) {
	p.mu.Lock()
	if p.inflight {
		p.mu.Unlock()
		return false, nil
	}
	p.inflight = true
	view := p.viewport
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inflight = false
		p.mu.Unlock()
	}()

	index, ok := p.store.NextOlderIndex(chatID)
	if !ok {
		return false, nil
	}

	anchor := CaptureAnchor(view)

	page, err := p.fetch.FetchOlder(ctx, chatID, index)
	if err != nil {
		return false, err
	}

	// The fetch suspended us; the user may have switched chats meanwhile.
	// In-flight requests are not cancelled, their completions are discarded.
	if p.current != nil && p.current() != chatID {
		return false, nil
	}

	merged := p.store.MergeHistoryPage(chatID, page.Bucket.Index, page.Bucket.Messages)
	if merged {
		anchor.Restore(view)
	}
	return merged, nil
}
