// Package reply resolves reply references to their original messages, paging
// further back into history when the target is not loaded yet.
package reply

import (
	"context"
	"errors"

	"whispr/client/internal/models"
)

// ErrMessageNotFound means the reply target does not exist in the entire
// history - typically because it was deleted. Callers render a degraded
// "message not found" state instead of failing.
var ErrMessageNotFound = errors.New("replied-to message not found")

// Store is the read side of the message store the resolver needs.
type Store interface {
	Find(chatID, messageID string) (models.Message, bool)
	HistoryExhausted(chatID string) bool
}

// Pager fetches one older history page. The pagination controller satisfies it.
type Pager interface {
	FetchOlder(ctx context.Context, chatID string) (bool, error)
}

// Resolver looks reply targets up across all loaded buckets and drives
// pagination until the target appears or history runs out.
type Resolver struct {
	store Store
	pager Pager
}

// New builds a resolver on top of the store and the pagination controller.
func New(store Store, pager Pager) *Resolver {
	return &Resolver{store: store, pager: pager}
}

// Resolve returns the referenced message. Loaded buckets are scanned first;
// while the target is absent and older history remains, one more page is
// fetched and the scan repeated. Once the oldest page is loaded and the id is
// still absent, resolution fails with ErrMessageNotFound rather than looping.
func (r *Resolver) Resolve(ctx context.Context, chatID, messageID string) (models.Message, error) {
	for {
		if m, ok := r.store.Find(chatID, messageID); ok {
			return m, nil
		}
		if r.store.HistoryExhausted(chatID) {
			return models.Message{}, ErrMessageNotFound
		}

		merged, err := r.pager.FetchOlder(ctx, chatID)
		if err != nil {
			return models.Message{}, err
		}
		if !merged {
			// Nothing new arrived and history is not exhausted: the fetch was
			// dropped (stale completion or a competing request). Give up
			// rather than spin.
			return models.Message{}, ErrMessageNotFound
		}
	}
}
