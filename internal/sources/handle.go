package sources

import (
	"context"
	"sync"

	"github.com/amaumene/totalrecall/internal/models"
)

// Handle shares one adapter between concurrent tasks. Reads and writes
// take the read lock and may overlap; Authenticate, SetForceFullSync and
// Cleanup take the write lock.
type Handle struct {
	mu  sync.RWMutex
	src Source
}

// NewHandle wraps src
func NewHandle(src Source) *Handle {
	if h, ok := src.(*Handle); ok {
		return h
	}
	return &Handle{src: src}
}

// Unwrap returns the adapter itself
func (h *Handle) Unwrap() Source { return h.src }

func (h *Handle) Name() string { return h.src.Name() }

func (h *Handle) Authenticate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.src.Authenticate(ctx)
}

// SetForceFullSync forwards to the incremental capability when present
func (h *Handle) SetForceFullSync(force bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i, ok := h.src.(IncrementalSyncer); ok {
		i.SetForceFullSync(force)
	}
}

func (h *Handle) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.src.Cleanup(ctx)
}

func (h *Handle) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.GetWatchlist(ctx)
}

func (h *Handle) GetRatings(ctx context.Context) ([]models.Rating, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.GetRatings(ctx)
}

func (h *Handle) GetReviews(ctx context.Context) ([]models.Review, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.GetReviews(ctx)
}

func (h *Handle) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.GetWatchHistory(ctx)
}

func (h *Handle) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.AddToWatchlist(ctx, items)
}

func (h *Handle) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.RemoveFromWatchlist(ctx, items)
}

func (h *Handle) SetRatings(ctx context.Context, ratings []models.Rating) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.SetRatings(ctx, ratings)
}

func (h *Handle) SetReviews(ctx context.Context, reviews []models.Review) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.SetReviews(ctx, reviews)
}

func (h *Handle) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src.AddWatchHistory(ctx, items)
}
