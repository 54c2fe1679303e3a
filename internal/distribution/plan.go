package distribution

import (
	"fmt"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/models"
)

// Plan is everything one target receives in a run
type Plan struct {
	Target             string
	Watchlist          []models.WatchlistItem
	WatchlistToHistory []models.WatchHistory
	Removals           []models.WatchlistItem
	Ratings            []models.Rating
	Reviews            []models.Review
	WatchHistory       []models.WatchHistory
	Excluded           []models.ExcludedItem
	// Deduplicated counts items the target already holds
	Deduplicated map[models.DataType]int
}

// Total returns the number of writes the plan issues
func (p *Plan) Total() int {
	return len(p.Watchlist) + len(p.WatchlistToHistory) + len(p.Removals) +
		len(p.Ratings) + len(p.Reviews) + len(p.WatchHistory)
}

// DeduplicatedTotal sums the deduplication counts
func (p *Plan) DeduplicatedTotal() int {
	n := 0
	for _, c := range p.Deduplicated {
		n += c
	}
	return n
}

// Save writes the preview buckets and the excluded items of the plan
func (p *Plan) Save(m *cache.Manager) error {
	buckets := []struct {
		name  string
		items any
	}{
		{cache.BucketWatchlist, p.Watchlist},
		{cache.BucketWatchlistToHistory, p.WatchlistToHistory},
		{cache.BucketRatings, p.Ratings},
		{cache.BucketReviews, p.Reviews},
		{cache.BucketWatchHistory, p.WatchHistory},
		{cache.BucketRemovalList, p.Removals},
	}
	for _, b := range buckets {
		if err := m.SaveDistribute(p.Target, b.name, b.items); err != nil {
			return fmt.Errorf("failed to save %s preview for %s: %w", b.name, p.Target, err)
		}
	}
	if err := m.SaveDistributeExcluded(p.Target, p.Excluded); err != nil {
		return fmt.Errorf("failed to save excluded items for %s: %w", p.Target, err)
	}
	return nil
}
