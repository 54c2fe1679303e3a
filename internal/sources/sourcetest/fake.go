// Package sourcetest provides an in-memory Source for pipeline tests.
package sourcetest

import (
	"context"
	"sync"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
)

// Fake is an in-memory service. Writes are recorded and applied to its
// state, so a second run sees what the first one wrote.
type Fake struct {
	mu sync.Mutex

	SourceName string
	// Scale is the native rating scale, 10 when zero
	Scale int
	// NativeIncremental disables the orchestrator's timestamp gate
	NativeIncremental bool

	Watchlist []models.WatchlistItem
	// Ratings hold native values; reads return them on the canonical scale
	Ratings []models.Rating
	Reviews []models.Review
	History []models.WatchHistory

	// Lookups answers LookupIDs by title; Priority 0 means "not a provider"
	Lookups  map[string]models.MediaIDs
	Priority int

	AuthErr    error
	ReadErrs   map[models.DataType]error
	WriteErrs  map[models.DataType]error
	CleanupErr error
	// PartialReads returns the stored items along with a read error
	PartialReads bool

	// Recorded calls
	Authenticated   int
	CleanedUp       bool
	ForceFull       bool
	AddedWatchlist  []models.WatchlistItem
	RemovedWatch    []models.WatchlistItem
	WrittenRatings  []models.Rating
	WrittenReviews  []models.Review
	WrittenHistory  []models.WatchHistory
	LookupCallCount int
}

// New creates a fake named name
func New(name string) *Fake {
	return &Fake{SourceName: name}
}

func (f *Fake) Name() string { return f.SourceName }

func (f *Fake) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Authenticated++
	return f.AuthErr
}

func (f *Fake) readErr(dt models.DataType) error {
	if f.ReadErrs == nil {
		return nil
	}
	return f.ReadErrs[dt]
}

func (f *Fake) writeErr(dt models.DataType) error {
	if f.WriteErrs == nil {
		return nil
	}
	return f.WriteErrs[dt]
}

func (f *Fake) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.readErr(models.DataWatchlist)
	if err != nil && !f.PartialReads {
		return nil, err
	}
	return append([]models.WatchlistItem(nil), f.Watchlist...), err
}

func (f *Fake) GetRatings(ctx context.Context) ([]models.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.readErr(models.DataRatings)
	if err != nil && !f.PartialReads {
		return nil, err
	}
	out := make([]models.Rating, 0, len(f.Ratings))
	for _, r := range f.Ratings {
		r.Value = f.NormalizeRating(float64(r.Value), sources.CanonicalScale)
		out = append(out, r)
	}
	return out, err
}

func (f *Fake) GetReviews(ctx context.Context) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.readErr(models.DataReviews)
	if err != nil && !f.PartialReads {
		return nil, err
	}
	return append([]models.Review(nil), f.Reviews...), err
}

func (f *Fake) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.readErr(models.DataWatchHistory)
	if err != nil && !f.PartialReads {
		return nil, err
	}
	return append([]models.WatchHistory(nil), f.History...), err
}

func (f *Fake) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(models.DataWatchlist); err != nil {
		return err
	}
	for _, item := range items {
		f.AddedWatchlist = append(f.AddedWatchlist, item)
		item.Source = f.SourceName
		f.Watchlist = append(f.Watchlist, item)
	}
	return nil
}

func (f *Fake) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(models.DataWatchlist); err != nil {
		return err
	}
	f.RemovedWatch = append(f.RemovedWatch, items...)

	remove := make(map[string]bool, len(items))
	for _, item := range items {
		remove[item.PrimaryID()] = true
	}
	kept := f.Watchlist[:0]
	for _, item := range f.Watchlist {
		if !remove[item.PrimaryID()] {
			kept = append(kept, item)
		}
	}
	f.Watchlist = kept
	return nil
}

func (f *Fake) SetRatings(ctx context.Context, ratings []models.Rating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(models.DataRatings); err != nil {
		return err
	}
	for _, r := range ratings {
		r.Value = int(f.DenormalizeRating(r.Value, sources.CanonicalScale))
		f.WrittenRatings = append(f.WrittenRatings, r)
		r.Source = f.SourceName
		f.Ratings = append(f.Ratings, r)
	}
	return nil
}

func (f *Fake) SetReviews(ctx context.Context, reviews []models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(models.DataReviews); err != nil {
		return err
	}
	for _, r := range reviews {
		f.WrittenReviews = append(f.WrittenReviews, r)
		r.Source = f.SourceName
		f.Reviews = append(f.Reviews, r)
	}
	return nil
}

func (f *Fake) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(models.DataWatchHistory); err != nil {
		return err
	}
	for _, h := range items {
		f.WrittenHistory = append(f.WrittenHistory, h)
		h.Source = f.SourceName
		f.History = append(f.History, h)
	}
	return nil
}

func (f *Fake) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CleanedUp = true
	return f.CleanupErr
}

// Rating capability

func (f *Fake) scale() sources.ScaleNormalizer {
	if f.Scale == 0 {
		return sources.ScaleNormalizer{Scale: sources.CanonicalScale}
	}
	return sources.ScaleNormalizer{Scale: f.Scale}
}

func (f *Fake) NativeRatingScale() int { return f.scale().Scale }

func (f *Fake) NormalizeRating(value float64, targetScale int) int {
	return f.scale().NormalizeRating(value, targetScale)
}

func (f *Fake) DenormalizeRating(value int, sourceScale int) float64 {
	return f.scale().DenormalizeRating(value, sourceScale)
}

// Incremental capability

func (f *Fake) SetForceFullSync(force bool) { f.ForceFull = force }

func (f *Fake) SupportsNativeIncremental() bool { return f.NativeIncremental }

// Lookup capability

func (f *Fake) LookupIDs(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaIDs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LookupCallCount++
	if ids, ok := f.Lookups[title]; ok {
		return &ids, nil
	}
	return nil, nil
}

func (f *Fake) LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*sources.LookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for title, ids := range f.Lookups {
		if ids.IMDB == imdbID {
			return &sources.LookupResult{Title: title, Year: ids.Year, IDs: ids}, nil
		}
	}
	return nil, nil
}

func (f *Fake) LookupPriority() int        { return f.Priority }
func (f *Fake) LookupProviderName() string { return f.SourceName }
func (f *Fake) IsLookupAvailable() bool    { return f.Priority > 0 }

// Snapshot helpers for assertions

// Written returns copies of every recorded write
func (f *Fake) Written() (added, removed []models.WatchlistItem, ratings []models.Rating, reviews []models.Review, history []models.WatchHistory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(added, f.AddedWatchlist...),
		append(removed, f.RemovedWatch...),
		append(ratings, f.WrittenRatings...),
		append(reviews, f.WrittenReviews...),
		append(history, f.WrittenHistory...)
}

// ResetWrites forgets recorded writes but keeps state
func (f *Fake) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddedWatchlist = nil
	f.RemovedWatch = nil
	f.WrittenRatings = nil
	f.WrittenReviews = nil
	f.WrittenHistory = nil
}

var (
	_ sources.Source            = (*Fake)(nil)
	_ sources.RatingNormalizer  = (*Fake)(nil)
	_ sources.IncrementalSyncer = (*Fake)(nil)
	_ sources.IDLookupProvider  = (*Fake)(nil)
)
