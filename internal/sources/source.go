// Package sources defines the contract every media service adapter implements
// and the optional capabilities the pipeline discovers at runtime.
package sources

import (
	"context"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
)

// Source is one media service: four reads, five batch writes.
// Writes must skip items already in the desired state.
type Source interface {
	// Name is the stable tag used in source_preference
	Name() string

	// Authenticate is idempotent and may refresh tokens
	Authenticate(ctx context.Context) error

	GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error)
	GetRatings(ctx context.Context) ([]models.Rating, error)
	GetReviews(ctx context.Context) ([]models.Review, error)
	GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error)

	AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error
	RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error
	SetRatings(ctx context.Context, ratings []models.Rating) error
	SetReviews(ctx context.Context, reviews []models.Review) error
	AddWatchHistory(ctx context.Context, items []models.WatchHistory) error

	// Cleanup releases external resources
	Cleanup(ctx context.Context) error
}

// RatingNormalizer converts between a service's native scale and other scales
type RatingNormalizer interface {
	NativeRatingScale() int
	// NormalizeRating converts a native value to targetScale
	NormalizeRating(value float64, targetScale int) int
	// DenormalizeRating converts a value on sourceScale to the native scale
	DenormalizeRating(value int, sourceScale int) float64
}

// IncrementalSyncer is implemented by services that can fetch deltas
type IncrementalSyncer interface {
	SetForceFullSync(force bool)
	// SupportsNativeIncremental is true when the service computes deltas itself,
	// which disables the per-target timestamp gate
	SupportsNativeIncremental() bool
}

// IDExtractor maps a service-native ids object to a bundle
type IDExtractor interface {
	ExtractIDs(raw json.RawMessage) (models.MediaIDs, error)
}

// LookupResult is a reverse lookup answer
type LookupResult struct {
	Title string
	Year  int
	IDs   models.MediaIDs
}

// IDLookupProvider resolves titles and IMDb IDs to identifier bundles
type IDLookupProvider interface {
	LookupIDs(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaIDs, error)
	LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*LookupResult, error)
	// LookupPriority orders providers, highest first
	LookupPriority() int
	LookupProviderName() string
	IsLookupAvailable() bool
}

// StatusMapper marks services whose statuses need a configured vocabulary
type StatusMapper interface {
	RequiresStatusMapping() bool
}

// unwrap returns the adapter behind a Handle so capability checks see the concrete type
func unwrap(s Source) Source {
	if h, ok := s.(*Handle); ok {
		return h.src
	}
	return s
}

// RatingNormalizerOf returns the rating capability, a 1..10 identity when absent
func RatingNormalizerOf(s Source) RatingNormalizer {
	if n, ok := unwrap(s).(RatingNormalizer); ok {
		return n
	}
	return ScaleNormalizer{Scale: CanonicalScale}
}

// IncrementalSyncerOf returns the incremental capability or nil
func IncrementalSyncerOf(s Source) IncrementalSyncer {
	if i, ok := unwrap(s).(IncrementalSyncer); ok {
		return i
	}
	return nil
}

// IDExtractorOf returns the ID extraction capability or nil
func IDExtractorOf(s Source) IDExtractor {
	if e, ok := unwrap(s).(IDExtractor); ok {
		return e
	}
	return nil
}

// IDLookupProviderOf returns the lookup capability or nil
func IDLookupProviderOf(s Source) IDLookupProvider {
	if p, ok := unwrap(s).(IDLookupProvider); ok {
		return p
	}
	return nil
}

// RequiresStatusMapping reports whether s declares the status mapping marker
func RequiresStatusMapping(s Source) bool {
	if m, ok := unwrap(s).(StatusMapper); ok {
		return m.RequiresStatusMapping()
	}
	return false
}

// HandlesIncrementalNatively reports whether the timestamp gate should be skipped for s
func HandlesIncrementalNatively(s Source) bool {
	if i := IncrementalSyncerOf(s); i != nil {
		return i.SupportsNativeIncremental()
	}
	return false
}
