package controllers

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/idcache"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/sources/sourcetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl  *SyncController
	cfg   *config.Config
	store *credentials.Store
	cache *cache.Manager
}

func newHarness(t *testing.T, configure func(*config.Config), fakes ...*sourcetest.Fake) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	paths := config.PathsAt(t.TempDir())
	require.NoError(t, paths.EnsureDirectories())

	store, err := credentials.Open(paths.CredentialsFile())
	require.NoError(t, err)
	db, err := models.NewDatabase(paths.StateDB())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	names := make([]string, 0, len(fakes))
	srcs := make([]sources.Source, 0, len(fakes))
	for _, f := range fakes {
		names = append(names, f.SourceName)
		srcs = append(srcs, f)
	}

	cfg := &config.Config{
		Resolution: config.ResolutionConfig{
			Strategy:                  string(config.StrategyMostRecent),
			SourcePreference:          names,
			TimestampToleranceSeconds: 60,
		},
		Sync: config.SyncOptions{
			SyncWatchlist:    true,
			SyncRatings:      true,
			SyncReviews:      true,
			SyncWatchHistory: true,
		},
		Paths: paths,
	}
	if configure != nil {
		configure(cfg)
	}

	cacheMgr := cache.NewManager(paths, logger)
	ctrl := NewSyncController(cfg, srcs, store, cacheMgr, idcache.New(db, logger), logger, WithDatabase(db))
	return &harness{ctrl: ctrl, cfg: cfg, store: store, cache: cacheMgr}
}

func (h *harness) run(t *testing.T, opts RunOptions) *SyncResult {
	t.Helper()
	result, err := h.ctrl.Run(context.Background(), opts)
	require.NoError(t, err)
	return result
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rating(imdb string, value int, at time.Time) models.Rating {
	return models.Rating{IMDbID: imdb, IDs: models.MediaIDs{IMDB: imdb}, Value: value, DateAdded: at, Kind: models.Movie()}
}

func watchlistItem(imdb string, status models.NormalizedStatus) models.WatchlistItem {
	return models.WatchlistItem{
		IMDbID:    imdb,
		IDs:       models.MediaIDs{IMDB: imdb},
		Title:     "Film " + imdb,
		Kind:      models.Movie(),
		DateAdded: time.Now().Add(-time.Hour).Truncate(time.Second),
		Status:    status,
	}
}

func withSource[T any](items []T, set func(*T)) []T {
	for i := range items {
		set(&items[i])
	}
	return items
}

func TestCrossSourceRatingMigration(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	h := newHarness(t, nil, a, b)

	result := h.run(t, RunOptions{})

	_, _, toB, _, _ := b.Written()
	_, _, toA, _, _ := a.Written()
	require.Len(t, toB, 1)
	assert.Equal(t, "tt0111161", toB[0].IMDbID)
	assert.Equal(t, 9, toB[0].Value)
	assert.Empty(t, toA)
	assert.Equal(t, 1, result.ItemsSynced)
	assert.Empty(t, result.Errors)
}

func TestTieWithinToleranceUsesPreference(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 8, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))}
	a.Ratings[0].Source = "a"
	b.Ratings = []models.Rating{rating("tt0111161", 9, time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC))}
	b.Ratings[0].Source = "b"
	h := newHarness(t, nil, a, b)

	h.run(t, RunOptions{})

	_, _, toB, _, _ := b.Written()
	_, _, toA, _, _ := a.Written()
	require.Len(t, toB, 1)
	assert.Equal(t, 8, toB[0].Value)
	assert.Empty(t, toA)
}

func TestRatingScaleNormalization(t *testing.T) {
	a, c := sourcetest.New("a"), sourcetest.New("c")
	c.Scale = 5
	a.Ratings = []models.Rating{rating("tt0000010", 8, day(2024, 2, 1))}
	a.Ratings[0].Source = "a"
	c.Ratings = []models.Rating{rating("tt0000011", 4, day(2024, 2, 1))}
	c.Ratings[0].Source = "c"
	h := newHarness(t, nil, a, c)

	h.run(t, RunOptions{})

	_, _, toA, _, _ := a.Written()
	_, _, toC, _, _ := c.Written()
	require.Len(t, toA, 1)
	assert.Equal(t, "tt0000011", toA[0].IMDbID)
	assert.Equal(t, 8, toA[0].Value, "4 of 5 is 8 of 10")
	require.Len(t, toC, 1)
	assert.Equal(t, 4, toC[0].Value, "8 of 10 is written back as 4 of 5")
}

func TestWatchedItemsAreRemovedFromWatchlists(t *testing.T) {
	a, target := sourcetest.New("a"), sourcetest.New("t")
	a.Watchlist = withSource([]models.WatchlistItem{watchlistItem("tt0000001", models.StatusWatchlist)}, func(w *models.WatchlistItem) { w.Source = "a" })
	a.History = []models.WatchHistory{{IMDbID: "tt0000001", IDs: models.MediaIDs{IMDB: "tt0000001"}, Kind: models.Movie(), WatchedAt: time.Now().Add(-time.Minute), Source: "a"}}
	target.Watchlist = withSource([]models.WatchlistItem{watchlistItem("tt0000001", models.StatusWatchlist)}, func(w *models.WatchlistItem) { w.Source = "t" })
	h := newHarness(t, func(cfg *config.Config) { cfg.Sync.RemoveWatchedFromWatchlists = true }, a, target)

	h.run(t, RunOptions{})

	added, removed, _, _, _ := target.Written()
	assert.Empty(t, added)
	require.Len(t, removed, 1)
	assert.Equal(t, "tt0000001", removed[0].IMDbID)

	var preview []models.WatchlistItem
	ok, err := h.cache.LoadDistribute("t", cache.BucketRemovalList, &preview)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, preview, 1)
}

func TestTargetSpecificSplit(t *testing.T) {
	origin, trakt, simkl := sourcetest.New("plex"), sourcetest.New("trakt"), sourcetest.New("simkl")
	origin.Watchlist = withSource([]models.WatchlistItem{watchlistItem("tt0000002", models.StatusCompleted)}, func(w *models.WatchlistItem) { w.Source = "plex" })
	h := newHarness(t, func(cfg *config.Config) { cfg.Sync.SyncWatchHistory = false }, origin, trakt, simkl)

	h.run(t, RunOptions{})

	traktAdded, _, _, _, traktHistory := trakt.Written()
	assert.Empty(t, traktAdded)
	require.Len(t, traktHistory, 1)
	assert.Equal(t, "tt0000002", traktHistory[0].IMDbID)

	simklAdded, _, _, _, simklHistory := simkl.Written()
	require.Len(t, simklAdded, 1)
	assert.Equal(t, models.StatusCompleted, simklAdded[0].Status)
	assert.Empty(t, simklHistory)
}

func TestMissingIdentifierIsCachedButNotDistributed(t *testing.T) {
	d, e := sourcetest.New("d"), sourcetest.New("e")
	d.Watchlist = []models.WatchlistItem{{Title: "Unknown Film", Kind: models.Movie(), Source: "d", DateAdded: time.Now()}}
	h := newHarness(t, nil, d, e)

	result := h.run(t, RunOptions{})
	assert.Equal(t, 0, result.ItemsSynced)

	collected, ok, err := h.cache.LoadCollection("d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, collected.Watchlist, 1)

	var excluded []models.ExcludedItem
	ok, err = h.cache.LoadDistribute("d", cache.BucketExcluded, &excluded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, excluded, 1)
	assert.Equal(t, "no identifier", excluded[0].Reason)

	added, _, _, _, _ := e.Written()
	assert.Empty(t, added)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Watchlist = []models.WatchlistItem{watchlistItem("tt0000003", models.StatusWatchlist)}
	a.Reviews = []models.Review{{IMDbID: "tt0111161", IDs: models.MediaIDs{IMDB: "tt0111161"}, Content: "Hope is a good thing.", DateAdded: day(2024, 1, 2), Kind: models.Movie()}}
	a.History = []models.WatchHistory{{IMDbID: "tt0111161", IDs: models.MediaIDs{IMDB: "tt0111161"}, Kind: models.Movie(), WatchedAt: time.Date(2023, 12, 31, 21, 0, 0, 0, time.UTC)}}
	a.Ratings[0].Source, a.Watchlist[0].Source, a.Reviews[0].Source, a.History[0].Source = "a", "a", "a", "a"
	b.Ratings = []models.Rating{rating("tt0000004", 6, day(2024, 3, 1))}
	b.Ratings[0].Source = "b"
	h := newHarness(t, nil, a, b)

	first := h.run(t, RunOptions{})
	assert.Equal(t, 5, first.ItemsSynced)

	a.ResetWrites()
	b.ResetWrites()
	second := h.run(t, RunOptions{})
	assert.Equal(t, 0, second.ItemsSynced)
	assert.Empty(t, second.Errors)

	for _, target := range []string{"a", "b"} {
		for _, bucket := range []string{cache.BucketWatchlist, cache.BucketWatchlistToHistory, cache.BucketRatings, cache.BucketReviews, cache.BucketWatchHistory, cache.BucketRemovalList} {
			var items []map[string]any
			ok, err := h.cache.LoadDistribute(target, bucket, &items)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Empty(t, items, "%s/%s", target, bucket)
		}
	}

	runs, err := h.ctrl.RecentRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestLastSyncIsRecordedPerTarget(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	b.NativeIncremental = true
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	h := newHarness(t, nil, a, b)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h.ctrl.now = func() time.Time { return now }

	h.run(t, RunOptions{})

	last, ok := h.store.LastSync("a", models.DataRatings)
	require.True(t, ok)
	assert.True(t, now.Equal(last), "got %s", last)
	_, ok = h.store.LastSync("b", models.DataRatings)
	assert.False(t, ok, "native incremental targets keep no timestamp")
}

func TestFirstSourceAuthFailureIsFatal(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.AuthErr = sources.ErrNotAuthenticated
	h := newHarness(t, nil, a, b)

	result, err := h.ctrl.Run(context.Background(), RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrNotAuthenticated)
	require.NotNil(t, result)
	assert.Equal(t, 0, b.Authenticated)
	assert.True(t, b.CleanedUp)
}

func TestOtherFailuresAreIsolated(t *testing.T) {
	a, b, c := sourcetest.New("a"), sourcetest.New("b"), sourcetest.New("c")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	a.ReadErrs = map[models.DataType]error{models.DataWatchHistory: errors.New("timeout")}
	b.AuthErr = errors.New("token revoked")
	c.WriteErrs = map[models.DataType]error{models.DataRatings: sources.ErrRateLimited}
	h := newHarness(t, nil, a, b, c)

	result := h.run(t, RunOptions{})

	assert.True(t, result.Partial())
	assert.Len(t, result.Errors, 2, "the history read and the second auth are recorded, the capacity skip is not")
	_, _, toB, _, _ := b.Written()
	assert.Empty(t, toB)
	assert.True(t, a.CleanedUp)
	assert.True(t, c.CleanedUp)
	_, ok := h.store.LastSync("c", models.DataRatings)
	assert.False(t, ok, "a skipped batch does not advance the timestamp")
}

func TestPartialReadIsCached(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.History = []models.WatchHistory{{
		IMDbID:    "tt0111161",
		IDs:       models.MediaIDs{IMDB: "tt0111161"},
		Kind:      models.Movie(),
		WatchedAt: day(2024, 1, 1),
		Source:    "a",
	}}
	a.ReadErrs = map[models.DataType]error{models.DataWatchHistory: errors.New("page 2: timeout")}
	a.PartialReads = true
	h := newHarness(t, nil, a, b)

	result := h.run(t, RunOptions{})

	require.Len(t, result.Errors, 1)
	cached, ok, err := h.cache.LoadCollection("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached.WatchHistory, 1, "items read before the failure are kept")
}

func TestDryRunWritesPreviewOnly(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	h := newHarness(t, nil, a, b)

	result := h.run(t, RunOptions{DryRun: []string{"b"}})

	_, _, toB, _, _ := b.Written()
	assert.Empty(t, toB)
	assert.Equal(t, 0, result.ItemsSynced)
	assert.Equal(t, 1, result.Planned["b"])

	var preview []models.Rating
	ok, err := h.cache.LoadDistribute("b", cache.BucketRatings, &preview)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, preview, 1)
	_, ok = h.store.LastSync("b", models.DataRatings)
	assert.False(t, ok)
}

func TestUseCacheReplaysCollection(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	h := newHarness(t, nil, a, b)
	h.run(t, RunOptions{DryRunAll: true})

	a.Ratings = nil
	b.ResetWrites()
	result := h.run(t, RunOptions{UseCache: []string{"a"}})

	_, _, toB, _, _ := b.Written()
	require.Len(t, toB, 1)
	assert.Equal(t, 1, result.ItemsSynced)
}

func TestDataTypeSelection(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	a.Watchlist = withSource([]models.WatchlistItem{watchlistItem("tt0000003", "")}, func(w *models.WatchlistItem) { w.Source = "a" })
	h := newHarness(t, nil, a, b)

	h.run(t, RunOptions{DataTypes: []models.DataType{models.DataWatchlist}})

	added, _, ratings, _, _ := b.Written()
	assert.Len(t, added, 1)
	assert.Empty(t, ratings)
}

func TestRatedImpliesWatched(t *testing.T) {
	a, b := sourcetest.New("a"), sourcetest.New("b")
	a.Ratings = []models.Rating{rating("tt0111161", 9, day(2024, 1, 1))}
	a.Ratings[0].Source = "a"
	h := newHarness(t, func(cfg *config.Config) { cfg.Sync.MarkRatedAsWatched = true }, a, b)

	h.run(t, RunOptions{})

	_, _, _, _, toA := a.Written()
	_, _, _, _, toB := b.Written()
	require.Len(t, toA, 1)
	assert.Equal(t, models.SourceRated, toA[0].Source)
	assert.Len(t, toB, 1)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t, nil, sourcetest.New("a"))
	h.ctrl.running.Store(true)

	_, err := h.ctrl.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
}
