package distribution

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type memState map[string]time.Time

func (m memState) LastSync(target string, dt models.DataType) (time.Time, bool) {
	t, ok := m[target+"/"+string(dt)]
	return t, ok
}

func (m memState) SetLastSync(target string, dt models.DataType, t time.Time) {
	m[target+"/"+string(dt)] = t
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func allOn() config.SyncOptions {
	return config.SyncOptions{SyncWatchlist: true, SyncRatings: true, SyncReviews: true, SyncWatchHistory: true}
}

func newPlanner(state memState, opts config.SyncOptions, options ...Option) *Planner {
	options = append([]Option{WithClock(func() time.Time { return now })}, options...)
	return NewPlanner(state, opts, nil, quietLogger(), options...)
}

func movie(imdb, source string, status models.NormalizedStatus) models.WatchlistItem {
	return models.WatchlistItem{
		IMDbID:    imdb,
		IDs:       models.MediaIDs{IMDB: imdb},
		Title:     "Title " + imdb,
		Kind:      models.Movie(),
		DateAdded: now.Add(-time.Hour),
		Source:    source,
		Status:    status,
	}
}

func reasons(excluded []models.ExcludedItem) []string {
	out := make([]string, 0, len(excluded))
	for _, e := range excluded {
		out = append(out, e.Reason)
	}
	return out
}

func TestRatingMigratesOnlyToOtherTarget(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	resolved := &models.Collection{Ratings: []models.Rating{{
		IMDbID: "tt0111161", IDs: models.MediaIDs{IMDB: "tt0111161"}, Value: 9,
		DateAdded: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Kind: models.Movie(), Source: "a",
	}}}

	toB := p.Plan(Target{Name: "b"}, resolved)
	toA := p.Plan(Target{Name: "a", Existing: &models.Collection{Ratings: resolved.Ratings}}, resolved)

	require.Len(t, toB.Ratings, 1)
	assert.Equal(t, 9, toB.Ratings[0].Value)
	assert.Empty(t, toA.Ratings)
	assert.Equal(t, 1, toB.Total())
	assert.Equal(t, 0, toA.Total())
}

func TestWatchedFilterAndRemovalList(t *testing.T) {
	opts := allOn()
	opts.RemoveWatchedFromWatchlists = true
	p := newPlanner(memState{}, opts)

	item := movie("tt0000001", "a", models.StatusWatchlist)
	history := []models.WatchHistory{{IMDbID: "tt0000001", IDs: models.MediaIDs{IMDB: "tt0000001"}, Kind: models.Movie(), WatchedAt: now, Source: "a"}}
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{item}, WatchHistory: history}

	existingT := &models.Collection{Watchlist: []models.WatchlistItem{movie("tt0000001", "t", models.StatusWatchlist)}}
	removals := BuildRemovalLists(map[string]*models.Collection{"t": existingT, "u": {}}, history, opts, now)

	toT := p.Plan(Target{Name: "t", Existing: existingT, Removals: removals["t"]}, resolved)
	toU := p.Plan(Target{Name: "u", Removals: removals["u"]}, resolved)

	assert.Empty(t, toT.Watchlist)
	require.Len(t, toT.Removals, 1)
	assert.Equal(t, "tt0000001", toT.Removals[0].IMDbID)

	assert.Empty(t, toU.Watchlist)
	assert.Empty(t, toU.Removals)
	assert.Contains(t, reasons(toU.Excluded), "watched filter: already in watch history")
}

func TestTraktSplitsStartedItemsIntoHistory(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{movie("tt0000002", "plex", models.StatusCompleted)}}

	toTrakt := p.Plan(Target{Name: "trakt"}, resolved)
	toSimkl := p.Plan(Target{Name: "simkl"}, resolved)

	assert.Empty(t, toTrakt.Watchlist)
	require.Len(t, toTrakt.WatchlistToHistory, 1)
	assert.Equal(t, "tt0000002", toTrakt.WatchlistToHistory[0].IMDbID)
	assert.Equal(t, "plex", toTrakt.WatchlistToHistory[0].Source)

	require.Len(t, toSimkl.Watchlist, 1)
	assert.Empty(t, toSimkl.WatchlistToHistory)
}

func TestSplitRules(t *testing.T) {
	show := movie("tt0000003", "simkl", models.StatusWatching)
	show.Kind = models.Show()
	hold := movie("tt0000004", "simkl", models.StatusHold)
	plain := movie("tt0000005", "simkl", "")
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{show, hold, plain}}

	p := newPlanner(memState{}, allOn())

	trakt := p.Plan(Target{Name: "trakt"}, resolved)
	assert.Len(t, trakt.Watchlist, 2, "hold and unset statuses stay on the trakt watchlist")
	assert.Empty(t, trakt.WatchlistToHistory)
	assert.Contains(t, reasons(trakt.Excluded), "split filter: trakt history does not accept shows")

	plex := p.Plan(Target{Name: "plex"}, resolved)
	require.Len(t, plex.Watchlist, 1)
	assert.Equal(t, "tt0000005", plex.Watchlist[0].IMDbID)
	assert.Len(t, plex.WatchlistToHistory, 1)
	assert.Contains(t, reasons(plex.Excluded), "split filter: status hold has no plex list")

	imdb := p.Plan(Target{Name: "imdb"}, resolved)
	assert.Len(t, imdb.Watchlist, 1)
	assert.Len(t, imdb.WatchlistToHistory, 1)
}

func TestSplitHistoryIsNotWrittenTwice(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	item := movie("tt0000002", "plex", models.StatusCompleted)
	resolved := &models.Collection{
		Watchlist: []models.WatchlistItem{item},
		WatchHistory: []models.WatchHistory{{
			IMDbID: "tt0000002", IDs: item.IDs, Kind: models.Movie(), WatchedAt: now, Source: "plex",
		}},
	}

	plan := p.Plan(Target{Name: "trakt"}, resolved)

	assert.Len(t, plan.WatchlistToHistory, 1)
	assert.Empty(t, plan.WatchHistory)
	assert.Equal(t, 1, plan.Deduplicated[models.DataWatchHistory])
}

func TestTraktHistoryRejectsShowsAndUnknownEpisodes(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	ids := models.MediaIDs{IMDB: "tt5753856"}
	resolved := &models.Collection{WatchHistory: []models.WatchHistory{
		{IDs: ids, Kind: models.Show(), WatchedAt: now, Source: "plex"},
		{IDs: ids, Kind: models.Episode(0, 0), WatchedAt: now, Source: "plex"},
		{IDs: ids, Kind: models.Episode(1, 3), WatchedAt: now, Source: "plex"},
	}}

	plan := p.Plan(Target{Name: "trakt"}, resolved)

	require.Len(t, plan.WatchHistory, 1)
	assert.Equal(t, models.Episode(1, 3), plan.WatchHistory[0].Kind)
	assert.Len(t, plan.Excluded, 2)
}

func TestMissingIdentifierIsExcluded(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{{Title: "Only A Title", Kind: models.Movie(), Source: "d"}}}

	for _, target := range []string{"d", "e"} {
		plan := p.Plan(Target{Name: target}, resolved)
		assert.Equal(t, 0, plan.Total())
		require.Len(t, plan.Excluded, 1)
		assert.Equal(t, "no identifier", plan.Excluded[0].Reason)
		assert.Equal(t, "d", plan.Excluded[0].Source)
	}
}

func TestRatingsDedupByValue(t *testing.T) {
	p := newPlanner(memState{}, allOn())
	same := models.Rating{IMDbID: "tt1", IDs: models.MediaIDs{IMDB: "tt1"}, Value: 7, Kind: models.Movie(), Source: "a"}
	changed := models.Rating{IMDbID: "tt2", IDs: models.MediaIDs{IMDB: "tt2"}, Value: 9, Kind: models.Movie(), Source: "a"}
	existing := &models.Collection{Ratings: []models.Rating{
		{IMDbID: "tt1", IDs: models.MediaIDs{IMDB: "tt1"}, Value: 7, Kind: models.Movie(), Source: "b"},
		{IMDbID: "tt2", IDs: models.MediaIDs{IMDB: "tt2"}, Value: 4, Kind: models.Movie(), Source: "b"},
	}}

	plan := p.Plan(Target{Name: "b", Existing: existing}, &models.Collection{Ratings: []models.Rating{same, changed}})

	require.Len(t, plan.Ratings, 1)
	assert.Equal(t, "tt2", plan.Ratings[0].IMDbID)
	assert.Equal(t, 1, plan.Deduplicated[models.DataRatings])
	assert.Empty(t, plan.Excluded)
}

func TestTimestampGate(t *testing.T) {
	last := now.Add(-30 * time.Minute)
	state := memState{}
	state.SetLastSync("b", models.DataWatchlist, last)

	old := movie("tt1", "a", "")
	old.DateAdded = last.Add(-time.Hour)
	fresh := movie("tt2", "a", "")
	fresh.DateAdded = last.Add(time.Minute)
	sameDay := movie("tt3", "a", "")
	sameDay.DateAdded = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{old, fresh, sameDay}}

	plan := newPlanner(state, allOn()).Plan(Target{Name: "b"}, resolved)
	require.Len(t, plan.Watchlist, 2)
	assert.Equal(t, "tt2", plan.Watchlist[0].IMDbID)
	assert.Equal(t, "tt3", plan.Watchlist[1].IMDbID)
	require.Len(t, plan.Excluded, 1)
	assert.True(t, strings.HasPrefix(plan.Excluded[0].Reason, "timestamp filter: "))

	forced := newPlanner(state, allOn(), WithForceFull(true)).Plan(Target{Name: "b"}, resolved)
	assert.Len(t, forced.Watchlist, 3)

	native := newPlanner(state, allOn()).Plan(Target{Name: "b", Native: true}, resolved)
	assert.Len(t, native.Watchlist, 3)
}

func TestCompleteRecordsLastSync(t *testing.T) {
	state := memState{}
	p := newPlanner(state, allOn())

	p.Complete(Target{Name: "b"}, models.DataRatings)
	p.Complete(Target{Name: "simkl", Native: true}, models.DataRatings)

	got, ok := state.LastSync("b", models.DataRatings)
	require.True(t, ok)
	assert.Equal(t, now, got)
	_, ok = state.LastSync("simkl", models.DataRatings)
	assert.False(t, ok)
}

func TestIgnoreList(t *testing.T) {
	ignore, err := utils.LoadIgnoreList(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	ignore.Add("tt0000009")
	ignore.Add("Some Film")

	p := NewPlanner(memState{}, allOn(), ignore, quietLogger())
	byTitle := movie("tt0000010", "a", "")
	byTitle.Title = "Some Film"
	resolved := &models.Collection{Watchlist: []models.WatchlistItem{movie("tt0000009", "a", ""), byTitle, movie("tt0000011", "a", "")}}

	plan := p.Plan(Target{Name: "b"}, resolved)

	require.Len(t, plan.Watchlist, 1)
	assert.Equal(t, "tt0000011", plan.Watchlist[0].IMDbID)
	assert.ElementsMatch(t, []string{"ignore list: tt0000009", "ignore list: Some Film"}, reasons(plan.Excluded))
}

func TestDataTypeSelection(t *testing.T) {
	p := newPlanner(memState{}, allOn(), WithDataTypes(models.DataRatings))
	resolved := &models.Collection{
		Watchlist: []models.WatchlistItem{movie("tt1", "a", "")},
		Ratings:   []models.Rating{{IMDbID: "tt1", IDs: models.MediaIDs{IMDB: "tt1"}, Value: 5, Source: "a"}},
	}

	plan := p.Plan(Target{Name: "b"}, resolved)

	assert.Empty(t, plan.Watchlist)
	assert.Len(t, plan.Ratings, 1)
	assert.False(t, p.Plans(models.DataWatchlist))
}

func TestEveryInputIsAccountedFor(t *testing.T) {
	state := memState{}
	state.SetLastSync("trakt", models.DataWatchlist, now.Add(-10*time.Minute))
	opts := allOn()
	opts.RemoveWatchedFromWatchlists = true
	p := newPlanner(state, opts)

	stale := movie("tt1", "simkl", "")
	stale.DateAdded = now.Add(-time.Hour)
	own := movie("tt2", "trakt", "")
	own.DateAdded = now
	held := movie("tt3", "simkl", "")
	held.DateAdded = now
	watched := movie("tt4", "simkl", "")
	watched.DateAdded = now
	started := movie("tt5", "simkl", models.StatusCompleted)
	started.DateAdded = now
	showStarted := movie("tt6", "simkl", models.StatusWatching)
	showStarted.Kind = models.Show()
	showStarted.DateAdded = now
	fresh := movie("tt7", "simkl", "")
	fresh.DateAdded = now
	noID := models.WatchlistItem{Title: "Nameless", Source: "simkl", DateAdded: now}

	input := []models.WatchlistItem{stale, own, held, watched, started, showStarted, fresh, noID}
	resolved := &models.Collection{
		Watchlist:    input,
		WatchHistory: []models.WatchHistory{{IMDbID: "tt4", IDs: models.MediaIDs{IMDB: "tt4"}, Kind: models.Movie(), WatchedAt: now, Source: "simkl"}},
	}
	existing := &models.Collection{Watchlist: []models.WatchlistItem{movie("tt3", "trakt", "")}}

	plan := p.Plan(Target{Name: "trakt", Existing: existing}, resolved)

	out := len(plan.Watchlist) + len(plan.WatchlistToHistory)
	assert.Equal(t, len(input), out+len(plan.Excluded)+plan.DeduplicatedTotal())
	assert.Equal(t, "tt7", plan.Watchlist[0].IMDbID)
	assert.Len(t, plan.Watchlist, 1)
	assert.Len(t, plan.WatchlistToHistory, 1)
	assert.Equal(t, 1, plan.Deduplicated[models.DataWatchlist])
}

func TestBuildRemovalLists(t *testing.T) {
	opts := config.SyncOptions{RemoveWatchlistItemsOlderThanDays: 30}
	ancient := movie("tt1", "trakt", "")
	ancient.DateAdded = now.AddDate(0, 0, -45)
	recent := movie("tt2", "trakt", "")
	droppedHere := movie("tt3", "trakt", "")
	onlyOnSimkl := movie("tt4", "simkl", models.StatusDropped)

	collected := map[string]*models.Collection{
		"trakt": {Watchlist: []models.WatchlistItem{ancient, recent, droppedHere, ancient}},
		"simkl": {Watchlist: []models.WatchlistItem{movie("tt3", "simkl", models.StatusDropped), onlyOnSimkl}},
		"plex":  {},
	}

	lists := BuildRemovalLists(collected, nil, opts, now)

	require.Len(t, lists["trakt"], 2, "duplicates collapse")
	assert.Equal(t, "tt1", lists["trakt"][0].IMDbID)
	assert.Equal(t, "tt3", lists["trakt"][1].IMDbID)
	assert.Empty(t, lists["simkl"], "simkl keeps its own dropped entries")
	assert.Empty(t, lists["plex"], "titles missing from a watchlist are not removed from it")
}

func TestPlanSaveWritesEveryBucket(t *testing.T) {
	paths := config.PathsAt(t.TempDir())
	m := cache.NewManager(paths, quietLogger())
	p := newPlanner(memState{}, allOn())

	plan := p.Plan(Target{Name: "b"}, &models.Collection{
		Watchlist: []models.WatchlistItem{movie("tt1", "a", ""), {Title: "No IDs", Source: "a"}},
	})
	require.NoError(t, plan.Save(m))

	var watchlist []models.WatchlistItem
	ok, err := m.LoadDistribute("b", cache.BucketWatchlist, &watchlist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, watchlist, 1)

	var removals []models.WatchlistItem
	ok, err = m.LoadDistribute("b", cache.BucketRemovalList, &removals)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, removals)

	var excluded []models.ExcludedItem
	ok, err = m.LoadDistribute("b", cache.BucketExcluded, &excluded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, excluded, 1)
	assert.Equal(t, "no identifier", excluded[0].Reason)
}
