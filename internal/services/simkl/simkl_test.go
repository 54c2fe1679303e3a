package simkl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestClient starts a fake Simkl API and authenticates with a stored token
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *credentials.Store) {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := credentials.Open(filepath.Join(t.TempDir(), "credentials.toml"))
	if err != nil {
		t.Fatalf("Failed to open credentials: %v", err)
	}
	if err := store.SaveToken("simkl", &credentials.Token{AccessToken: "access"}); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	cfg := config.ServiceConfig{
		Enabled:       true,
		ClientID:      "client-id",
		StatusMapping: config.DefaultSimklStatusMapping(),
	}
	c := NewClient(cfg, store, quietLogger(), WithBaseURL(srv.URL), WithPrompt(io.Discard))
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	return c, store
}

const activitiesV1 = `{"all":"2024-05-01T10:00:00Z","movies":{"all":"2024-05-01T10:00:00Z","rated_at":"2024-04-01T00:00:00Z"},"tv_shows":{"all":"2024-04-20T00:00:00Z"}}`
const activitiesV2 = `{"all":"2024-05-02T10:00:00Z","movies":{"all":"2024-05-02T10:00:00Z","rated_at":"2024-04-01T00:00:00Z"},"tv_shows":{"all":"2024-04-20T00:00:00Z"}}`

const allItemsBody = `{
	"movies":[{"added_to_watchlist_at":"2024-03-01T12:00:00Z","status":"plantowatch","movie":{"title":"Heat","year":1995,"ids":{"simkl":"53","imdb":"tt0113277","tmdb":"949"}}}],
	"shows":[{"added_to_watchlist_at":"2024-03-02T12:00:00Z","last_watched_at":"2024-03-05 20:00:00","status":"watching","show":{"title":"Dark","year":2017,"ids":{"simkl":77,"imdb":"tt5753856"}}}],
	"anime":[{"status":"unknown-list","anime":{"title":"Akira","year":1988,"ids":{"simkl":99}}}]
}`

func activitiesMux(activities *atomic.Value, allItemsCalls *atomic.Int32, dateFrom *atomic.Value) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/activities", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(activities.Load().(string)))
	})
	mux.HandleFunc("GET /sync/all-items/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("simkl-api-key") != "client-id" || r.URL.Query().Get("client_id") != "client-id" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		allItemsCalls.Add(1)
		dateFrom.Store(r.URL.Query().Get("date_from"))
		w.Write([]byte(allItemsBody))
	})
	return mux
}

func TestGetWatchlistMapsStatusAndIDs(t *testing.T) {
	var activities, dateFrom atomic.Value
	var calls atomic.Int32
	activities.Store(activitiesV1)
	c, _ := newTestClient(t, activitiesMux(&activities, &calls, &dateFrom))

	items, err := c.GetWatchlist(context.Background())
	if err != nil {
		t.Fatalf("Failed to get watchlist: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}

	heat := items[2]
	if heat.IMDbID != "tt0113277" || heat.IDs.Simkl != 53 || heat.IDs.TMDB != 949 {
		t.Errorf("Unexpected movie IDs %+v", heat.IDs)
	}
	if heat.Status != models.StatusWatchlist || !heat.Kind.IsMovie() {
		t.Errorf("Expected a movie on the watchlist, got %s %s", heat.Kind, heat.Status)
	}
	if items[0].Status != models.StatusWatching || !items[0].Kind.IsShow() {
		t.Errorf("Expected a watching show, got %s %s", items[0].Kind, items[0].Status)
	}
	if items[1].Status != "" || !items[1].Kind.IsShow() {
		t.Errorf("Expected anime as show without status, got %s %q", items[1].Kind, items[1].Status)
	}
	if got := dateFrom.Load().(string); got != "" {
		t.Errorf("Expected a full read on first sync, got date_from %q", got)
	}
}

func TestActivitiesGateReads(t *testing.T) {
	var activities, dateFrom atomic.Value
	var calls atomic.Int32
	activities.Store(activitiesV1)
	c, store := newTestClient(t, activitiesMux(&activities, &calls, &dateFrom))
	ctx := context.Background()

	if _, err := c.GetWatchlist(ctx); err != nil {
		t.Fatalf("First read failed: %v", err)
	}
	snapshots, err := store.Activities()
	if err != nil {
		t.Fatalf("Failed to read snapshots: %v", err)
	}
	if _, ok := snapshots[models.DataWatchlist]; !ok {
		t.Fatal("Expected the watchlist snapshot to be stored")
	}

	items, err := c.GetWatchlist(ctx)
	if err != nil {
		t.Fatalf("Second read failed: %v", err)
	}
	if len(items) != 0 || calls.Load() != 1 {
		t.Errorf("Expected unchanged activities to skip the fetch, got %d items after %d calls", len(items), calls.Load())
	}

	activities.Store(activitiesV2)
	if _, err := c.GetWatchlist(ctx); err != nil {
		t.Fatalf("Third read failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("Expected changed activities to fetch, got %d calls", calls.Load())
	}
	if got := dateFrom.Load().(string); got != "2024-05-01T10:00:00Z" {
		t.Errorf("Expected date_from from the previous snapshot, got %q", got)
	}

	c.SetForceFullSync(true)
	if _, err := c.GetWatchlist(ctx); err != nil {
		t.Fatalf("Forced read failed: %v", err)
	}
	if calls.Load() != 3 || dateFrom.Load().(string) != "" {
		t.Errorf("Expected a full forced read, got %d calls and date_from %q", calls.Load(), dateFrom.Load())
	}
}

func TestWatchHistoryHasItsOwnSnapshot(t *testing.T) {
	var activities, dateFrom atomic.Value
	var calls atomic.Int32
	activities.Store(activitiesV1)
	c, _ := newTestClient(t, activitiesMux(&activities, &calls, &dateFrom))
	ctx := context.Background()

	if _, err := c.GetWatchlist(ctx); err != nil {
		t.Fatalf("Failed to get watchlist: %v", err)
	}
	history, err := c.GetWatchHistory(ctx)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 watched title, got %d", len(history))
	}
	want := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	if !history[0].WatchedAt.Equal(want) || history[0].Title != "Dark" {
		t.Errorf("Unexpected history entry %+v", history[0])
	}
}

func TestAddToWatchlistUsesMappedList(t *testing.T) {
	mux := http.NewServeMux()
	var got writePayload
	mux.HandleFunc("POST /sync/add-to-list", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t, mux)

	items := []models.WatchlistItem{
		{IMDbID: "tt0113277", Title: "Heat", Year: 1995, Kind: models.Movie()},
		{IMDbID: "tt5753856", Title: "Dark", Kind: models.Show(), Status: models.StatusCompleted},
		{IMDbID: "tt0000001", Kind: models.Episode(1, 1)},
	}
	if err := c.AddToWatchlist(context.Background(), items); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}

	if len(got.Movies) != 1 || got.Movies[0].To != "plantowatch" || got.Movies[0].IDs.IMDB != "tt0113277" {
		t.Errorf("Unexpected movies %+v", got.Movies)
	}
	if len(got.Shows) != 1 || got.Shows[0].To != "completed" {
		t.Errorf("Unexpected shows %+v", got.Shows)
	}
}

func TestSetRatingsAndReviews(t *testing.T) {
	mux := http.NewServeMux()
	var got writePayload
	mux.HandleFunc("POST /sync/ratings", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	ratedAt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	err := c.SetRatings(ctx, []models.Rating{{IMDbID: "tt0113277", Value: 8, Kind: models.Movie(), DateAdded: ratedAt}})
	if err != nil {
		t.Fatalf("Failed to set ratings: %v", err)
	}
	if len(got.Movies) != 1 || got.Movies[0].Rating != 8 {
		t.Fatalf("Unexpected payload %+v", got)
	}
	if got.Movies[0].RatedAt == nil || !got.Movies[0].RatedAt.Equal(ratedAt) {
		t.Errorf("Expected rated_at %v, got %v", ratedAt, got.Movies[0].RatedAt)
	}

	err = c.SetReviews(ctx, []models.Review{{IMDbID: "tt0113277", Content: "Great"}})
	if !errors.Is(err, sources.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if err := c.SetReviews(ctx, nil); err != nil {
		t.Errorf("Expected no error for empty reviews, got %v", err)
	}
}

func TestLookupIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/movie", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Heat" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[
			{"title":"Heat Wave","year":1995,"ids":{"simkl_id":1}},
			{"title":"Heat","year":1995,"ids":{"simkl_id":53,"imdb":"tt0113277"}}
		]`))
	})
	mux.HandleFunc("GET /search/id", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"type":"movie","title":"Heat","year":1995,"ids":{"simkl":53}}]`))
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	ids, err := c.LookupIDs(ctx, "Heat", 1995, models.Movie())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ids == nil || ids.Simkl != 53 || ids.IMDB != "tt0113277" {
		t.Errorf("Expected the exact title, got %+v", ids)
	}

	res, err := c.LookupByIMDbID(ctx, "tt0113277", models.Movie())
	if err != nil {
		t.Fatalf("Reverse lookup failed: %v", err)
	}
	if res == nil || res.Title != "Heat" || res.IDs.IMDB != "tt0113277" || res.IDs.Simkl != 53 {
		t.Errorf("Unexpected reverse lookup %+v", res)
	}

	res, err = c.LookupByIMDbID(ctx, "tt0113277", models.Show())
	if err != nil || res != nil {
		t.Errorf("Expected no show match, got %+v, %v", res, err)
	}
}

func TestExtractIDsAcceptsStrings(t *testing.T) {
	c := NewClient(config.ServiceConfig{}, nil, quietLogger())
	ids, err := c.ExtractIDs(json.RawMessage(`{"simkl":"12","imdb":"tt/0113277","tvdb":"nope"}`))
	if err != nil {
		t.Fatalf("Failed to extract: %v", err)
	}
	if ids.Simkl != 12 || ids.IMDB != "tt0113277" || ids.TVDB != 0 {
		t.Errorf("Unexpected IDs %+v", ids)
	}
}

func TestRequestsFailWithoutToken(t *testing.T) {
	c := NewClient(config.ServiceConfig{ClientID: "x"}, nil, quietLogger())
	if _, err := c.GetRatings(context.Background()); !errors.Is(err, sources.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
	if c.IsLookupAvailable() {
		t.Error("Expected lookups to be unavailable")
	}
}
