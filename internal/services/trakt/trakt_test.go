package trakt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
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

// newTestClient starts a fake Trakt API with a valid stored token
func newTestClient(t *testing.T, mux *http.ServeMux, expires time.Time) (*Client, *credentials.Store) {
	t.Helper()

	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("trakt-api-key") != "client-id" || r.Header.Get("trakt-api-version") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"username":"Jane Doe","ids":{"slug":"jane-doe"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := credentials.Open(filepath.Join(t.TempDir(), "credentials.toml"))
	if err != nil {
		t.Fatalf("Failed to open credentials: %v", err)
	}
	if err := store.SaveToken("trakt", &credentials.Token{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: expires}); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	cfg := config.ServiceConfig{
		Enabled:       true,
		ClientID:      "client-id",
		ClientSecret:  "secret",
		StatusMapping: config.DefaultTraktStatusMapping(),
	}
	c := NewClient(cfg, store.TokenStore("trakt"), quietLogger(), WithBaseURL(srv.URL), WithPrompt(io.Discard))
	return c, store
}

func authenticated(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	c, _ := newTestClient(t, mux, time.Now().Add(30*24*time.Hour))
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	return c
}

func TestAuthenticateWithStoredToken(t *testing.T) {
	c := authenticated(t, http.NewServeMux())

	if !c.IsLookupAvailable() {
		t.Error("Expected lookups to be available after authentication")
	}
	path, err := c.userPath("/ratings")
	if err != nil || path != "/users/jane-doe/ratings" {
		t.Errorf("Unexpected user path %q: %v", path, err)
	}
}

func TestAuthenticateRefreshesExpiringToken(t *testing.T) {
	mux := http.NewServeMux()
	refreshed := false
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh" || body["grant_type"] != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		refreshed = true
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7776000,"token_type":"bearer"}`))
	})

	c, store := newTestClient(t, mux, time.Now().Add(time.Hour))
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}

	if !refreshed {
		t.Fatal("Expected the token to be refreshed")
	}
	token, err := store.Token("trakt")
	if err != nil {
		t.Fatalf("Failed to read token: %v", err)
	}
	if token.AccessToken != "new-access" || token.RefreshToken != "new-refresh" {
		t.Errorf("Expected refreshed token to be saved, got %+v", token)
	}
	if time.Until(token.ExpiresAt) < 80*24*time.Hour {
		t.Errorf("Unexpected expiry %v", token.ExpiresAt)
	}
}

func TestGetWatchHistoryPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/jane-doe/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pagination-Page-Count", "2")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[
				{"type":"movie","watched_at":"2024-05-02T20:00:00.000Z","movie":{"title":"Heat","year":1995,"ids":{"trakt":1,"imdb":"tt0113277/","tmdb":949}}},
				{"type":"episode","watched_at":"2024-05-01T20:00:00.000Z","show":{"title":"Fargo","year":2014,"ids":{"trakt":60}},"episode":{"title":"The Crocodile's Dilemma","season":1,"number":1,"ids":{"trakt":61,"imdb":"tt2802850"}}}
			]`))
		case "2":
			w.Write([]byte(`[
				{"type":"movie","watched_at":"2023-01-01T20:00:00.000Z","movie":{"title":"Heat","year":1995,"ids":{"trakt":1,"imdb":"tt0113277"}}},
				{"type":"movie","watched_at":"2023-01-01T20:00:00.000Z","movie":{"title":"Ghost","year":1990,"ids":{}}}
			]`))
		default:
			t.Errorf("Unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	c := authenticated(t, mux)

	history, err := c.GetWatchHistory(context.Background())
	if err != nil {
		t.Fatalf("Failed to fetch history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 unique entries, got %d: %+v", len(history), history)
	}

	heat := history[0]
	if heat.IMDbID != "tt0113277" || heat.IDs.TMDB != 949 {
		t.Errorf("Expected cleaned IMDb ID and TMDB ID, got %+v", heat)
	}
	if !heat.WatchedAt.Equal(time.Date(2024, 5, 2, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected the latest play to be kept, got %v", heat.WatchedAt)
	}

	ep := history[1]
	if ep.Kind != models.Episode(1, 1) || ep.IMDbID != "tt2802850" {
		t.Errorf("Expected the episode's own IDs, got %+v", ep)
	}
	if ep.Title != "Fargo: The Crocodile's Dilemma" || ep.Year != 2014 {
		t.Errorf("Unexpected episode title %q (%d)", ep.Title, ep.Year)
	}
}

func TestGetWatchlistMapsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/jane-doe/watchlist", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sort") != "added,asc" {
			t.Errorf("Unexpected sort %q", r.URL.Query().Get("sort"))
		}
		w.Write([]byte(`[{"type":"show","listed_at":"2024-02-01T10:00:00.000Z","show":{"title":"Dark","year":2017,"ids":{"trakt":70,"imdb":"tt5753856","tvdb":334824}}}]`))
	})
	c := authenticated(t, mux)

	items, err := c.GetWatchlist(context.Background())
	if err != nil {
		t.Fatalf("Failed to fetch watchlist: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Status != models.StatusWatchlist || !items[0].Kind.IsShow() || items[0].IDs.TVDB != 334824 {
		t.Errorf("Unexpected item %+v", items[0])
	}
}

func TestAddWatchHistorySkipsShows(t *testing.T) {
	mux := http.NewServeMux()
	var payload syncPayload
	mux.HandleFunc("POST /sync/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"added":{"movies":1,"episodes":1}}`))
	})
	c := authenticated(t, mux)

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := c.AddWatchHistory(context.Background(), []models.WatchHistory{
		{IMDbID: "tt0113277", Kind: models.Movie(), WatchedAt: at},
		{IMDbID: "tt5753856", Kind: models.Show(), WatchedAt: at},
		{IDs: models.MediaIDs{Trakt: 61}, Kind: models.Episode(1, 1), WatchedAt: at},
	})
	if err != nil {
		t.Fatalf("Failed to add history: %v", err)
	}

	if len(payload.Movies) != 1 || len(payload.Shows) != 0 || len(payload.Episodes) != 1 {
		t.Fatalf("Unexpected payload %+v", payload)
	}
	if payload.Movies[0].IDs.IMDB != "tt0113277" || payload.Movies[0].WatchedAt == nil || !payload.Movies[0].WatchedAt.Equal(at) {
		t.Errorf("Unexpected movie entry %+v", payload.Movies[0])
	}
	if payload.Episodes[0].IDs.Trakt != 61 {
		t.Errorf("Expected the episode to be addressed by its trakt ID, got %+v", payload.Episodes[0])
	}
}

func TestListLimitIsCapacityError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/watchlist", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusListLimit)
	})
	c := authenticated(t, mux)

	err := c.AddToWatchlist(context.Background(), []models.WatchlistItem{{IMDbID: "tt0113277", Kind: models.Movie()}})
	if !errors.Is(err, sources.ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
	if !sources.IsCapacityError(err) {
		t.Error("Expected a capacity error")
	}
}

func TestSetRatingsSendsNativeValues(t *testing.T) {
	mux := http.NewServeMux()
	var payload syncPayload
	mux.HandleFunc("POST /sync/ratings", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"added":{"movies":1}}`))
	})
	c := authenticated(t, mux)

	err := c.SetRatings(context.Background(), []models.Rating{
		{IMDbID: "tt0113277", Value: 9, Kind: models.Movie(), DateAdded: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("Failed to set ratings: %v", err)
	}
	if len(payload.Movies) != 1 || payload.Movies[0].Rating != 9 || payload.Movies[0].RatedAt == nil {
		t.Errorf("Unexpected payload %+v", payload)
	}
}

func TestSetReviewsSkipsRejectedComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	c := authenticated(t, mux)

	err := c.SetReviews(context.Background(), []models.Review{{IMDbID: "tt0113277", Content: "Too short", Kind: models.Movie()}})
	if err != nil {
		t.Errorf("Expected a rejected review to be skipped, got %v", err)
	}
}

func TestLookupIDsPicksClosestTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/movie", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "Crouching Tiger Hidden Dragon" {
			t.Errorf("Unexpected query %q", r.URL.Query().Get("query"))
		}
		w.Write([]byte(`[
			{"type":"movie","score":100,"movie":{"title":"Crouching Tiger, Hidden Dragon: Sword of Destiny","year":2016,"ids":{"trakt":5,"imdb":"tt2652118"}}},
			{"type":"movie","score":90,"movie":{"title":"Crouching Tiger, Hidden Dragon","year":2000,"ids":{"trakt":4,"imdb":"tt0190332"}}}
		]`))
	})
	c := authenticated(t, mux)

	ids, err := c.LookupIDs(context.Background(), "Crouching Tiger, Hidden Dragon", 2000, models.Movie())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ids == nil || ids.IMDB != "tt0190332" {
		t.Errorf("Expected the year-matching title, got %+v", ids)
	}

	ids, err = c.LookupIDs(context.Background(), "Pilot", 0, models.Episode(1, 1))
	if err != nil || ids != nil {
		t.Errorf("Expected episodes to be skipped, got %+v %v", ids, err)
	}
}

func TestLookupByIMDbIDFiltersType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/imdb/tt0116282", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"type":"show","show":{"title":"Fargo","year":2014,"ids":{"trakt":60}}},
			{"type":"movie","movie":{"title":"Fargo","year":1996,"ids":{"trakt":2,"imdb":"tt0116282","tmdb":275}}}
		]`))
	})
	c := authenticated(t, mux)

	res, err := c.LookupByIMDbID(context.Background(), "tt0116282", models.Movie())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if res == nil || res.Year != 1996 || res.IDs.TMDB != 275 {
		t.Errorf("Expected the movie result, got %+v", res)
	}
}

func TestExtractIDs(t *testing.T) {
	c := NewClient(config.ServiceConfig{}, nil, quietLogger())
	ids, err := c.ExtractIDs(json.RawMessage(`{"trakt":12,"slug":"heat-1995","imdb":"tt0113277/","tmdb":949,"tvdb":null}`))
	if err != nil {
		t.Fatalf("Failed to extract: %v", err)
	}
	if ids.IMDB != "tt0113277" || ids.Trakt != 12 || ids.Slug != "heat-1995" || ids.TVDB != 0 {
		t.Errorf("Unexpected bundle %+v", ids)
	}
}
