package simkl

import (
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
)

// flexID accepts numeric IDs sent either as numbers or as strings
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil
	}
	*f = flexID(n)
	return nil
}

// IDs is the ids object of Simkl items. Search results name the Simkl ID simkl_id.
type IDs struct {
	Simkl   flexID `json:"simkl"`
	SimklID flexID `json:"simkl_id"`
	Slug    string `json:"slug"`
	IMDB    string `json:"imdb"`
	TMDB    flexID `json:"tmdb"`
	TVDB    flexID `json:"tvdb"`
}

// MediaIDs converts to a bundle
func (i IDs) MediaIDs() models.MediaIDs {
	simkl := uint64(i.Simkl)
	if simkl == 0 {
		simkl = uint64(i.SimklID)
	}
	return models.MediaIDs{
		IMDB:  strings.ReplaceAll(i.IMDB, "/", ""),
		Simkl: simkl,
		Slug:  i.Slug,
		TMDB:  uint32(i.TMDB),
		TVDB:  uint32(i.TVDB),
	}
}

// Media is a movie, show or anime
type Media struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Item is one entry of the all-items and ratings endpoints
type Item struct {
	AddedToWatchlistAt string `json:"added_to_watchlist_at"`
	LastWatchedAt      string `json:"last_watched_at"`
	UserRatedAt        string `json:"user_rated_at"`
	UserRating         int    `json:"user_rating"`
	Status             string `json:"status"`
	Movie              *Media `json:"movie,omitempty"`
	Show               *Media `json:"show,omitempty"`
	Anime              *Media `json:"anime,omitempty"`
}

func (it Item) media() *Media {
	switch {
	case it.Movie != nil:
		return it.Movie
	case it.Show != nil:
		return it.Show
	}
	return it.Anime
}

// AllItems groups items by Simkl's three catalogs
type AllItems struct {
	Shows  []Item `json:"shows"`
	Anime  []Item `json:"anime"`
	Movies []Item `json:"movies"`
}

type kindedItem struct {
	Item
	kind models.MediaKind
}

// items flattens the catalogs; anime is treated as shows
func (a AllItems) items() []kindedItem {
	out := make([]kindedItem, 0, len(a.Shows)+len(a.Anime)+len(a.Movies))
	for _, it := range a.Shows {
		out = append(out, kindedItem{it, models.Show()})
	}
	for _, it := range a.Anime {
		out = append(out, kindedItem{it, models.Show()})
	}
	for _, it := range a.Movies {
		out = append(out, kindedItem{it, models.Movie()})
	}
	return out
}

// parseTime accepts RFC 3339 and Simkl's "2006-01-02 15:04:05"
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// MediaActivities are the per-catalog change timestamps
type MediaActivities struct {
	All             string `json:"all,omitempty"`
	RatedAt         string `json:"rated_at,omitempty"`
	Playback        string `json:"playback,omitempty"`
	PlanToWatch     string `json:"plantowatch,omitempty"`
	Watching        string `json:"watching,omitempty"`
	Completed       string `json:"completed,omitempty"`
	Hold            string `json:"hold,omitempty"`
	Dropped         string `json:"dropped,omitempty"`
	RemovedFromList string `json:"removed_from_list,omitempty"`
}

// Activities is the answer of /sync/activities
type Activities struct {
	All     string           `json:"all,omitempty"`
	TVShows *MediaActivities `json:"tv_shows,omitempty"`
	Anime   *MediaActivities `json:"anime,omitempty"`
	Movies  *MediaActivities `json:"movies,omitempty"`
}

// ExtractIDs maps a Simkl ids object to a bundle
func (c *Client) ExtractIDs(raw json.RawMessage) (models.MediaIDs, error) {
	var ids IDs
	if err := json.Unmarshal(raw, &ids); err != nil {
		return models.MediaIDs{}, err
	}
	return ids.MediaIDs(), nil
}

// writeIDs is the ids object sent on writes
type writeIDs struct {
	Simkl uint64 `json:"simkl,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  uint32 `json:"tmdb,omitempty"`
	TVDB  uint32 `json:"tvdb,omitempty"`
}

func idsFrom(ids models.MediaIDs, imdbID string) writeIDs {
	out := writeIDs{Simkl: ids.Simkl, IMDB: ids.IMDB, TMDB: ids.TMDB, TVDB: ids.TVDB}
	if out.IMDB == "" && strings.HasPrefix(imdbID, "tt") {
		out.IMDB = imdbID
	}
	return out
}

type writeItem struct {
	IDs       writeIDs   `json:"ids"`
	Title     string     `json:"title,omitempty"`
	Year      int        `json:"year,omitempty"`
	To        string     `json:"to,omitempty"`
	Rating    int        `json:"rating,omitempty"`
	RatedAt   *time.Time `json:"rated_at,omitempty"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

type writePayload struct {
	Movies []writeItem `json:"movies,omitempty"`
	Shows  []writeItem `json:"shows,omitempty"`
}

// add files item by kind. Simkl writes have no episode form.
func (p *writePayload) add(kind models.MediaKind, item writeItem) bool {
	switch {
	case kind.IsMovie():
		p.Movies = append(p.Movies, item)
	case kind.IsShow():
		p.Shows = append(p.Shows, item)
	default:
		return false
	}
	return true
}

func (p *writePayload) len() int { return len(p.Movies) + len(p.Shows) }

// SearchResult is one hit of the search endpoints
type SearchResult struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}
