package trakt

import (
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
)

// IDs is the ids object Trakt attaches to every movie, show and episode
type IDs struct {
	Trakt uint64 `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  uint32 `json:"tmdb,omitempty"`
	TVDB  uint32 `json:"tvdb,omitempty"`
}

// MediaIDs converts to a bundle. Trakt occasionally returns IMDb IDs with slashes.
func (i IDs) MediaIDs() models.MediaIDs {
	return models.MediaIDs{
		IMDB:  strings.ReplaceAll(i.IMDB, "/", ""),
		Trakt: i.Trakt,
		TMDB:  i.TMDB,
		TVDB:  i.TVDB,
		Slug:  i.Slug,
	}
}

func idsFrom(ids models.MediaIDs, imdbID string) IDs {
	out := IDs{
		Trakt: ids.Trakt,
		Slug:  ids.Slug,
		IMDB:  ids.IMDB,
		TMDB:  ids.TMDB,
		TVDB:  ids.TVDB,
	}
	if out.IMDB == "" && strings.HasPrefix(imdbID, "tt") {
		out.IMDB = imdbID
	}
	return out
}

// Media is a movie or a show
type Media struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Episode is a single episode
type Episode struct {
	Title  string `json:"title"`
	Season int    `json:"season"`
	Number int    `json:"number"`
	IDs    IDs    `json:"ids"`
}

// Comment is the body of a comment or review
type Comment struct {
	ID        uint64    `json:"id"`
	Comment   string    `json:"comment"`
	Spoiler   bool      `json:"spoiler"`
	Review    bool      `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}

// ListItem is one entry of the watchlist, ratings, comments or history endpoints
type ListItem struct {
	Type      string    `json:"type"`
	ListedAt  time.Time `json:"listed_at"`
	RatedAt   time.Time `json:"rated_at"`
	WatchedAt time.Time `json:"watched_at"`
	Rating    int       `json:"rating"`
	Movie     *Media    `json:"movie,omitempty"`
	Show      *Media    `json:"show,omitempty"`
	Episode   *Episode  `json:"episode,omitempty"`
	Comment   *Comment  `json:"comment,omitempty"`
}

// entry is the part of a ListItem the adapters care about
type entry struct {
	ids   models.MediaIDs
	title string
	year  int
	kind  models.MediaKind
}

// resolve picks the object matching the item type. Episodes carry their own
// IDs and are titled "Show: Episode". Seasons and lists are not supported.
func (it ListItem) resolve() (entry, bool) {
	switch it.Type {
	case "movie":
		if it.Movie == nil {
			return entry{}, false
		}
		return entry{ids: it.Movie.IDs.MediaIDs(), title: it.Movie.Title, year: it.Movie.Year, kind: models.Movie()}, true
	case "show":
		if it.Show == nil {
			return entry{}, false
		}
		return entry{ids: it.Show.IDs.MediaIDs(), title: it.Show.Title, year: it.Show.Year, kind: models.Show()}, true
	case "episode":
		if it.Episode == nil || it.Show == nil {
			return entry{}, false
		}
		e := entry{
			ids:  it.Episode.IDs.MediaIDs(),
			year: it.Show.Year,
			kind: models.Episode(it.Episode.Season, it.Episode.Number),
		}
		e.title = it.Show.Title
		if it.Episode.Title != "" {
			e.title += ": " + it.Episode.Title
		}
		e.ids.ShowTitle = it.Show.Title
		e.ids.EpisodeTitle = it.Episode.Title
		return e, true
	}
	return entry{}, false
}

// SearchResult is one hit of the search endpoints
type SearchResult struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
	Movie *Media  `json:"movie,omitempty"`
	Show  *Media  `json:"show,omitempty"`
}

func (r SearchResult) media() *Media {
	switch r.Type {
	case "movie":
		return r.Movie
	case "show":
		return r.Show
	}
	return nil
}

// ExtractIDs maps a Trakt ids object to a bundle
func (c *Client) ExtractIDs(raw json.RawMessage) (models.MediaIDs, error) {
	var ids IDs
	if err := json.Unmarshal(raw, &ids); err != nil {
		return models.MediaIDs{}, err
	}
	return ids.MediaIDs(), nil
}

// syncItem is an element of the movies/shows/episodes arrays of sync payloads
type syncItem struct {
	IDs       IDs        `json:"ids"`
	Rating    int        `json:"rating,omitempty"`
	RatedAt   *time.Time `json:"rated_at,omitempty"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

type syncPayload struct {
	Movies   []syncItem `json:"movies,omitempty"`
	Shows    []syncItem `json:"shows,omitempty"`
	Episodes []syncItem `json:"episodes,omitempty"`
}

func (p *syncPayload) add(kind models.MediaKind, item syncItem) {
	switch {
	case kind.IsMovie():
		p.Movies = append(p.Movies, item)
	case kind.IsShow():
		p.Shows = append(p.Shows, item)
	case kind.IsEpisode():
		p.Episodes = append(p.Episodes, item)
	}
}

func (p *syncPayload) len() int {
	return len(p.Movies) + len(p.Shows) + len(p.Episodes)
}

type syncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Episodes int `json:"episodes"`
}

// syncResponse is what the sync endpoints report back
type syncResponse struct {
	Added    syncCounts  `json:"added"`
	Deleted  syncCounts  `json:"deleted"`
	Existing syncCounts  `json:"existing"`
	NotFound syncPayload `json:"not_found"`
}

type commentRequest struct {
	Movie   *syncItem `json:"movie,omitempty"`
	Show    *syncItem `json:"show,omitempty"`
	Episode *syncItem `json:"episode,omitempty"`
	Comment string    `json:"comment"`
	Spoiler bool      `json:"spoiler"`
}
