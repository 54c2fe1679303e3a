package models

import (
	"fmt"
	"strings"
)

// KindType is the coarse type of a title
type KindType string

const (
	KindMovie   KindType = "movie"
	KindShow    KindType = "show"
	KindEpisode KindType = "episode"
)

// MediaKind identifies a movie, a show or a single episode.
// An episode with Season and Episode both zero has an unknown position.
type MediaKind struct {
	Type    KindType `json:"type"`
	Season  int      `json:"season,omitempty"`
	Episode int      `json:"episode,omitempty"`
}

// Movie returns the movie kind
func Movie() MediaKind { return MediaKind{Type: KindMovie} }

// Show returns the show kind
func Show() MediaKind { return MediaKind{Type: KindShow} }

// Episode returns an episode kind at the given position
func Episode(season, episode int) MediaKind {
	return MediaKind{Type: KindEpisode, Season: season, Episode: episode}
}

func (k MediaKind) IsMovie() bool   { return k.Type == KindMovie }
func (k MediaKind) IsShow() bool    { return k.Type == KindShow }
func (k MediaKind) IsEpisode() bool { return k.Type == KindEpisode }

// IsZero reports whether the kind is unset
func (k MediaKind) IsZero() bool { return k.Type == "" }

// HasPosition reports whether an episode carries a usable season/episode pair
func (k MediaKind) HasPosition() bool {
	return k.Type == KindEpisode && (k.Season != 0 || k.Episode != 0)
}

// String returns the lowercase kind name used in cache keys and logs
func (k MediaKind) String() string {
	if k.Type == "" {
		return "unknown"
	}
	return string(k.Type)
}

// Label is String with the episode position appended
func (k MediaKind) Label() string {
	if k.Type == KindEpisode {
		return fmt.Sprintf("episode S%02dE%02d", k.Season, k.Episode)
	}
	return k.String()
}

// ParseKind maps service type names ("movie", "show", "tv", "series", "episode") to a kind
func ParseKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "film":
		return Movie(), true
	case "show", "shows", "tv", "series", "anime":
		return Show(), true
	case "episode", "episodes":
		return Episode(0, 0), true
	default:
		return MediaKind{}, false
	}
}

// NormalizedStatus is the service-independent watch state of a watchlist item
type NormalizedStatus string

const (
	StatusWatchlist NormalizedStatus = "watchlist"
	StatusWatching  NormalizedStatus = "watching"
	StatusCompleted NormalizedStatus = "completed"
	StatusHold      NormalizedStatus = "hold"
	StatusDropped   NormalizedStatus = "dropped"
)

// ParseNormalizedStatus accepts any casing of the five status names
func ParseNormalizedStatus(s string) (NormalizedStatus, bool) {
	switch NormalizedStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusWatchlist:
		return StatusWatchlist, true
	case StatusWatching:
		return StatusWatching, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusHold:
		return StatusHold, true
	case StatusDropped:
		return StatusDropped, true
	default:
		return "", false
	}
}

// RatingSource records which service scale a rating was originally given on
type RatingSource string

const (
	RatingSourceTrakt RatingSource = "trakt"
	RatingSourceSimkl RatingSource = "simkl"
	RatingSourceImdb  RatingSource = "imdb"
	RatingSourcePlex  RatingSource = "plex"
	RatingSourceTmdb  RatingSource = "tmdb"
)

// DataType is one of the four synchronised streams
type DataType string

const (
	DataWatchlist    DataType = "watchlist"
	DataRatings      DataType = "ratings"
	DataReviews      DataType = "reviews"
	DataWatchHistory DataType = "watch_history"
)

// AllDataTypes lists the streams in write order
var AllDataTypes = []DataType{DataWatchlist, DataRatings, DataReviews, DataWatchHistory}

// Source names
const (
	SourceTrakt = "trakt"
	SourceSimkl = "simkl"
	SourcePlex  = "plex"
	SourceImdb  = "imdb"

	// SourceRated tags history entries synthesized from ratings
	SourceRated = "rated"
)

// KnownSources lists every adapter the application can build
var KnownSources = []string{SourceTrakt, SourceImdb, SourcePlex, SourceSimkl}
