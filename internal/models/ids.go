package models

import (
	"strconv"
	"strings"
	"time"
)

// MediaIDs is the union of every identifier known for one title.
// Zero values mean "unknown". IMDB is the primary cross-service ID.
type MediaIDs struct {
	IMDB          string `json:"imdb,omitempty"`
	Trakt         uint64 `json:"trakt,omitempty"`
	Simkl         uint64 `json:"simkl,omitempty"`
	TMDB          uint32 `json:"tmdb,omitempty"`
	TVDB          uint32 `json:"tvdb,omitempty"`
	Slug          string `json:"slug,omitempty"`
	PlexRatingKey string `json:"plex_rating_key,omitempty"`

	// Carried metadata, used for title lookups in the identifier cache
	Title           string     `json:"title,omitempty"`
	Year            int        `json:"year,omitempty"`
	Kind            *MediaKind `json:"kind,omitempty"`
	ShowTitle       string     `json:"show_title,omitempty"`
	EpisodeTitle    string     `json:"episode_title,omitempty"`
	OriginalAirDate *time.Time `json:"original_air_date,omitempty"`
}

// IsEmpty reports whether no cross-service ID is known.
// The plex rating key is server-local and does not count.
func (m MediaIDs) IsEmpty() bool {
	return m.IMDB == "" && m.Trakt == 0 && m.Simkl == 0 && m.TMDB == 0 && m.TVDB == 0 && m.Slug == ""
}

// Merge fills fields that are empty in m from other. Existing values are kept,
// so the primary ID is never overwritten once set.
func (m *MediaIDs) Merge(other MediaIDs) {
	if m.IMDB == "" {
		m.IMDB = other.IMDB
	}
	if m.Trakt == 0 {
		m.Trakt = other.Trakt
	}
	if m.Simkl == 0 {
		m.Simkl = other.Simkl
	}
	if m.TMDB == 0 {
		m.TMDB = other.TMDB
	}
	if m.TVDB == 0 {
		m.TVDB = other.TVDB
	}
	if m.Slug == "" {
		m.Slug = other.Slug
	}
	if m.PlexRatingKey == "" {
		m.PlexRatingKey = other.PlexRatingKey
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Year == 0 {
		m.Year = other.Year
	}
	if m.Kind == nil && other.Kind != nil {
		k := *other.Kind
		m.Kind = &k
	}
	if m.ShowTitle == "" {
		m.ShowTitle = other.ShowTitle
	}
	if m.EpisodeTitle == "" {
		m.EpisodeTitle = other.EpisodeTitle
	}
	if m.OriginalAirDate == nil && other.OriginalAirDate != nil {
		d := *other.OriginalAirDate
		m.OriginalAirDate = &d
	}
}

// WithMetadata sets title, year and kind for title-based cache lookups
func (m MediaIDs) WithMetadata(title string, year int, kind MediaKind) MediaIDs {
	m.Title = title
	m.Year = year
	m.Kind = &kind
	return m
}

// AnyID returns the best available ID: the IMDb ID, then "trakt:N", "simkl:N",
// "tmdb:N", "tvdb:N" and finally the slug. Empty when nothing is known.
func (m MediaIDs) AnyID() string {
	switch {
	case m.IMDB != "":
		return m.IMDB
	case m.Trakt != 0:
		return "trakt:" + strconv.FormatUint(m.Trakt, 10)
	case m.Simkl != 0:
		return "simkl:" + strconv.FormatUint(m.Simkl, 10)
	case m.TMDB != 0:
		return "tmdb:" + strconv.FormatUint(uint64(m.TMDB), 10)
	case m.TVDB != 0:
		return "tvdb:" + strconv.FormatUint(uint64(m.TVDB), 10)
	default:
		return m.Slug
	}
}

// BestIDForSource prefers the ID native to source, then the IMDb ID, then AnyID
func (m MediaIDs) BestIDForSource(source string) string {
	switch strings.ToLower(source) {
	case SourceTrakt:
		if m.Trakt != 0 {
			return "trakt:" + strconv.FormatUint(m.Trakt, 10)
		}
	case SourceSimkl:
		if m.Simkl != 0 {
			return "simkl:" + strconv.FormatUint(m.Simkl, 10)
		}
	case "tmdb":
		if m.TMDB != 0 {
			return "tmdb:" + strconv.FormatUint(uint64(m.TMDB), 10)
		}
	case "tvdb":
		if m.TVDB != 0 {
			return "tvdb:" + strconv.FormatUint(uint64(m.TVDB), 10)
		}
	case SourcePlex:
		if m.PlexRatingKey != "" {
			return m.PlexRatingKey
		}
	}
	return m.AnyID()
}

// HasID reports whether the named ID type is present
func (m MediaIDs) HasID(idType string) bool {
	switch strings.ToLower(idType) {
	case "imdb":
		return m.IMDB != ""
	case "trakt":
		return m.Trakt != 0
	case "simkl":
		return m.Simkl != 0
	case "tmdb":
		return m.TMDB != 0
	case "tvdb":
		return m.TVDB != 0
	case "slug":
		return m.Slug != ""
	case "plex", "plex_rating_key":
		return m.PlexRatingKey != ""
	}
	return false
}

// MatchesAny reports whether both bundles share at least one cross-service ID
func (m MediaIDs) MatchesAny(other MediaIDs) bool {
	switch {
	case m.IMDB != "" && m.IMDB == other.IMDB:
		return true
	case m.Trakt != 0 && m.Trakt == other.Trakt:
		return true
	case m.Simkl != 0 && m.Simkl == other.Simkl:
		return true
	case m.TMDB != 0 && m.TMDB == other.TMDB:
		return true
	case m.TVDB != 0 && m.TVDB == other.TVDB:
		return true
	case m.Slug != "" && m.Slug == other.Slug:
		return true
	}
	return false
}

// Keys returns every prefixed ID string under which the bundle can be found
func (m MediaIDs) Keys() []string {
	var keys []string
	if m.IMDB != "" {
		keys = append(keys, m.IMDB)
	}
	if m.Trakt != 0 {
		keys = append(keys, "trakt:"+strconv.FormatUint(m.Trakt, 10))
	}
	if m.Simkl != 0 {
		keys = append(keys, "simkl:"+strconv.FormatUint(m.Simkl, 10))
	}
	if m.TMDB != 0 {
		keys = append(keys, "tmdb:"+strconv.FormatUint(uint64(m.TMDB), 10))
	}
	if m.TVDB != 0 {
		keys = append(keys, "tvdb:"+strconv.FormatUint(uint64(m.TVDB), 10))
	}
	if m.Slug != "" {
		keys = append(keys, "slug:"+m.Slug)
	}
	if m.PlexRatingKey != "" {
		keys = append(keys, "plex:"+m.PlexRatingKey)
	}
	return keys
}

// CleanIMDbID strips slashes and whitespace some services leave in IMDb IDs
func CleanIMDbID(id string) string {
	return strings.TrimSpace(strings.ReplaceAll(id, "/", ""))
}
