package plex

import (
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
)

// Response wraps every Plex Media Server and discover answer
type Response struct {
	MediaContainer MediaContainer `json:"MediaContainer"`
}

// MediaContainer holds whichever list an endpoint returns
type MediaContainer struct {
	Size          int           `json:"size"`
	Directory     []Directory   `json:"Directory,omitempty"`
	Metadata      []Metadata    `json:"Metadata,omitempty"`
	Video         []Metadata    `json:"Video,omitempty"`
	SearchResults []SearchGroup `json:"SearchResults,omitempty"`
}

// items returns Metadata, falling back to the older Video list
func (m MediaContainer) items() []Metadata {
	if len(m.Metadata) > 0 {
		return m.Metadata
	}
	return m.Video
}

// Directory is a library section
type Directory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// GUID is one external identifier, e.g. "imdb://tt0111161"
type GUID struct {
	ID string `json:"id"`
}

// GUIDList accepts the shapes Plex uses for Guid: an array of objects or
// strings, a single object or a bare string
type GUIDList []GUID

func (g *GUIDList) UnmarshalJSON(b []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		one, ok := parseGUID(b)
		if ok {
			*g = GUIDList{one}
		}
		return nil
	}
	out := make(GUIDList, 0, len(list))
	for _, raw := range list {
		if one, ok := parseGUID(raw); ok {
			out = append(out, one)
		}
	}
	*g = out
	return nil
}

func parseGUID(raw []byte) (GUID, bool) {
	var obj GUID
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return obj, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return GUID{ID: s}, true
	}
	return GUID{}, false
}

// IDs extracts the external IDs. Both "imdb://tt1" and the legacy agent form
// "com.plexapp.agents.imdb://tt1?lang=en" are understood.
func (g GUIDList) IDs() models.MediaIDs {
	var ids models.MediaIDs
	for _, guid := range g {
		scheme, value, ok := splitGUID(guid.ID)
		if !ok {
			continue
		}
		switch scheme {
		case "imdb":
			if ids.IMDB == "" && strings.HasPrefix(value, "tt") {
				ids.IMDB = value
			}
		case "tmdb", "themoviedb":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil && ids.TMDB == 0 {
				ids.TMDB = uint32(n)
			}
		case "tvdb", "thetvdb":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil && ids.TVDB == 0 {
				ids.TVDB = uint32(n)
			}
		}
	}
	return ids
}

func splitGUID(s string) (string, string, bool) {
	i := strings.Index(s, "://")
	if i < 0 {
		return "", "", false
	}
	scheme := s[:i]
	if dot := strings.LastIndex(scheme, "."); dot >= 0 {
		scheme = scheme[dot+1:]
	}
	value := s[i+3:]
	if q := strings.IndexAny(value, "?/"); q >= 0 {
		value = value[:q]
	}
	return strings.ToLower(scheme), value, value != ""
}

// Metadata is a movie, show or episode
type Metadata struct {
	RatingKey             string   `json:"ratingKey"`
	Key                   string   `json:"key"`
	GUID                  string   `json:"guid"`
	Type                  string   `json:"type"`
	Title                 string   `json:"title"`
	GrandparentTitle      string   `json:"grandparentTitle,omitempty"`
	GrandparentRatingKey  string   `json:"grandparentRatingKey,omitempty"`
	ParentIndex           int      `json:"parentIndex,omitempty"`
	Index                 int      `json:"index,omitempty"`
	Year                  int      `json:"year,omitempty"`
	UserRating            float64  `json:"userRating,omitempty"`
	ViewCount             int      `json:"viewCount,omitempty"`
	LastViewedAt          int64    `json:"lastViewedAt,omitempty"`
	ViewedAt              int64    `json:"viewedAt,omitempty"`
	LastRatedAt           int64    `json:"lastRatedAt,omitempty"`
	WatchlistedAt         int64    `json:"watchlistedAt,omitempty"`
	AddedAt               int64    `json:"addedAt,omitempty"`
	OriginallyAvailableAt string   `json:"originallyAvailableAt,omitempty"`
	Guids                 GUIDList `json:"Guid,omitempty"`
}

// kind maps the Plex type; unsupported types (tracks, clips) report false
func (m Metadata) kind() (models.MediaKind, bool) {
	switch m.Type {
	case "movie":
		return models.Movie(), true
	case "show":
		return models.Show(), true
	case "episode":
		return models.Episode(m.ParentIndex, m.Index), true
	}
	return models.MediaKind{}, false
}

// year falls back to the release date
func (m Metadata) year() int {
	if m.Year > 0 {
		return m.Year
	}
	if len(m.OriginallyAvailableAt) >= 4 {
		y, _ := strconv.Atoi(m.OriginallyAvailableAt[:4])
		return y
	}
	return 0
}

// displayTitle names episodes "Show: Episode"
func (m Metadata) displayTitle() string {
	if m.Type == "episode" && m.GrandparentTitle != "" {
		return m.GrandparentTitle + ": " + m.Title
	}
	return m.Title
}

// ids returns the external IDs plus the rating key
func (m Metadata) ids() models.MediaIDs {
	ids := m.Guids.IDs()
	ids.PlexRatingKey = m.RatingKey
	if m.Type == "episode" {
		ids.ShowTitle = m.GrandparentTitle
		ids.EpisodeTitle = m.Title
	}
	return ids
}

func unixTime(ts int64) (time.Time, bool) {
	if ts <= 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0).UTC(), true
}

// SearchGroup is one provider's block of discover search results
type SearchGroup struct {
	Title        string         `json:"title"`
	SearchResult []SearchResult `json:"SearchResult"`
}

// SearchResult is one discover hit
type SearchResult struct {
	Score    float64  `json:"score"`
	Metadata Metadata `json:"Metadata"`
}

// Resource is a device of the account as listed by plex.tv
type Resource struct {
	Name             string       `json:"name"`
	Product          string       `json:"product"`
	Provides         string       `json:"provides"`
	ClientIdentifier string       `json:"clientIdentifier"`
	Connections      []Connection `json:"connections"`
}

// Connection is one address of a resource
type Connection struct {
	URI   string `json:"uri"`
	Local bool   `json:"local"`
}

func (r Resource) isServer() bool {
	return strings.Contains(r.Provides, "server") || r.Product == "Plex Media Server"
}

// uri prefers a local connection
func (r Resource) uri() string {
	remote := ""
	for _, c := range r.Connections {
		if c.URI == "" {
			continue
		}
		if c.Local {
			return c.URI
		}
		if remote == "" {
			remote = c.URI
		}
	}
	return remote
}

// User is the plex.tv account
type User struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}
