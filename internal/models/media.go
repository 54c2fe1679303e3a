package models

import (
	"strings"
	"time"
)

// Record is the shape shared by the four synchronised item types
type Record interface {
	// PrimaryID is the IMDb ID when known, otherwise the best other ID
	PrimaryID() string
	Bundle() MediaIDs
	MediaKind() MediaKind
	Timestamp() time.Time
	Origin() string
	// DisplayTitle falls back to the title carried in the bundle
	DisplayTitle() string
	ReleaseYear() int
}

// WatchlistItem is an entry of a user's watchlist
type WatchlistItem struct {
	IMDbID    string           `json:"imdb_id"`
	IDs       MediaIDs         `json:"ids"`
	Title     string           `json:"title"`
	Year      int              `json:"year,omitempty"`
	Kind      MediaKind        `json:"media_type"`
	DateAdded time.Time        `json:"date_added"`
	Source    string           `json:"source"`
	Status    NormalizedStatus `json:"status,omitempty"`
}

// Rating is a user rating on the canonical 1..10 scale
type Rating struct {
	IMDbID       string       `json:"imdb_id"`
	IDs          MediaIDs     `json:"ids"`
	Title        string       `json:"title,omitempty"`
	Year         int          `json:"year,omitempty"`
	Value        int          `json:"rating"`
	DateAdded    time.Time    `json:"date_added"`
	Kind         MediaKind    `json:"media_type"`
	RatingSource RatingSource `json:"rating_source"`
	Source       string       `json:"source"`
}

// Review is a user-written review or comment
type Review struct {
	IMDbID    string    `json:"imdb_id"`
	IDs       MediaIDs  `json:"ids"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	DateAdded time.Time `json:"date_added"`
	Kind      MediaKind `json:"media_type"`
	Source    string    `json:"source"`
	Spoiler   bool      `json:"is_spoiler"`
}

// WatchHistory is one watch (play, check-in, scrobble)
type WatchHistory struct {
	IMDbID    string    `json:"imdb_id"`
	IDs       MediaIDs  `json:"ids"`
	Title     string    `json:"title,omitempty"`
	Year      int       `json:"year,omitempty"`
	WatchedAt time.Time `json:"watched_at"`
	Kind      MediaKind `json:"media_type"`
	Source    string    `json:"source"`
}

func orTitle(title string, ids MediaIDs) string {
	if title != "" {
		return title
	}
	return ids.Title
}

func orYear(year int, ids MediaIDs) int {
	if year != 0 {
		return year
	}
	return ids.Year
}

func primaryID(imdb string, ids MediaIDs) string {
	if imdb != "" {
		return imdb
	}
	return ids.AnyID()
}

func (w WatchlistItem) PrimaryID() string    { return primaryID(w.IMDbID, w.IDs) }
func (w WatchlistItem) Bundle() MediaIDs     { return w.IDs }
func (w WatchlistItem) MediaKind() MediaKind { return w.Kind }
func (w WatchlistItem) Timestamp() time.Time { return w.DateAdded }
func (w WatchlistItem) Origin() string       { return w.Source }
func (w WatchlistItem) DisplayTitle() string { return orTitle(w.Title, w.IDs) }
func (w WatchlistItem) ReleaseYear() int     { return orYear(w.Year, w.IDs) }

// WithIDs returns a copy carrying ids, filling IMDbID when it was empty
func (w WatchlistItem) WithIDs(ids MediaIDs) WatchlistItem {
	w.IDs = ids
	if w.IMDbID == "" {
		w.IMDbID = ids.IMDB
	}
	return w
}

func (r Rating) PrimaryID() string    { return primaryID(r.IMDbID, r.IDs) }
func (r Rating) Bundle() MediaIDs     { return r.IDs }
func (r Rating) MediaKind() MediaKind { return r.Kind }
func (r Rating) Timestamp() time.Time { return r.DateAdded }
func (r Rating) Origin() string       { return r.Source }
func (r Rating) DisplayTitle() string { return orTitle(r.Title, r.IDs) }
func (r Rating) ReleaseYear() int     { return orYear(r.Year, r.IDs) }

// WithIDs returns a copy carrying ids, filling IMDbID when it was empty
func (r Rating) WithIDs(ids MediaIDs) Rating {
	r.IDs = ids
	if r.IMDbID == "" {
		r.IMDbID = ids.IMDB
	}
	return r
}

func (r Review) PrimaryID() string    { return primaryID(r.IMDbID, r.IDs) }
func (r Review) Bundle() MediaIDs     { return r.IDs }
func (r Review) MediaKind() MediaKind { return r.Kind }
func (r Review) Timestamp() time.Time { return r.DateAdded }
func (r Review) Origin() string       { return r.Source }
func (r Review) DisplayTitle() string { return orTitle(r.Title, r.IDs) }
func (r Review) ReleaseYear() int     { return r.IDs.Year }

// WithIDs returns a copy carrying ids, filling IMDbID when it was empty
func (r Review) WithIDs(ids MediaIDs) Review {
	r.IDs = ids
	if r.IMDbID == "" {
		r.IMDbID = ids.IMDB
	}
	return r
}

func (h WatchHistory) PrimaryID() string    { return primaryID(h.IMDbID, h.IDs) }
func (h WatchHistory) Bundle() MediaIDs     { return h.IDs }
func (h WatchHistory) MediaKind() MediaKind { return h.Kind }
func (h WatchHistory) Timestamp() time.Time { return h.WatchedAt }
func (h WatchHistory) Origin() string       { return h.Source }
func (h WatchHistory) DisplayTitle() string { return orTitle(h.Title, h.IDs) }
func (h WatchHistory) ReleaseYear() int     { return orYear(h.Year, h.IDs) }

// WithIDs returns a copy carrying ids, filling IMDbID when it was empty
func (h WatchHistory) WithIDs(ids MediaIDs) WatchHistory {
	h.IDs = ids
	if h.IMDbID == "" {
		h.IMDbID = ids.IMDB
	}
	return h
}

// SameTitle reports whether two records point at the same title:
// equal IMDb IDs or any shared cross-service ID.
func SameTitle(a, b Record) bool {
	ai, bi := a.Bundle(), b.Bundle()
	if ap, bp := imdbOf(a), imdbOf(b); ap != "" && ap == bp {
		return true
	}
	return ai.MatchesAny(bi)
}

func imdbOf(r Record) string {
	if id := r.PrimaryID(); strings.HasPrefix(id, "tt") {
		return id
	}
	return ""
}

// IdentityKeys lists the keys two records of the same title share. IMDb IDs
// are unique across kinds; numeric IDs are scoped by kind. Server-local
// rating keys are left out.
func IdentityKeys(r Record) []string {
	ids := r.Bundle()
	if p := imdbOf(r); p != "" && ids.IMDB == "" {
		ids.IMDB = p
	}
	kind := r.MediaKind().String()
	var keys []string
	for _, k := range ids.Keys() {
		switch {
		case strings.HasPrefix(k, "plex:"):
			continue
		case strings.HasPrefix(k, "tt"):
			keys = append(keys, k)
		default:
			keys = append(keys, kind+"|"+k)
		}
	}
	return keys
}

// Addressable reports whether a record carries any identifier a target can use
func Addressable(r Record) bool {
	return r.PrimaryID() != "" || r.Bundle().PlexRatingKey != ""
}

// ExcludedItem records an item that was retrieved but not propagated
type ExcludedItem struct {
	Title     string     `json:"title,omitempty"`
	IMDbID    string     `json:"imdb_id,omitempty"`
	RatingKey string     `json:"rating_key,omitempty"`
	MediaType string     `json:"media_type"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source"`
	DateAdded *time.Time `json:"date_added,omitempty"`
}

// Exclude builds an ExcludedItem from any record
func Exclude(r Record, reason string) ExcludedItem {
	ts := r.Timestamp()
	item := ExcludedItem{
		Title:     r.DisplayTitle(),
		IMDbID:    r.PrimaryID(),
		RatingKey: r.Bundle().PlexRatingKey,
		MediaType: r.MediaKind().Label(),
		Reason:    reason,
		Source:    r.Origin(),
	}
	if !ts.IsZero() {
		item.DateAdded = &ts
	}
	return item
}

// Collection is everything one source returned for a run, or a resolved set
type Collection struct {
	Watchlist    []WatchlistItem `json:"watchlist"`
	Ratings      []Rating        `json:"ratings"`
	Reviews      []Review        `json:"reviews"`
	WatchHistory []WatchHistory  `json:"watch_history"`
}

// Count returns the number of records of one data type
func (c *Collection) Count(dt DataType) int {
	switch dt {
	case DataWatchlist:
		return len(c.Watchlist)
	case DataRatings:
		return len(c.Ratings)
	case DataReviews:
		return len(c.Reviews)
	case DataWatchHistory:
		return len(c.WatchHistory)
	}
	return 0
}

// Total returns the number of records across all data types
func (c *Collection) Total() int {
	return len(c.Watchlist) + len(c.Ratings) + len(c.Reviews) + len(c.WatchHistory)
}
