package imdb

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
)

const dateLayout = "2006-01-02"

// ParseStats counts the rows a parse kept and dropped
type ParseStats struct {
	Rows    int
	Kept    int
	Invalid int
	Skipped int
}

// table indexes a CSV export by header name
type table struct {
	header  map[string]int
	records [][]string
}

func readTable(data []byte, required ...string) (*table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	head, err := r.Read()
	if err == io.EOF {
		return &table{header: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	t := &table{header: make(map[string]int, len(head))}
	for i, h := range head {
		t.header[strings.TrimSpace(h)] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, fmt.Errorf("missing required column %q (have %s)", col, strings.Join(head, ", "))
		}
	}

	t.records, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv rows: %w", err)
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

func (t *table) get(rec []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// titleKind maps the "Title Type" column. Unknown types are not synchronised.
func titleKind(s string) (models.MediaKind, bool) {
	switch s {
	case "TV Series", "TV Mini Series":
		return models.Show(), true
	case "TV Episode":
		return models.Episode(0, 0), true
	case "Movie", "TV Special", "TV Movie", "TV Short", "Video":
		return models.Movie(), true
	}
	return models.MediaKind{}, false
}

// parseDate reads an export date as midnight UTC
func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// row holds the columns every export shares
type row struct {
	imdbID string
	title  string
	year   int
	kind   models.MediaKind
}

func (t *table) row(rec []string) (row, bool) {
	r := row{
		imdbID: models.CleanIMDbID(t.get(rec, "Const")),
		title:  t.get(rec, "Title"),
	}
	if r.imdbID == "" {
		return r, false
	}
	kind, ok := titleKind(t.get(rec, "Title Type"))
	if !ok {
		return r, false
	}
	r.kind = kind
	r.year, _ = strconv.Atoi(t.get(rec, "Year"))
	return r, true
}

// ParseWatchlist reads a list export. A missing Created column or date falls
// back to now; rows without an ID or with an unknown title type are skipped.
func ParseWatchlist(data []byte, status models.NormalizedStatus, now time.Time) ([]models.WatchlistItem, ParseStats, error) {
	var stats ParseStats
	t, err := readTable(data, "Title", "Year", "Const", "Title Type")
	if err != nil {
		return nil, stats, err
	}

	items := make([]models.WatchlistItem, 0, len(t.records))
	for _, rec := range t.records {
		stats.Rows++
		r, ok := t.row(rec)
		if !ok {
			stats.Skipped++
			continue
		}
		added := now.UTC()
		if created := t.get(rec, "Created"); created != "" {
			d, err := parseDate(created)
			if err != nil {
				stats.Invalid++
				continue
			}
			added = d
		}
		items = append(items, models.WatchlistItem{
			IMDbID:    r.imdbID,
			IDs:       models.MediaIDs{IMDB: r.imdbID},
			Title:     r.title,
			Year:      r.year,
			Kind:      r.kind,
			DateAdded: added,
			Source:    models.SourceImdb,
			Status:    status,
		})
	}
	stats.Kept = len(items)
	return items, stats, nil
}

// ParseRatings reads the ratings export. Values keep their half points; the
// caller rounds them to the canonical scale.
func ParseRatings(data []byte) ([]RawRating, ParseStats, error) {
	var stats ParseStats
	t, err := readTable(data, "Title", "Year", "Your Rating", "Const", "Date Rated", "Title Type")
	if err != nil {
		return nil, stats, err
	}

	ratings := make([]RawRating, 0, len(t.records))
	for _, rec := range t.records {
		stats.Rows++
		r, ok := t.row(rec)
		if !ok {
			stats.Skipped++
			continue
		}
		value, err := strconv.ParseFloat(t.get(rec, "Your Rating"), 64)
		if err != nil || value <= 0 {
			stats.Invalid++
			continue
		}
		rated, err := parseDate(t.get(rec, "Date Rated"))
		if err != nil {
			stats.Invalid++
			continue
		}
		ratings = append(ratings, RawRating{
			IMDbID:  r.imdbID,
			Title:   r.title,
			Year:    r.year,
			Kind:    r.kind,
			Value:   value,
			RatedAt: rated,
		})
	}
	stats.Kept = len(ratings)
	return ratings, stats, nil
}

// RawRating is a ratings export row on the native scale
type RawRating struct {
	IMDbID  string
	Title   string
	Year    int
	Kind    models.MediaKind
	Value   float64
	RatedAt time.Time
}

// ParseCheckins reads the check-ins list. Rows without a Created date carry
// no watch time and are skipped.
func ParseCheckins(data []byte) ([]models.WatchHistory, ParseStats, error) {
	var stats ParseStats
	t, err := readTable(data, "Title", "Year", "Const", "Title Type")
	if err != nil {
		return nil, stats, err
	}

	history := make([]models.WatchHistory, 0, len(t.records))
	for _, rec := range t.records {
		stats.Rows++
		r, ok := t.row(rec)
		if !ok || !t.has("Created") {
			stats.Skipped++
			continue
		}
		created := t.get(rec, "Created")
		if created == "" {
			stats.Skipped++
			continue
		}
		watched, err := parseDate(created)
		if err != nil {
			stats.Invalid++
			continue
		}
		history = append(history, models.WatchHistory{
			IMDbID:    r.imdbID,
			IDs:       models.MediaIDs{IMDB: r.imdbID},
			Title:     r.title,
			Year:      r.year,
			WatchedAt: watched,
			Kind:      r.kind,
			Source:    models.SourceImdb,
		})
	}
	stats.Kept = len(history)
	return history, stats, nil
}

// scrapedReview is one entry of the reviews file written by the worker
type scrapedReview struct {
	IMDbID  string `json:"imdb_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Spoiler bool   `json:"is_spoiler"`
	Date    string `json:"date"`
	Type    string `json:"title_type"`
}

// ParseReviews reads the scraped reviews file. Duplicates keep the first entry.
func ParseReviews(data []byte, now time.Time) ([]models.Review, ParseStats, error) {
	var stats ParseStats
	var raw []scrapedReview
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, stats, fmt.Errorf("failed to parse reviews: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	reviews := make([]models.Review, 0, len(raw))
	for _, r := range raw {
		stats.Rows++
		id := models.CleanIMDbID(r.IMDbID)
		if id == "" || strings.TrimSpace(r.Content) == "" || seen[id] {
			stats.Skipped++
			continue
		}
		seen[id] = true

		kind, ok := titleKind(r.Type)
		if !ok {
			kind = models.Movie()
		}
		added := now.UTC()
		if r.Date != "" {
			if d, err := parseDate(r.Date); err == nil {
				added = d
			}
		}
		reviews = append(reviews, models.Review{
			IMDbID:    id,
			IDs:       models.MediaIDs{IMDB: id},
			Title:     r.Title,
			Content:   r.Content,
			DateAdded: added,
			Kind:      kind,
			Source:    models.SourceImdb,
			Spoiler:   r.Spoiler,
		})
	}
	stats.Kept = len(reviews)
	return reviews, stats, nil
}
