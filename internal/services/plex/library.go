package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/utils"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// libraryEntry is what the index knows about one library title
type libraryEntry struct {
	ratingKey string
	title     string
	year      int
	kind      models.MediaKind
	ids       models.MediaIDs
}

func indexKey(kind models.MediaKind, idKey string) string {
	return string(kind.Type) + "|" + idKey
}

// sections lists the library sections of the server
func (c *Client) sections(ctx context.Context, server string) ([]Directory, error) {
	var resp Response
	if _, err := c.doRequest(ctx, http.MethodGet, server, "/library/sections", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list plex libraries: %w", err)
	}
	return resp.MediaContainer.Directory, nil
}

// sectionItems lists the movies (type 1) or shows (type 2) of a section
func (c *Client) sectionItems(ctx context.Context, server string, section Directory) ([]Metadata, error) {
	plexType := "1"
	if section.Type == "show" {
		plexType = "2"
	}
	query := url.Values{"type": {plexType}, "includeGuids": {"1"}}
	var resp Response
	path := "/library/sections/" + url.PathEscape(section.Key) + "/all"
	if _, err := c.doRequest(ctx, http.MethodGet, server, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list plex section %s: %w", section.Title, err)
	}
	return resp.MediaContainer.items(), nil
}

// libraryItems returns every movie and show of the server
func (c *Client) libraryItems(ctx context.Context, server string) ([]Metadata, error) {
	sections, err := c.sections(ctx, server)
	if err != nil {
		return nil, err
	}
	var all []Metadata
	for _, s := range sections {
		if s.Type != "movie" && s.Type != "show" {
			continue
		}
		items, err := c.sectionItems(ctx, server, s)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// index fills the key cache from the library unless it is fresh
func (c *Client) index(ctx context.Context, server string) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	if !c.indexedAt.IsZero() && time.Since(c.indexedAt) < indexTTL {
		return nil
	}

	items, err := c.libraryItems(ctx, server)
	if err != nil {
		return err
	}
	c.storeEntries(items)
	c.indexedAt = time.Now()

	c.logger.WithFields(logrus.Fields{
		"items": len(items),
		"keys":  c.keys.ItemCount(),
	}).Debug("Indexed Plex library")
	return nil
}

func (c *Client) storeEntries(items []Metadata) {
	for _, m := range items {
		kind, ok := m.kind()
		if !ok || m.RatingKey == "" {
			continue
		}
		e := libraryEntry{
			ratingKey: m.RatingKey,
			title:     m.Title,
			year:      m.year(),
			kind:      kind,
			ids:       m.ids(),
		}
		for _, key := range e.ids.Keys() {
			c.keys.Set(indexKey(kind, key), e, gocache.DefaultExpiration)
		}
	}
}

// findLocal looks a bundle up in the library index
func (c *Client) findLocal(ids models.MediaIDs, kind models.MediaKind) (libraryEntry, bool) {
	for _, key := range ids.Keys() {
		if strings.HasPrefix(key, "plex:") {
			continue
		}
		if v, ok := c.keys.Get(indexKey(kind, key)); ok {
			return v.(libraryEntry), true
		}
	}
	return libraryEntry{}, false
}

// metadata fetches one library item with its GUIDs
func (c *Client) metadata(ctx context.Context, server, ratingKey string) (*Metadata, error) {
	id := strings.TrimPrefix(ratingKey, "/library/metadata/")
	var resp Response
	query := url.Values{"includeGuids": {"1"}}
	if _, err := c.doRequest(ctx, http.MethodGet, server, "/library/metadata/"+url.PathEscape(id), query, nil, &resp); err != nil {
		return nil, err
	}
	items := resp.MediaContainer.items()
	if len(items) == 0 {
		return nil, fmt.Errorf("plex item %s not found", id)
	}
	return &items[0], nil
}

func plexType(kind models.MediaKind) (string, bool) {
	switch {
	case kind.IsMovie():
		return "1", true
	case kind.IsShow():
		return "2", true
	}
	return "", false
}

// searchLibrary runs a title search on the media server
func (c *Client) searchLibrary(ctx context.Context, server, title string, year int, kind models.MediaKind) ([]Metadata, error) {
	t, ok := plexType(kind)
	if !ok {
		return nil, nil
	}
	query := url.Values{"query": {title}, "type": {t}, "includeGuids": {"1"}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}
	var resp Response
	if _, err := c.doRequest(ctx, http.MethodGet, server, "/library/search", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to search plex library: %w", err)
	}
	return resp.MediaContainer.items(), nil
}

// searchDiscover runs a title search on the discover provider
func (c *Client) searchDiscover(ctx context.Context, title string, year int, kind models.MediaKind) ([]Metadata, error) {
	providers, types := "discover,PLEXAVOD", "movies"
	switch {
	case kind.IsShow():
		providers, types = "discover,PLEXTVOD", "tv"
	case !kind.IsMovie():
		return nil, nil
	}
	query := url.Values{
		"query":           {title},
		"includeGuids":    {"1"},
		"searchProviders": {providers},
		"searchTypes":     {types},
	}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}

	var resp Response
	if _, err := c.doRequest(ctx, http.MethodGet, c.discoverURL, "/library/search", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to search plex discover: %w", err)
	}

	var results []Metadata
	for _, group := range resp.MediaContainer.SearchResults {
		for _, r := range group.SearchResult {
			if r.Metadata.RatingKey != "" && r.Metadata.Title != "" {
				results = append(results, r.Metadata)
			}
		}
	}
	if len(results) == 0 {
		results = resp.MediaContainer.items()
	}
	return results, nil
}

// best picks the closest title, preferring one whose GUIDs match ids
func best(results []Metadata, ids models.MediaIDs, title string, year int) (Metadata, bool) {
	if !ids.IsEmpty() {
		for _, r := range results {
			if r.Guids.IDs().MatchesAny(ids) {
				return r, true
			}
		}
	}
	candidates := make([]utils.Candidate, 0, len(results))
	for i, r := range results {
		candidates = append(candidates, utils.Candidate{Title: r.Title, Year: r.year(), Index: i})
	}
	i, ok := utils.BestCandidate(title, year, candidates)
	if !ok {
		return Metadata{}, false
	}
	return results[i], true
}

// discoverKey finds the discover rating key of a title. Watchlist actions
// only accept discover keys, which are long hex strings.
func (c *Client) discoverKey(ctx context.Context, ids models.MediaIDs, title string, year int, kind models.MediaKind) (string, error) {
	if isDiscoverKey(ids.PlexRatingKey) {
		return ids.PlexRatingKey, nil
	}
	if title == "" {
		return "", nil
	}
	results, err := c.searchDiscover(ctx, title, year, kind)
	if err != nil {
		return "", err
	}
	if len(results) == 0 && year > 0 {
		if results, err = c.searchDiscover(ctx, title, 0, kind); err != nil {
			return "", err
		}
	}
	m, ok := best(results, ids, title, year)
	if !ok {
		return "", nil
	}
	return m.RatingKey, nil
}

// libraryKey finds the media server rating key of a title: the index first,
// then a library title search.
func (c *Client) libraryKey(ctx context.Context, server string, ids models.MediaIDs, title string, year int, kind models.MediaKind) (string, error) {
	if ids.PlexRatingKey != "" && !isDiscoverKey(ids.PlexRatingKey) {
		return ids.PlexRatingKey, nil
	}
	if err := c.index(ctx, server); err != nil {
		return "", err
	}
	if e, ok := c.findLocal(ids, kind); ok {
		return e.ratingKey, nil
	}
	if title == "" {
		return "", nil
	}
	results, err := c.searchLibrary(ctx, server, title, year, kind)
	if err != nil {
		return "", err
	}
	m, ok := best(results, ids, title, year)
	if !ok {
		return "", nil
	}
	return m.RatingKey, nil
}

func isDiscoverKey(key string) bool {
	return len(key) >= 20
}
