package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/sirupsen/logrus"
)

const lookupPriority = 80

func searchType(kind models.MediaKind) (string, bool) {
	switch {
	case kind.IsMovie():
		return "movie", true
	case kind.IsShow():
		return "show", true
	}
	return "", false
}

// searchQuery drops commas and collapses whitespace
func searchQuery(title string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(title, ",", " ")), " ")
}

func notFound(err error) bool {
	var apiErr *sources.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// LookupIDs searches a movie or show by title and picks the closest match.
// Episodes cannot be searched by title.
func (c *Client) LookupIDs(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaIDs, error) {
	typ, ok := searchType(kind)
	if !ok || title == "" {
		return nil, nil
	}

	query := url.Values{"query": {searchQuery(title)}}
	if year > 0 {
		query.Set("years", strconv.Itoa(year))
	}

	var results []SearchResult
	if _, err := c.doRequest(ctx, http.MethodGet, "/search/"+typ, query, nil, &results); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search trakt: %w", err)
	}

	candidates := make([]utils.Candidate, 0, len(results))
	for i, r := range results {
		if m := r.media(); m != nil {
			candidates = append(candidates, utils.Candidate{Title: m.Title, Year: m.Year, Index: i})
		}
	}
	best, ok := utils.BestCandidate(title, year, candidates)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"title":   title,
			"year":    year,
			"results": len(results),
		}).Debug("Trakt search found no close match")
		return nil, nil
	}

	ids := results[best].media().IDs.MediaIDs()
	if ids.IsEmpty() {
		return nil, nil
	}
	c.logger.WithFields(logrus.Fields{
		"title": title,
		"imdb":  ids.IMDB,
		"trakt": ids.Trakt,
	}).Debug("Trakt search matched")
	return &ids, nil
}

// LookupByIMDbID resolves title, year and IDs of an IMDb ID
func (c *Client) LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*sources.LookupResult, error) {
	typ, ok := searchType(kind)
	if !ok || imdbID == "" {
		return nil, nil
	}

	var results []SearchResult
	path := "/search/imdb/" + url.PathEscape(imdbID)
	if _, err := c.doRequest(ctx, http.MethodGet, path, url.Values{"type": {typ}}, nil, &results); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up %s on trakt: %w", imdbID, err)
	}

	for _, r := range results {
		if r.Type != typ {
			continue
		}
		m := r.media()
		if m == nil || m.Title == "" {
			continue
		}
		return &sources.LookupResult{
			Title: m.Title,
			Year:  m.Year,
			IDs:   m.IDs.MediaIDs().WithMetadata(m.Title, m.Year, kind),
		}, nil
	}
	return nil, nil
}

// LookupPriority ranks Trakt above the other providers
func (c *Client) LookupPriority() int { return lookupPriority }

func (c *Client) LookupProviderName() string { return models.SourceTrakt }

// IsLookupAvailable is true once authenticated
func (c *Client) IsLookupAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != "" && c.username != ""
}
