package simkl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/utils"
)

const lookupPriority = 70

func searchType(kind models.MediaKind) (string, bool) {
	switch {
	case kind.IsMovie():
		return "movie", true
	case kind.IsShow():
		return "tv", true
	}
	return "", false
}

// LookupIDs searches Simkl by title
func (c *Client) LookupIDs(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaIDs, error) {
	typ, ok := searchType(kind)
	if !ok || title == "" {
		return nil, nil
	}

	query := url.Values{"q": {title}, "extended": {"full"}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}

	var results []SearchResult
	if _, err := c.doRequest(ctx, http.MethodGet, "/search/"+typ, query, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to search simkl: %w", err)
	}

	candidates := make([]utils.Candidate, 0, len(results))
	for i, r := range results {
		candidates = append(candidates, utils.Candidate{Title: r.Title, Year: r.Year, Index: i})
	}
	best, ok := utils.BestCandidate(title, year, candidates)
	if !ok {
		return nil, nil
	}

	ids := results[best].IDs.MediaIDs()
	if ids.IsEmpty() {
		return nil, nil
	}
	return &ids, nil
}

// LookupByIMDbID resolves an IMDb ID through Simkl's ID search
func (c *Client) LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*sources.LookupResult, error) {
	if imdbID == "" || kind.IsEpisode() {
		return nil, nil
	}

	var results []SearchResult
	if _, err := c.doRequest(ctx, http.MethodGet, "/search/id", url.Values{"imdb": {imdbID}}, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to look up %s on simkl: %w", imdbID, err)
	}

	for _, r := range results {
		parsed, ok := models.ParseKind(r.Type)
		if ok && parsed.Type != kind.Type {
			continue
		}
		if r.Title == "" {
			continue
		}
		ids := r.IDs.MediaIDs()
		ids.IMDB = imdbID
		return &sources.LookupResult{
			Title: r.Title,
			Year:  r.Year,
			IDs:   ids.WithMetadata(r.Title, r.Year, kind),
		}, nil
	}
	return nil, nil
}

func (c *Client) LookupPriority() int        { return lookupPriority }
func (c *Client) LookupProviderName() string { return models.SourceSimkl }

// IsLookupAvailable is true once authenticated
func (c *Client) IsLookupAvailable() bool { return c.token() != "" }
