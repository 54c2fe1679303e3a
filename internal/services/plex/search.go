package plex

import (
	"context"
	"fmt"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/goccy/go-json"
)

const lookupPriority = 50

// ExtractIDs reads a Plex Guid array
func (c *Client) ExtractIDs(raw json.RawMessage) (models.MediaIDs, error) {
	var guids GUIDList
	if err := json.Unmarshal(raw, &guids); err != nil {
		return models.MediaIDs{}, fmt.Errorf("failed to parse plex guids: %w", err)
	}
	return guids.IDs(), nil
}

// LookupIDs searches the library, then the discover provider
func (c *Client) LookupIDs(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaIDs, error) {
	if title == "" || kind.IsEpisode() {
		return nil, nil
	}

	if server, err := c.serverURL(ctx); err == nil {
		results, err := c.searchLibrary(ctx, server, title, year, kind)
		if err != nil {
			return nil, err
		}
		if m, ok := best(results, models.MediaIDs{}, title, year); ok {
			if ids := m.ids(); ids.IMDB != "" || ids.TMDB != 0 || ids.TVDB != 0 {
				return &ids, nil
			}
		}
	} else {
		c.logger.WithError(err).Debug("Plex server unavailable for lookup")
	}

	results, err := c.searchDiscover(ctx, title, year, kind)
	if err != nil {
		return nil, err
	}
	m, ok := best(results, models.MediaIDs{}, title, year)
	if !ok {
		return nil, nil
	}
	ids := m.Guids.IDs()
	if ids.IsEmpty() && m.RatingKey != "" {
		if full, err := c.metadata(ctx, c.discoverURL, m.RatingKey); err == nil {
			ids = full.Guids.IDs()
		}
	}
	if ids.IsEmpty() {
		return nil, nil
	}
	return &ids, nil
}

// LookupByIMDbID finds an IMDb ID in the library index
func (c *Client) LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*sources.LookupResult, error) {
	if imdbID == "" || kind.IsEpisode() {
		return nil, nil
	}
	server, err := c.serverURL(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.index(ctx, server); err != nil {
		return nil, err
	}
	e, ok := c.findLocal(models.MediaIDs{IMDB: imdbID}, kind)
	if !ok {
		return nil, nil
	}
	return &sources.LookupResult{
		Title: e.title,
		Year:  e.year,
		IDs:   e.ids.WithMetadata(e.title, e.year, kind),
	}, nil
}

func (c *Client) LookupPriority() int        { return lookupPriority }
func (c *Client) LookupProviderName() string { return models.SourcePlex }

// IsLookupAvailable is true once authenticated
func (c *Client) IsLookupAvailable() bool { return c.currentToken() != "" }
