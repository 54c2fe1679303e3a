package plex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

const (
	libraryIdentifier  = "com.plexapp.plugins.library"
	discoverIdentifier = "tv.plex.provider.discover"
)

// GetWatchlist reads the account watchlist from the discover provider
func (c *Client) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	var resp Response
	query := url.Values{"includeGuids": {"1"}}
	if _, err := c.doRequest(ctx, http.MethodGet, c.discoverURL, "/library/sections/watchlist/all", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get plex watchlist: %w", err)
	}

	status, ok := c.status.ToStatus("watchlist")
	if !ok {
		status = models.StatusWatchlist
	}

	now := time.Now().UTC()
	var items []models.WatchlistItem
	for _, m := range resp.MediaContainer.items() {
		kind, ok := m.kind()
		if !ok || kind.IsEpisode() {
			continue
		}
		ids := m.ids()
		if ids.IMDB == "" && ids.TMDB == 0 && ids.TVDB == 0 && m.RatingKey != "" {
			if full, err := c.metadata(ctx, c.discoverURL, m.RatingKey); err == nil {
				ids.Merge(full.Guids.IDs())
			} else {
				c.logger.WithError(err).WithField("title", m.Title).Debug("Failed to fetch Plex GUIDs")
			}
		}
		added, ok := unixTime(m.WatchlistedAt)
		if !ok {
			added, ok = unixTime(m.AddedAt)
		}
		if !ok {
			added = now
		}
		items = append(items, models.WatchlistItem{
			IMDbID:    ids.IMDB,
			IDs:       ids.WithMetadata(m.Title, m.year(), kind),
			Title:     m.Title,
			Year:      m.year(),
			Kind:      kind,
			DateAdded: added,
			Source:    models.SourcePlex,
			Status:    status,
		})
	}

	c.logger.WithField("count", len(items)).Info("Retrieved Plex watchlist")
	return items, nil
}

// GetRatings reads user ratings from the media server library
func (c *Client) GetRatings(ctx context.Context) ([]models.Rating, error) {
	server, err := c.serverURL(ctx)
	if err != nil {
		return nil, err
	}
	items, err := c.libraryItems(ctx, server)
	if err != nil {
		return nil, err
	}
	c.storeEntries(items)

	now := time.Now().UTC()
	var ratings []models.Rating
	for _, m := range items {
		if m.UserRating <= 0 {
			continue
		}
		kind, ok := m.kind()
		if !ok {
			continue
		}
		ratedAt, ok := unixTime(m.LastRatedAt)
		if !ok {
			ratedAt = now
		}
		ids := m.ids()
		ratings = append(ratings, models.Rating{
			IMDbID:       ids.IMDB,
			IDs:          ids.WithMetadata(m.Title, m.year(), kind),
			Title:        m.Title,
			Year:         m.year(),
			Value:        c.NormalizeRating(m.UserRating, sources.CanonicalScale),
			DateAdded:    ratedAt,
			Kind:         kind,
			RatingSource: models.RatingSourcePlex,
			Source:       models.SourcePlex,
		})
	}

	c.logger.WithField("count", len(ratings)).Info("Retrieved Plex ratings")
	return ratings, nil
}

// GetReviews is not available: Plex exposes no listing of a user's reviews
func (c *Client) GetReviews(ctx context.Context) ([]models.Review, error) {
	c.logger.Debug("Plex does not list user reviews")
	return nil, nil
}

// GetWatchHistory reads the play history of the media server
func (c *Client) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	server, err := c.serverURL(ctx)
	if err != nil {
		return nil, err
	}
	var resp Response
	query := url.Values{"sort": {"viewedAt:desc"}}
	if _, err := c.doRequest(ctx, http.MethodGet, server, "/status/sessions/history/all", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get plex history: %w", err)
	}

	// one metadata call per rating key, plays of the same title share it
	guids := make(map[string]models.MediaIDs)
	var history []models.WatchHistory
	for _, play := range resp.MediaContainer.items() {
		if play.Type != "movie" && play.Type != "episode" {
			continue
		}
		watchedAt, ok := unixTime(play.ViewedAt)
		if !ok {
			continue
		}
		kind, _ := play.kind()

		ids, seen := guids[play.RatingKey]
		if !seen {
			ids = play.ids()
			if ids.IMDB == "" && ids.TMDB == 0 && ids.TVDB == 0 && play.RatingKey != "" {
				if full, err := c.metadata(ctx, server, play.RatingKey); err == nil {
					ids = full.ids()
				} else {
					c.logger.WithError(err).WithField("title", play.displayTitle()).Debug("Failed to fetch Plex GUIDs")
				}
			}
			guids[play.RatingKey] = ids
		}

		history = append(history, models.WatchHistory{
			IMDbID:    ids.IMDB,
			IDs:       ids.WithMetadata(play.displayTitle(), play.year(), kind),
			Title:     play.displayTitle(),
			Year:      play.year(),
			WatchedAt: watchedAt,
			Kind:      kind,
			Source:    models.SourcePlex,
		})
	}

	c.logger.WithField("count", len(history)).Info("Retrieved Plex watch history")
	return history, nil
}

// keepsOnWatchlist reports whether a status belongs on the Plex watchlist
func (c *Client) keepsOnWatchlist(status models.NormalizedStatus) bool {
	if status == "" {
		return true
	}
	list, ok := c.status.FromStatus(status)
	return ok && list == "watchlist"
}

func (c *Client) watchlistAction(ctx context.Context, action string, items []models.WatchlistItem) error {
	done, missing := 0, 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := c.discoverKey(ctx, item.IDs, item.DisplayTitle(), item.ReleaseYear(), item.Kind)
		if err != nil {
			return err
		}
		if key == "" {
			missing++
			c.logger.WithField("title", item.DisplayTitle()).Debug("No Plex match for watchlist item")
			continue
		}
		query := url.Values{"ratingKey": {key}}
		if _, err := c.doRequest(ctx, http.MethodPut, c.discoverURL, "/actions/"+action, query, nil, nil); err != nil {
			return fmt.Errorf("failed to %s %s: %w", action, item.DisplayTitle(), err)
		}
		done++
	}
	c.logger.WithFields(logrus.Fields{
		"action":    action,
		"count":     done,
		"not_found": missing,
	}).Info("Updated Plex watchlist")
	return nil
}

// AddToWatchlist adds plain watchlist entries; other statuses are left to history
func (c *Client) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	var keep []models.WatchlistItem
	for _, item := range items {
		if item.Kind.IsEpisode() || !c.keepsOnWatchlist(item.Status) {
			continue
		}
		keep = append(keep, item)
	}
	if len(keep) == 0 {
		return nil
	}
	return c.watchlistAction(ctx, "addToWatchlist", keep)
}

// RemoveFromWatchlist removes entries from the account watchlist
func (c *Client) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	if len(items) == 0 {
		return nil
	}
	return c.watchlistAction(ctx, "removeFromWatchlist", items)
}

// target is one way of addressing an item: a host, a provider identifier and a key
type target struct {
	base       string
	identifier string
	key        string
}

// targets lists the library key first, then the discover key
func (c *Client) targets(ctx context.Context, server string, ids models.MediaIDs, title string, year int, kind models.MediaKind) ([]target, error) {
	var out []target
	local, err := c.libraryKey(ctx, server, ids, title, year, kind)
	if err != nil {
		return nil, err
	}
	if local != "" {
		out = append(out, target{base: server, identifier: libraryIdentifier, key: local})
	}
	if kind.IsEpisode() {
		return out, nil
	}
	remote, err := c.discoverKey(ctx, ids, title, year, kind)
	if err != nil {
		return nil, err
	}
	if remote != "" {
		out = append(out,
			target{base: c.discoverURL, identifier: discoverIdentifier, key: remote},
			target{base: c.discoverURL, identifier: discoverIdentifier, key: "/library/metadata/" + remote},
		)
	}
	return out, nil
}

// act tries each target until one accepts the request
func (c *Client) act(ctx context.Context, method, path string, targets []target, extra url.Values, body any) error {
	var lastErr error
	for _, t := range targets {
		query := url.Values{"identifier": {t.identifier}, "key": {t.key}}
		for k, v := range extra {
			query[k] = v
		}
		_, err := c.doRequest(ctx, method, t.base, path, query, body, nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, sources.ErrNotAuthenticated) || errors.Is(err, sources.ErrRateLimited) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// SetRatings rates library items on the native 0..10 scale
func (c *Client) SetRatings(ctx context.Context, ratings []models.Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	server, err := c.serverURL(ctx)
	if err != nil {
		return err
	}

	done, missing := 0, 0
	for _, r := range ratings {
		key, err := c.libraryKey(ctx, server, r.IDs, r.DisplayTitle(), r.ReleaseYear(), r.Kind)
		if err != nil {
			return err
		}
		if key == "" {
			missing++
			continue
		}
		value := c.DenormalizeRating(r.Value, sources.CanonicalScale)
		query := url.Values{
			"identifier": {libraryIdentifier},
			"key":        {key},
			"rating":     {strconv.FormatFloat(value, 'f', -1, 64)},
		}
		if _, err := c.doRequest(ctx, http.MethodPut, server, "/:/rate", query, nil, nil); err != nil {
			return fmt.Errorf("failed to rate %s: %w", r.DisplayTitle(), err)
		}
		done++
	}

	c.logger.WithFields(logrus.Fields{
		"count":     done,
		"not_found": missing,
	}).Info("Set Plex ratings")
	return nil
}

// SetReviews posts review text to the first identifier that accepts it
func (c *Client) SetReviews(ctx context.Context, reviews []models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	server, err := c.serverURL(ctx)
	if err != nil {
		return err
	}

	done, failed := 0, 0
	for _, r := range reviews {
		if r.Content == "" {
			continue
		}
		targets, err := c.targets(ctx, server, r.IDs, r.DisplayTitle(), r.ReleaseYear(), r.Kind)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			failed++
			continue
		}
		// discover reviews live on the discover item, try it first
		if len(targets) > 1 {
			targets = append(append([]target{}, targets[1:]...), targets[0])
		}
		body := map[string]string{"text": r.Content}
		if err := c.act(ctx, http.MethodPost, "/:/rateAndReview", targets, nil, body); err != nil {
			if errors.Is(err, sources.ErrNotAuthenticated) || errors.Is(err, sources.ErrRateLimited) {
				return err
			}
			failed++
			c.logger.WithError(err).WithField("title", r.DisplayTitle()).Warn("Failed to post Plex review")
			continue
		}
		done++
	}

	c.logger.WithFields(logrus.Fields{
		"count":  done,
		"failed": failed,
	}).Info("Posted Plex reviews")
	return nil
}

// AddWatchHistory marks items as played
func (c *Client) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	if len(items) == 0 {
		return nil
	}
	server, err := c.serverURL(ctx)
	if err != nil {
		return err
	}

	// a title is scrobbled once however many plays it has
	seen := make(map[string]bool)
	done, missing := 0, 0
	for _, h := range items {
		id := h.PrimaryID() + "|" + h.Kind.Label()
		if seen[id] {
			continue
		}
		seen[id] = true

		targets, err := c.targets(ctx, server, h.IDs, h.DisplayTitle(), h.ReleaseYear(), h.Kind)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			missing++
			continue
		}
		if err := c.act(ctx, http.MethodPut, "/:/scrobble", targets, nil, nil); err != nil {
			return fmt.Errorf("failed to mark %s as played: %w", h.DisplayTitle(), err)
		}
		done++
	}

	c.logger.WithFields(logrus.Fields{
		"count":     done,
		"not_found": missing,
	}).Info("Added Plex watch history")
	return nil
}
