package trakt

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
	historyPageSize = 100
	writeBatchSize  = 100
)

// eachPage walks a paginated endpoint until X-Pagination-Page-Count is reached
func (c *Client) eachPage(ctx context.Context, path string, query url.Values, fn func([]ListItem)) error {
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))

		var items []ListItem
		resp, err := c.doRequest(ctx, http.MethodGet, path, q, nil, &items)
		if err != nil {
			return err
		}
		fn(items)

		total, err := strconv.Atoi(resp.Header.Get("X-Pagination-Page-Count"))
		if err != nil || total < 1 {
			total = 1
		}
		if page >= total || len(items) == 0 {
			return nil
		}
	}
}

func (c *Client) logSkipped(stream string, skipped int) {
	if skipped == 0 {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"data_type": stream,
		"count":     skipped,
	}).Debug("Skipped Trakt items without identifiers")
}

// GetWatchlist returns the watchlist, oldest first
func (c *Client) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	path, err := c.userPath("/watchlist")
	if err != nil {
		return nil, err
	}

	status, ok := c.status.ToStatus("watchlist")
	if !ok {
		status = models.StatusWatchlist
	}

	var items []models.WatchlistItem
	skipped := 0
	err = c.eachPage(ctx, path, url.Values{"sort": {"added,asc"}}, func(page []ListItem) {
		for _, it := range page {
			e, ok := it.resolve()
			if !ok || e.ids.IsEmpty() {
				skipped++
				continue
			}
			items = append(items, models.WatchlistItem{
				IMDbID:    e.ids.IMDB,
				IDs:       e.ids,
				Title:     e.title,
				Year:      e.year,
				Kind:      e.kind,
				DateAdded: it.ListedAt,
				Source:    models.SourceTrakt,
				Status:    status,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch watchlist: %w", err)
	}

	c.logSkipped(string(models.DataWatchlist), skipped)
	c.logger.WithField("count", len(items)).Info("Fetched Trakt watchlist")
	return items, nil
}

// GetRatings returns every rating, newest first
func (c *Client) GetRatings(ctx context.Context) ([]models.Rating, error) {
	path, err := c.userPath("/ratings")
	if err != nil {
		return nil, err
	}

	var ratings []models.Rating
	skipped := 0
	err = c.eachPage(ctx, path, url.Values{"sort": {"newest"}}, func(page []ListItem) {
		for _, it := range page {
			e, ok := it.resolve()
			if !ok || e.ids.IsEmpty() || it.Rating == 0 {
				skipped++
				continue
			}
			ratings = append(ratings, models.Rating{
				IMDbID:       e.ids.IMDB,
				IDs:          e.ids,
				Title:        e.title,
				Year:         e.year,
				Value:        c.NormalizeRating(float64(it.Rating), sources.CanonicalScale),
				DateAdded:    it.RatedAt,
				Kind:         e.kind,
				RatingSource: models.RatingSourceTrakt,
				Source:       models.SourceTrakt,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ratings: %w", err)
	}

	c.logSkipped(string(models.DataRatings), skipped)
	c.logger.WithField("count", len(ratings)).Info("Fetched Trakt ratings")
	return ratings, nil
}

// GetReviews returns the user's reviews
func (c *Client) GetReviews(ctx context.Context) ([]models.Review, error) {
	path, err := c.userPath("/comments")
	if err != nil {
		return nil, err
	}

	var reviews []models.Review
	skipped := 0
	now := time.Now().UTC()
	err = c.eachPage(ctx, path, url.Values{"sort": {"newest"}, "type": {"reviews"}}, func(page []ListItem) {
		for _, it := range page {
			e, ok := it.resolve()
			if !ok || e.ids.IsEmpty() || it.Comment == nil {
				skipped++
				continue
			}
			added := it.Comment.CreatedAt
			if added.IsZero() {
				added = now
			}
			reviews = append(reviews, models.Review{
				IMDbID:    e.ids.IMDB,
				IDs:       e.ids,
				Title:     e.title,
				Content:   it.Comment.Comment,
				DateAdded: added,
				Kind:      e.kind,
				Source:    models.SourceTrakt,
				Spoiler:   it.Comment.Spoiler,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews: %w", err)
	}

	c.logSkipped(string(models.DataReviews), skipped)
	c.logger.WithField("count", len(reviews)).Info("Fetched Trakt reviews")
	return reviews, nil
}

// GetWatchHistory returns the most recent play of every movie and episode
func (c *Client) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	path, err := c.userPath("/history")
	if err != nil {
		return nil, err
	}

	var history []models.WatchHistory
	seen := make(map[uint64]bool)
	skipped := 0
	query := url.Values{"extended": {"full"}, "limit": {strconv.Itoa(historyPageSize)}}
	err = c.eachPage(ctx, path, query, func(page []ListItem) {
		for _, it := range page {
			if it.Type != "movie" && it.Type != "episode" {
				continue
			}
			e, ok := it.resolve()
			if !ok || e.ids.IsEmpty() {
				skipped++
				continue
			}
			if e.ids.Trakt != 0 {
				if seen[e.ids.Trakt] {
					continue
				}
				seen[e.ids.Trakt] = true
			}
			history = append(history, models.WatchHistory{
				IMDbID:    e.ids.IMDB,
				IDs:       e.ids,
				Title:     e.title,
				Year:      e.year,
				WatchedAt: it.WatchedAt,
				Kind:      e.kind,
				Source:    models.SourceTrakt,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch watch history: %w", err)
	}

	c.logSkipped(string(models.DataWatchHistory), skipped)
	c.logger.WithFields(logrus.Fields{
		"count":  len(history),
		"unique": len(seen),
	}).Info("Fetched Trakt watch history")
	return history, nil
}

// postSync sends one sync payload and logs what Trakt did with it
func (c *Client) postSync(ctx context.Context, path, action string, payload *syncPayload) error {
	if payload.len() == 0 {
		return nil
	}

	var resp syncResponse
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil, payload, &resp); err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}

	fields := logrus.Fields{
		"action":    action,
		"sent":      payload.len(),
		"not_found": resp.NotFound.len(),
	}
	if resp.Added != (syncCounts{}) {
		fields["added"] = resp.Added.Movies + resp.Added.Shows + resp.Added.Episodes
	}
	if resp.Deleted != (syncCounts{}) {
		fields["deleted"] = resp.Deleted.Movies + resp.Deleted.Shows + resp.Deleted.Episodes
	}
	if resp.Existing != (syncCounts{}) {
		fields["existing"] = resp.Existing.Movies + resp.Existing.Shows + resp.Existing.Episodes
	}
	logEntry := c.logger.WithFields(fields)
	if resp.NotFound.len() > 0 {
		logEntry.Warn("Trakt could not match some items")
		return nil
	}
	logEntry.Debug("Trakt sync request completed")
	return nil
}

func (c *Client) writeWatchlist(ctx context.Context, path, action string, items []models.WatchlistItem) error {
	for _, batch := range sources.Batches(items, writeBatchSize) {
		payload := &syncPayload{}
		for _, item := range batch {
			ids := idsFrom(item.IDs, item.IMDbID)
			if ids == (IDs{}) {
				continue
			}
			payload.add(item.Kind, syncItem{IDs: ids})
		}
		if err := c.postSync(ctx, path, action, payload); err != nil {
			return err
		}
	}
	return nil
}

// AddToWatchlist adds items to the watchlist. Items already listed are reported as existing.
func (c *Client) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return c.writeWatchlist(ctx, "/sync/watchlist", "add to watchlist", items)
}

// RemoveFromWatchlist removes items from the watchlist
func (c *Client) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return c.writeWatchlist(ctx, "/sync/watchlist/remove", "remove from watchlist", items)
}

// SetRatings sets ratings given on the canonical scale
func (c *Client) SetRatings(ctx context.Context, ratings []models.Rating) error {
	for _, batch := range sources.Batches(ratings, writeBatchSize) {
		payload := &syncPayload{}
		for _, r := range batch {
			ids := idsFrom(r.IDs, r.IMDbID)
			if ids == (IDs{}) {
				continue
			}
			item := syncItem{
				IDs:    ids,
				Rating: int(c.DenormalizeRating(r.Value, sources.CanonicalScale)),
			}
			if !r.DateAdded.IsZero() {
				ratedAt := r.DateAdded.UTC()
				item.RatedAt = &ratedAt
			}
			payload.add(r.Kind, item)
		}
		if err := c.postSync(ctx, "/sync/ratings", "set ratings", payload); err != nil {
			return err
		}
	}
	return nil
}

// SetReviews posts each review as a comment. Reviews Trakt refuses
// (too short, duplicate) are logged and skipped.
func (c *Client) SetReviews(ctx context.Context, reviews []models.Review) error {
	for _, r := range reviews {
		ids := idsFrom(r.IDs, r.IMDbID)
		if ids == (IDs{}) {
			continue
		}

		req := commentRequest{Comment: r.Content, Spoiler: r.Spoiler}
		target := &syncItem{IDs: ids}
		switch {
		case r.Kind.IsMovie():
			req.Movie = target
		case r.Kind.IsShow():
			req.Show = target
		case r.Kind.IsEpisode():
			req.Episode = target
		default:
			continue
		}

		_, err := c.doRequest(ctx, http.MethodPost, "/comments", nil, req, nil)
		if err == nil {
			continue
		}

		var apiErr *sources.APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() && !errors.Is(err, sources.ErrNotAuthenticated) && !errors.Is(err, sources.ErrRateLimited) {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"imdb_id": r.PrimaryID(),
				"status":  apiErr.StatusCode,
			}).Warn("Trakt rejected review")
			continue
		}
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// AddWatchHistory records plays of movies and episodes. Shows are skipped
// because Trakt would mark every episode as watched.
func (c *Client) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	skippedShows := 0
	for _, batch := range sources.Batches(items, writeBatchSize) {
		payload := &syncPayload{}
		for _, h := range batch {
			if h.Kind.IsShow() {
				skippedShows++
				continue
			}
			ids := idsFrom(h.IDs, h.IMDbID)
			if ids == (IDs{}) {
				continue
			}
			item := syncItem{IDs: ids}
			if !h.WatchedAt.IsZero() {
				watchedAt := h.WatchedAt.UTC()
				item.WatchedAt = &watchedAt
			}
			payload.add(h.Kind, item)
		}
		if err := c.postSync(ctx, "/sync/history", "add watch history", payload); err != nil {
			return err
		}
	}

	if skippedShows > 0 {
		c.logger.WithField("count", skippedShows).Warn("Skipped shows when adding to Trakt watch history")
	}
	return nil
}
