package simkl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

const writeBatchSize = 100

func dateQuery(d delta) url.Values {
	q := url.Values{}
	if !d.from.IsZero() {
		q.Set("date_from", d.from.UTC().Format(time.RFC3339))
	}
	return q
}

func (c *Client) allItems(ctx context.Context, d delta) (*AllItems, error) {
	var all AllItems
	if _, err := c.doRequest(ctx, http.MethodGet, "/sync/all-items/", dateQuery(d), nil, &all); err != nil {
		return nil, err
	}
	return &all, nil
}

// GetWatchlist returns every listed title with its mapped status
func (c *Client) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	d := c.deltaFor(ctx, models.DataWatchlist)
	if d.skip {
		return nil, nil
	}

	all, err := c.allItems(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch watchlist: %w", err)
	}

	now := time.Now().UTC()
	var items []models.WatchlistItem
	unmapped := 0
	for _, it := range all.items() {
		m := it.media()
		if m == nil {
			continue
		}
		ids := m.IDs.MediaIDs()
		if ids.IsEmpty() {
			continue
		}
		added, ok := parseTime(it.AddedToWatchlistAt)
		if !ok {
			added = now
		}
		status, ok := c.status.ToStatus(it.Status)
		if !ok && it.Status != "" {
			unmapped++
		}
		items = append(items, models.WatchlistItem{
			IMDbID:    ids.IMDB,
			IDs:       ids,
			Title:     m.Title,
			Year:      m.Year,
			Kind:      it.kind,
			DateAdded: added,
			Source:    models.SourceSimkl,
			Status:    status,
		})
	}
	d.commit()

	c.logger.WithFields(logrus.Fields{
		"count":    len(items),
		"unmapped": unmapped,
	}).Info("Fetched Simkl watchlist")
	return items, nil
}

// GetRatings returns every rating
func (c *Client) GetRatings(ctx context.Context) ([]models.Rating, error) {
	d := c.deltaFor(ctx, models.DataRatings)
	if d.skip {
		return nil, nil
	}

	var all AllItems
	if _, err := c.doRequest(ctx, http.MethodPost, "/sync/ratings/", dateQuery(d), nil, &all); err != nil {
		return nil, fmt.Errorf("failed to fetch ratings: %w", err)
	}

	now := time.Now().UTC()
	var ratings []models.Rating
	for _, it := range all.items() {
		m := it.media()
		if m == nil || it.UserRating == 0 {
			continue
		}
		ids := m.IDs.MediaIDs()
		if ids.IsEmpty() {
			continue
		}
		rated, ok := parseTime(it.UserRatedAt)
		if !ok {
			rated = now
		}
		ratings = append(ratings, models.Rating{
			IMDbID:       ids.IMDB,
			IDs:          ids,
			Title:        m.Title,
			Year:         m.Year,
			Value:        c.NormalizeRating(float64(it.UserRating), sources.CanonicalScale),
			DateAdded:    rated,
			Kind:         it.kind,
			RatingSource: models.RatingSourceSimkl,
			Source:       models.SourceSimkl,
		})
	}
	d.commit()

	c.logger.WithField("count", len(ratings)).Info("Fetched Simkl ratings")
	return ratings, nil
}

// GetReviews returns nothing: Simkl has no public review API
func (c *Client) GetReviews(ctx context.Context) ([]models.Review, error) {
	return nil, nil
}

// GetWatchHistory returns the last watch of every title
func (c *Client) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	d := c.deltaFor(ctx, models.DataWatchHistory)
	if d.skip {
		return nil, nil
	}

	all, err := c.allItems(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch watch history: %w", err)
	}

	var history []models.WatchHistory
	for _, it := range all.items() {
		m := it.media()
		if m == nil {
			continue
		}
		watched, ok := parseTime(it.LastWatchedAt)
		if !ok {
			continue
		}
		ids := m.IDs.MediaIDs()
		if ids.IsEmpty() {
			continue
		}
		history = append(history, models.WatchHistory{
			IMDbID:    ids.IMDB,
			IDs:       ids,
			Title:     m.Title,
			Year:      m.Year,
			WatchedAt: watched,
			Kind:      it.kind,
			Source:    models.SourceSimkl,
		})
	}
	d.commit()

	c.logger.WithField("count", len(history)).Info("Fetched Simkl watch history")
	return history, nil
}

func (c *Client) post(ctx context.Context, path, action string, payload *writePayload) error {
	if payload.len() == 0 {
		return nil
	}
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	c.logger.WithFields(logrus.Fields{
		"action": action,
		"sent":   payload.len(),
	}).Debug("Simkl sync request completed")
	return nil
}

// AddToWatchlist moves items to the list their status maps to.
// Items without a status go to the list mapped from Watchlist.
func (c *Client) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	for _, batch := range sources.Batches(items, writeBatchSize) {
		payload := &writePayload{}
		for _, item := range batch {
			status := item.Status
			if status == "" {
				status = models.StatusWatchlist
			}
			list, ok := c.status.FromStatus(status)
			if !ok {
				c.logger.WithFields(logrus.Fields{
					"imdb_id": item.PrimaryID(),
					"status":  status,
				}).Debug("No Simkl list for status, skipping")
				continue
			}
			payload.add(item.Kind, writeItem{
				IDs:   idsFrom(item.IDs, item.IMDbID),
				Title: item.DisplayTitle(),
				Year:  item.ReleaseYear(),
				To:    list,
			})
		}
		if err := c.post(ctx, "/sync/add-to-list", "add to watchlist", payload); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromWatchlist removes titles from every list
func (c *Client) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	for _, batch := range sources.Batches(items, writeBatchSize) {
		payload := &writePayload{}
		for _, item := range batch {
			payload.add(item.Kind, writeItem{
				IDs:   idsFrom(item.IDs, item.IMDbID),
				Title: item.DisplayTitle(),
				Year:  item.ReleaseYear(),
			})
		}
		if err := c.post(ctx, "/sync/history/remove", "remove from watchlist", payload); err != nil {
			return err
		}
	}
	return nil
}

// SetRatings sets ratings given on the canonical scale
func (c *Client) SetRatings(ctx context.Context, ratings []models.Rating) error {
	for _, batch := range sources.Batches(ratings, writeBatchSize) {
		payload := &writePayload{}
		for _, r := range batch {
			item := writeItem{
				IDs:    idsFrom(r.IDs, r.IMDbID),
				Rating: int(c.DenormalizeRating(r.Value, sources.CanonicalScale)),
			}
			if !r.DateAdded.IsZero() {
				ratedAt := r.DateAdded.UTC()
				item.RatedAt = &ratedAt
			}
			payload.add(r.Kind, item)
		}
		if err := c.post(ctx, "/sync/ratings", "set ratings", payload); err != nil {
			return err
		}
	}
	return nil
}

// SetReviews is not supported by Simkl
func (c *Client) SetReviews(ctx context.Context, reviews []models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	return fmt.Errorf("simkl reviews: %w", sources.ErrUnsupported)
}

// AddWatchHistory marks movies and shows as watched. Episodes are skipped.
func (c *Client) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	skipped := 0
	for _, batch := range sources.Batches(items, writeBatchSize) {
		payload := &writePayload{}
		for _, h := range batch {
			item := writeItem{IDs: idsFrom(h.IDs, h.IMDbID)}
			if !h.WatchedAt.IsZero() {
				watchedAt := h.WatchedAt.UTC()
				item.WatchedAt = &watchedAt
			}
			if !payload.add(h.Kind, item) {
				skipped++
			}
		}
		if err := c.post(ctx, "/sync/history", "add watch history", payload); err != nil {
			return err
		}
	}
	if skipped > 0 {
		c.logger.WithField("count", skipped).Debug("Skipped episodes when adding to Simkl watch history")
	}
	return nil
}
