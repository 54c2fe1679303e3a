package imdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

// fetch returns an export and keeps a copy in the CSV cache. A missing export
// yields nil data without error.
func (c *Client) fetch(ctx context.Context, kind ExportKind) ([]byte, error) {
	data, name, err := c.exports.Fetch(ctx, kind)
	if errors.Is(err, ErrNoExport) {
		c.logger.WithField("export", string(kind)).Warn("No IMDb export found")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if _, err := c.cache.SaveCSV(models.SourceImdb, name, data); err != nil {
			c.logger.WithError(err).Warn("Failed to cache IMDb export")
		}
	}
	return data, nil
}

func (c *Client) logParsed(kind ExportKind, stats ParseStats) {
	entry := c.logger.WithFields(logrus.Fields{
		"export":  string(kind),
		"rows":    stats.Rows,
		"kept":    stats.Kept,
		"skipped": stats.Skipped,
		"invalid": stats.Invalid,
	})
	if stats.Invalid > 0 {
		entry.Warn("Some IMDb export rows could not be parsed")
		return
	}
	entry.Info("Parsed IMDb export")
}

// GetWatchlist reads the watchlist export
func (c *Client) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	data, err := c.fetch(ctx, ExportWatchlist)
	if err != nil || data == nil {
		return nil, err
	}
	status, ok := c.status.ToStatus("watchlist")
	if !ok {
		status = models.StatusWatchlist
	}
	items, stats, err := ParseWatchlist(data, status, c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse watchlist export: %w", err)
	}
	c.logParsed(ExportWatchlist, stats)
	return items, nil
}

// GetRatings reads the ratings export, rounding half points
func (c *Client) GetRatings(ctx context.Context) ([]models.Rating, error) {
	data, err := c.fetch(ctx, ExportRatings)
	if err != nil || data == nil {
		return nil, err
	}
	raw, stats, err := ParseRatings(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ratings export: %w", err)
	}
	c.logParsed(ExportRatings, stats)

	ratings := make([]models.Rating, 0, len(raw))
	for _, r := range raw {
		ratings = append(ratings, models.Rating{
			IMDbID:       r.IMDbID,
			IDs:          models.MediaIDs{IMDB: r.IMDbID},
			Title:        r.Title,
			Year:         r.Year,
			Value:        c.NormalizeRating(r.Value, sources.CanonicalScale),
			DateAdded:    r.RatedAt,
			Kind:         r.Kind,
			RatingSource: models.RatingSourceImdb,
			Source:       models.SourceImdb,
		})
	}
	return ratings, nil
}

// GetReviews reads the scraped reviews file
func (c *Client) GetReviews(ctx context.Context) ([]models.Review, error) {
	data, err := c.fetch(ctx, ExportReviews)
	if err != nil || data == nil {
		return nil, err
	}
	reviews, stats, err := ParseReviews(data, c.now())
	if err != nil {
		return nil, err
	}
	c.logParsed(ExportReviews, stats)
	return reviews, nil
}

// GetWatchHistory reads the check-ins export
func (c *Client) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	data, err := c.fetch(ctx, ExportCheckins)
	if err != nil || data == nil {
		return nil, err
	}
	history, stats, err := ParseCheckins(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse check-ins export: %w", err)
	}
	c.logParsed(ExportCheckins, stats)
	return history, nil
}

func (c *Client) submit(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	if err := c.requireDriver(); err != nil {
		return err
	}
	if err := c.driver.Submit(ctx, actions); err != nil {
		return fmt.Errorf("failed to queue imdb %s: %w", actions[0].Kind, err)
	}
	return nil
}

// imdbIDOf returns the tt ID of an item; IMDb cannot address anything else
func imdbIDOf(primary string, ids models.MediaIDs) string {
	if strings.HasPrefix(primary, "tt") {
		return primary
	}
	if strings.HasPrefix(ids.IMDB, "tt") {
		return ids.IMDB
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// AddToWatchlist queues watchlist additions. Items whose status maps to the
// check-ins list are queued as check-ins instead.
func (c *Client) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	var actions []Action
	for _, item := range items {
		id := imdbIDOf(item.IMDbID, item.IDs)
		if id == "" {
			continue
		}
		kind := ActionWatchlistAdd
		if item.Status != "" {
			if list, ok := c.status.FromStatus(item.Status); ok && list == "checkins" {
				kind = ActionCheckin
			}
		}
		actions = append(actions, Action{
			Kind:   kind,
			IMDbID: id,
			Title:  item.DisplayTitle(),
			At:     timePtr(item.DateAdded),
		})
	}
	return c.submit(ctx, actions)
}

// RemoveFromWatchlist queues watchlist removals
func (c *Client) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	var actions []Action
	for _, item := range items {
		id := imdbIDOf(item.IMDbID, item.IDs)
		if id == "" {
			continue
		}
		actions = append(actions, Action{Kind: ActionWatchlistRemove, IMDbID: id, Title: item.DisplayTitle()})
	}
	return c.submit(ctx, actions)
}

// SetRatings queues ratings given on the canonical scale
func (c *Client) SetRatings(ctx context.Context, ratings []models.Rating) error {
	var actions []Action
	for _, r := range ratings {
		id := imdbIDOf(r.IMDbID, r.IDs)
		if id == "" {
			continue
		}
		actions = append(actions, Action{
			Kind:   ActionRate,
			IMDbID: id,
			Title:  r.DisplayTitle(),
			Rating: int(c.DenormalizeRating(r.Value, sources.CanonicalScale)),
			At:     timePtr(r.DateAdded),
		})
	}
	return c.submit(ctx, actions)
}

// SetReviews queues reviews unless the last submission is under ten days old
func (c *Client) SetReviews(ctx context.Context, reviews []models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	if last, onCooldown := c.reviewsOnCooldown(); onCooldown {
		return fmt.Errorf("last submitted %s: %w", last.Format(dateLayout), ErrReviewCooldown)
	}

	var actions []Action
	for _, r := range reviews {
		id := imdbIDOf(r.IMDbID, r.IDs)
		if id == "" || r.Content == "" {
			continue
		}
		actions = append(actions, Action{
			Kind:    ActionReview,
			IMDbID:  id,
			Title:   r.DisplayTitle(),
			Content: r.Content,
			Spoiler: r.Spoiler,
			At:      timePtr(r.DateAdded),
		})
	}
	if len(actions) == 0 {
		return nil
	}
	if err := c.submit(ctx, actions); err != nil {
		return err
	}
	return c.markReviewsSubmitted()
}

// AddWatchHistory queues check-ins
func (c *Client) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	var actions []Action
	for _, h := range items {
		id := imdbIDOf(h.IMDbID, h.IDs)
		if id == "" {
			continue
		}
		actions = append(actions, Action{
			Kind:   ActionCheckin,
			IMDbID: id,
			Title:  h.DisplayTitle(),
			At:     timePtr(h.WatchedAt),
		})
	}
	return c.submit(ctx, actions)
}
