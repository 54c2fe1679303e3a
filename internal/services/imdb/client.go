// Package imdb is the IMDb adapter. Reads come from the CSV exports of the
// account, writes are queued for the browser worker through a Driver.
package imdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

const (
	keyPassword             = "imdb_password"
	keyReviewsLastSubmitted = "imdb_reviews_last_submitted_date"

	reviewCooldown = 10 * 24 * time.Hour
)

// ErrReviewCooldown is returned when reviews were submitted less than ten days ago
var ErrReviewCooldown = fmt.Errorf("imdb review cooldown: %w", sources.ErrRateLimited)

// Client handles IMDb exports and queued actions
type Client struct {
	sources.ScaleNormalizer

	username string
	status   config.StatusMapping
	store    *credentials.Store
	cache    *cache.Manager
	exports  ExportFetcher
	driver   Driver
	logger   *logrus.Logger
	now      func() time.Time
}

// Option customizes a client
type Option func(*Client)

// WithExportFetcher replaces the export directory reader
func WithExportFetcher(f ExportFetcher) Option {
	return func(c *Client) { c.exports = f }
}

// WithClock sets the time source used for cooldowns and missing dates
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new IMDb client. The cache manager keeps a copy of every
// export read; it may be nil.
func NewClient(cfg config.ImdbConfig, store *credentials.Store, cacheMgr *cache.Manager, driver Driver, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		ScaleNormalizer: sources.ScaleNormalizer{Scale: 10},
		username:        cfg.Username,
		status:          cfg.StatusMapping,
		store:           store,
		cache:           cacheMgr,
		exports:         NewDirFetcher(cfg.ExportDir),
		driver:          driver,
		logger:          logger,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source tag
func (c *Client) Name() string { return models.SourceImdb }

// Authenticate checks that exports can be read. The password is only needed
// by the browser worker, so a missing one is a warning.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.username == "" {
		return fmt.Errorf("imdb username is not configured: %w", sources.ErrNotAuthenticated)
	}
	if err := c.exports.Check(ctx); err != nil {
		return fmt.Errorf("imdb exports unavailable: %w", err)
	}
	if c.store != nil {
		if _, ok := c.store.Get(keyPassword); !ok {
			c.logger.WithField("username", c.username).Warn("No IMDb password stored, queued actions need the worker to log in")
		}
	}
	c.logger.WithField("username", c.username).Info("IMDb exports ready")
	return nil
}

// RequiresStatusMapping is true: watchlist and check-ins are separate lists
func (c *Client) RequiresStatusMapping() bool { return true }

// Cleanup releases the driver
func (c *Client) Cleanup(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close()
}

// reviewsOnCooldown reports when the last submission happened if it is within the cooldown
func (c *Client) reviewsOnCooldown() (time.Time, bool) {
	if c.store == nil {
		return time.Time{}, false
	}
	raw, ok := c.store.Get(keyReviewsLastSubmitted)
	if !ok {
		return time.Time{}, false
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.WithField("value", raw).Warn("Ignoring unreadable IMDb review submission date")
		return time.Time{}, false
	}
	return last, c.now().Sub(last) < reviewCooldown
}

func (c *Client) markReviewsSubmitted() error {
	if c.store == nil {
		return nil
	}
	c.store.Set(keyReviewsLastSubmitted, c.now().UTC().Format(time.RFC3339))
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save review submission date: %w", err)
	}
	return nil
}

func (c *Client) requireDriver() error {
	if c.driver == nil {
		return errors.New("no imdb action driver configured")
	}
	return nil
}

var (
	_ sources.Source           = (*Client)(nil)
	_ sources.RatingNormalizer = (*Client)(nil)
	_ sources.StatusMapper     = (*Client)(nil)
)
