package controllers

import (
	"fmt"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/sirupsen/logrus"
)

// ClearOptions selects what Clear removes
type ClearOptions struct {
	Cache       bool
	Credentials bool
	Timestamps  bool
	// IDs drops the persisted identifier cache
	IDs bool
}

// ClearEverything selects every kind of local state
func ClearEverything() ClearOptions {
	return ClearOptions{Cache: true, Credentials: true, Timestamps: true, IDs: true}
}

// Empty reports whether nothing is selected
func (o ClearOptions) Empty() bool {
	return !o.Cache && !o.Credentials && !o.Timestamps && !o.IDs
}

// CleanupController handles local state: clearing caches and credentials and
// pruning old run history
type CleanupController struct {
	db     *models.Database
	store  *credentials.Store
	cache  *cache.Manager
	logger *logrus.Logger
}

// NewCleanupController creates a new cleanup controller. db may be nil.
func NewCleanupController(db *models.Database, store *credentials.Store, cacheMgr *cache.Manager, logger *logrus.Logger) *CleanupController {
	return &CleanupController{
		db:     db,
		store:  store,
		cache:  cacheMgr,
		logger: logger,
	}
}

// Clear removes the selected state. Credentials include the timestamps they
// hold, so Timestamps is redundant with Credentials.
func (c *CleanupController) Clear(opts ClearOptions) error {
	if opts.Cache {
		if err := c.cache.Clear(); err != nil {
			return err
		}
	}

	if opts.IDs && c.db != nil {
		if err := c.db.ClearIDMappings(); err != nil {
			return fmt.Errorf("failed to clear identifier cache: %w", err)
		}
		c.logger.Info("Cleared identifier cache")
	}

	switch {
	case opts.Credentials:
		if err := c.store.ClearAll(); err != nil {
			return err
		}
		c.logger.WithField("path", c.store.Path()).Info("Cleared credentials")
	case opts.Timestamps:
		removed := c.store.ClearTimestamps()
		if err := c.store.Save(); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		c.logger.WithField("count", removed).Info("Cleared sync timestamps")
	}
	return nil
}

// PruneRuns deletes run history older than retention
func (c *CleanupController) PruneRuns(retention time.Duration, now time.Time) error {
	if c.db == nil || retention <= 0 {
		return nil
	}

	cutoff := now.Add(-retention)
	if err := c.db.DeleteRunsBefore(cutoff); err != nil {
		return fmt.Errorf("failed to prune run history: %w", err)
	}
	c.logger.WithField("cutoff", cutoff.Format(time.RFC3339)).Debug("Pruned run history")
	return nil
}
