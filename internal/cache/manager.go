package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Distribute buckets, one file each under cache/distribute/<target>/
const (
	BucketWatchlist          = "watchlist"
	BucketWatchlistToHistory = "watchlist_to_history"
	BucketRatings            = "ratings"
	BucketReviews            = "reviews"
	BucketWatchHistory       = "watch_history"
	BucketRemovalList        = "removal_list"
	BucketExcluded           = "excluded"
)

// Manager persists collected items, excluded items and distribution previews as JSON
type Manager struct {
	paths  config.Paths
	logger *logrus.Logger
}

// NewManager creates a new cache manager
func NewManager(paths config.Paths, logger *logrus.Logger) *Manager {
	return &Manager{paths: paths, logger: logger}
}

func (m *Manager) collectPath(source, name string) string {
	return filepath.Join(m.paths.CollectDir(), source, name+".json")
}

func (m *Manager) distributePath(target, name string) string {
	return filepath.Join(m.paths.DistributeDir(), target, name+".json")
}

// Collect phase

// SaveCollected writes the unfiltered items a source returned for one data type
func (m *Manager) SaveCollected(source string, dt models.DataType, items any) error {
	return m.write(m.collectPath(source, string(dt)), items)
}

// SaveCollectExcluded writes items dropped while collecting
func (m *Manager) SaveCollectExcluded(source string, items []models.ExcludedItem) error {
	return m.write(m.collectPath(source, BucketExcluded), items)
}

// HasCollection reports whether any collected file exists for source
func (m *Manager) HasCollection(source string) bool {
	for _, dt := range models.AllDataTypes {
		if _, err := os.Stat(m.collectPath(source, string(dt))); err == nil {
			return true
		}
	}
	return false
}

// LoadCollection reads back every collected file of source. Missing or
// corrupt files load as empty; ok is false when nothing was cached.
func (m *Manager) LoadCollection(source string) (*models.Collection, bool, error) {
	c := &models.Collection{}
	found := false

	targets := map[models.DataType]any{
		models.DataWatchlist:    &c.Watchlist,
		models.DataRatings:      &c.Ratings,
		models.DataReviews:      &c.Reviews,
		models.DataWatchHistory: &c.WatchHistory,
	}
	for _, dt := range models.AllDataTypes {
		hit, err := m.read(m.collectPath(source, string(dt)), targets[dt])
		if err != nil {
			return nil, false, err
		}
		found = found || hit
	}
	return c, found, nil
}

// Distribute phase

// SaveDistribute writes the preview of one bucket for a target
func (m *Manager) SaveDistribute(target, bucket string, items any) error {
	return m.write(m.distributePath(target, bucket), items)
}

// SaveDistributeExcluded writes items filtered out for a target
func (m *Manager) SaveDistributeExcluded(target string, items []models.ExcludedItem) error {
	return m.write(m.distributePath(target, BucketExcluded), items)
}

// LoadDistribute reads a preview bucket into out
func (m *Manager) LoadDistribute(target, bucket string, out any) (bool, error) {
	return m.read(m.distributePath(target, bucket), out)
}

// SaveCSV keeps a raw export for inspection
func (m *Manager) SaveCSV(source, name string, data []byte) (string, error) {
	dir := m.paths.CSVDir(source)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create csv cache: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write csv cache: %w", err)
	}
	return path, nil
}

// Clear empties the collect and distribute trees. CSV exports are kept.
func (m *Manager) Clear() error {
	for _, dir := range []string{m.paths.CollectDir(), m.paths.DistributeDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to recreate %s: %w", dir, err)
		}
		m.logger.WithField("dir", dir).Info("Cleared cache directory")
	}
	return nil
}

func (m *Manager) write(path string, items any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// A nil slice is written as [] so replays see an explicit empty set
	if v := reflect.ValueOf(items); v.Kind() == reflect.Slice && v.IsNil() {
		items = []struct{}{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache %s: %w", path, err)
	}

	m.logger.WithField("path", path).Debug("Cache saved")
	return nil
}

func (m *Manager) read(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		m.logger.WithError(err).WithField("path", path).Warn("Failed to read cache file")
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		m.logger.WithError(err).WithField("path", path).Warn("Cache corruption detected, deleting file")
		if rmErr := os.Remove(path); rmErr != nil {
			m.logger.WithError(rmErr).Warn("Failed to delete corrupted cache file")
		}
		return false, nil
	}
	return true, nil
}
