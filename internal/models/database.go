package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

const idCacheVersionKey = "id_cache_version"

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// ID mapping operations

// GetIDMappings retrieves every persisted identifier bundle
func (db *Database) GetIDMappings() ([]MediaIDs, error) {
	var mappings []*IDMapping
	if err := db.store.Find(&mappings, nil); err != nil {
		return nil, err
	}

	ids := make([]MediaIDs, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.IDs)
	}
	return ids, nil
}

// ReplaceIDMappings swaps the stored bundles for entries in a single transaction
func (db *Database) ReplaceIDMappings(entries []MediaIDs, version int) error {
	now := time.Now()
	return db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		if err := db.store.TxDeleteMatching(tx, &IDMapping{}, nil); err != nil {
			return fmt.Errorf("failed to clear id mappings: %w", err)
		}
		for _, ids := range entries {
			key := ids.AnyID()
			if key == "" {
				key = "plex:" + ids.PlexRatingKey
			}
			mapping := &IDMapping{Key: key, IDs: ids, UpdatedAt: now}
			if err := db.store.TxUpsert(tx, key, mapping); err != nil {
				return fmt.Errorf("failed to store id mapping %s: %w", key, err)
			}
		}
		return db.store.TxUpsert(tx, idCacheVersionKey, &meta{Key: idCacheVersionKey, Value: version})
	})
}

// GetIDCacheVersion returns the stored cache format version, 0 when never written
func (db *Database) GetIDCacheVersion() (int, error) {
	var m meta
	err := db.store.Get(idCacheVersionKey, &m)
	if errors.Is(err, bolthold.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Value, nil
}

// ClearIDMappings removes every stored bundle
func (db *Database) ClearIDMappings() error {
	return db.store.DeleteMatching(&IDMapping{}, nil)
}

// Sync run operations

// SaveRun stores or replaces a run summary
func (db *Database) SaveRun(run *SyncRun) error {
	return db.store.Upsert(run.ID, run)
}

// GetRun retrieves a run by ID
func (db *Database) GetRun(id string) (*SyncRun, error) {
	var run SyncRun
	if err := db.store.Get(id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRecentRuns returns the newest runs first
func (db *Database) GetRecentRuns(limit int) ([]*SyncRun, error) {
	var runs []*SyncRun
	query := bolthold.Where("StartedAt").Ge(time.Time{}).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := db.store.Find(&runs, query)
	return runs, err
}

// DeleteRunsBefore prunes run history older than cutoff
func (db *Database) DeleteRunsBefore(cutoff time.Time) error {
	return db.store.DeleteMatching(&SyncRun{}, bolthold.Where("StartedAt").Lt(cutoff))
}
