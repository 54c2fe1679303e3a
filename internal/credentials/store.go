package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
)

// ErrNoToken is returned when a service has never been authenticated
var ErrNoToken = errors.New("no token stored")

const (
	keySimklActivities = "simkl_last_activities"
	keyLastSyncInfix   = "_last_sync_"
)

// Store persists tokens, per-target sync timestamps and activity snapshots.
// All access is serialised by a mutex; Save writes a temp file and renames it.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
	dirty  bool
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if err := toml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return s, nil
}

// Path returns the backing file
func (s *Store) Path() string { return s.path }

// Get returns a raw value
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok && v != ""
}

// Set stores a raw value in memory
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] == value {
		return
	}
	s.values[key] = value
	s.dirty = true
}

// Delete removes a key in memory
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Save flushes pending changes to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) writeLocked() error {
	data, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}

// Token operations

// Token is an OAuth token of one service
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the recorded expiry has passed
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Token returns the stored token of service (e.g. "trakt")
func (s *Store) Token(service string) (*Token, error) {
	access, ok := s.Get(service + "_access_token")
	if !ok {
		return nil, fmt.Errorf("%s: %w", service, ErrNoToken)
	}

	token := &Token{AccessToken: access}
	token.RefreshToken, _ = s.Get(service + "_refresh_token")
	if raw, ok := s.Get(service + "_token_expires"); ok {
		expires, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s token expiry: %w", service, err)
		}
		token.ExpiresAt = expires
	}
	return token, nil
}

// SaveToken records and flushes a token
func (s *Store) SaveToken(service string, token *Token) error {
	s.Set(service+"_access_token", token.AccessToken)
	if token.RefreshToken != "" {
		s.Set(service+"_refresh_token", token.RefreshToken)
	}
	if !token.ExpiresAt.IsZero() {
		s.Set(service+"_token_expires", token.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return s.Save()
}

// TokenStore scopes token access to one service
type TokenStore struct {
	store   *Store
	service string
}

// TokenStore returns a store scoped to service
func (s *Store) TokenStore(service string) *TokenStore {
	return &TokenStore{store: s, service: service}
}

// GetToken retrieves the token of the scoped service
func (t *TokenStore) GetToken() (*Token, error) {
	return t.store.Token(t.service)
}

// SaveToken saves the token of the scoped service
func (t *TokenStore) SaveToken(token *Token) error {
	return t.store.SaveToken(t.service, token)
}

// Sync timestamps

func lastSyncKey(target string, dt models.DataType) string {
	return target + keyLastSyncInfix + string(dt)
}

// LastSync returns the last successful write time of (target, data type)
func (s *Store) LastSync(target string, dt models.DataType) (time.Time, bool) {
	raw, ok := s.Get(lastSyncKey(target, dt))
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastSync records a successful write time in memory
func (s *Store) SetLastSync(target string, dt models.DataType, t time.Time) {
	s.Set(lastSyncKey(target, dt), t.UTC().Format(time.RFC3339))
}

// ClearTimestamps drops every last-sync timestamp and activity snapshot
func (s *Store) ClearTimestamps() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.values {
		if strings.Contains(key, keyLastSyncInfix) || key == keySimklActivities {
			delete(s.values, key)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// ClearAll forgets every value and removes the file
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]string)
	s.dirty = false
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// Keys lists stored keys, sorted, for display
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Activity snapshots

// Activities returns the stored activity snapshots keyed by data type
func (s *Store) Activities() (map[models.DataType]json.RawMessage, error) {
	raw, ok := s.Get(keySimklActivities)
	if !ok {
		return map[models.DataType]json.RawMessage{}, nil
	}
	snapshots := make(map[models.DataType]json.RawMessage)
	if err := json.Unmarshal([]byte(raw), &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse activity snapshot: %w", err)
	}
	return snapshots, nil
}

// SetActivity replaces the snapshot stored for one data type
func (s *Store) SetActivity(dt models.DataType, snapshot json.RawMessage) error {
	snapshots, err := s.Activities()
	if err != nil {
		snapshots = make(map[models.DataType]json.RawMessage)
	}
	snapshots[dt] = snapshot

	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("failed to encode activity snapshot: %w", err)
	}
	s.Set(keySimklActivities, string(data))
	return nil
}
