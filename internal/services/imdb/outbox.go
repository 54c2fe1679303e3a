package imdb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ActionKind is a write the browser worker performs on imdb.com
type ActionKind string

const (
	ActionWatchlistAdd    ActionKind = "watchlist_add"
	ActionWatchlistRemove ActionKind = "watchlist_remove"
	ActionRate            ActionKind = "rate"
	ActionReview          ActionKind = "review"
	ActionCheckin         ActionKind = "checkin"
)

// Action is one queued write
type Action struct {
	ID       string     `json:"id"`
	Kind     ActionKind `json:"kind"`
	IMDbID   string     `json:"imdb_id"`
	Title    string     `json:"title,omitempty"`
	Rating   int        `json:"rating,omitempty"`
	Content  string     `json:"content,omitempty"`
	Spoiler  bool       `json:"is_spoiler,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	QueuedAt time.Time  `json:"queued_at"`
}

// Driver carries out write actions
type Driver interface {
	Submit(ctx context.Context, actions []Action) error
	Close() error
}

// OutboxDriver appends actions as JSON lines to a file the worker consumes.
// Appends hold an advisory lock so the worker never reads a partial batch.
type OutboxDriver struct {
	path   string
	lock   *flock.Flock
	logger *logrus.Logger

	mu sync.Mutex
}

// NewOutboxDriver creates the outbox file under dir
func NewOutboxDriver(dir string, logger *logrus.Logger) (*OutboxDriver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}
	path := filepath.Join(dir, "imdb.jsonl")
	return &OutboxDriver{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// Path returns the outbox file
func (d *OutboxDriver) Path() string { return d.path }

func (d *OutboxDriver) Submit(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	locked, err := d.lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock outbox: %w", err)
	}
	if !locked {
		return fmt.Errorf("outbox %s is locked", d.path)
	}
	defer d.lock.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	now := time.Now().UTC()
	for i := range actions {
		a := actions[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.QueuedAt.IsZero() {
			a.QueuedAt = now
		}
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("failed to encode action: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write outbox: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"kind":  actions[0].Kind,
		"count": len(actions),
		"path":  d.path,
	}).Info("Queued IMDb actions")
	return nil
}

// Pending reads every queued action
func (d *OutboxDriver) Pending() ([]Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	defer f.Close()

	var actions []Action
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			return nil, fmt.Errorf("failed to parse outbox line: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, scanner.Err()
}

// Close releases the lock file handle
func (d *OutboxDriver) Close() error {
	return d.lock.Close()
}
