package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

type fakeSyncer struct {
	mu       sync.Mutex
	triggers []string
	release  chan struct{}
	started  chan struct{}
}

func (f *fakeSyncer) Run(ctx context.Context, opts controllers.RunOptions) (*controllers.SyncResult, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, opts.Trigger)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return &controllers.SyncResult{}, nil
}

func (f *fakeSyncer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func schedulerConfig(runOnStartup bool) config.SchedulerConfig {
	return config.SchedulerConfig{Schedule: "0 */6 * * *", Timezone: "UTC", RunOnStartup: runOnStartup}
}

func TestRunOnStartup(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(schedulerConfig(true), time.UTC, syncer, nil, filepath.Join(t.TempDir(), "run.lock"), quietLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	s.Stop()

	calls := syncer.calls()
	if len(calls) != 1 || calls[0] != "startup" {
		t.Errorf("Expected one startup run, got %v", calls)
	}
	if next := s.Next(); next.IsZero() {
		t.Error("Expected a next scheduled run")
	}
}

func TestInvalidScheduleFailsToStart(t *testing.T) {
	cfg := schedulerConfig(false)
	cfg.Schedule = "every day"
	s := NewScheduler(cfg, time.UTC, &fakeSyncer{}, nil, filepath.Join(t.TempDir(), "run.lock"), quietLogger())

	if err := s.Start(); err == nil {
		t.Error("Expected an invalid schedule to fail")
	}
}

func TestTriggerIsRejectedWhileRunning(t *testing.T) {
	syncer := &fakeSyncer{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(schedulerConfig(false), time.UTC, syncer, nil, filepath.Join(t.TempDir(), "run.lock"), quietLogger())

	if err := s.Trigger("api"); err != nil {
		t.Fatalf("Expected first trigger to start, got %v", err)
	}
	<-syncer.started

	if err := s.Trigger("api"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while a run holds the lock, got %v", err)
	}

	close(syncer.release)
	s.Stop()

	if calls := syncer.calls(); len(calls) != 1 {
		t.Errorf("Expected a single run, got %v", calls)
	}
}

func TestScheduledRunSkipsWhenLockIsHeldElsewhere(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")
	other := flock.New(lockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("Failed to take lock: %v", err)
	}
	defer other.Unlock()

	syncer := &fakeSyncer{}
	s := NewScheduler(schedulerConfig(false), time.UTC, syncer, nil, lockPath, quietLogger())
	s.runSync("schedule")

	if calls := syncer.calls(); len(calls) != 0 {
		t.Errorf("Expected no run while another process holds the lock, got %v", calls)
	}
}

type fakePruner struct {
	retention time.Duration
}

func (f *fakePruner) PruneRuns(retention time.Duration, now time.Time) error {
	f.retention = retention
	return nil
}

func TestPruneUsesHistoryDays(t *testing.T) {
	cfg := schedulerConfig(false)
	cfg.HistoryDays = 7
	pruner := &fakePruner{}
	s := NewScheduler(cfg, time.UTC, &fakeSyncer{}, pruner, filepath.Join(t.TempDir(), "run.lock"), quietLogger())

	s.runPrune()

	if pruner.retention != 7*24*time.Hour {
		t.Errorf("Expected 7 days retention, got %s", pruner.retention)
	}
}
