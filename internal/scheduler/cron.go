package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned when another process or job holds the run lock
var ErrBusy = errors.New("another sync holds the run lock")

const pruneSchedule = "30 3 * * *"

// Syncer runs one sync
type Syncer interface {
	Run(ctx context.Context, opts controllers.RunOptions) (*controllers.SyncResult, error)
}

// Pruner deletes old run history
type Pruner interface {
	PruneRuns(retention time.Duration, now time.Time) error
}

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	pruner Pruner
	lock   *flock.Flock
	busy   atomic.Bool
	cfg    config.SchedulerConfig
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler. Runs are serialized through the lock
// file at lockPath, which the CLI shares.
func NewScheduler(cfg config.SchedulerConfig, loc *time.Location, syncer Syncer, pruner Pruner, lockPath string, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		syncer: syncer,
		pruner: pruner,
		lock:   flock.New(lockPath),
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.WithFields(logrus.Fields{
		"schedule": s.cfg.Schedule,
		"timezone": s.cfg.Timezone,
	}).Info("Starting scheduler")

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runSync("schedule")
	}); err != nil {
		return fmt.Errorf("failed to add sync job: %w", err)
	}

	if s.pruner != nil && s.cfg.HistoryDays > 0 {
		if _, err := s.cron.AddFunc(pruneSchedule, s.runPrune); err != nil {
			return fmt.Errorf("failed to add prune job: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	if s.cfg.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync("startup")
		}()
	}
	return nil
}

// Stop stops the scheduler and waits for a running job
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Next returns the next scheduled sync, zero before Start
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Trigger starts a sync in the background. It returns ErrBusy without
// starting anything when the run lock is held.
func (s *Scheduler) Trigger(trigger string) error {
	if err := s.acquire(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unlock()
		s.run(trigger)
	}()
	return nil
}

// runSync executes the sync job
func (s *Scheduler) runSync(trigger string) {
	if err := s.acquire(); err != nil {
		if errors.Is(err, ErrBusy) {
			s.logger.WithField("trigger", trigger).Warn("Another sync is running, skipping")
		} else {
			s.logger.WithError(err).Error("Failed to acquire run lock")
		}
		return
	}
	defer s.unlock()

	s.run(trigger)
}

func (s *Scheduler) run(trigger string) {
	log := s.logger.WithField("trigger", trigger)
	log.Info("Running scheduled sync")

	result, err := s.syncer.Run(s.ctx, controllers.RunOptions{Trigger: trigger})
	switch {
	case errors.Is(err, controllers.ErrRunInProgress):
		log.Warn("Sync already in progress, skipping")
	case err != nil:
		log.WithError(err).Error("Sync job failed")
	case result.Partial():
		log.WithField("errors", len(result.Errors)).Warn("Sync job completed with errors")
	default:
		log.WithField("items_synced", result.ItemsSynced).Info("Sync job completed successfully")
	}
}

// runPrune executes the run-history prune job
func (s *Scheduler) runPrune() {
	if err := s.pruner.PruneRuns(s.cfg.HistoryRetention(), time.Now()); err != nil {
		s.logger.WithError(err).Error("Prune job failed")
	}
}

// acquire takes the run lock. A flock is shared by every holder in this
// process, so the busy flag guards against concurrent jobs here.
func (s *Scheduler) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		s.busy.Store(false)
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		s.busy.Store(false)
		return ErrBusy
	}
	return nil
}

func (s *Scheduler) unlock() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.WithError(err).Warn("Failed to release run lock")
	}
	s.busy.Store(false)
}
