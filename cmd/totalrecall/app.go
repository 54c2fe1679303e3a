package main

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/idcache"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/telemetry"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// app holds the state every command shares
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	store     *credentials.Store
	db        *models.Database
	cache     *cache.Manager
	telemetry *telemetry.Provider
}

func openApp(flags *rootFlags) (*app, error) {
	// Step 1: Load configuration
	paths, err := flags.paths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Setup logger
	level := cfg.Logging.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := utils.NewLogger(level, cfg.Logging.Format)
	for _, key := range cfg.Warnings {
		logger.WithField("key", key).Warn("Unknown configuration key")
	}
	logger.WithFields(logrus.Fields{
		"config_dir": paths.ConfigDir,
		"data_dir":   paths.DataDir,
	}).Debug("Configuration loaded")

	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	// Step 3: Open state
	store, err := credentials.Open(paths.CredentialsFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	db, err := models.NewDatabase(paths.StateDB())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		db:        db,
		cache:     cache.NewManager(paths, logger),
		telemetry: telemetry.NewProvider(logger),
	}, nil
}

// syncController builds the sources and the orchestrator
func (a *app) syncController() (*controllers.SyncController, error) {
	ids, err := idcache.Load(a.db, a.logger)
	if err != nil {
		return nil, err
	}

	ignore, err := utils.LoadIgnoreList(a.cfg.Paths.IgnoreFile())
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load ignore list, continuing without it")
	} else if ignore.Len() > 0 {
		a.logger.WithField("count", ignore.Len()).Info("Ignore list loaded")
	}

	srcs, err := controllers.BuildSources(a.cfg, a.store, a.cache, a.logger)
	if err != nil {
		return nil, err
	}

	return controllers.NewSyncController(a.cfg, srcs, a.store, a.cache, ids, a.logger,
		controllers.WithDatabase(a.db),
		controllers.WithIgnoreList(ignore),
		controllers.WithTracer(a.telemetry.Tracer()),
	), nil
}

func (a *app) cleanupController() *controllers.CleanupController {
	return controllers.NewCleanupController(a.db, a.store, a.cache, a.logger)
}

// lock takes the run lock shared with the daemon
func (a *app) lock() (*flock.Flock, error) {
	lock := flock.New(a.cfg.Paths.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another sync is running (lock %s)", lock.Path())
	}
	return lock, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to shut down tracer")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
