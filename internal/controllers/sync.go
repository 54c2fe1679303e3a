package controllers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/distribution"
	"github.com/amaumene/totalrecall/internal/idcache"
	"github.com/amaumene/totalrecall/internal/idresolver"
	"github.com/amaumene/totalrecall/internal/metrics"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/resolution"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/telemetry"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunOptions are the switches of one run
type RunOptions struct {
	// DryRun lists targets whose writes are suppressed; DryRunAll covers every target
	DryRun    []string
	DryRunAll bool
	ForceFull bool
	// UseCache lists sources read from the collect cache instead of their API
	UseCache    []string
	UseCacheAll bool
	// DataTypes restricts the run; empty means every enabled type
	DataTypes []models.DataType
	Trigger   string
}

func (o RunOptions) dryRun(name string) bool {
	return o.DryRunAll || slices.Contains(o.DryRun, name)
}

func (o RunOptions) useCache(name string) bool {
	return o.UseCacheAll || slices.Contains(o.UseCache, name)
}

// IsDryRun reports whether any target runs dry
func (o RunOptions) IsDryRun() bool {
	return o.DryRunAll || len(o.DryRun) > 0
}

// SyncResult summarizes a run
type SyncResult struct {
	RunID       string
	ItemsSynced int
	Duration    time.Duration
	Errors      []error
	// Written counts successful writes per target and data type
	Written map[string]map[models.DataType]int
	// Planned is the plan size per target, filled for dry runs too
	Planned  map[string]int
	Excluded map[string]int
}

// Partial reports whether the run completed with errors
func (r *SyncResult) Partial() bool {
	return len(r.Errors) > 0
}

// SyncController drives authenticate, collect, resolve and distribute
type SyncController struct {
	cfg     *config.Config
	sources []*sources.Handle
	store   *credentials.Store
	cache   *cache.Manager
	ids     *idcache.Cache
	db      *models.Database
	ignore  *utils.IgnoreList
	tracer  trace.Tracer
	now     func() time.Time
	running atomic.Bool
	logger  *logrus.Logger
}

// Option configures a SyncController
type Option func(*SyncController)

// WithDatabase persists a summary of every run
func WithDatabase(db *models.Database) Option {
	return func(c *SyncController) { c.db = db }
}

// WithIgnoreList sets entries that are never propagated
func WithIgnoreList(l *utils.IgnoreList) Option {
	return func(c *SyncController) { c.ignore = l }
}

// WithTracer sets the tracer used for phase spans
func WithTracer(t trace.Tracer) Option {
	return func(c *SyncController) { c.tracer = t }
}

// WithClock overrides time.Now for sync timestamps
func WithClock(now func() time.Time) Option {
	return func(c *SyncController) { c.now = now }
}

// NewSyncController creates a new sync controller. Sources are ordered by
// source_preference; unlisted sources come last.
func NewSyncController(cfg *config.Config, srcs []sources.Source, store *credentials.Store, cacheMgr *cache.Manager, ids *idcache.Cache, logger *logrus.Logger, opts ...Option) *SyncController {
	rank := make(map[string]int, len(cfg.Resolution.SourcePreference))
	for i, name := range cfg.Resolution.SourcePreference {
		rank[strings.ToLower(name)] = i
	}
	rankOf := func(s sources.Source) int {
		if r, ok := rank[strings.ToLower(s.Name())]; ok {
			return r
		}
		return len(rank)
	}

	ordered := slices.Clone(srcs)
	sort.SliceStable(ordered, func(i, j int) bool { return rankOf(ordered[i]) < rankOf(ordered[j]) })

	handles := make([]*sources.Handle, 0, len(ordered))
	for _, s := range ordered {
		handles = append(handles, sources.NewHandle(s))
	}

	c := &SyncController{
		cfg:     cfg,
		sources: handles,
		store:   store,
		cache:   cacheMgr,
		ids:     ids,
		tracer:  telemetry.Tracer(),
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Running reports whether a run is active
func (c *SyncController) Running() bool {
	return c.running.Load()
}

// RecentRuns returns the latest persisted runs, newest first
func (c *SyncController) RecentRuns(limit int) ([]*models.SyncRun, error) {
	if c.db == nil {
		return nil, nil
	}
	return c.db.GetRecentRuns(limit)
}

// Run executes one sync. The returned error is only set when the run could
// not start or the first source failed to authenticate; every other failure
// is reported in SyncResult.Errors.
func (c *SyncController) Run(ctx context.Context, opts RunOptions) (*SyncResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	start := time.Now()
	result := &SyncResult{
		RunID:    uuid.NewString(),
		Written:  make(map[string]map[models.DataType]int),
		Planned:  make(map[string]int),
		Excluded: make(map[string]int),
	}
	errs := &ErrorBuffer{}

	ctx, span := c.tracer.Start(ctx, "sync", trace.WithAttributes(
		attribute.String("run_id", result.RunID),
		attribute.Bool("dry_run", opts.IsDryRun()),
	))
	defer span.End()

	log := c.logger.WithField("run_id", result.RunID)
	log.WithFields(logrus.Fields{
		"sources":    len(c.sources),
		"dry_run":    opts.IsDryRun(),
		"force_full": opts.ForceFull,
		"trigger":    opts.Trigger,
	}).Info("Starting sync")

	// Step 1: Authenticate in preference order
	active, err := c.authenticate(ctx, opts, errs)
	if err != nil {
		telemetry.Fail(span, err)
		c.cleanup(ctx, errs)
		c.finish(result, opts, errs, start, err)
		return result, err
	}

	// Step 2: Collect every source
	collected := c.collect(ctx, active, opts, errs)

	// Step 3: Enrich identifiers
	c.resolveIDs(ctx, active, collected)

	// Step 4: Resolve conflicts
	inputs := make([]resolution.SourceData, 0, len(active))
	for i, h := range active {
		inputs = append(inputs, resolution.SourceData{Source: h.Name(), Data: collected[i]})
	}
	_, done := c.startPhase(ctx, "resolve")
	resolved := resolution.New(c.cfg.Resolution, c.logger).Resolve(inputs)
	done(nil)

	// Step 5: Rated implies watched
	if c.cfg.Sync.MarkRatedAsWatched {
		if n := resolution.SynthesizeWatched(resolved); n > 0 {
			log.WithField("count", n).Info("Added rated items to watch history")
		}
	}

	// Step 6: Persist what was learned before writing anywhere
	c.flush(errs)

	// Step 7: Distribute to every target
	c.distribute(ctx, active, collected, resolved, opts, errs, result)

	// Step 8: Flush state and release sources
	c.flush(errs)
	c.cleanup(ctx, errs)

	c.finish(result, opts, errs, start, nil)
	return result, nil
}

func (c *SyncController) startPhase(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		telemetry.Fail(span, err)
		span.End()
		metrics.PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// selected returns the data types of this run: the requested ones that are
// also enabled in the sync options
func (c *SyncController) selected(opts RunOptions) []models.DataType {
	var out []models.DataType
	for _, dt := range models.AllDataTypes {
		if !c.cfg.Sync.Enabled(dt) {
			continue
		}
		if len(opts.DataTypes) > 0 && !slices.Contains(opts.DataTypes, dt) {
			continue
		}
		out = append(out, dt)
	}
	return out
}

// collects reports whether dt must be read, which includes the streams other
// filters depend on
func (c *SyncController) collects(dt models.DataType, selected []models.DataType) bool {
	if slices.Contains(selected, dt) {
		return true
	}
	switch dt {
	case models.DataWatchHistory:
		return c.cfg.Sync.RemoveWatchedFromWatchlists && slices.Contains(selected, models.DataWatchlist)
	case models.DataRatings:
		return c.cfg.Sync.MarkRatedAsWatched && slices.Contains(selected, models.DataWatchHistory)
	}
	return false
}

func (c *SyncController) authenticate(ctx context.Context, opts RunOptions, errs *ErrorBuffer) ([]*sources.Handle, error) {
	ctx, done := c.startPhase(ctx, "authenticate")

	var active []*sources.Handle
	for i, h := range c.sources {
		if err := h.Authenticate(ctx); err != nil {
			if i == 0 {
				err = fmt.Errorf("failed to authenticate %s: %w", h.Name(), err)
				done(err)
				return nil, err
			}
			c.logger.WithError(err).WithField("source", h.Name()).Error("Authentication failed, source skipped")
			errs.Add(h.Name(), "authenticate", err)
			continue
		}
		if opts.ForceFull {
			h.SetForceFullSync(true)
		}
		active = append(active, h)
	}

	done(nil)
	return active, nil
}

func (c *SyncController) collect(ctx context.Context, active []*sources.Handle, opts RunOptions, errs *ErrorBuffer) []*models.Collection {
	ctx, done := c.startPhase(ctx, "collect")
	defer done(nil)

	selected := c.selected(opts)
	out := make([]*models.Collection, len(active))
	p := pool.New()
	for i, h := range active {
		p.Go(func() {
			out[i] = c.collectSource(ctx, h, selected, opts, errs)
		})
	}
	p.Wait()
	return out
}

func (c *SyncController) collectSource(ctx context.Context, h *sources.Handle, selected []models.DataType, opts RunOptions, errs *ErrorBuffer) *models.Collection {
	name := h.Name()
	log := c.logger.WithField("source", name)

	if opts.useCache(name) {
		cached, ok, err := c.cache.LoadCollection(name)
		switch {
		case err != nil:
			log.WithError(err).Warn("Failed to load cached collection, fetching instead")
		case ok:
			log.WithField("items", cached.Total()).Info("Loaded collection from cache")
			return cached
		default:
			log.Warn("No cached collection, fetching instead")
		}
	}

	coll := &models.Collection{}
	var wg conc.WaitGroup
	for _, dt := range models.AllDataTypes {
		if !c.collects(dt, selected) {
			continue
		}
		wg.Go(func() {
			c.read(ctx, h, dt, coll, errs)
		})
	}
	wg.Wait()
	return coll
}

// read fetches one data type into coll. Each goroutine owns one field.
func (c *SyncController) read(ctx context.Context, h *sources.Handle, dt models.DataType, coll *models.Collection, errs *ErrorBuffer) {
	var (
		items any
		n     int
		err   error
	)
	switch dt {
	case models.DataWatchlist:
		coll.Watchlist, err = h.GetWatchlist(ctx)
		items, n = coll.Watchlist, len(coll.Watchlist)
	case models.DataRatings:
		coll.Ratings, err = h.GetRatings(ctx)
		items, n = coll.Ratings, len(coll.Ratings)
	case models.DataReviews:
		coll.Reviews, err = h.GetReviews(ctx)
		items, n = coll.Reviews, len(coll.Reviews)
	case models.DataWatchHistory:
		coll.WatchHistory, err = h.GetWatchHistory(ctx)
		items, n = coll.WatchHistory, len(coll.WatchHistory)
	}

	log := c.logger.WithFields(logrus.Fields{"source": h.Name(), "data_type": dt})
	if err != nil {
		if errors.Is(err, sources.ErrUnsupported) {
			log.Debug("Source does not provide this data type")
			return
		}
		log.WithError(err).WithField("count", n).Error("Failed to collect")
		errs.Add(h.Name(), "collect", fmt.Errorf("failed to get %s: %w", dt, err))
		if n > 0 {
			c.saveCollected(log, h.Name(), dt, items)
		}
		return
	}

	metrics.ItemsCollected.WithLabelValues(h.Name(), string(dt)).Add(float64(n))
	c.saveCollected(log, h.Name(), dt, items)
	log.WithField("count", n).Info("Collected items")
}

func (c *SyncController) saveCollected(log *logrus.Entry, source string, dt models.DataType, items any) {
	if err := c.cache.SaveCollected(source, dt, items); err != nil {
		log.WithError(err).Warn("Failed to cache collected items")
	}
}

func (c *SyncController) resolveIDs(ctx context.Context, active []*sources.Handle, collected []*models.Collection) {
	ctx, done := c.startPhase(ctx, "resolve_ids")
	defer done(nil)

	srcs := make([]sources.Source, 0, len(active))
	for _, h := range active {
		srcs = append(srcs, h)
	}
	resolver := idresolver.New(c.ids, srcs, c.logger)

	p := pool.New()
	for i, h := range active {
		p.Go(func() {
			excluded := resolver.EnrichCollection(ctx, collected[i])
			if err := c.cache.SaveCollectExcluded(h.Name(), excluded); err != nil {
				c.logger.WithError(err).WithField("source", h.Name()).Warn("Failed to cache excluded items")
			}
		})
	}
	p.Wait()
	resolver.Wait()

	c.logger.WithField("stats", resolver.Stats()).Info("Identifier resolution finished")
}

func (c *SyncController) distribute(ctx context.Context, active []*sources.Handle, collected []*models.Collection, resolved *models.Collection, opts RunOptions, errs *ErrorBuffer, result *SyncResult) {
	ctx, done := c.startPhase(ctx, "distribute")
	defer done(nil)

	planner := distribution.NewPlanner(c.store, c.cfg.Sync, c.ignore, c.logger,
		distribution.WithForceFull(opts.ForceFull),
		distribution.WithDataTypes(c.selected(opts)...),
		distribution.WithClock(c.now),
	)

	var removals map[string][]models.WatchlistItem
	if planner.Plans(models.DataWatchlist) {
		byName := make(map[string]*models.Collection, len(active))
		for i, h := range active {
			byName[h.Name()] = collected[i]
		}
		removals = distribution.BuildRemovalLists(byName, resolved.WatchHistory, c.cfg.Sync, c.now())
	}

	var mu sync.Mutex
	p := pool.New()
	for i, h := range active {
		p.Go(func() {
			target := distribution.Target{
				Name:     h.Name(),
				Existing: collected[i],
				Removals: removals[h.Name()],
				Native:   sources.HandlesIncrementalNatively(h),
			}
			plan, written := c.distributeTo(ctx, h, planner, target, resolved, opts, errs)

			mu.Lock()
			defer mu.Unlock()
			result.Planned[target.Name] = plan.Total()
			result.Excluded[target.Name] = len(plan.Excluded)
			result.Written[target.Name] = written
			for _, n := range written {
				result.ItemsSynced += n
			}
		})
	}
	p.Wait()
}

func (c *SyncController) distributeTo(ctx context.Context, h *sources.Handle, planner *distribution.Planner, target distribution.Target, resolved *models.Collection, opts RunOptions, errs *ErrorBuffer) (*distribution.Plan, map[models.DataType]int) {
	ctx, done := c.startPhase(ctx, "distribute_target", attribute.String("target", target.Name))
	defer done(nil)

	log := c.logger.WithField("target", target.Name)
	plan := planner.Plan(target, resolved)
	for _, e := range plan.Excluded {
		stage, _, _ := strings.Cut(e.Reason, ":")
		metrics.ItemsExcluded.WithLabelValues(target.Name, stage).Inc()
	}
	if err := plan.Save(c.cache); err != nil {
		log.WithError(err).Warn("Failed to save distribution preview")
	}

	written := make(map[models.DataType]int)
	if opts.dryRun(target.Name) {
		log.WithField("planned", plan.Total()).Info("Dry run, writes skipped")
		return plan, written
	}

	w := &writer{ctx: ctx, target: h, written: written, errs: errs, logger: log}
	ok := make(map[models.DataType]bool)

	// Write order: watchlist adds, split to history, removals, ratings, reviews, history
	if planner.Plans(models.DataWatchlist) {
		added := w.write(models.DataWatchlist, "add to watchlist", len(plan.Watchlist), func(ctx context.Context) error {
			return h.AddToWatchlist(ctx, plan.Watchlist)
		})
		split := w.write(models.DataWatchlist, "add split items to history", len(plan.WatchlistToHistory), func(ctx context.Context) error {
			return h.AddWatchHistory(ctx, plan.WatchlistToHistory)
		})
		removed := w.write(models.DataWatchlist, "remove from watchlist", len(plan.Removals), func(ctx context.Context) error {
			return h.RemoveFromWatchlist(ctx, plan.Removals)
		})
		ok[models.DataWatchlist] = added && split && removed
	}
	if planner.Plans(models.DataRatings) {
		ok[models.DataRatings] = w.write(models.DataRatings, "set ratings", len(plan.Ratings), func(ctx context.Context) error {
			return h.SetRatings(ctx, plan.Ratings)
		})
	}
	if planner.Plans(models.DataReviews) {
		ok[models.DataReviews] = w.write(models.DataReviews, "set reviews", len(plan.Reviews), func(ctx context.Context) error {
			return h.SetReviews(ctx, plan.Reviews)
		})
	}
	if planner.Plans(models.DataWatchHistory) {
		ok[models.DataWatchHistory] = w.write(models.DataWatchHistory, "add to history", len(plan.WatchHistory), func(ctx context.Context) error {
			return h.AddWatchHistory(ctx, plan.WatchHistory)
		})
	}

	for dt, success := range ok {
		if success {
			planner.Complete(target, dt)
		}
	}

	log.WithFields(logrus.Fields{
		"written":  written,
		"excluded": len(plan.Excluded),
	}).Info("Distribution finished")
	return plan, written
}

// writer issues the batch writes of one target and keeps their counts
type writer struct {
	ctx     context.Context
	target  *sources.Handle
	written map[models.DataType]int
	errs    *ErrorBuffer
	logger  *logrus.Entry
}

// write runs fn when there is something to write. It reports false when the
// batch did not go through.
func (w *writer) write(dt models.DataType, op string, n int, fn func(context.Context) error) bool {
	if n == 0 {
		return true
	}

	log := w.logger.WithFields(logrus.Fields{"data_type": dt, "operation": op, "count": n})
	err := fn(w.ctx)
	switch {
	case err == nil:
		w.written[dt] += n
		metrics.ItemsWritten.WithLabelValues(w.target.Name(), string(dt)).Add(float64(n))
		log.Info("Wrote items")
		return true
	case errors.Is(err, sources.ErrUnsupported):
		log.Debug("Target does not support operation, skipped")
	case sources.IsCapacityError(err):
		log.WithError(err).Warn("Target capacity reached, batch skipped")
	default:
		log.WithError(err).Error("Failed to write")
		w.errs.Add(w.target.Name(), "distribute", fmt.Errorf("failed to %s: %w", op, err))
	}
	return false
}

func (c *SyncController) flush(errs *ErrorBuffer) {
	if c.ids != nil && c.ids.Dirty() {
		if err := c.ids.Flush(); err != nil {
			c.logger.WithError(err).Error("Failed to flush identifier cache")
			errs.Add("idcache", "flush", err)
		}
	}
	if err := c.store.Save(); err != nil {
		c.logger.WithError(err).Error("Failed to save credentials")
		errs.Add("credentials", "flush", err)
	}
}

func (c *SyncController) cleanup(ctx context.Context, errs *ErrorBuffer) {
	ctx, done := c.startPhase(ctx, "cleanup")
	defer done(nil)

	for _, h := range c.sources {
		if err := h.Cleanup(ctx); err != nil {
			c.logger.WithError(err).WithField("source", h.Name()).Warn("Cleanup failed")
			errs.Add(h.Name(), "cleanup", err)
		}
	}
}

func (c *SyncController) finish(result *SyncResult, opts RunOptions, errs *ErrorBuffer, start time.Time, fatal error) {
	result.Duration = time.Since(start)
	result.Errors = errs.Errors()
	if fatal != nil {
		result.Errors = append([]error{fatal}, result.Errors...)
	}

	outcome := "success"
	switch {
	case fatal != nil:
		outcome = "failed"
	case result.Partial():
		outcome = "partial"
	default:
		metrics.SyncLastSuccess.SetToCurrentTime()
	}
	metrics.SyncRuns.WithLabelValues(outcome).Inc()
	metrics.SyncDuration.Observe(result.Duration.Seconds())

	entry := c.logger.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"items_synced": result.ItemsSynced,
		"duration":     result.Duration.Round(time.Millisecond).String(),
		"errors":       len(result.Errors),
		"outcome":      outcome,
	})
	if outcome == "success" {
		entry.Info("Sync completed")
	} else {
		entry.Warn("Sync completed with errors")
	}

	if c.db == nil {
		return
	}
	run := &models.SyncRun{
		ID:          result.RunID,
		StartedAt:   start,
		Duration:    result.Duration,
		ItemsSynced: result.ItemsSynced,
		DryRun:      opts.IsDryRun(),
		Trigger:     opts.Trigger,
		Written:     result.Written,
	}
	for _, err := range result.Errors {
		run.Errors = append(run.Errors, err.Error())
	}
	if err := c.db.SaveRun(run); err != nil {
		c.logger.WithError(err).Warn("Failed to record sync run")
	}
}
