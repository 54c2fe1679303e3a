// Package distribution decides what each target receives from the resolved
// collection: incremental gating, filtering, deduplication against what the
// target already holds, target-specific splits and removal lists.
package distribution

import (
	"fmt"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/resolution"
	"github.com/amaumene/totalrecall/internal/utils"
	"github.com/sirupsen/logrus"
)

// SyncState is the per-target last-sync bookkeeping
type SyncState interface {
	LastSync(target string, dt models.DataType) (time.Time, bool)
	SetLastSync(target string, dt models.DataType, t time.Time)
}

// Target is one destination of a run
type Target struct {
	Name string
	// Existing is what the target returned during collection
	Existing *models.Collection
	// Removals is the target's entry of BuildRemovalLists
	Removals []models.WatchlistItem
	// Native disables the timestamp gate for targets that compute deltas themselves
	Native bool
}

// Planner builds distribution plans
type Planner struct {
	state     SyncState
	opts      config.SyncOptions
	ignore    *utils.IgnoreList
	types     map[models.DataType]bool
	forceFull bool
	now       func() time.Time
	logger    *logrus.Logger
}

// Option configures a Planner
type Option func(*Planner)

// WithForceFull disables the incremental timestamp gate
func WithForceFull(force bool) Option {
	return func(p *Planner) { p.forceFull = force }
}

// WithDataTypes restricts planning to the given data types
func WithDataTypes(types ...models.DataType) Option {
	return func(p *Planner) {
		p.types = make(map[models.DataType]bool, len(types))
		for _, dt := range types {
			p.types[dt] = true
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// NewPlanner creates a planner. Without WithDataTypes the sync toggles decide
// which data types are planned.
func NewPlanner(state SyncState, opts config.SyncOptions, ignore *utils.IgnoreList, logger *logrus.Logger, options ...Option) *Planner {
	p := &Planner{
		state:  state,
		opts:   opts,
		ignore: ignore,
		now:    time.Now,
		logger: logger,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Plans reports whether dt is planned at all
func (p *Planner) Plans(dt models.DataType) bool {
	if p.types != nil {
		return p.types[dt] && p.opts.Enabled(dt)
	}
	return p.opts.Enabled(dt)
}

func (p *Planner) gated(t Target) bool {
	return !p.forceFull && !t.Native
}

// Plan filters resolved for one target
func (p *Planner) Plan(t Target, resolved *models.Collection) *Plan {
	plan := &Plan{Target: t.Name, Deduplicated: make(map[models.DataType]int)}
	existing := t.Existing
	if existing == nil {
		existing = &models.Collection{}
	}
	policy := PolicyFor(t.Name)
	log := p.logger.WithField("target", t.Name)

	if p.Plans(models.DataWatchlist) {
		p.planWatchlist(plan, t, policy, resolved, existing, log)
	}
	if p.Plans(models.DataRatings) {
		plan.Ratings = filter(plan, models.DataRatings, resolved.Ratings,
			commonStages(p, t, models.DataRatings, ratingKeys, existing.Ratings), log)
	}
	if p.Plans(models.DataReviews) {
		plan.Reviews = filter(plan, models.DataReviews, resolved.Reviews,
			commonStages(p, t, models.DataReviews, reviewKeys, existing.Reviews), log)
	}
	if p.Plans(models.DataWatchHistory) {
		p.planHistory(plan, t, policy, resolved, existing, log)
	}

	log.WithFields(logrus.Fields{
		"watchlist":            len(plan.Watchlist),
		"watchlist_to_history": len(plan.WatchlistToHistory),
		"removals":             len(plan.Removals),
		"ratings":              len(plan.Ratings),
		"reviews":              len(plan.Reviews),
		"watch_history":        len(plan.WatchHistory),
		"excluded":             len(plan.Excluded),
		"deduplicated":         plan.DeduplicatedTotal(),
	}).Info("Planned distribution")
	return plan
}

func (p *Planner) planWatchlist(plan *Plan, t Target, policy Policy, resolved, existing *models.Collection, log *logrus.Entry) {
	stages := commonStages(p, t, models.DataWatchlist, watchlistKeys, existing.Watchlist)

	if p.opts.RemoveWatchedFromWatchlists {
		watched := watchedKeys(resolved.WatchHistory)
		stages = insertBeforeIgnore(stages, stage[models.WatchlistItem]{
			name: "watched",
			drop: func(item models.WatchlistItem) (bool, string) {
				return anyKey(watched, models.IdentityKeys(item)), "watched filter: already in watch history"
			},
		})
	}
	if len(t.Removals) > 0 {
		removing := make(map[string]bool)
		for _, r := range t.Removals {
			for _, k := range models.IdentityKeys(r) {
				removing[k] = true
			}
		}
		stages = append(stages, stage[models.WatchlistItem]{
			name: "removal",
			drop: func(item models.WatchlistItem) (bool, string) {
				return anyKey(removing, models.IdentityKeys(item)), "removal list: scheduled for removal from " + t.Name
			},
		})
	}

	kept := filter(plan, models.DataWatchlist, resolved.Watchlist, stages, log)

	played := keySet(existing.WatchHistory, historyKeys)
	for _, item := range kept {
		route, reason := policy.Route(item)
		switch route {
		case RouteWatchlist:
			plan.Watchlist = append(plan.Watchlist, item)
		case RouteHistory:
			h := models.WatchHistory{
				IMDbID:    item.IMDbID,
				IDs:       item.IDs,
				Title:     item.Title,
				Year:      item.Year,
				WatchedAt: item.DateAdded,
				Kind:      item.Kind,
				Source:    item.Source,
			}
			keys := historyKeys(h)
			if anyKey(played, keys) {
				plan.Deduplicated[models.DataWatchlist]++
				continue
			}
			for _, k := range keys {
				played[k] = true
			}
			plan.WatchlistToHistory = append(plan.WatchlistToHistory, h)
		default:
			plan.Excluded = append(plan.Excluded, models.Exclude(item, reason))
		}
	}

	plan.Removals = t.Removals
}

func (p *Planner) planHistory(plan *Plan, t Target, policy Policy, resolved, existing *models.Collection, log *logrus.Entry) {
	stages := commonStages(p, t, models.DataWatchHistory, historyKeys, existing.WatchHistory)
	stages = append(stages, stage[models.WatchHistory]{
		name: "policy",
		drop: func(h models.WatchHistory) (bool, string) {
			ok, reason := policy.AcceptsHistory(h)
			return !ok, reason
		},
	})

	split := keySet(plan.WatchlistToHistory, historyKeys)
	stages = append(stages, stage[models.WatchHistory]{
		name:  "split",
		dedup: true,
		drop: func(h models.WatchHistory) (bool, string) {
			return anyKey(split, historyKeys(h)), ""
		},
	})

	plan.WatchHistory = filter(plan, models.DataWatchHistory, resolved.WatchHistory, stages, log)
}

// Complete records a successful write of dt to t
func (p *Planner) Complete(t Target, dt models.DataType) {
	if t.Native {
		return
	}
	p.state.SetLastSync(t.Name, dt, p.now())
}

// stage is one filter step. Deduplication drops are counted, every other
// drop is recorded as an excluded item.
type stage[T models.Record] struct {
	name  string
	dedup bool
	drop  func(T) (bool, string)
}

func filter[T models.Record](plan *Plan, dt models.DataType, items []T, stages []stage[T], log *logrus.Entry) []T {
	out := items
	for _, s := range stages {
		kept := make([]T, 0, len(out))
		dropped := 0
		for _, item := range out {
			if drop, reason := s.drop(item); drop {
				dropped++
				if s.dedup {
					plan.Deduplicated[dt]++
				} else {
					plan.Excluded = append(plan.Excluded, models.Exclude(item, reason))
				}
				continue
			}
			kept = append(kept, item)
		}
		if dropped > 0 {
			log.WithFields(logrus.Fields{
				"data_type": dt,
				"stage":     s.name,
				"dropped":   dropped,
				"remaining": len(kept),
			}).Debug("Filtered items")
		}
		out = kept
	}
	return out
}

// commonStages builds the filters shared by every data type, in order:
// identifier, timestamp gate, source, deduplication against the target,
// ignore list.
func commonStages[T models.Record](p *Planner, t Target, dt models.DataType, keysOf func(T) []string, existing []T) []stage[T] {
	stages := []stage[T]{{
		name: "identifier",
		drop: func(item T) (bool, string) {
			return !models.Addressable(item), "no identifier"
		},
	}}

	if p.gated(t) {
		if last, ok := p.state.LastSync(t.Name, dt); ok {
			stages = append(stages, stage[T]{
				name: "timestamp",
				drop: func(item T) (bool, string) {
					ts := item.Timestamp()
					if resolution.NewerThan(ts, last) {
						return false, ""
					}
					return true, fmt.Sprintf("timestamp filter: %s is not after last sync %s",
						ts.Format(time.RFC3339), last.Format(time.RFC3339))
				},
			})
		}
	}

	stages = append(stages, stage[T]{
		name: "source",
		drop: func(item T) (bool, string) {
			return strings.EqualFold(item.Origin(), t.Name), fmt.Sprintf("source filter: already exists in target source '%s'", t.Name)
		},
	})

	present := keySet(existing, keysOf)
	stages = append(stages, stage[T]{
		name:  "dedup",
		dedup: true,
		drop: func(item T) (bool, string) {
			return anyKey(present, keysOf(item)), ""
		},
	})

	stages = append(stages, stage[T]{
		name: "ignore",
		drop: func(item T) (bool, string) {
			ids := append([]string{item.PrimaryID()}, item.Bundle().Keys()...)
			if ok, entry := p.ignore.Match(item.DisplayTitle(), ids...); ok {
				return true, "ignore list: " + entry
			}
			return false, ""
		},
	})
	return stages
}

// insertBeforeIgnore places s right before the trailing ignore stage
func insertBeforeIgnore[T models.Record](stages []stage[T], s stage[T]) []stage[T] {
	n := len(stages)
	out := make([]stage[T], 0, n+1)
	out = append(out, stages[:n-1]...)
	out = append(out, s, stages[n-1])
	return out
}

func keySet[T any](items []T, keysOf func(T) []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		for _, k := range keysOf(item) {
			set[k] = true
		}
	}
	return set
}

func watchlistKeys(item models.WatchlistItem) []string {
	return models.IdentityKeys(item)
}

func ratingKeys(r models.Rating) []string {
	keys := models.IdentityKeys(r)
	for i, k := range keys {
		keys[i] = fmt.Sprintf("%s=%d", k, r.Value)
	}
	return keys
}

func reviewKeys(r models.Review) []string {
	content := strings.TrimSpace(r.Content)
	keys := models.IdentityKeys(r)
	for i, k := range keys {
		keys[i] = k + "#" + content
	}
	return keys
}

func historyKeys(h models.WatchHistory) []string {
	label := h.Kind.Label()
	keys := models.IdentityKeys(h)
	for i, k := range keys {
		keys[i] = label + "#" + k
	}
	return keys
}
