// Package resolution merges what every source returned into one resolved
// collection. Records of the same title are grouped by shared identifiers and
// one winner per group is chosen by timestamp, tolerance and source preference.
package resolution

import (
	"slices"
	"sort"
	"strings"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/sirupsen/logrus"
)

// SourceData is one source's collection, listed in preference order
type SourceData struct {
	Source string
	Data   *models.Collection
}

// Resolver picks winners among conflicting records
type Resolver struct {
	cfg    config.ResolutionConfig
	rank   map[string]int
	logger *logrus.Logger
}

// New creates a resolver. Sources missing from the preference list rank last.
func New(cfg config.ResolutionConfig, logger *logrus.Logger) *Resolver {
	rank := make(map[string]int, len(cfg.SourcePreference))
	for i, s := range cfg.SourcePreference {
		key := strings.ToLower(s)
		if _, ok := rank[key]; !ok {
			rank[key] = i
		}
	}
	return &Resolver{cfg: cfg, rank: rank, logger: logger}
}

func (r *Resolver) rankOf(source string) int {
	if i, ok := r.rank[strings.ToLower(source)]; ok {
		return i
	}
	return len(r.rank)
}

// Resolve resolves the four data types
func (r *Resolver) Resolve(inputs []SourceData) *models.Collection {
	out := &models.Collection{
		Watchlist:    r.ResolveWatchlist(inputs),
		Ratings:      r.ResolveRatings(inputs),
		Reviews:      r.ResolveReviews(inputs),
		WatchHistory: r.ResolveWatchHistory(inputs),
	}

	r.logger.WithFields(logrus.Fields{
		"watchlist":     len(out.Watchlist),
		"ratings":       len(out.Ratings),
		"reviews":       len(out.Reviews),
		"watch_history": len(out.WatchHistory),
	}).Info("Resolved conflicts")
	return out
}

// ResolveWatchlist resolves watchlists. The merge strategy keeps every title
// and prefers entries that carry a status.
func (r *Resolver) ResolveWatchlist(inputs []SourceData) []models.WatchlistItem {
	cands := gather(inputs, func(c *models.Collection) []models.WatchlistItem { return c.Watchlist })
	groups := group(cands, titleKeys[models.WatchlistItem])

	strategy := r.cfg.StrategyFor(models.DataWatchlist)
	out := make([]models.WatchlistItem, 0, len(groups))
	for _, g := range groups {
		if strategy == config.StrategyMerge {
			out = append(out, mergeWatchlist(g))
			continue
		}
		out = append(out, choose(r, g, strategy))
	}
	logGroups(r, models.DataWatchlist, len(cands), groups)
	return out
}

// ResolveRatings resolves ratings already held on the canonical scale
func (r *Resolver) ResolveRatings(inputs []SourceData) []models.Rating {
	cands := gather(inputs, func(c *models.Collection) []models.Rating { return c.Ratings })
	groups := group(cands, titleKeys[models.Rating])

	strategy := r.cfg.StrategyFor(models.DataRatings)
	out := make([]models.Rating, 0, len(groups))
	for _, g := range groups {
		out = append(out, choose(r, g, strategy))
	}
	logGroups(r, models.DataRatings, len(cands), groups)
	return out
}

// ResolveReviews keeps the latest review per title
func (r *Resolver) ResolveReviews(inputs []SourceData) []models.Review {
	cands := gather(inputs, func(c *models.Collection) []models.Review { return c.Reviews })
	groups := group(cands, titleKeys[models.Review])

	strategy := r.cfg.StrategyFor(models.DataReviews)
	out := make([]models.Review, 0, len(groups))
	for _, g := range groups {
		out = append(out, choose(r, g, strategy))
	}
	logGroups(r, models.DataReviews, len(cands), groups)
	return out
}

// ResolveWatchHistory keeps the latest play per title and episode position
func (r *Resolver) ResolveWatchHistory(inputs []SourceData) []models.WatchHistory {
	cands := gather(inputs, func(c *models.Collection) []models.WatchHistory { return c.WatchHistory })
	groups := group(cands, positionKeys[models.WatchHistory])

	strategy := r.cfg.StrategyFor(models.DataWatchHistory)
	out := make([]models.WatchHistory, 0, len(groups))
	for _, g := range groups {
		out = append(out, choose(r, g, strategy))
	}
	logGroups(r, models.DataWatchHistory, len(cands), groups)
	return out
}

func logGroups[T any](r *Resolver, dt models.DataType, input int, groups [][]candidate[T]) {
	conflicts := 0
	for _, g := range groups {
		if len(g) > 1 {
			conflicts++
		}
	}
	r.logger.WithFields(logrus.Fields{
		"data_type": dt,
		"input":     input,
		"resolved":  len(groups),
		"conflicts": conflicts,
	}).Debug("Resolved data type")
}

// record is a models.Record that can carry a merged bundle
type record[T any] interface {
	models.Record
	WithIDs(ids models.MediaIDs) T
}

type candidate[T any] struct {
	source string
	item   T
}

func gather[T any](inputs []SourceData, pick func(*models.Collection) []T) []candidate[T] {
	var out []candidate[T]
	for _, in := range inputs {
		if in.Data == nil {
			continue
		}
		for _, item := range pick(in.Data) {
			out = append(out, candidate[T]{source: in.Source, item: item})
		}
	}
	return out
}

// titleKeys lists the identity keys of a record
func titleKeys[T models.Record](item T) []string {
	return models.IdentityKeys(item)
}

// positionKeys is titleKeys scoped to the episode position
func positionKeys[T models.Record](item T) []string {
	label := item.MediaKind().Label()
	keys := titleKeys(item)
	for i, k := range keys {
		keys[i] = label + "#" + k
	}
	return keys
}

// group clusters candidates connected through shared keys, so a record
// bridging two clusters joins them. Groups keep the order of their first
// member and members keep input order. Records without keys stay alone.
func group[T any](cands []candidate[T], keysOf func(T) []string) [][]candidate[T] {
	parent := make([]int, len(cands))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// The lower index stays root so groups follow first-seen order
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	owner := make(map[string]int)
	for i, c := range cands {
		for _, k := range keysOf(c.item) {
			if j, ok := owner[k]; ok {
				union(j, i)
			} else {
				owner[k] = i
			}
		}
	}

	slot := make(map[int]int)
	var groups [][]candidate[T]
	for i, c := range cands {
		root := find(i)
		idx, ok := slot[root]
		if !ok {
			idx = len(groups)
			slot[root] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], c)
	}
	return groups
}

// choose picks the winner of a group and merges every member's IDs into it
func choose[T record[T]](r *Resolver, g []candidate[T], strategy config.Strategy) T {
	if len(g) == 1 {
		return g[0].item
	}

	sorted := slices.Clone(g)
	var winner candidate[T]
	switch strategy {
	case config.StrategyPreference:
		sort.SliceStable(sorted, func(i, j int) bool {
			return r.rankOf(sorted[i].source) < r.rankOf(sorted[j].source)
		})
		winner = sorted[0]
	default:
		oldest := strategy == config.StrategyOldest
		sort.SliceStable(sorted, func(i, j int) bool {
			c := Compare(sorted[i].item.Timestamp(), sorted[j].item.Timestamp())
			if c == 0 {
				return r.rankOf(sorted[i].source) < r.rankOf(sorted[j].source)
			}
			if oldest {
				return c < 0
			}
			return c > 0
		})
		winner = sorted[0]
		lead := winner.item.Timestamp()
		for _, c := range sorted[1:] {
			if Within(lead, c.item.Timestamp(), r.cfg.Tolerance()) && r.rankOf(c.source) < r.rankOf(winner.source) {
				winner = c
			}
		}
	}

	ids := winner.item.Bundle()
	for _, c := range g {
		ids.Merge(c.item.Bundle())
	}
	return winner.item.WithIDs(ids)
}

func mergeWatchlist(g []candidate[models.WatchlistItem]) models.WatchlistItem {
	best := g[0].item
	for _, c := range g[1:] {
		switch {
		case c.item.Status != "" && best.Status == "":
			best = c.item
		case c.item.Status == "" && best.Status != "":
		case Compare(c.item.DateAdded, best.DateAdded) > 0:
			best = c.item
		}
	}
	ids := best.IDs
	for _, c := range g {
		ids.Merge(c.item.IDs)
	}
	return best.WithIDs(ids)
}
