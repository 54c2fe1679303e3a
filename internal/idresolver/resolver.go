package idresolver

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/amaumene/totalrecall/internal/idcache"
	"github.com/amaumene/totalrecall/internal/metrics"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

const enrichTimeout = 30 * time.Second

// Resolver looks identifiers up through the providers, highest priority first.
// The first answer is returned; the remaining providers are queried in the
// background and their answers merged into the cache.
type Resolver struct {
	cache      *idcache.Cache
	providers  []sources.IDLookupProvider
	memo       *gocache.Cache
	background conc.WaitGroup
	logger     *logrus.Logger
}

// New creates a resolver over every source that offers the lookup capability
func New(cache *idcache.Cache, srcs []sources.Source, logger *logrus.Logger) *Resolver {
	var providers []sources.IDLookupProvider
	for _, s := range srcs {
		if p := sources.IDLookupProviderOf(s); p != nil && p.IsLookupAvailable() {
			providers = append(providers, p)
		}
	}
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].LookupPriority() > providers[j].LookupPriority()
	})

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.LookupProviderName())
	}
	logger.WithField("providers", names).Debug("ID resolver ready")

	return &Resolver{
		cache:     cache,
		providers: providers,
		memo:      gocache.New(30*time.Minute, 10*time.Minute),
		logger:    logger,
	}
}

// Cache returns the identifier cache the resolver writes to
func (r *Resolver) Cache() *idcache.Cache { return r.cache }

// Providers returns the number of usable providers
func (r *Resolver) Providers() int { return len(r.providers) }

func memoKey(parts ...string) string {
	key := ""
	for _, p := range parts {
		key += p + "|"
	}
	return key
}

// ResolveIDsForItem finds the bundle of a title. The cache is consulted first.
func (r *Resolver) ResolveIDsForItem(ctx context.Context, title string, year int, kind models.MediaKind) (models.MediaIDs, bool) {
	if title == "" {
		return models.MediaIDs{}, false
	}
	if ids, ok := r.cache.LookupTitle(title, year, kind); ok && !ids.IsEmpty() {
		metrics.IDCacheLookups.WithLabelValues("hit").Inc()
		return ids, true
	}
	metrics.IDCacheLookups.WithLabelValues("miss").Inc()

	key := memoKey("title", idcache.TitleKey(title, year, kind))
	if cached, found := r.memo.Get(key); found {
		ids, ok := cached.(*models.MediaIDs)
		if !ok || ids == nil {
			return models.MediaIDs{}, false
		}
		return *ids, true
	}

	for i, p := range r.providers {
		ids, err := p.LookupIDs(ctx, title, year, kind)
		if err != nil {
			metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "error").Inc()
			r.logger.WithError(err).WithFields(logrus.Fields{
				"provider": p.LookupProviderName(),
				"title":    title,
			}).Warn("ID lookup failed")
			continue
		}
		if ids == nil || ids.IsEmpty() {
			metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "miss").Inc()
			continue
		}
		metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "hit").Inc()

		found := ids.WithMetadata(title, year, kind)
		r.cache.Put(found)
		r.memo.SetDefault(key, &found)
		r.enrichInBackground(ctx, title, year, kind, r.providers[i+1:])

		if merged, ok := r.cache.LookupIDs(found); ok {
			return merged, true
		}
		return found, true
	}

	r.memo.SetDefault(key, (*models.MediaIDs)(nil))
	return models.MediaIDs{}, false
}

// enrichInBackground queries rest concurrently and drains their answers
// through a channel into the cache
func (r *Resolver) enrichInBackground(ctx context.Context, title string, year int, kind models.MediaKind, rest []sources.IDLookupProvider) {
	if len(rest) == 0 {
		return
	}

	results := make(chan models.MediaIDs, len(rest))
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enrichTimeout)

	r.background.Go(func() {
		defer close(results)
		defer cancel()

		p := pool.New().WithMaxGoroutines(len(rest))
		for _, provider := range rest {
			provider := provider
			p.Go(func() {
				ids, err := provider.LookupIDs(bgCtx, title, year, kind)
				if err != nil {
					r.logger.WithError(err).WithField("provider", provider.LookupProviderName()).Debug("Background ID lookup failed")
					return
				}
				if ids != nil && !ids.IsEmpty() {
					results <- ids.WithMetadata(title, year, kind)
				}
			})
		}
		p.Wait()
	})

	r.background.Go(func() {
		for ids := range results {
			r.cache.Put(ids)
		}
	})
}

// LookupByIMDbID resolves title, year and the other IDs of an IMDb ID
func (r *Resolver) LookupByIMDbID(ctx context.Context, imdbID string, kind models.MediaKind) (*sources.LookupResult, bool) {
	if imdbID == "" {
		return nil, false
	}
	if ids, ok := r.cache.Lookup(imdbID); ok && ids.Title != "" {
		metrics.IDCacheLookups.WithLabelValues("hit").Inc()
		return &sources.LookupResult{Title: ids.Title, Year: ids.Year, IDs: ids}, true
	}
	metrics.IDCacheLookups.WithLabelValues("miss").Inc()

	key := memoKey("imdb", imdbID, kind.String())
	if cached, found := r.memo.Get(key); found {
		res, ok := cached.(*sources.LookupResult)
		return res, ok && res != nil
	}

	for _, p := range r.providers {
		res, err := p.LookupByIMDbID(ctx, imdbID, kind)
		if err != nil {
			metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "error").Inc()
			r.logger.WithError(err).WithFields(logrus.Fields{
				"provider": p.LookupProviderName(),
				"imdb_id":  imdbID,
			}).Warn("Reverse ID lookup failed")
			continue
		}
		if res == nil {
			metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "miss").Inc()
			continue
		}
		metrics.IDProviderLookups.WithLabelValues(p.LookupProviderName(), "hit").Inc()

		res.IDs.IMDB = imdbID
		res.IDs = res.IDs.WithMetadata(res.Title, res.Year, kind)
		r.cache.Put(res.IDs)
		r.memo.SetDefault(key, res)
		return res, true
	}

	r.memo.SetDefault(key, (*sources.LookupResult)(nil))
	return nil, false
}

// Wait blocks until every background enrichment has been merged
func (r *Resolver) Wait() {
	r.background.Wait()
}

// Stats returns a short description for logs
func (r *Resolver) Stats() string {
	return strconv.Itoa(r.memo.ItemCount()) + " memoized lookups"
}
