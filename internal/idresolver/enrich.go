package idresolver

import (
	"context"

	"github.com/amaumene/totalrecall/internal/models"
)

// ReasonNoIdentifier is recorded for items that cannot be addressed anywhere
const ReasonNoIdentifier = "no identifier"

type enrichable[T any] interface {
	models.Record
	WithIDs(models.MediaIDs) T
}

// EnrichCollection fills identifier bundles of every record of one source:
//  1. whatever IDs an item carries are cached
//  2. the cached union is merged back into the item
//  3. movies and shows without any ID are resolved by title
//  4. history items with neither IDs nor a title are dropped
//
// Reviews and history known only by IMDb ID get their title through a reverse lookup.
func (r *Resolver) EnrichCollection(ctx context.Context, c *models.Collection) []models.ExcludedItem {
	c.Watchlist = enrichItems(ctx, r, c.Watchlist, false, nil)
	c.Ratings = enrichItems(ctx, r, c.Ratings, false, nil)
	c.Reviews = enrichItems(ctx, r, c.Reviews, true, nil)

	var excluded []models.ExcludedItem
	c.WatchHistory = enrichItems(ctx, r, c.WatchHistory, true, &excluded)

	return excluded
}

// enrichItems drops items nothing can address only when dropped is non-nil,
// recording them there
func enrichItems[T enrichable[T]](ctx context.Context, r *Resolver, items []T, reverse bool, dropped *[]models.ExcludedItem) []T {
	kept := items[:0]

	for _, item := range items {
		ids := item.Bundle()
		if imdb := item.PrimaryID(); ids.IMDB == "" && isIMDb(imdb) {
			ids.IMDB = imdb
		}
		kind := item.MediaKind()

		if !ids.IsEmpty() || ids.PlexRatingKey != "" {
			if ids.Title == "" {
				ids.Title = item.DisplayTitle()
			}
			if ids.Year == 0 {
				ids.Year = item.ReleaseYear()
			}
			if ids.Kind == nil && !kind.IsZero() {
				ids.Kind = &kind
			}
			r.cache.Put(ids)
			if cached, ok := r.cache.LookupIDs(ids); ok {
				ids.Merge(cached)
			}
		}

		// Episode titles are not searchable on their own
		if ids.IsEmpty() && item.DisplayTitle() != "" && !kind.IsEpisode() {
			if found, ok := r.ResolveIDsForItem(ctx, item.DisplayTitle(), item.ReleaseYear(), kind); ok {
				ids.Merge(found)
			}
		}

		if ids.IsEmpty() && ids.PlexRatingKey == "" && item.DisplayTitle() == "" && dropped != nil {
			*dropped = append(*dropped, models.Exclude(item, ReasonNoIdentifier))
			continue
		}

		if reverse && ids.IMDB != "" && ids.Title == "" && item.DisplayTitle() == "" {
			if res, ok := r.LookupByIMDbID(ctx, ids.IMDB, kind); ok {
				ids.Merge(res.IDs)
				if ids.Title == "" {
					ids.Title = res.Title
				}
				if ids.Year == 0 {
					ids.Year = res.Year
				}
			}
		}

		kept = append(kept, item.WithIDs(ids))
	}

	return kept
}

func isIMDb(id string) bool {
	return len(id) > 2 && id[:2] == "tt"
}
