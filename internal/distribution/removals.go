package distribution

import (
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
)

// droppedSource is the service whose Dropped status removes a title everywhere
const droppedSource = "simkl"

// BuildRemovalLists computes, for every source, the watchlist items to
// remove from it. Candidates come from that source's own collected watchlist:
// titles already watched (when enabled), titles older than the configured
// age and titles dropped on simkl.
func BuildRemovalLists(collected map[string]*models.Collection, history []models.WatchHistory, opts config.SyncOptions, now time.Time) map[string][]models.WatchlistItem {
	watched := watchedKeys(history)

	var cutoff time.Time
	if opts.RemoveWatchlistItemsOlderThanDays > 0 {
		cutoff = now.AddDate(0, 0, -opts.RemoveWatchlistItemsOlderThanDays)
	}

	dropped := make(map[string]bool)
	for name, c := range collected {
		if c == nil || !strings.EqualFold(name, droppedSource) {
			continue
		}
		for _, item := range c.Watchlist {
			if item.Status == models.StatusDropped {
				for _, k := range models.IdentityKeys(item) {
					dropped[k] = true
				}
			}
		}
	}

	out := make(map[string][]models.WatchlistItem, len(collected))
	for name, c := range collected {
		if c == nil {
			continue
		}
		simkl := strings.EqualFold(name, droppedSource)
		seen := make(map[string]bool)
		var list []models.WatchlistItem
		for _, item := range c.Watchlist {
			keys := models.IdentityKeys(item)
			remove := opts.RemoveWatchedFromWatchlists && anyKey(watched, keys)
			remove = remove || (!cutoff.IsZero() && !item.DateAdded.IsZero() && item.DateAdded.Before(cutoff))
			remove = remove || (!simkl && anyKey(dropped, keys))
			if !remove || anyKey(seen, keys) {
				continue
			}
			for _, k := range keys {
				seen[k] = true
			}
			list = append(list, item)
		}
		if len(list) > 0 {
			out[name] = list
		}
	}
	return out
}

// watchedKeys indexes movies and shows present in history. Episode plays do
// not mark their show as watched.
func watchedKeys(history []models.WatchHistory) map[string]bool {
	keys := make(map[string]bool, len(history))
	for _, h := range history {
		if h.Kind.IsEpisode() {
			continue
		}
		for _, k := range models.IdentityKeys(h) {
			keys[k] = true
		}
	}
	return keys
}

func anyKey(set map[string]bool, keys []string) bool {
	for _, k := range keys {
		if set[k] {
			return true
		}
	}
	return false
}
