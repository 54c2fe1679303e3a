package resolution

import (
	"strings"

	"github.com/amaumene/totalrecall/internal/models"
)

// SynthesizeWatched appends a history entry for every rated movie or episode
// missing from the resolved history. The entries carry source "rated".
func SynthesizeWatched(resolved *models.Collection) int {
	watched := make(map[string]bool, len(resolved.WatchHistory))
	for _, h := range resolved.WatchHistory {
		for _, k := range titleKeys(h) {
			watched[k] = true
		}
	}

	added := 0
	for _, r := range resolved.Ratings {
		if r.Kind.IsShow() {
			continue
		}
		keys := titleKeys(r)
		if len(keys) == 0 {
			continue
		}
		seen := false
		for _, k := range keys {
			if watched[k] {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		resolved.WatchHistory = append(resolved.WatchHistory, models.WatchHistory{
			IMDbID:    imdbPrimary(r.PrimaryID()),
			IDs:       r.IDs,
			Title:     r.DisplayTitle(),
			Year:      r.ReleaseYear(),
			WatchedAt: r.DateAdded,
			Kind:      r.Kind,
			Source:    models.SourceRated,
		})
		for _, k := range keys {
			watched[k] = true
		}
		added++
	}
	return added
}

func imdbPrimary(id string) string {
	if strings.HasPrefix(id, "tt") {
		return id
	}
	return ""
}
