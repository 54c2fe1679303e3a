package distribution

import (
	"strings"

	"github.com/amaumene/totalrecall/internal/models"
)

// Route is where a resolved watchlist item lands on a target
type Route int

const (
	RouteWatchlist Route = iota
	RouteHistory
	RouteSkip
)

// Policy holds the target-specific rules of a plan
type Policy struct {
	Name string
	// route sends a watchlist item to the watchlist, to history or nowhere
	route func(item models.WatchlistItem) (Route, string)
	// showsInHistory is false when the target rejects whole shows as plays
	showsInHistory bool
	// needsPosition drops episode plays without a season/episode pair
	needsPosition bool
}

// PolicyFor returns the rules of a target. Unknown targets keep every
// watchlist item as it is.
func PolicyFor(target string) Policy {
	switch strings.ToLower(target) {
	case "trakt":
		return Policy{Name: "trakt", route: routeTrakt, needsPosition: true}
	case "imdb":
		return Policy{Name: "imdb", route: routeImdb, showsInHistory: true}
	case "plex":
		return Policy{Name: "plex", route: routePlex, showsInHistory: true}
	case "simkl":
		return Policy{Name: "simkl", route: keepAll, showsInHistory: true, needsPosition: true}
	default:
		return Policy{Name: target, route: keepAll, showsInHistory: true}
	}
}

// Route applies the watchlist rule of the policy
func (p Policy) Route(item models.WatchlistItem) (Route, string) {
	return p.route(item)
}

// AcceptsHistory reports whether a play can be written to the target
func (p Policy) AcceptsHistory(h models.WatchHistory) (bool, string) {
	if h.Kind.IsShow() && !p.showsInHistory {
		return false, "split filter: shows cannot be added to " + p.Name + " history"
	}
	if p.needsPosition && h.Kind.IsEpisode() && !h.Kind.HasPosition() {
		return false, "split filter: unknown episode position"
	}
	return true, ""
}

func started(s models.NormalizedStatus) bool {
	return s == models.StatusWatching || s == models.StatusCompleted
}

func keepAll(models.WatchlistItem) (Route, string) { return RouteWatchlist, "" }

func routeTrakt(item models.WatchlistItem) (Route, string) {
	switch {
	case started(item.Status) && item.Kind.IsShow():
		return RouteSkip, "split filter: trakt history does not accept shows"
	case started(item.Status):
		return RouteHistory, ""
	case item.Status == models.StatusDropped:
		return RouteSkip, "split filter: dropped"
	}
	return RouteWatchlist, ""
}

func routeImdb(item models.WatchlistItem) (Route, string) {
	switch item.Status {
	case "", models.StatusWatchlist:
		return RouteWatchlist, ""
	case models.StatusWatching, models.StatusCompleted:
		return RouteHistory, ""
	}
	return RouteSkip, "split filter: status " + string(item.Status) + " has no imdb list"
}

func routePlex(item models.WatchlistItem) (Route, string) {
	switch item.Status {
	case "", models.StatusWatchlist:
		return RouteWatchlist, ""
	case models.StatusWatching, models.StatusCompleted:
		return RouteHistory, ""
	}
	return RouteSkip, "split filter: status " + string(item.Status) + " has no plex list"
}
