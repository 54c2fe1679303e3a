package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amaumene/totalrecall/internal/models"
)

// Strategy selects the winner among conflicting records
type Strategy string

const (
	StrategyMostRecent Strategy = "most_recent"
	StrategyNewest     Strategy = "newest"
	StrategyOldest     Strategy = "oldest"
	StrategyPreference Strategy = "preference"
	StrategyMerge      Strategy = "merge"
)

// ParseStrategy accepts snake_case or CamelCase names
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "mostrecent", "":
		return StrategyMostRecent, true
	case "newest":
		return StrategyNewest, true
	case "oldest":
		return StrategyOldest, true
	case "preference":
		return StrategyPreference, true
	case "merge":
		return StrategyMerge, true
	}
	return "", false
}

// StatusMapping translates between a service's status strings and normalized statuses.
// ToNormalized is keyed by service string; FromNormalized by normalized status name.
type StatusMapping struct {
	ToNormalized   map[string]string `mapstructure:"to_normalized" toml:"to_normalized"`
	FromNormalized map[string]string `mapstructure:"from_normalized" toml:"from_normalized"`
}

// ToStatus maps a service status string
func (m StatusMapping) ToStatus(serviceStatus string) (models.NormalizedStatus, bool) {
	raw, ok := m.ToNormalized[strings.ToLower(strings.TrimSpace(serviceStatus))]
	if !ok {
		return "", false
	}
	return models.ParseNormalizedStatus(raw)
}

// FromStatus maps a normalized status back to the service vocabulary
func (m StatusMapping) FromStatus(status models.NormalizedStatus) (string, bool) {
	s, ok := m.FromNormalized[string(status)]
	return s, ok
}

func (m StatusMapping) validate() error {
	for key, raw := range m.ToNormalized {
		if _, ok := models.ParseNormalizedStatus(raw); !ok {
			return fmt.Errorf("to_normalized %q maps to unknown status %q", key, raw)
		}
	}
	for key := range m.FromNormalized {
		if _, ok := models.ParseNormalizedStatus(key); !ok {
			return fmt.Errorf("from_normalized has unknown status %q", key)
		}
	}
	return nil
}

// withDefaults fills missing directions from def. When only to_normalized is
// configured, from_normalized is its inverse with the first key (sorted) winning.
func (m StatusMapping) withDefaults(def StatusMapping) StatusMapping {
	out := StatusMapping{
		ToNormalized:   lowerKeys(m.ToNormalized),
		FromNormalized: lowerKeys(m.FromNormalized),
	}
	if len(out.ToNormalized) == 0 {
		out.ToNormalized = def.ToNormalized
		if len(out.FromNormalized) == 0 {
			out.FromNormalized = def.FromNormalized
		}
		return out
	}
	if len(out.FromNormalized) == 0 {
		out.FromNormalized = inverse(out.ToNormalized)
	}
	return out
}

func lowerKeys(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func inverse(to map[string]string) map[string]string {
	keys := make([]string, 0, len(to))
	for k := range to {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	from := make(map[string]string)
	for _, k := range keys {
		status, ok := models.ParseNormalizedStatus(to[k])
		if !ok {
			continue
		}
		if _, exists := from[string(status)]; !exists {
			from[string(status)] = k
		}
	}
	return from
}

// DefaultSimklStatusMapping mirrors simkl's list names
func DefaultSimklStatusMapping() StatusMapping {
	return StatusMapping{
		ToNormalized: map[string]string{
			"plantowatch": "watchlist",
			"watching":    "watching",
			"completed":   "completed",
			"dropped":     "dropped",
			"hold":        "hold",
		},
		FromNormalized: map[string]string{
			"watchlist": "plantowatch",
			"watching":  "watching",
			"completed": "completed",
			"dropped":   "dropped",
			"hold":      "hold",
		},
	}
}

// DefaultImdbStatusMapping uses the watchlist and check-ins lists
func DefaultImdbStatusMapping() StatusMapping {
	return StatusMapping{
		ToNormalized: map[string]string{
			"watchlist": "watchlist",
			"checkins":  "watching",
		},
		FromNormalized: map[string]string{
			"watchlist": "watchlist",
			"watching":  "checkins",
			"completed": "checkins",
		},
	}
}

// DefaultTraktStatusMapping sends progress to history
func DefaultTraktStatusMapping() StatusMapping {
	return StatusMapping{
		ToNormalized: map[string]string{
			"watchlist":     "watchlist",
			"watch_history": "watching",
		},
		FromNormalized: map[string]string{
			"watchlist": "watchlist",
			"watching":  "watch_history",
			"completed": "watch_history",
		},
	}
}

// DefaultPlexStatusMapping keeps only the plain watchlist on the watchlist
func DefaultPlexStatusMapping() StatusMapping {
	return StatusMapping{
		ToNormalized: map[string]string{
			"watchlist": "watchlist",
			"watching":  "watching",
			"completed": "completed",
			"watched":   "completed",
		},
		FromNormalized: map[string]string{
			"watchlist": "watchlist",
			"watching":  "watch_history",
			"completed": "watch_history",
		},
	}
}
