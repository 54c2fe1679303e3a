package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Trakt      ServiceConfig    `mapstructure:"trakt"`
	Simkl      ServiceConfig    `mapstructure:"simkl"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Sync       SyncOptions      `mapstructure:"sync"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`

	// Paths is the directory layout the file was loaded from
	Paths Paths `mapstructure:"-"`

	// Warnings lists unrecognised keys; the caller logs them once a logger exists
	Warnings []string `mapstructure:"-"`
}

// ServiceConfig is an OAuth-backed tracker (trakt, simkl)
type ServiceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	StatusMapping StatusMapping `mapstructure:"status_mapping"`
}

// SourcesConfig groups the sources that are not OAuth trackers
type SourcesConfig struct {
	Imdb ImdbConfig `mapstructure:"imdb"`
	Plex PlexConfig `mapstructure:"plex"`
}

// ImdbConfig configures the IMDb export reader
type ImdbConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Username      string        `mapstructure:"username"`
	ExportDir     string        `mapstructure:"export_dir"`
	StatusMapping StatusMapping `mapstructure:"status_mapping"`
}

// PlexConfig configures the Plex adapter. ServerURL is optional: when empty
// the server is discovered through plex.tv resources.
type PlexConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ServerURL     string        `mapstructure:"server_url"`
	StatusMapping StatusMapping `mapstructure:"status_mapping"`
}

// ResolutionConfig drives conflict resolution
type ResolutionConfig struct {
	Strategy                  string   `mapstructure:"strategy"`
	SourcePreference          []string `mapstructure:"source_preference"`
	TimestampToleranceSeconds int64    `mapstructure:"timestamp_tolerance_seconds"`
	RatingsStrategy           string   `mapstructure:"ratings_strategy"`
	WatchlistStrategy         string   `mapstructure:"watchlist_strategy"`
}

// Tolerance returns the timestamp tolerance as a duration
func (r ResolutionConfig) Tolerance() time.Duration {
	return time.Duration(r.TimestampToleranceSeconds) * time.Second
}

// StrategyFor returns the strategy used for a data type, honoring overrides
func (r ResolutionConfig) StrategyFor(dt models.DataType) Strategy {
	override := ""
	switch dt {
	case models.DataRatings:
		override = r.RatingsStrategy
	case models.DataWatchlist:
		override = r.WatchlistStrategy
	}
	if override != "" {
		if s, ok := ParseStrategy(override); ok {
			return s
		}
	}
	s, ok := ParseStrategy(r.Strategy)
	if !ok {
		return StrategyMostRecent
	}
	return s
}

// SyncOptions toggles what gets synchronised
type SyncOptions struct {
	SyncWatchlist                     bool `mapstructure:"sync_watchlist"`
	SyncRatings                       bool `mapstructure:"sync_ratings"`
	SyncReviews                       bool `mapstructure:"sync_reviews"`
	SyncWatchHistory                  bool `mapstructure:"sync_watch_history"`
	RemoveWatchedFromWatchlists       bool `mapstructure:"remove_watched_from_watchlists"`
	MarkRatedAsWatched                bool `mapstructure:"mark_rated_as_watched"`
	RemoveWatchlistItemsOlderThanDays int  `mapstructure:"remove_watchlist_items_older_than_days"`
}

// Enabled reports whether a data type is switched on
func (s SyncOptions) Enabled(dt models.DataType) bool {
	switch dt {
	case models.DataWatchlist:
		return s.SyncWatchlist
	case models.DataRatings:
		return s.SyncRatings
	case models.DataReviews:
		return s.SyncReviews
	case models.DataWatchHistory:
		return s.SyncWatchHistory
	}
	return false
}

// SchedulerConfig configures the daemon
type SchedulerConfig struct {
	Schedule     string `mapstructure:"schedule"`
	Timezone     string `mapstructure:"timezone"`
	RunOnStartup bool   `mapstructure:"run_on_startup"`
	// HistoryDays is how long run summaries are kept; 0 keeps them forever
	HistoryDays int `mapstructure:"history_days"`
}

// HistoryRetention returns the run-history retention as a duration
func (s SchedulerConfig) HistoryRetention() time.Duration {
	return time.Duration(s.HistoryDays) * 24 * time.Hour
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the status server started with the daemon
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trakt.enabled", false)
	v.SetDefault("trakt.client_id", "")
	v.SetDefault("trakt.client_secret", "")
	v.SetDefault("simkl.enabled", false)
	v.SetDefault("simkl.client_id", "")
	v.SetDefault("simkl.client_secret", "")
	v.SetDefault("sources.imdb.enabled", false)
	v.SetDefault("sources.imdb.username", "")
	v.SetDefault("sources.imdb.export_dir", "")
	v.SetDefault("sources.plex.enabled", false)
	v.SetDefault("sources.plex.server_url", "")

	v.SetDefault("resolution.strategy", string(StrategyMostRecent))
	v.SetDefault("resolution.source_preference", []string{})
	v.SetDefault("resolution.timestamp_tolerance_seconds", 3600)
	v.SetDefault("resolution.ratings_strategy", "")
	v.SetDefault("resolution.watchlist_strategy", "")

	v.SetDefault("sync.sync_watchlist", true)
	v.SetDefault("sync.sync_ratings", true)
	v.SetDefault("sync.sync_reviews", true)
	v.SetDefault("sync.sync_watch_history", true)
	v.SetDefault("sync.remove_watched_from_watchlists", false)
	v.SetDefault("sync.mark_rated_as_watched", false)
	v.SetDefault("sync.remove_watchlist_items_older_than_days", 0)

	v.SetDefault("scheduler.schedule", "0 */6 * * *")
	v.SetDefault("scheduler.timezone", defaultTimezone())
	v.SetDefault("scheduler.run_on_startup", true)
	v.SetDefault("scheduler.history_days", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8080")
}

func defaultTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	return "UTC"
}

// Load reads config.toml from the config directory of paths
func Load(paths Paths) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(paths.ConfigFile())
	v.SetConfigType("toml")
	v.SetEnvPrefix("TOTALRECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("logging.level", "TOTALRECALL_LOG_LEVEL", "TOTALRECALL_LOGGING_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind log level: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(paths.ConfigFile()); os.IsNotExist(statErr) {
			return nil, fmt.Errorf("config file %s not found, run `totalrecall config init`: %w", paths.ConfigFile(), os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{Paths: paths}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.Warnings = unknownKeys(v.AllKeys())
	config.applyStatusDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyStatusDefaults() {
	c.Trakt.StatusMapping = c.Trakt.StatusMapping.withDefaults(DefaultTraktStatusMapping())
	c.Simkl.StatusMapping = c.Simkl.StatusMapping.withDefaults(DefaultSimklStatusMapping())
	c.Sources.Imdb.StatusMapping = c.Sources.Imdb.StatusMapping.withDefaults(DefaultImdbStatusMapping())
	c.Sources.Plex.StatusMapping = c.Sources.Plex.StatusMapping.withDefaults(DefaultPlexStatusMapping())
}

// IsSourceEnabled reports whether the named source is switched on
func (c *Config) IsSourceEnabled(name string) bool {
	switch name {
	case models.SourceTrakt:
		return c.Trakt.Enabled
	case models.SourceSimkl:
		return c.Simkl.Enabled
	case models.SourceImdb:
		return c.Sources.Imdb.Enabled
	case models.SourcePlex:
		return c.Sources.Plex.Enabled
	}
	return false
}

// StatusMappingFor returns the status vocabulary of a source
func (c *Config) StatusMappingFor(name string) StatusMapping {
	switch name {
	case models.SourceTrakt:
		return c.Trakt.StatusMapping
	case models.SourceSimkl:
		return c.Simkl.StatusMapping
	case models.SourceImdb:
		return c.Sources.Imdb.StatusMapping
	case models.SourcePlex:
		return c.Sources.Plex.StatusMapping
	}
	return StatusMapping{}
}

// Validate checks the loaded values. Every failure wraps ErrInvalid.
func (c *Config) Validate() error {
	pref := c.Resolution.SourcePreference
	if len(pref) == 0 {
		return fmt.Errorf("%w: resolution.source_preference must list at least one source", ErrInvalid)
	}

	seen := make(map[string]bool)
	for i, name := range pref {
		name = strings.ToLower(strings.TrimSpace(name))
		pref[i] = name
		if !isKnownSource(name) {
			return fmt.Errorf("%w: unknown source %q in resolution.source_preference (known: %s)",
				ErrInvalid, name, strings.Join(models.KnownSources, ", "))
		}
		if seen[name] {
			return fmt.Errorf("%w: source %q listed twice in resolution.source_preference", ErrInvalid, name)
		}
		seen[name] = true
		if !c.IsSourceEnabled(name) {
			return fmt.Errorf("%w: source %q is in resolution.source_preference but not enabled", ErrInvalid, name)
		}
	}

	if c.Trakt.Enabled && (c.Trakt.ClientID == "" || c.Trakt.ClientSecret == "") {
		return fmt.Errorf("%w: trakt.client_id and trakt.client_secret are required", ErrInvalid)
	}
	if c.Simkl.Enabled && c.Simkl.ClientID == "" {
		return fmt.Errorf("%w: simkl.client_id is required", ErrInvalid)
	}

	if _, ok := ParseStrategy(c.Resolution.Strategy); !ok {
		return fmt.Errorf("%w: unknown resolution.strategy %q", ErrInvalid, c.Resolution.Strategy)
	}
	for key, value := range map[string]string{
		"resolution.ratings_strategy":   c.Resolution.RatingsStrategy,
		"resolution.watchlist_strategy": c.Resolution.WatchlistStrategy,
	} {
		if value == "" {
			continue
		}
		if _, ok := ParseStrategy(value); !ok {
			return fmt.Errorf("%w: unknown %s %q", ErrInvalid, key, value)
		}
	}
	if c.Resolution.TimestampToleranceSeconds < 0 {
		return fmt.Errorf("%w: resolution.timestamp_tolerance_seconds must not be negative", ErrInvalid)
	}
	if c.Sync.RemoveWatchlistItemsOlderThanDays < 0 {
		return fmt.Errorf("%w: sync.remove_watchlist_items_older_than_days must be positive", ErrInvalid)
	}

	if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
		return fmt.Errorf("%w: scheduler.schedule %q: %v", ErrInvalid, c.Scheduler.Schedule, err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: scheduler.timezone %q: %v", ErrInvalid, c.Scheduler.Timezone, err)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalid)
	}

	for name, m := range map[string]StatusMapping{
		models.SourceTrakt: c.Trakt.StatusMapping,
		models.SourceSimkl: c.Simkl.StatusMapping,
		models.SourceImdb:  c.Sources.Imdb.StatusMapping,
		models.SourcePlex:  c.Sources.Plex.StatusMapping,
	} {
		if err := m.validate(); err != nil {
			return fmt.Errorf("%w: %s.status_mapping: %v", ErrInvalid, name, err)
		}
	}

	return nil
}

// Location returns the scheduler timezone, UTC when it cannot be loaded
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isKnownSource(name string) bool {
	for _, s := range models.KnownSources {
		if s == name {
			return true
		}
	}
	return false
}

var knownKeys = map[string]bool{}

func init() {
	v := viper.New()
	setDefaults(v)
	for _, k := range v.AllKeys() {
		knownKeys[k] = true
	}
}

// unknownKeys returns keys that no option recognises, sorted
func unknownKeys(keys []string) []string {
	var unknown []string
	for _, k := range keys {
		if knownKeys[k] || strings.Contains(k, "status_mapping.") {
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	return unknown
}
