package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# totalrecall configuration

[trakt]
enabled = false
client_id = ""
client_secret = ""

[simkl]
enabled = false
client_id = ""
client_secret = ""

[sources.imdb]
enabled = false
username = ""
# Directory the IMDb CSV exports are dropped into (defaults to the csv cache)
export_dir = ""

[sources.plex]
enabled = false
# Leave empty to discover the server through plex.tv
server_url = ""

[resolution]
strategy = "most_recent"
# First entry wins ties and must authenticate for a run to proceed
source_preference = []
timestamp_tolerance_seconds = 3600

[sync]
sync_watchlist = true
sync_ratings = true
sync_reviews = true
sync_watch_history = true
remove_watched_from_watchlists = false
mark_rated_as_watched = false
# remove_watchlist_items_older_than_days = 365

[scheduler]
schedule = "0 */6 * * *"
timezone = "UTC"
run_on_startup = true

[logging]
level = "info"
format = "text"

[server]
enabled = true
port = "8080"
`

// WriteTemplate writes a commented default config.toml. An existing file is kept.
func WriteTemplate(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
