package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	if _, err := store.Token("trakt"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Expected ErrNoToken, got %v", err)
	}

	expires := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.TokenStore("trakt").SaveToken(&Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: expires}); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	token, err := reopened.Token("trakt")
	if err != nil {
		t.Fatalf("Failed to load token: %v", err)
	}
	if token.AccessToken != "a" || token.RefreshToken != "r" || !token.ExpiresAt.Equal(expires) {
		t.Errorf("Unexpected token: %+v", token)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat credentials: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestLastSyncTimestamps(t *testing.T) {
	store, _ := Open(filepath.Join(t.TempDir(), "credentials.toml"))

	if _, ok := store.LastSync("trakt", models.DataRatings); ok {
		t.Fatal("Expected no timestamp before the first sync")
	}

	at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	store.SetLastSync("trakt", models.DataRatings, at)

	got, ok := store.LastSync("trakt", models.DataRatings)
	if !ok || !got.Equal(at) {
		t.Errorf("Expected %s, got %s (%v)", at, got, ok)
	}
	if _, ok := store.Get("trakt_last_sync_ratings"); !ok {
		t.Error("Expected timestamp under trakt_last_sync_ratings")
	}

	store.Set("plex_token", "p")
	if removed := store.ClearTimestamps(); removed != 1 {
		t.Errorf("Expected one timestamp cleared, got %d", removed)
	}
	if _, ok := store.Get("plex_token"); !ok {
		t.Error("Clearing timestamps must keep tokens")
	}
}

func TestSaveOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	store, _ := Open(path)

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no file for a clean store")
	}

	store.Set("plex_token", "p")
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected file after save, got %v", err)
	}
}

func TestActivitySnapshots(t *testing.T) {
	store, _ := Open(filepath.Join(t.TempDir(), "credentials.toml"))

	if err := store.SetActivity(models.DataRatings, []byte(`{"all":"2024-01-01T00:00:00Z"}`)); err != nil {
		t.Fatalf("Failed to store snapshot: %v", err)
	}
	if err := store.SetActivity(models.DataWatchlist, []byte(`{"all":"2024-02-01T00:00:00Z"}`)); err != nil {
		t.Fatalf("Failed to store snapshot: %v", err)
	}

	snapshots, err := store.Activities()
	if err != nil {
		t.Fatalf("Failed to load snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("Expected 2 snapshots, got %d", len(snapshots))
	}
	if string(snapshots[models.DataRatings]) != `{"all":"2024-01-01T00:00:00Z"}` {
		t.Errorf("Unexpected ratings snapshot %s", snapshots[models.DataRatings])
	}
}

func TestClearAllRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	store, _ := Open(path)
	store.Set("imdb_password", "x")
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected credentials file to be removed")
	}
	if len(store.Keys()) != 0 {
		t.Error("Expected no keys after ClearAll")
	}
}
