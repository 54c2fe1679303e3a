package controllers

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/totalrecall/internal/cache"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCleanup(t *testing.T) (*CleanupController, *credentials.Store, *models.Database, config.Paths) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	paths := config.PathsAt(t.TempDir())
	require.NoError(t, paths.EnsureDirectories())
	store, err := credentials.Open(paths.CredentialsFile())
	require.NoError(t, err)
	db, err := models.NewDatabase(paths.StateDB())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewCleanupController(db, store, cache.NewManager(paths, logger), logger), store, db, paths
}

func TestClearTimestampsKeepsTokens(t *testing.T) {
	ctrl, store, _, _ := newCleanup(t)
	store.Set("plex_token", "secret")
	store.SetLastSync("trakt", models.DataRatings, time.Now())
	require.NoError(t, store.Save())

	require.NoError(t, ctrl.Clear(ClearOptions{Timestamps: true}))

	_, ok := store.LastSync("trakt", models.DataRatings)
	assert.False(t, ok)
	token, ok := store.Get("plex_token")
	assert.True(t, ok)
	assert.Equal(t, "secret", token)
}

func TestClearAllRemovesEverything(t *testing.T) {
	ctrl, store, db, paths := newCleanup(t)
	store.Set("plex_token", "secret")
	require.NoError(t, store.Save())
	marker := filepath.Join(paths.CollectDir(), "trakt", "ratings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(marker), 0755))
	require.NoError(t, os.WriteFile(marker, []byte("[]"), 0644))
	require.NoError(t, db.ReplaceIDMappings([]models.MediaIDs{{IMDB: "tt0111161", Title: "The Shawshank Redemption"}}, 1))

	require.NoError(t, ctrl.Clear(ClearEverything()))

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths.CredentialsFile())
	assert.True(t, os.IsNotExist(err))
	mappings, err := db.GetIDMappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestPruneRuns(t *testing.T) {
	ctrl, _, db, _ := newCleanup(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveRun(&models.SyncRun{ID: "old", StartedAt: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, db.SaveRun(&models.SyncRun{ID: "new", StartedAt: now.Add(-time.Hour)}))

	require.NoError(t, ctrl.PruneRuns(30*24*time.Hour, now))

	runs, err := db.GetRecentRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}
