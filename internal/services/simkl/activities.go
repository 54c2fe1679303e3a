package simkl

import (
	"context"
	"net/http"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// fingerprint is the part of the activities that changes with one data type
type fingerprint struct {
	All     string `json:"all,omitempty"`
	TVShows string `json:"tv_shows,omitempty"`
	Anime   string `json:"anime,omitempty"`
	Movies  string `json:"movies,omitempty"`
}

func (a *Activities) fingerprint(dt models.DataType) fingerprint {
	pick := func(m *MediaActivities) string {
		if m == nil {
			return ""
		}
		switch dt {
		case models.DataWatchlist:
			return m.All
		case models.DataRatings:
			return m.RatedAt
		case models.DataWatchHistory:
			return m.Playback
		}
		return ""
	}
	return fingerprint{
		All:     a.All,
		TVShows: pick(a.TVShows),
		Anime:   pick(a.Anime),
		Movies:  pick(a.Movies),
	}
}

func (f fingerprint) sameAs(prev fingerprint) bool {
	return f.TVShows == prev.TVShows && f.Anime == prev.Anime && f.Movies == prev.Movies
}

// delta tells a read what to fetch
type delta struct {
	// skip means nothing changed since the stored snapshot
	skip bool
	// from limits the read to changes after it; zero means everything
	from time.Time
	// commit stores the new snapshot once the read succeeded
	commit func()
}

// GetActivities returns the account's change timestamps
func (c *Client) GetActivities(ctx context.Context) (*Activities, error) {
	var activities Activities
	if _, err := c.doRequest(ctx, http.MethodPost, "/sync/activities", nil, nil, &activities); err != nil {
		return nil, err
	}
	return &activities, nil
}

// deltaFor compares the current activities with the snapshot stored for dt
func (c *Client) deltaFor(ctx context.Context, dt models.DataType) delta {
	noop := delta{commit: func() {}}

	c.mu.RLock()
	force := c.forceFull
	c.mu.RUnlock()

	logger := c.logger.WithField("data_type", string(dt))

	activities, err := c.GetActivities(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to check Simkl activities, falling back to full sync")
		return noop
	}
	current := activities.fingerprint(dt)
	raw, err := json.Marshal(current)
	if err != nil {
		return noop
	}
	commit := func() {
		if err := c.store.SetActivity(dt, raw); err != nil {
			logger.WithError(err).Warn("Failed to record Simkl activities")
			return
		}
		if err := c.store.Save(); err != nil {
			logger.WithError(err).Warn("Failed to save Simkl activities")
		}
	}

	if force {
		logger.Debug("Forced full Simkl sync")
		return delta{commit: commit}
	}

	snapshots, err := c.store.Activities()
	if err != nil {
		logger.WithError(err).Warn("Stored Simkl activities are unreadable, fetching everything")
		return delta{commit: commit}
	}
	stored, ok := snapshots[dt]
	if !ok {
		return delta{commit: commit}
	}

	var prev fingerprint
	if err := json.Unmarshal(stored, &prev); err != nil {
		return delta{commit: commit}
	}
	if current.sameAs(prev) {
		logger.Debug("Simkl activities unchanged, skipping fetch")
		return delta{skip: true, commit: func() {}}
	}

	d := delta{commit: commit}
	if from, ok := parseTime(prev.All); ok {
		d.from = from
	}
	logger.WithFields(logrus.Fields{
		"date_from": d.from.Format(time.RFC3339),
	}).Debug("Simkl activities changed")
	return d
}
