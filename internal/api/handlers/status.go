package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amaumene/totalrecall/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// RunHistory lists persisted runs
type RunHistory interface {
	RunState
	RecentRuns(limit int) ([]*models.SyncRun, error)
}

// NextRun reports when the next scheduled sync fires
type NextRun interface {
	Next() time.Time
}

// StatusHandler handles status requests
type StatusHandler struct {
	runs   RunHistory
	next   NextRun
	logger *logrus.Logger
}

// NewStatusHandler creates a new status handler. next may be nil.
func NewStatusHandler(runs RunHistory, next NextRun, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		runs:   runs,
		next:   next,
		logger: logger,
	}
}

// RunSummary is one run in the status response
type RunSummary struct {
	ID          string                             `json:"id"`
	StartedAt   time.Time                          `json:"started_at"`
	DurationMS  int64                              `json:"duration_ms"`
	ItemsSynced int                                `json:"items_synced"`
	DryRun      bool                               `json:"dry_run"`
	Trigger     string                             `json:"trigger,omitempty"`
	Errors      []string                           `json:"errors,omitempty"`
	Written     map[string]map[models.DataType]int `json:"written,omitempty"`
}

// StatusResponse represents the status response
type StatusResponse struct {
	Running     bool         `json:"running"`
	NextRun     *time.Time   `json:"next_run,omitempty"`
	LastSuccess *time.Time   `json:"last_success,omitempty"`
	Runs        []RunSummary `json:"runs"`
}

// ServeHTTP handles the status endpoint. ?limit=N bounds the run list.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.RecentRuns(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get recent runs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Running: h.runs.Running(),
		Runs:    make([]RunSummary, 0, len(runs)),
	}
	if h.next != nil {
		if next := h.next.Next(); !next.IsZero() {
			response.NextRun = &next
		}
	}

	for _, run := range runs {
		response.Runs = append(response.Runs, RunSummary{
			ID:          run.ID,
			StartedAt:   run.StartedAt,
			DurationMS:  run.Duration.Milliseconds(),
			ItemsSynced: run.ItemsSynced,
			DryRun:      run.DryRun,
			Trigger:     run.Trigger,
			Errors:      run.Errors,
			Written:     run.Written,
		})
		if response.LastSuccess == nil && run.Succeeded() && !run.DryRun {
			started := run.StartedAt
			response.LastSuccess = &started
		}
	}

	writeJSON(w, http.StatusOK, response, h.logger)
}
