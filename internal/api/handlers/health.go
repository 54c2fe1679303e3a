package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// RunState reports whether a sync is active
type RunState interface {
	Running() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	state  RunState
	logger *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(state RunState, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{state: state, logger: logger}
}

// ServeHTTP handles the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status":       "healthy",
		"sync_running": h.state.Running(),
	}
	writeJSON(w, http.StatusOK, response, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *logrus.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}
