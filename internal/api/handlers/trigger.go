package handlers

import (
	"errors"
	"net/http"

	"github.com/amaumene/totalrecall/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// Triggerer starts a sync in the background
type Triggerer interface {
	Trigger(trigger string) error
}

// TriggerHandler handles manual sync requests
type TriggerHandler struct {
	sched  Triggerer
	logger *logrus.Logger
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(sched Triggerer, logger *logrus.Logger) *TriggerHandler {
	return &TriggerHandler{
		sched:  sched,
		logger: logger,
	}
}

// ServeHTTP starts a sync and answers 202, or 409 when one is running
func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.sched.Trigger("api")
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"}, h.logger)
	case err != nil:
		h.logger.WithError(err).Error("Failed to trigger sync")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	default:
		h.logger.Info("Sync triggered through API")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"}, h.logger)
	}
}

// Scheduler is what the server needs from the daemon scheduler
type Scheduler interface {
	Triggerer
	NextRun
}
