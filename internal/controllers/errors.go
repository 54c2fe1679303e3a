package controllers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/amaumene/totalrecall/internal/metrics"
)

// ErrRunInProgress is returned when a run is requested while another one is active
var ErrRunInProgress = errors.New("a sync run is already in progress")

// ErrorBuffer collects the errors of a run from concurrent tasks
type ErrorBuffer struct {
	mu   sync.Mutex
	errs []error
}

// Add records err for a source and phase
func (b *ErrorBuffer) Add(source, phase string, err error) {
	metrics.SyncErrors.WithLabelValues(source, phase).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, fmt.Errorf("%s %s: %w", source, phase, err))
}

// Errors returns a copy of the recorded errors
func (b *ErrorBuffer) Errors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.errs...)
}

// Len returns the number of recorded errors
func (b *ErrorBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.errs)
}
