package sources

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotAuthenticated means no usable token exists and the user must log in
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnsupported is returned by writes a service cannot perform
	ErrUnsupported = errors.New("operation not supported")

	// ErrRateLimited marks capacity limits: request ceilings, list size limits, cooldowns.
	// The batch is skipped without failing the run.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from a remote service
type APIError struct {
	Service    string
	StatusCode int
	Body       string
	// RetryAfter is the delay the service asked for, zero when absent
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Service, e.StatusCode, body)
}

// IsRetryable reports whether the request may succeed when repeated
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Is lets errors.Is match 401 against ErrNotAuthenticated and 429 against ErrRateLimited
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotAuthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsCapacityError reports whether err is a capacity limit rather than a failure
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
