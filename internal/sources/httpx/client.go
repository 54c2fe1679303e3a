// Package httpx is the HTTP transport shared by the service adapters:
// rate limiting, retry with exponential backoff and a per-service circuit breaker.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amaumene/totalrecall/internal/metrics"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Options tunes one service's transport
type Options struct {
	Service string
	Timeout time.Duration

	// RequestsPerSecond of 0 disables rate limiting
	RequestsPerSecond float64
	Burst             int
	// WriteInterval spaces non-GET requests
	WriteInterval time.Duration

	MaxRetries           uint64
	RetryInitialInterval time.Duration

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Burst == 0 {
		o.Burst = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryInitialInterval == 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout == 0 {
		o.BreakerTimeout = time.Minute
	}
}

// Client sends requests for one service
type Client struct {
	opts         Options
	http         *http.Client
	limiter      *rate.Limiter
	writeLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[*Response]
	logger       *logrus.Logger
}

// Request describes one call. Body is JSON-encoded unless it is
// url.Values (form-encoded) or []byte (sent as is).
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Response is a fully read response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// New creates a new client
func New(opts Options, logger *logrus.Logger) *Client {
	opts.applyDefaults()

	c := &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}
	if opts.WriteInterval > 0 {
		c.writeLimiter = rate.NewLimiter(rate.Every(opts.WriteInterval), 1)
	}

	metrics.CircuitBreakerState.WithLabelValues(opts.Service).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        opts.Service,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Client errors are the caller's fault and never open the circuit
		IsSuccessful: func(err error) bool {
			var apiErr *sources.APIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsRetryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Do sends req, retrying retryable failures. Non-2xx responses return *sources.APIError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitialInterval
	b.MaxElapsedTime = 2 * time.Minute
	floor := &retryAfterBackOff{BackOff: b}
	policy := backoff.WithContext(backoff.WithMaxRetries(floor, c.opts.MaxRetries), ctx)

	operation := func() (*Response, error) {
		if err := c.wait(ctx, req.Method); err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.breaker.Execute(func() (*Response, error) {
			return c.send(ctx, req, body, contentType)
		})
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("%s: %w", c.opts.Service, err))
		}
		var apiErr *sources.APIError
		if errors.As(err, &apiErr) {
			if !apiErr.IsRetryable() {
				return nil, backoff.Permanent(err)
			}
			floor.wait = apiErr.RetryAfter
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"service": c.opts.Service,
			"retry":   wait.String(),
		}).Warn("Request failed, retrying")
	}

	return backoff.RetryNotifyWithData[*Response](operation, policy, notify)
}

// maxRetryAfter caps the delay a service can impose on one retry
const maxRetryAfter = time.Minute

// retryAfterBackOff never retries sooner than the last Retry-After
type retryAfterBackOff struct {
	backoff.BackOff
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	wait := b.wait
	b.wait = 0
	if next == backoff.Stop {
		return next
	}
	return max(next, min(wait, maxRetryAfter))
}

// parseRetryAfter reads delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func (c *Client) wait(ctx context.Context, method string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.writeLimiter != nil && method != http.MethodGet {
		if err := c.writeLimiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *Request, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	c.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    redact(req.URL),
	}).Debugf("Making %s API request", c.opts.Service)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.APIRequestDuration.WithLabelValues(c.opts.Service).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(c.opts.Service, req.Method, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	metrics.APIRequests.WithLabelValues(c.opts.Service, req.Method, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &sources.APIError{
			Service:    c.opts.Service,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// JSON sends a request and decodes the response body into result when both are non-empty
func (c *Client) JSON(ctx context.Context, method, rawURL string, header http.Header, body, result any) (*Response, error) {
	resp, err := c.Do(ctx, &Request{Method: method, URL: rawURL, Header: header, Body: body})
	if err != nil {
		return nil, err
	}
	if result != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return resp, fmt.Errorf("failed to decode %s response: %w", c.opts.Service, err)
		}
	}
	return resp, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
		}
		return data, "application/json", nil
	}
}

// redact drops tokens from URLs before they are logged
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, key := range []string{"X-Plex-Token", "client_secret", "token"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// BuildURL joins base and path and appends query
func BuildURL(base, path string, query url.Values) string {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
