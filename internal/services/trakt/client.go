package trakt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/sources/httpx"
	"github.com/sirupsen/logrus"
)

const (
	baseURL    = "https://api.trakt.tv"
	apiVersion = "2"

	// statusListLimit is returned when a free account hits a list ceiling
	statusListLimit = 420

	// 1000 calls per 5 minutes
	requestsPerSecond = 1000.0 / 300.0
)

// Client handles communication with Trakt API
type Client struct {
	sources.ScaleNormalizer

	clientID     string
	clientSecret string
	baseURL      string
	status       config.StatusMapping
	tokenStore   *credentials.TokenStore
	http         *httpx.Client
	prompt       io.Writer
	logger       *logrus.Logger

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
	username    string
}

// Option customizes a client
type Option func(*Client)

// WithBaseURL points the client at another API host
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithPrompt sets where device-code instructions are printed
func WithPrompt(w io.Writer) Option {
	return func(c *Client) { c.prompt = w }
}

// NewClient creates a new Trakt API client
func NewClient(cfg config.ServiceConfig, tokenStore *credentials.TokenStore, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		ScaleNormalizer: sources.ScaleNormalizer{Scale: 10},
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		baseURL:         baseURL,
		status:          cfg.StatusMapping,
		tokenStore:      tokenStore,
		prompt:          os.Stderr,
		logger:          logger,
		http: httpx.New(httpx.Options{
			Service:           models.SourceTrakt,
			RequestsPerSecond: requestsPerSecond,
			Burst:             5,
			WriteInterval:     time.Second,
		}, logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source tag
func (c *Client) Name() string { return models.SourceTrakt }

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("trakt-api-version", apiVersion)
	h.Set("trakt-api-key", c.clientID)

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doRequest performs an authenticated request against the Trakt API
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, result any) (*httpx.Response, error) {
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure valid token: %w", err)
	}
	return c.send(ctx, method, path, query, body, result)
}

// send skips the token check; used by the OAuth endpoints themselves
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, result any) (*httpx.Response, error) {
	resp, err := c.http.JSON(ctx, method, httpx.BuildURL(c.baseURL, path, query), c.headers(), body, result)
	if err != nil {
		var apiErr *sources.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == statusListLimit {
			return nil, fmt.Errorf("trakt account limit reached: %w: %w", sources.ErrRateLimited, err)
		}
		return nil, err
	}
	return resp, nil
}

// ensureValidToken refreshes the token when it expires within 24 hours
func (c *Client) ensureValidToken(ctx context.Context) error {
	c.mu.RLock()
	token, expiresAt := c.accessToken, c.expiresAt
	c.mu.RUnlock()

	if token == "" {
		return sources.ErrNotAuthenticated
	}
	if expiresAt.IsZero() || time.Until(expiresAt) >= 24*time.Hour {
		return nil
	}

	c.logger.Info("Token expires soon, refreshing...")
	return c.RefreshToken(ctx)
}

func (c *Client) userPath(suffix string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.username == "" {
		return "", sources.ErrNotAuthenticated
	}
	return "/users/" + url.PathEscape(c.username) + suffix, nil
}

// Cleanup has nothing to release
func (c *Client) Cleanup(ctx context.Context) error { return nil }

var (
	_ sources.Source           = (*Client)(nil)
	_ sources.RatingNormalizer = (*Client)(nil)
	_ sources.IDExtractor      = (*Client)(nil)
	_ sources.IDLookupProvider = (*Client)(nil)
)
