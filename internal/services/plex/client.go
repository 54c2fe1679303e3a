// Package plex is the Plex adapter: token authentication, server discovery
// through plex.tv resources and rating-key resolution across the local
// library and the discover provider.
package plex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/sources/httpx"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	plexTVURL    = "https://plex.tv"
	discoverURL  = "https://discover.provider.plex.tv"
	clientName   = "totalrecall"
	keyPlexToken = "plex_token"

	indexTTL = 30 * time.Minute
)

// Client handles communication with plex.tv, the discover provider and the media server
type Client struct {
	sources.ScaleNormalizer

	plexTVURL   string
	discoverURL string
	configured  string
	status      config.StatusMapping
	store       *credentials.Store
	http        *httpx.Client
	logger      *logrus.Logger

	// keys maps "<type>|<id key>" to a library entry and is rebuilt after indexTTL
	keys      *gocache.Cache
	indexMu   sync.Mutex
	indexedAt time.Time

	mu     sync.RWMutex
	token  string
	server string
}

// Option customizes a client
type Option func(*Client)

// WithPlexTVURL points account calls at another host
func WithPlexTVURL(u string) Option {
	return func(c *Client) { c.plexTVURL = u }
}

// WithDiscoverURL points watchlist and discover calls at another host
func WithDiscoverURL(u string) Option {
	return func(c *Client) { c.discoverURL = u }
}

// NewClient creates a new Plex client. The token is read from the store.
func NewClient(cfg config.PlexConfig, store *credentials.Store, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		ScaleNormalizer: sources.ScaleNormalizer{Scale: 10},
		plexTVURL:       plexTVURL,
		discoverURL:     discoverURL,
		configured:      strings.TrimRight(cfg.ServerURL, "/"),
		status:          cfg.StatusMapping,
		store:           store,
		logger:          logger,
		keys:            gocache.New(indexTTL, 10*time.Minute),
		http: httpx.New(httpx.Options{
			Service:           models.SourcePlex,
			RequestsPerSecond: 10,
			Burst:             10,
		}, logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source tag
func (c *Client) Name() string { return models.SourcePlex }

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("X-Plex-Token", c.currentToken())
	h.Set("X-Plex-Client-Identifier", clientName)
	h.Set("X-Plex-Product", clientName)
	return h
}

// doRequest performs an authenticated request against base
func (c *Client) doRequest(ctx context.Context, method, base, path string, query url.Values, body, result any) (*httpx.Response, error) {
	if c.currentToken() == "" {
		return nil, sources.ErrNotAuthenticated
	}
	return c.http.JSON(ctx, method, httpx.BuildURL(base, path, query), c.headers(), body, result)
}

// Authenticate verifies the stored token against plex.tv
func (c *Client) Authenticate(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("no credential store: %w", sources.ErrNotAuthenticated)
	}
	token, ok := c.store.Get(keyPlexToken)
	if !ok {
		return fmt.Errorf("plex token not found in credentials: %w", sources.ErrNotAuthenticated)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	var user User
	if _, err := c.doRequest(ctx, http.MethodGet, c.plexTVURL, "/api/v2/user", nil, nil, &user); err != nil {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return fmt.Errorf("failed to verify plex token: %w", err)
	}

	c.logger.WithField("username", user.Username).Info("Authenticated to Plex")
	return nil
}

// serverURL returns the configured server, or the first discovered one
func (c *Client) serverURL(ctx context.Context) (string, error) {
	if c.configured != "" {
		return c.configured, nil
	}

	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != "" {
		return server, nil
	}

	var resources []Resource
	query := url.Values{"includeHttps": {"1"}}
	if _, err := c.doRequest(ctx, http.MethodGet, c.plexTVURL, "/api/v2/resources", query, nil, &resources); err != nil {
		return "", fmt.Errorf("failed to discover plex servers: %w", err)
	}
	for _, r := range resources {
		if !r.isServer() {
			continue
		}
		if uri := strings.TrimRight(r.uri(), "/"); uri != "" {
			c.mu.Lock()
			c.server = uri
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"server": r.Name,
				"url":    uri,
			}).Info("Discovered Plex server")
			return uri, nil
		}
	}
	return "", errors.New("no plex servers available")
}

// Cleanup drops the library index
func (c *Client) Cleanup(ctx context.Context) error {
	c.keys.Flush()
	c.indexMu.Lock()
	c.indexedAt = time.Time{}
	c.indexMu.Unlock()
	return nil
}

// RequiresStatusMapping is true: only plain watchlist entries stay on the watchlist
func (c *Client) RequiresStatusMapping() bool { return true }

var (
	_ sources.Source           = (*Client)(nil)
	_ sources.RatingNormalizer = (*Client)(nil)
	_ sources.IDExtractor      = (*Client)(nil)
	_ sources.IDLookupProvider = (*Client)(nil)
	_ sources.StatusMapper     = (*Client)(nil)
)
