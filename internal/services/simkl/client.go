// Package simkl is the Simkl adapter: PIN authentication, activity-gated
// incremental reads and status-mapped list writes.
package simkl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/sources/httpx"
	"github.com/sirupsen/logrus"
)

const baseURL = "https://api.simkl.com"

// Client handles communication with Simkl API
type Client struct {
	sources.ScaleNormalizer

	clientID   string
	baseURL    string
	status     config.StatusMapping
	store      *credentials.Store
	tokenStore *credentials.TokenStore
	http       *httpx.Client
	prompt     io.Writer
	logger     *logrus.Logger

	mu          sync.RWMutex
	accessToken string
	forceFull   bool
}

// Option customizes a client
type Option func(*Client)

// WithBaseURL points the client at another API host
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithPrompt sets where PIN instructions are printed
func WithPrompt(w io.Writer) Option {
	return func(c *Client) { c.prompt = w }
}

// NewClient creates a new Simkl client. The store holds the token and the
// activity snapshots.
func NewClient(cfg config.ServiceConfig, store *credentials.Store, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		ScaleNormalizer: sources.ScaleNormalizer{Scale: 10},
		clientID:        cfg.ClientID,
		baseURL:         baseURL,
		status:          cfg.StatusMapping,
		store:           store,
		prompt:          os.Stderr,
		logger:          logger,
		http: httpx.New(httpx.Options{
			Service:           models.SourceSimkl,
			RequestsPerSecond: 5,
			Burst:             5,
		}, logger),
	}
	if store != nil {
		c.tokenStore = store.TokenStore(models.SourceSimkl)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source tag
func (c *Client) Name() string { return models.SourceSimkl }

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("simkl-api-key", c.clientID)
	if token := c.token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doRequest performs an authenticated request
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, result any) (*httpx.Response, error) {
	if c.token() == "" {
		return nil, sources.ErrNotAuthenticated
	}
	return c.send(ctx, method, path, query, body, result)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, result any) (*httpx.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("client_id", c.clientID)
	return c.http.JSON(ctx, method, httpx.BuildURL(c.baseURL, path, query), c.headers(), body, result)
}

// SetForceFullSync ignores stored activity snapshots for the next reads
func (c *Client) SetForceFullSync(force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceFull = force
}

// SupportsNativeIncremental is true: Simkl computes deltas from activities
func (c *Client) SupportsNativeIncremental() bool { return true }

// RequiresStatusMapping is true: list writes need a target list name
func (c *Client) RequiresStatusMapping() bool { return true }

// Cleanup has nothing to release
func (c *Client) Cleanup(ctx context.Context) error { return nil }

var (
	_ sources.Source            = (*Client)(nil)
	_ sources.RatingNormalizer  = (*Client)(nil)
	_ sources.IncrementalSyncer = (*Client)(nil)
	_ sources.IDExtractor       = (*Client)(nil)
	_ sources.IDLookupProvider  = (*Client)(nil)
	_ sources.StatusMapper      = (*Client)(nil)
)
