package simkl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/cenkalti/backoff/v4"
)

// PinResponse is returned when a PIN is requested
type PinResponse struct {
	Result          string `json:"result"`
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// PinStatus is the answer to a PIN poll
type PinStatus struct {
	Result      string `json:"result"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

var errPending = errors.New("authorization pending")

// Authenticate uses the stored token when present. Simkl tokens do not
// expire, so a stored expiry is ignored. Otherwise the PIN flow runs.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil && !errors.Is(err, credentials.ErrNoToken) {
		return fmt.Errorf("failed to read simkl token: %w", err)
	}
	if token != nil && token.AccessToken != "" {
		c.setToken(token.AccessToken)
		c.logger.Debug("Using saved Simkl access token")
		return nil
	}

	access, err := c.pinAuth(ctx)
	if err != nil {
		return err
	}
	if err := c.tokenStore.SaveToken(&credentials.Token{AccessToken: access}); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	c.setToken(access)

	c.logger.Info("Authenticated to Simkl")
	return nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// pinAuth shows a PIN and polls until the user approves it
func (c *Client) pinAuth(ctx context.Context) (string, error) {
	var pin PinResponse
	if _, err := c.send(ctx, http.MethodGet, "/oauth/pin", url.Values{"redirect": {"urn:ietf:wg:oauth:2.0:oob"}}, nil, &pin); err != nil {
		return "", fmt.Errorf("failed to request device code: %w", err)
	}
	if pin.UserCode == "" {
		return "", fmt.Errorf("simkl returned no PIN: %w", sources.ErrNotAuthenticated)
	}

	c.logger.Infof("Please visit %s and enter PIN: %s", pin.VerificationURL, pin.UserCode)
	fmt.Fprintf(c.prompt, "\nPlease visit %s and enter PIN: %s\n\n", pin.VerificationURL, pin.UserCode)

	interval := time.Duration(pin.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := uint64(1)
	if pin.ExpiresIn > 0 {
		attempts = uint64(time.Duration(pin.ExpiresIn) * time.Second / interval)
	}

	poll := func() (string, error) {
		var status PinStatus
		if _, err := c.send(ctx, http.MethodGet, "/oauth/pin/"+url.PathEscape(pin.UserCode), nil, nil, &status); err != nil {
			return "", backoff.Permanent(fmt.Errorf("failed to poll PIN: %w", err))
		}
		switch {
		case status.Result == "OK" && status.AccessToken != "":
			return status.AccessToken, nil
		case status.Result == "KO" && (status.Message == "" || status.Message == "Authorization pending" || status.Message == "Slow down"):
			return "", errPending
		default:
			return "", backoff.Permanent(fmt.Errorf("simkl authorization failed: %s: %w", status.Message, sources.ErrNotAuthenticated))
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts), ctx)
	access, err := backoff.RetryWithData(poll, policy)
	if errors.Is(err, errPending) {
		return "", fmt.Errorf("simkl PIN expired: %w", sources.ErrNotAuthenticated)
	}
	return access, err
}
