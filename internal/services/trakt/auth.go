package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/totalrecall/internal/credentials"
	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/sirupsen/logrus"
)

// DeviceCodeResponse represents the response from device code request
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from token request
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (r TokenResponse) token() *credentials.Token {
	return &credentials.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

type userProfile struct {
	Username string `json:"username"`
	IDs      struct {
		Slug string `json:"slug"`
	} `json:"ids"`
}

// Authenticate loads the stored token, refreshes it when it is about to
// expire and falls back to the device code flow when nothing usable is stored.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil && !errors.Is(err, credentials.ErrNoToken) {
		return fmt.Errorf("failed to read trakt token: %w", err)
	}

	if token != nil {
		c.setToken(token)
		if time.Until(token.ExpiresAt) >= 24*time.Hour || token.ExpiresAt.IsZero() {
			err := c.loadUser(ctx)
			if err == nil {
				c.logger.WithField("expires_at", token.ExpiresAt).Debug("Using saved Trakt access token")
				return nil
			}
			if !errors.Is(err, sources.ErrNotAuthenticated) {
				return err
			}
			c.logger.Info("Saved Trakt token was rejected, attempting refresh")
		}

		if token.RefreshToken != "" {
			err := c.RefreshToken(ctx)
			if err == nil {
				return c.loadUser(ctx)
			}
			c.logger.WithError(err).Warn("Trakt token refresh failed")
		}
	}

	if err := c.deviceAuth(ctx); err != nil {
		return err
	}
	return c.loadUser(ctx)
}

func (c *Client) setToken(token *credentials.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token.AccessToken
	c.expiresAt = token.ExpiresAt
}

// loadUser fetches the account slug used in every user path
func (c *Client) loadUser(ctx context.Context) error {
	var profile userProfile
	if _, err := c.send(ctx, http.MethodGet, "/users/me", nil, nil, &profile); err != nil {
		return fmt.Errorf("failed to get user info: %w", err)
	}

	slug := profile.IDs.Slug
	if slug == "" {
		slug = profile.Username
	}
	if slug == "" {
		return errors.New("trakt profile carries no username")
	}

	c.mu.Lock()
	c.username = slug
	c.mu.Unlock()

	c.logger.WithField("user", slug).Info("Authenticated to Trakt")
	return nil
}

// deviceAuth performs the device authentication flow
func (c *Client) deviceAuth(ctx context.Context) error {
	// Step 1: Request device code
	var deviceResp DeviceCodeResponse
	if _, err := c.send(ctx, http.MethodPost, "/oauth/device/code", nil, map[string]string{
		"client_id": c.clientID,
	}, &deviceResp); err != nil {
		return fmt.Errorf("failed to get device code: %w", err)
	}

	// Step 2: Display user code and URL
	c.logger.Infof("Please visit %s and enter code: %s", deviceResp.VerificationURL, deviceResp.UserCode)
	fmt.Fprintf(c.prompt, "\nPlease visit %s and enter code: %s\n\n", deviceResp.VerificationURL, deviceResp.UserCode)

	// Step 3: Poll for token
	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("trakt device code expired: %w", sources.ErrNotAuthenticated)
			}

			var tokenResp TokenResponse
			_, err := c.send(ctx, http.MethodPost, "/oauth/device/token", nil, map[string]string{
				"code":          deviceResp.DeviceCode,
				"client_id":     c.clientID,
				"client_secret": c.clientSecret,
			}, &tokenResp)
			if err != nil {
				if done := pollFailure(err); done != nil {
					return done
				}
				c.logger.Debug("Waiting for user authorization...")
				continue
			}

			token := tokenResp.token()
			if err := c.tokenStore.SaveToken(token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			c.setToken(token)

			c.logger.Info("Authentication successful!")
			return nil
		}
	}
}

// pollFailure returns a terminal error for responses that end the device flow.
// 400 means the user has not approved yet.
func pollFailure(err error) error {
	var apiErr *sources.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("invalid trakt device code: %w", sources.ErrNotAuthenticated)
	case http.StatusConflict:
		return fmt.Errorf("trakt device code already used: %w", sources.ErrNotAuthenticated)
	case http.StatusGone:
		return fmt.Errorf("trakt device code expired: %w", sources.ErrNotAuthenticated)
	case http.StatusTeapot:
		return fmt.Errorf("trakt authorization denied: %w", sources.ErrNotAuthenticated)
	}
	return nil
}

// RefreshToken refreshes the access token using the refresh token
func (c *Client) RefreshToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		return fmt.Errorf("no token to refresh: %w", err)
	}

	var tokenResp TokenResponse
	if _, err := c.send(ctx, http.MethodPost, "/oauth/token", nil, map[string]string{
		"refresh_token": token.RefreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	}, &tokenResp); err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	newToken := tokenResp.token()
	if err := c.tokenStore.SaveToken(newToken); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}
	c.setToken(newToken)

	c.logger.WithFields(logrus.Fields{
		"expires_at": newToken.ExpiresAt.Format(time.RFC3339),
	}).Info("Token refreshed successfully")
	return nil
}
