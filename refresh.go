package jembatan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshPath is appended to the base address to reach the refresh endpoint.
const DefaultRefreshPath = "/auth/refresh"

// ErrNoRefreshToken is returned when a refresh is needed but the store holds no refresh token.
var ErrNoRefreshToken = errors.New("jembatan: no refresh token available")

// Refresher exchanges a refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	return f(ctx, refreshToken)
}

// EndpointRefresher POSTs {"refresh_token": ...} to URL and expects
// {access_token, refresh_token?, expires_at?, token_type?} back.
type EndpointRefresher struct {
	URL       string
	Transport Transport
	Timeout   time.Duration
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *EndpointRefresher) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if refreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	resp, err := r.Transport.Send(ctx, &Request{
		Method: http.MethodPost,
		URL:    r.URL,
		Header: header,
		Body:   refreshRequest{RefreshToken: refreshToken},
	})
	if err != nil {
		return Credential{}, Classify(err)
	}

	var cred Credential
	if err := json.Unmarshal(resp.Body, &cred); err != nil {
		return Credential{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if cred.AccessToken == "" {
		return Credential{}, errors.New("refresh response missing access_token")
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// OAuth2Refresher refreshes through a standard OAuth2 token endpoint.
type OAuth2Refresher struct {
	Config *oauth2.Config
	// HTTPClient is used for the token request when set.
	HTTPClient *http.Client
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if refreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Credential{}, fmt.Errorf("oauth2 refresh: %w", err)
	}

	cred := CredentialFromToken(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// refreshCredential runs one refresh and installs the result. Concurrent
// callers holding the same refresh token share a single refresh call. On
// failure the credential is cleared.
func (c *Client) refreshCredential(ctx context.Context, requestID string) error {
	refreshToken, ok := c.store.RefreshToken()
	if !ok {
		c.store.ClearCredential()
		c.metrics.RecordTokenRefresh("failure")
		c.logger.Warn("Token refresh skipped", "requestID", requestID, "error", ErrNoRefreshToken)
		return ErrNoRefreshToken
	}

	c.logger.Debug("Refreshing token", "requestID", requestID, "refreshToken", maskToken(refreshToken))

	// The shared refresh must outlive any one caller's cancellation.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	_, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		cred, err := c.refresher.Refresh(refreshCtx, refreshToken)
		if err != nil {
			return nil, err
		}
		c.store.SetCredential(cred)
		return nil, nil
	})
	if err != nil {
		c.store.ClearCredential()
		c.metrics.RecordTokenRefresh("failure")
		c.logger.Warn("Token refresh failed", "requestID", requestID, "error", err, "shared", shared)
		return err
	}

	c.metrics.RecordTokenRefresh("success")
	c.logger.Info("Token refreshed", "requestID", requestID, "shared", shared)
	return nil
}

var (
	_ Refresher = (*EndpointRefresher)(nil)
	_ Refresher = (*OAuth2Refresher)(nil)
	_ Refresher = RefresherFunc(nil)
)
