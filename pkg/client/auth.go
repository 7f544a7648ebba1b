package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/protocol"
	"go.uber.org/zap"
)

// LoginOutcome is the result of a session check.
type LoginOutcome int

const (
	// LoginValid means the backend accepted the token.
	LoginValid LoginOutcome = iota
	// LoginInvalid means the backend rejected the token; the session is cleared.
	LoginInvalid
	// LoginRefreshed means the backend issued a new token, which is now stored.
	LoginRefreshed
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginValid:
		return "valid"
	case LoginInvalid:
		return "invalid"
	case LoginRefreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("LoginOutcome(%d)", int(o))
	}
}

// Authenticated reports whether the session may be used after this outcome.
func (o LoginOutcome) Authenticated() bool {
	return o == LoginValid || o == LoginRefreshed
}

// ValidateLogin asks the backend whether the current token is still valid.
//
// 200 means valid. 401 clears the session. 302 carries a refreshed token in
// the token query parameter of the Location URL, which replaces the stored
// one. Anything else fails with ErrUnexpectedStatus. Without a token the
// call fails with ErrNotLoggedIn and nothing is sent.
func (c *Client) ValidateLogin(ctx context.Context) (LoginOutcome, error) {
	req, err := c.newAuthRequest(ctx, http.MethodGet, "/api/users/logged-in", nil, nil)
	if err != nil {
		return LoginInvalid, err
	}

	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return LoginInvalid, fmt.Errorf("session check: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		metrics.RecordLoginValidation(LoginValid.String())
		return LoginValid, nil

	case http.StatusUnauthorized:
		c.invalidate(req.Header.Get(protocol.AccessTokenHeader))
		metrics.RecordLoginValidation(LoginInvalid.String())
		return LoginInvalid, nil

	case http.StatusFound:
		token, err := refreshedToken(resp.Header.Get("Location"))
		if err != nil {
			metrics.RecordLoginValidation("error")
			return LoginInvalid, fmt.Errorf("%w: %v", ErrUnexpectedStatus, err)
		}
		if err := c.tokens.Set(token); err != nil {
			return LoginInvalid, fmt.Errorf("store refreshed token: %w", err)
		}
		logging.Debug("session token refreshed")
		metrics.RecordLoginValidation(LoginRefreshed.String())
		return LoginRefreshed, nil
	}

	metrics.RecordLoginValidation("error")
	return LoginInvalid, fmt.Errorf("%w: %w", ErrUnexpectedStatus, newAPIError(resp))
}

// refreshedToken extracts the token query parameter from a redirect target.
func refreshedToken(location string) (string, error) {
	if location == "" {
		return "", errors.New("'Location' header not found, can not get token")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse Location %q: %w", location, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		return "", fmt.Errorf("no token parameter in Location %q", location)
	}
	return token, nil
}

// LoginProviders lists the login providers offered by the backend.
func (c *Client) LoginProviders(ctx context.Context) (protocol.LoginProviders, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/users/login-providers", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.httpClient, req, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var providers protocol.LoginProviders
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		return nil, fmt.Errorf("parse login providers: %w", err)
	}
	return providers, nil
}

// Login authenticates with credentials against a provider and stores the
// returned token as the session.
func (c *Client) Login(ctx context.Context, providerType, provider, loginID, password string) error {
	body, err := json.Marshal(protocol.LoginRequest{LoginID: loginID, Password: password})
	if err != nil {
		return err
	}

	path := "/api/users/login/" + url.PathEscape(providerType) + "/" + url.PathEscape(provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(c.httpClient, req, "")
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	var result protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if result.JWT == "" {
		return errors.New("login response without token")
	}

	if err := c.tokens.Set(result.JWT); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	logging.Info("logged in", zap.String("provider_type", providerType), zap.String("provider", provider))
	return nil
}

// Logout drops the local session. The backend keeps no session state.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}
