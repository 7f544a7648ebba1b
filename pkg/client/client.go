// Package client talks to the MAcWorP backend API on behalf of a session.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/pkg/protocol"
	"go.uber.org/zap"
)

// TokenStore is the session the client acts for. The token is read once
// per request; Set and Clear affect only requests built afterwards.
// ClearIf clears only while the given token is still the current one.
type TokenStore interface {
	Get() (string, bool)
	Set(token string) error
	Clear() error
	ClearIf(token string) (bool, error)
}

// Client is a backend API client bound to one session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// stream has no overall deadline so large downloads are bounded only
	// by the caller's context and the response header timeout.
	stream     *http.Client
	// noRedirect answers 3xx responses to the caller instead of following them.
	noRedirect *http.Client
	tokens     TokenStore
}

// Config holds client configuration.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// New creates a new client.
func New(cfg Config, tokens TokenStore) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		stream:     &http.Client{Transport: streamTransport},
		noRedirect: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tokens: tokens,
	}
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the session the client acts for.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// newAuthRequest builds a request carrying the current session token.
// Without a session no request is built.
func (c *Client) newAuthRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	token, ok := c.tokens.Get()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(protocol.AccessTokenHeader, token)
	return req, nil
}

// do sends req and turns every non-2xx answer into an *APIError. A 401
// invalidates the session if it still holds sent, the token the request was
// authorized with. Unauthenticated calls pass "".
func (c *Client) do(hc *http.Client, req *http.Request, sent string) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	apiErr := newAPIError(resp)
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidate(sent)
	}
	logging.Debug("backend request failed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", apiErr.StatusCode))
	return nil, apiErr
}

// invalidate clears the session if it still holds sent. Requests without
// a session token and 401s racing a refresh leave the session alone.
func (c *Client) invalidate(sent string) {
	cleared, err := c.tokens.ClearIf(sent)
	if err != nil {
		logging.Error("failed to clear session", zap.Error(err))
		return
	}
	if !cleared && sent != "" {
		logging.Debug("stale 401 ignored, session token changed meanwhile")
	}
}

// getJSON performs an authenticated GET and decodes the JSON answer into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := c.newAuthRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(c.httpClient, req, req.Header.Get(protocol.AccessTokenHeader))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Status:      statusText(resp),
			Date:        responseDate(resp),
			Description: fmt.Sprintf("Can not parse response: %v", err),
		}
	}
	return nil
}

// Ping checks if the backend is reachable. It does not need a session.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/users/login-providers", nil), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(c.httpClient, req, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
