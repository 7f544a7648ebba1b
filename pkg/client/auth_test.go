package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/macworp/macworp-client/pkg/protocol"
)

func TestValidateLogin_Valid(t *testing.T) {
	c, store := testClient(t, "jwt-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/logged-in" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-access-token") != "jwt-1" {
			t.Errorf("missing session header")
		}
		w.WriteHeader(http.StatusOK)
	}))

	outcome, err := c.ValidateLogin(context.Background())
	if err != nil || outcome != LoginValid {
		t.Fatalf("expected valid, got %s, %v", outcome, err)
	}
	if tok, _ := store.Get(); tok != "jwt-1" {
		t.Errorf("token should be unchanged, got %s", tok)
	}
}

func TestValidateLogin_UnauthorizedClearsToken(t *testing.T) {
	var calls atomic.Int32
	var lastHeader atomic.Value
	c, store := testClient(t, "jwt-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		lastHeader.Store(r.Header.Get("x-access-token"))
		w.WriteHeader(http.StatusUnauthorized)
	}))

	outcome, err := c.ValidateLogin(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != LoginInvalid {
		t.Fatalf("expected invalid, got %s", outcome)
	}
	if _, ok := store.Get(); ok {
		t.Error("expected token to be cleared")
	}

	// No further token is sent.
	if _, err := c.ValidateLogin(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
	if _, err := c.MintOneTimeToken(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
	if lastHeader.Load() != "jwt-1" {
		t.Errorf("unexpected header %v", lastHeader.Load())
	}
}

func TestValidateLogin_RedirectRefreshesToken(t *testing.T) {
	c, store := testClient(t, "jwt-old", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/logged-in" {
			t.Errorf("redirect must not be followed, got request to %s", r.URL.Path)
		}
		w.Header().Set("Location", "https://idp.example.org/api/users/login/openid/dev/callback?token=abc123")
		w.WriteHeader(http.StatusFound)
	}))

	outcome, err := c.ValidateLogin(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != LoginRefreshed {
		t.Fatalf("expected refreshed, got %s", outcome)
	}
	if tok, ok := store.Get(); !ok || tok != "abc123" {
		t.Errorf("expected abc123, got %q", tok)
	}
}

func TestValidateLogin_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		location string
	}{
		{"redirect without location", http.StatusFound, ""},
		{"redirect without token", http.StatusFound, "/callback?code=1"},
		{"server error", http.StatusInternalServerError, ""},
		{"forbidden", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := testClient(t, "jwt-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.location != "" {
					w.Header().Set("Location", tt.location)
				}
				w.WriteHeader(tt.status)
			}))

			outcome, err := c.ValidateLogin(context.Background())
			if !errors.Is(err, ErrUnexpectedStatus) {
				t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
			}
			if outcome.Authenticated() {
				t.Error("protocol error must not authenticate")
			}
			if tok, _ := store.Get(); tok != "jwt-1" {
				t.Errorf("protocol error must not touch the session, got %q", tok)
			}
		})
	}
}

func TestValidateLogin_NoTokenNoRequest(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	if _, err := c.ValidateLogin(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no request, got %d", calls.Load())
	}
}

func TestLogin_Success(t *testing.T) {
	c, store := testClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/users/login/database/default" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req protocol.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LoginID != "alice" || req.Password != "pass123" {
			t.Errorf("unexpected credentials %+v", req)
		}
		json.NewEncoder(w).Encode(protocol.LoginResponse{JWT: "jwt-token-123"})
	}))

	if err := c.Login(context.Background(), "database", "default", "alice", "pass123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok, _ := store.Get(); tok != "jwt-token-123" {
		t.Errorf("expected stored token, got %q", tok)
	}
}

func TestLogin_Failure(t *testing.T) {
	c, store := testClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"Invalid credentials"}`))
	}))

	err := c.Login(context.Background(), "database", "default", "alice", "wrong")
	ae, ok := AsAPIError(err)
	if !ok || ae.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Error("failed login must not store a token")
	}
}

func TestLoginProviders(t *testing.T) {
	c, _ := testClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"database":{"default":"Login with local account"},"openid":{"dev":"Login with OpenID"}}`))
	}))

	providers, err := c.LoginProviders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if providers["openid"]["dev"] != "Login with OpenID" {
		t.Errorf("unexpected providers %v", providers)
	}
}

func TestLogoutClearsLocalSession(t *testing.T) {
	c, store := testClient(t, "jwt-1", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("logout must not contact the backend")
	}))
	if err := c.Logout(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get(); ok {
		t.Error("expected session cleared")
	}
}
