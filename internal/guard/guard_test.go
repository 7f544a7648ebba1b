package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/macworp/macworp-client/pkg/client"
	"github.com/stretchr/testify/assert"
)

type fakeValidator struct {
	outcome client.LoginOutcome
	err     error
	calls   int
}

func (f *fakeValidator) ValidateLogin(context.Context) (client.LoginOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeTokens string

func (f fakeTokens) Get() (string, bool) { return string(f), f != "" }

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		token       fakeTokens
		route       string
		outcome     client.LoginOutcome
		err         error
		want        Decision
		calls       int
	}{
		{"non-interactive", false, "", "/projects/1/files", client.LoginInvalid, nil, Allow, 0},
		{"health check", true, "", "/ping", client.LoginInvalid, nil, Allow, 0},
		{"login route", true, "", "/login", client.LoginInvalid, nil, Allow, 0},
		{"no token", true, "", "/projects/1/files", client.LoginValid, nil, RedirectLogin, 0},
		{"valid", true, "jwt", "/projects/1/files", client.LoginValid, nil, Allow, 1},
		{"refreshed", true, "jwt", "/projects/1/files", client.LoginRefreshed, nil, Allow, 1},
		{"invalid", true, "jwt", "/projects/1/files", client.LoginInvalid, nil, RedirectLogin, 1},
		{"protocol error", true, "jwt", "/errors", client.LoginInvalid, client.ErrUnexpectedStatus, RedirectLogin, 1},
		{"network error", true, "jwt", "/errors", client.LoginValid, errors.New("dial"), RedirectLogin, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeValidator{outcome: tt.outcome, err: tt.err}
			g := New(v, tt.token, tt.interactive)

			assert.Equal(t, tt.want, g.Check(context.Background(), tt.route))
			assert.Equal(t, tt.calls, v.calls)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := &fakeValidator{outcome: client.LoginInvalid}
	g := New(v, fakeTokens("jwt"), true)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/1/files", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	v.outcome = client.LoginValid
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/1/files", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
