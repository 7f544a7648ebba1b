// Package guard checks the session before a route is entered.
package guard

import (
	"context"
	"net/http"
	"strings"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/pkg/client"
	"go.uber.org/zap"
)

// Decision is the outcome of a route check.
type Decision int

const (
	// Allow lets the route proceed.
	Allow Decision = iota
	// RedirectLogin sends the user to the login route.
	RedirectLogin
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "redirect_login"
}

// Validator checks the current session with the backend.
type Validator interface {
	ValidateLogin(ctx context.Context) (client.LoginOutcome, error)
}

// Tokens reports whether a session token is present.
type Tokens interface {
	Get() (string, bool)
}

// Guard runs the login validator on route entry.
type Guard struct {
	Validator Validator
	Tokens    Tokens
	// Interactive is false for scripted use; checks are then skipped.
	Interactive bool
	// HealthPrefix marks routes that are never checked.
	HealthPrefix string
	LoginPath    string
}

// New creates a guard with the default health and login routes.
func New(v Validator, tokens Tokens, interactive bool) *Guard {
	return &Guard{
		Validator:    v,
		Tokens:       tokens,
		Interactive:  interactive,
		HealthPrefix: "/ping",
		LoginPath:    "/login",
	}
}

// Exempt reports whether route bypasses the check.
func (g *Guard) Exempt(route string) bool {
	if g.HealthPrefix != "" && strings.HasPrefix(route, g.HealthPrefix) {
		return true
	}
	return route == g.LoginPath
}

// Check decides whether route may be entered. Without a token nothing is
// sent to the backend.
func (g *Guard) Check(ctx context.Context, route string) Decision {
	if !g.Interactive || g.Exempt(route) {
		return Allow
	}
	if _, ok := g.Tokens.Get(); !ok {
		return RedirectLogin
	}

	outcome, err := g.Validator.ValidateLogin(ctx)
	if err != nil {
		logging.WithContext(ctx).Error("login validation failed",
			zap.String("route", route), zap.Error(err))
		return RedirectLogin
	}
	if outcome.Authenticated() {
		return Allow
	}
	return RedirectLogin
}

// Middleware applies Check to every request and answers a redirect to the
// login route when the session is not usable.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Check(r.Context(), r.URL.Path) == RedirectLogin {
			http.Redirect(w, r, g.LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
