// Package middleware contains the HTTP middleware of the licensed service:
// the license gate that fences product routes behind an active session, and
// trace-id propagation.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "cardkeyd/internal/errors"
	"cardkeyd/internal/infrastructure"
)

// SessionChecker is what the gate needs to know about the session.
type SessionChecker interface {
	IsLoggedIn() bool
}

// LicenseGate blocks product routes until a card-key login is active.
// License management, health and metrics endpoints are always reachable,
// otherwise an unlicensed user could never activate.
type LicenseGate struct {
	session         SessionChecker
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string
}

// NewLicenseGate creates the gate with the default exclusions.
func NewLicenseGate(session SessionChecker, logger *slog.Logger) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseGate{
		session: session,
		logger:  logger.With(slog.String("component", "license_gate")),
		excludePaths: map[string]struct{}{
			"/":        {},
			"/healthz": {},
			"/metrics": {},
		},
		excludePrefixes: []string{
			"/api/license",
		},
	}
}

// AddExcludePath excludes an exact path from gating.
func (g *LicenseGate) AddExcludePath(path string) {
	g.excludePaths[path] = struct{}{}
}

// AddExcludePrefix excludes a path prefix from gating.
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// Handler returns the gating middleware.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldExclude(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if g.session.IsLoggedIn() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		traceID := infrastructure.GetTraceID(ctx)
		g.logger.InfoContext(ctx, "request blocked, no active license session",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method))

		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrNotLoggedIn, traceID))
	})
}

func (g *LicenseGate) shouldExclude(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
