// Package http exposes the local license control surface: status and trust
// inspection, card-key activation, logout and cache maintenance. It serves
// diagnostics and control for the machine's operator, not a public API.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "cardkeyd/internal/errors"
	"cardkeyd/internal/infrastructure"
	"cardkeyd/internal/license"
)

// LicenseSession is the slice of the session the handler needs.
type LicenseSession interface {
	Login(ctx context.Context, key, userIdentifier string) (*license.LoginResult, error)
	ResumeLocal(ctx context.Context) (*license.LoginResult, error)
	Logout() error
	IsLoggedIn() bool
	CheckLocalTrust() license.LocalTrust
	Debug() license.DebugInfo
	ClearCache() error
	HardwareID() string
}

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	session  LicenseSession
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates a license handler around the session.
func NewLicenseHandler(session LicenseSession, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		session:  session,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// ActivationRequest is the card-key login payload.
type ActivationRequest struct {
	Key            string `json:"key" validate:"required,min=4"`
	UserIdentifier string `json:"user_identifier" validate:"omitempty,max=128"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(r *http.Request) error {
	return nil
}

// StatusResponse reports the session state.
type StatusResponse struct {
	LoggedIn   bool               `json:"logged_in"`
	HardwareID string             `json:"hardware_id"`
	Trust      license.LocalTrust `json:"trust"`
	Timestamp  time.Time          `json:"timestamp"`
}

// ActivationResponse reports a successful login.
type ActivationResponse struct {
	Success     bool                 `json:"success"`
	Source      license.LoginSource  `json:"source"`
	Message     string               `json:"message,omitempty"`
	Entitlement *license.Entitlement `json:"entitlement,omitempty"`
	TraceID     string               `json:"trace_id,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/trust", h.GetTrust)
	r.Post("/activate", h.Activate)
	r.Post("/resume", h.Resume)
	r.Post("/logout", h.Logout)

	r.Get("/debug", h.GetDebug)
	r.Post("/clear-cache", h.ClearCache)

	return r
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, StatusResponse{
		LoggedIn:   h.session.IsLoggedIn(),
		HardwareID: h.session.HardwareID(),
		Trust:      h.session.CheckLocalTrust(),
		Timestamp:  time.Now(),
	})
}

// GetTrust handles GET /api/license/trust: the cache verdict alone, without
// session state.
func (h *LicenseHandler) GetTrust(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.session.CheckLocalTrust())
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		h.renderError(w, r, apperrors.ErrKeyRequired, traceID)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.logger.InfoContext(ctx, "activation request failed validation",
			slog.String("error", err.Error()))
		h.renderError(w, r, apperrors.ErrKeyRequired, traceID)
		return
	}

	result, err := h.session.Login(ctx, req.Key, req.UserIdentifier)
	if err != nil {
		h.logger.InfoContext(ctx, "activation failed",
			slog.String("key", license.MaskKey(req.Key)),
			slog.String("error", err.Error()))
		h.renderError(w, r, err, traceID)
		return
	}

	h.logger.InfoContext(ctx, "activation succeeded",
		slog.String("key", license.MaskKey(req.Key)),
		slog.String("source", string(result.Source)))
	render.JSON(w, r, ActivationResponse{
		Success:     true,
		Source:      result.Source,
		Message:     result.Message,
		Entitlement: result.Entitlement,
		TraceID:     traceID,
		Timestamp:   time.Now(),
	})
}

// Resume handles POST /api/license/resume: log in from local trust only.
func (h *LicenseHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	result, err := h.session.ResumeLocal(ctx)
	if err != nil {
		h.renderError(w, r, err, traceID)
		return
	}

	render.JSON(w, r, ActivationResponse{
		Success:     true,
		Source:      result.Source,
		Message:     result.Message,
		Entitlement: result.Entitlement,
		TraceID:     traceID,
		Timestamp:   time.Now(),
	})
}

// Logout handles POST /api/license/logout.
func (h *LicenseHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	err := h.session.Logout()
	if err != nil && !errors.Is(err, apperrors.ErrHeartbeatStopTimeout) {
		h.renderError(w, r, err, traceID)
		return
	}
	if err != nil {
		// logged out, but the monitor goroutine missed its deadline
		h.logger.WarnContext(ctx, "logout completed with heartbeat stop timeout")
	}
	render.JSON(w, r, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now(),
	})
}

// GetDebug handles GET /api/license/debug.
func (h *LicenseHandler) GetDebug(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.session.Debug())
}

// ClearCache handles POST /api/license/clear-cache.
func (h *LicenseHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(ctx)

	if err := h.session.ClearCache(); err != nil {
		h.logger.ErrorContext(ctx, "failed to clear trust cache", slog.String("error", err.Error()))
		h.renderError(w, r, err, traceID)
		return
	}
	h.logger.InfoContext(ctx, "trust cache cleared")
	render.JSON(w, r, map[string]interface{}{
		"success":   true,
		"timestamp": time.Now(),
	})
}

func (h *LicenseHandler) traceID(ctx context.Context) string {
	if id := infrastructure.TraceIDFromContext(ctx); id != "" {
		return id
	}
	if id := infrastructure.GetTraceID(ctx); id != "" {
		return id
	}
	return middleware.GetReqID(ctx)
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error, traceID string) {
	render.Render(w, r, apperrors.MapLicenseError(err, traceID))
}
