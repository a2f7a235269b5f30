package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extension members into the problem object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension member to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps domain errors to HTTP problem details.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	problem := func(status int, typ, title, detail, code string) *ProblemDetails {
		return NewProblemDetails(status, typ, title, detail, instance).
			WithExtension("trace_id", traceID).
			WithExtension("error_code", code)
	}

	switch {
	case errors.Is(err, ErrKeyRequired):
		return problem(http.StatusBadRequest,
			"/errors/key-required", "Card Key Required",
			"A card key must be provided to log in.", CodeKeyRequired)

	case errors.Is(err, ErrAlreadyLoggedIn):
		return problem(http.StatusConflict,
			"/errors/already-logged-in", "Already Logged In",
			"A session is already active. Log out before logging in again.", CodeAlreadyLoggedIn)

	case errors.Is(err, ErrNotLoggedIn):
		return problem(http.StatusPreconditionRequired,
			"/errors/not-logged-in", "Not Logged In",
			"No active session. Log in with a valid card key to continue.", CodeNotLoggedIn)

	case errors.Is(err, ErrKeyRejected):
		return problem(http.StatusUnprocessableEntity,
			"/errors/key-rejected", "Card Key Rejected",
			"The verification service rejected this card key.", CodeKeyRejected)

	case errors.Is(err, ErrRateLimited):
		return problem(http.StatusTooManyRequests,
			"/errors/rate-limited", "Too Many Requests",
			"Too many verification attempts. Please try again later.", CodeRateLimited)

	case errors.Is(err, ErrVerifyUnavailable):
		return problem(http.StatusServiceUnavailable,
			"/errors/verify-unavailable", "Verification Service Unavailable",
			"Unable to reach the verification service. Please check your connection.", CodeVerifyUnavailable)

	case errors.Is(err, ErrTrustExpired), errors.Is(err, ErrExpiryUnparseable):
		return problem(http.StatusForbidden,
			"/errors/trust-expired", "Card Key Expired",
			"The card key bound to this machine has expired.", CodeTrustExpired)

	case errors.Is(err, ErrHardwareMismatch):
		return problem(http.StatusForbidden,
			"/errors/hardware-mismatch", "Hardware Mismatch",
			"The cached trust belongs to a different machine.", CodeHardwareMismatch)

	case errors.Is(err, ErrNoLocalTrust):
		return problem(http.StatusPreconditionRequired,
			"/errors/no-local-trust", "No Local Trust",
			"No usable cached verification exists on this machine.", CodeNoLocalTrust)

	default:
		return problem(http.StatusInternalServerError,
			"/errors/internal-error", "Internal Server Error",
			"An unexpected error occurred while processing your request.", CodeInternal)
	}
}
