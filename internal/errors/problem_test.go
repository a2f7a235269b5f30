package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusForbidden, "/errors/trust-expired", "Card Key Expired", "expired", "/api/license#trace-abc").
		WithExtension("error_code", CodeTrustExpired).
		WithExtension("days_overdue", 3)

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "/errors/trust-expired", got["type"])
	assert.Equal(t, float64(http.StatusForbidden), got["status"])
	assert.Equal(t, CodeTrustExpired, got["error_code"])
	assert.Equal(t, float64(3), got["days_overdue"])
}

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"key required", ErrKeyRequired, http.StatusBadRequest, CodeKeyRequired},
		{"already logged in", ErrAlreadyLoggedIn, http.StatusConflict, CodeAlreadyLoggedIn},
		{"not logged in", ErrNotLoggedIn, http.StatusPreconditionRequired, CodeNotLoggedIn},
		{"key rejected", ErrKeyRejected, http.StatusUnprocessableEntity, CodeKeyRejected},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{"verify unavailable", ErrVerifyUnavailable, http.StatusServiceUnavailable, CodeVerifyUnavailable},
		{"trust expired", ErrTrustExpired, http.StatusForbidden, CodeTrustExpired},
		{"unparseable expiry maps to expired", ErrExpiryUnparseable, http.StatusForbidden, CodeTrustExpired},
		{"hardware mismatch", ErrHardwareMismatch, http.StatusForbidden, CodeHardwareMismatch},
		{"no local trust", ErrNoLocalTrust, http.StatusPreconditionRequired, CodeNoLocalTrust},
		{"unknown error", fmt.Errorf("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd, ok := MapLicenseError(tt.err, "trace-1").(*ProblemDetails)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, pd.Status)
			assert.Equal(t, tt.wantCode, pd.Extensions["error_code"])
			assert.Equal(t, "trace-1", pd.Extensions["trace_id"])
		})
	}
}

func TestMapLicenseErrorUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", ErrKeyRejected)
	pd, ok := MapLicenseError(wrapped, "trace-2").(*ProblemDetails)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, pd.Status)
}
