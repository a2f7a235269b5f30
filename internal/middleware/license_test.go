package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cardkeyd/internal/errors"
	"cardkeyd/internal/infrastructure"
)

type stubSession struct {
	loggedIn bool
}

func (s *stubSession) IsLoggedIn() bool { return s.loggedIn }

func gateThrough(t *testing.T, gate *LicenseGate, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("product"))
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLicenseGateBlocksWithoutSession(t *testing.T) {
	gate := NewLicenseGate(&stubSession{loggedIn: false}, nil)

	rec := gateThrough(t, gate, "/api/product/data")
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, apperrors.CodeNotLoggedIn, problem["error_code"])
}

func TestLicenseGateAllowsActiveSession(t *testing.T) {
	gate := NewLicenseGate(&stubSession{loggedIn: true}, nil)

	rec := gateThrough(t, gate, "/api/product/data")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "product", rec.Body.String())
}

func TestLicenseGateExclusions(t *testing.T) {
	gate := NewLicenseGate(&stubSession{loggedIn: false}, nil)

	for _, path := range []string{
		"/",
		"/healthz",
		"/metrics",
		"/api/license/status",
		"/api/license/activate",
	} {
		rec := gateThrough(t, gate, path)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s must bypass the gate", path)
	}
}

func TestLicenseGateCustomExclusions(t *testing.T) {
	gate := NewLicenseGate(&stubSession{loggedIn: false}, nil)
	gate.AddExcludePath("/about")
	gate.AddExcludePrefix("/static/")

	assert.Equal(t, http.StatusOK, gateThrough(t, gate, "/about").Code)
	assert.Equal(t, http.StatusOK, gateThrough(t, gate, "/static/logo.svg").Code)
	assert.Equal(t, http.StatusPreconditionRequired, gateThrough(t, gate, "/api/product/x").Code)
}

func TestTraceIDMiddleware(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen string
		handler := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = infrastructure.GetTraceID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(TraceHeader))
	})

	t.Run("honours the caller's id", func(t *testing.T) {
		var seen string
		handler := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = infrastructure.GetTraceID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceHeader, "caller-trace-7")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "caller-trace-7", seen)
		assert.Equal(t, "caller-trace-7", rec.Header().Get(TraceHeader))
	})
}
