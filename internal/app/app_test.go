package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardkeyd/internal/infrastructure"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(infrastructure.ResetLoggerForTesting)

	dir := t.TempDir()
	t.Setenv("CARDKEY_LICENSE_VERIFY_URL", "https://keys.example.com/api/card-keys/verify")
	t.Setenv("CARDKEY_LICENSE_CACHE_FILE", filepath.Join(dir, "verification.bin"))
	t.Setenv("CARDKEY_LICENSE_LEGACY_CACHE_FILE", filepath.Join(dir, "verification.json"))
	t.Setenv("CARDKEY_LOGGING_OUTPUT", "console")

	app, err := New("")
	require.NoError(t, err)
	return app
}

func TestNewApplicationWiresEverything(t *testing.T) {
	app := newTestApp(t)

	require.NotNil(t, app.Config)
	require.NotNil(t, app.Session)
	require.NotNil(t, app.Router)
	require.NotNil(t, app.Server)
	assert.NotEmpty(t, app.Session.HardwareID())
}

func TestRouterHealthAndMetricsBypassGate(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/healthz", "/metrics", "/api/license/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterGatesProductRoutes(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/product/entitlement", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
}
