package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeOTel(t *testing.T) {
	providers, err := InitializeOTel("cardkeyd-test", "0.0.0")
	require.NoError(t, err)
	require.NotNil(t, providers.MeterProvider)
	require.NotNil(t, providers.MetricsHandler)

	meter := providers.MeterProvider.Meter("test")
	counter, err := meter.Int64Counter("test_counter_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total")

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitializeOTelTwiceDoesNotCollide(t *testing.T) {
	first, err := InitializeOTel("cardkeyd-test", "0.0.0")
	require.NoError(t, err)
	second, err := InitializeOTel("cardkeyd-test", "0.0.0")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	second.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, first.Shutdown(context.Background()))
	require.NoError(t, second.Shutdown(context.Background()))
}

func TestTraceIDFromContextEmpty(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
