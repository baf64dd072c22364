package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{
		0:   "error",
		200: "2xx",
		204: "2xx",
		404: "4xx",
		503: "5xx",
	} {
		require.Equal(t, want, StatusClass(code), "code %d", code)
	}
}

func TestStartRequestRecords(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test-op", "4xx"))
	done := StartRequest("test-op")
	require.Equal(t, 1.0, testutil.ToFloat64(InFlight.WithLabelValues("test-op")))
	done(http.StatusConflict)
	require.Equal(t, 0.0, testutil.ToFloat64(InFlight.WithLabelValues("test-op")))
	require.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("test-op", "4xx")))
}

func TestInstrumentCountsServedStatus(t *testing.T) {
	h := Instrument("teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(ServedTotal.WithLabelValues("teapot", "4xx"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(ServedTotal.WithLabelValues("teapot", "4xx")))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	SetBuildInfo("test", "abc123")
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `peersync_build_info{git_sha="abc123",version="test"} 1`)
}
