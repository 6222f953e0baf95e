package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Ingested(100)
	m.Ingested(50)
	m.Downloaded()
	m.Rejected("rate_limited")
	m.Rejected("rate_limited")
	m.Reaped(3)
	m.Purged(2)
	m.ReleaseFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingests))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.ingestedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejections.WithLabelValues("rate_limited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reapedBlobs))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.purgedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releaseFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Ingested(1)
		m.Downloaded()
		m.Rejected("x")
		m.Reaped(1)
		m.Purged(1)
		m.ReleaseFailed()
		m.TrackRateWindows(func() int { return 0 })
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesGauge(t *testing.T) {
	m := New()
	m.TrackRateWindows(func() int { return 7 })
	m.Downloaded()

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "attachkeeper_rate_limit_windows 7")
	assert.Contains(t, string(body), "attachkeeper_downloads_total 1")
}
