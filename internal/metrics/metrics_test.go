package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.DownloadAttempt("empty")
	m.DownloadAttempt("ok")
	m.DepthRun(3*time.Second, 12, nil)
	m.DepthRun(time.Second, 0, errors.New("x"))
	m.Notification("discord", nil)
	m.Request("/api/health", "GET", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadAttempts.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.intervalsEmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("discord", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/health", "GET", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.VolumeRefresh(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "depth_analytics_volume_refreshes_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DownloadAttempt("ok")
		m.DepthRun(time.Second, 1, nil)
		m.VolumeRefresh(nil)
		m.Notification("x", nil)
		m.Request("/", "GET", 200, 0)
	})
	assert.Nil(t, m.Registry())
}
