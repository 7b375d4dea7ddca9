// Package metrics holds the Prometheus collectors of the analytics service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depth_analytics"

type Metrics struct {
	registry *prometheus.Registry

	downloadAttempts *prometheus.CounterVec
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	intervalsEmitted prometheus.Counter
	volumeRefreshes  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		downloadAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_attempts_total",
				Help:      "Archive download attempts by outcome",
			},
			[]string{"result"},
		),
		pipelineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depth_runs_total",
				Help:      "Depth pipeline runs by status",
			},
			[]string{"status"},
		),
		pipelineDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "depth_run_duration_seconds",
				Help:      "Depth pipeline duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		intervalsEmitted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depth_intervals_total",
				Help:      "Interval results produced by the aggregator",
			},
		),
		volumeRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "volume_refreshes_total",
				Help:      "Volume ranking refreshes by status",
			},
			[]string{"status"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications sent by channel and status",
			},
			[]string{"channel", "status"},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DownloadAttempt records one downloader attempt; result is "ok", "empty",
// "invalid" or "error".
func (m *Metrics) DownloadAttempt(result string) {
	if m == nil {
		return
	}
	m.downloadAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) DepthRun(elapsed time.Duration, intervals int, err error) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status(err)).Inc()
	m.pipelineDuration.Observe(elapsed.Seconds())
	m.intervalsEmitted.Add(float64(intervals))
}

func (m *Metrics) VolumeRefresh(err error) {
	if m == nil {
		return
	}
	m.volumeRefreshes.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status(err)).Inc()
}

func (m *Metrics) Request(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
