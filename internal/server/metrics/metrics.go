// Package metrics exposes prometheus collectors for the attachment server.
// All methods are safe on a nil *Metrics, so components can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attachkeeper"

type Metrics struct {
	registry *prometheus.Registry

	ingests         prometheus.Counter
	ingestedBytes   prometheus.Counter
	downloads       prometheus.Counter
	rejections      *prometheus.CounterVec
	reapedBlobs     prometheus.Counter
	purgedRecords   prometheus.Counter
	releaseFailures prometheus.Counter
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		ingests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingests_total",
			Help: "Attachments stored.",
		}),
		ingestedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingested_bytes_total",
			Help: "Payload bytes stored.",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "downloads_total",
			Help: "Attachments served.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Requests refused, by reason.",
		}, []string{"reason"}),
		reapedBlobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaped_blobs_total",
			Help: "Expired payloads deleted by the reaper.",
		}),
		purgedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "purged_records_total",
			Help: "Records removed after the retention horizon.",
		}),
		releaseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quota_release_failures_total",
			Help: "Quota releases the account service did not confirm.",
		}),
	}

	reg.MustRegister(m.ingests, m.ingestedBytes, m.downloads, m.rejections,
		m.reapedBlobs, m.purgedRecords, m.releaseFailures)
	return m
}

// TrackRateWindows publishes fn as the rate_limit_windows gauge.
func (m *Metrics) TrackRateWindows(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "rate_limit_windows",
		Help: "Download rate windows currently tracked.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Ingested(size int64) {
	if m == nil {
		return
	}
	m.ingests.Inc()
	m.ingestedBytes.Add(float64(size))
}

func (m *Metrics) Downloaded() {
	if m == nil {
		return
	}
	m.downloads.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reaped(n int) {
	if m == nil {
		return
	}
	m.reapedBlobs.Add(float64(n))
}

func (m *Metrics) Purged(n int) {
	if m == nil {
		return
	}
	m.purgedRecords.Add(float64(n))
}

func (m *Metrics) ReleaseFailed() {
	if m == nil {
		return
	}
	m.releaseFailures.Inc()
}
