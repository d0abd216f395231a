// Package metrics holds the Prometheus collectors for the mount engine. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simplemounts"

type Metrics struct {
	registry *prometheus.Registry

	ops         *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	active      prometheus.Gauge
	codec       *prometheus.CounterVec
	distance    *prometheus.CounterVec
	drains      *prometheus.CounterVec
	drainMounts *prometheus.CounterVec
	drainTime   prometheus.Histogram
	sweeps      *prometheus.CounterVec
}

// New builds the collectors on a private registry together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation and result code.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Lifecycle operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_mounts",
			Help:      "Mounts currently live in the world.",
		}),
		codec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_degraded_total",
			Help:      "Codec fallbacks by codec and outcome (recovered, placeholder, lost, empty).",
		}, []string{"codec", "outcome"}),
		distance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_events_total",
			Help:      "Distance monitor warnings and evictions.",
		}, []string{"event"}),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Shutdown drains by mode.",
		}, []string{"mode"}),
		drainMounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_mounts_total",
			Help:      "Mounts handled by shutdown drains, by result.",
		}, []string{"result"}),
		drainTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Shutdown drain duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_rows_total",
			Help:      "Rows removed by maintenance sweeps.",
		}, []string{"sweep"}),
	}
	reg.MustRegister(
		m.ops, m.opDuration, m.active, m.codec, m.distance,
		m.drains, m.drainMounts, m.drainTime, m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry so other packages can add collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Op(op, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.opDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) Codec(codec, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.codec.WithLabelValues(codec, outcome).Add(float64(n))
}

func (m *Metrics) Distance(event string) {
	if m == nil {
		return
	}
	m.distance.WithLabelValues(event).Inc()
}

func (m *Metrics) Drain(mode string, stored, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(mode).Inc()
	m.drainMounts.WithLabelValues("stored").Add(float64(stored))
	m.drainMounts.WithLabelValues("failed").Add(float64(failed))
	m.drainTime.Observe(took.Seconds())
}

func (m *Metrics) Swept(sweep string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.sweeps.WithLabelValues(sweep).Add(float64(rows))
}

// GaugeFunc registers a gauge computed at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
