// Package metrics exposes prometheus collectors for library, plugin, batch
// and HTTP activity. All Record methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	LibraryOps         *prometheus.CounterVec
	LibraryOpDuration  *prometheus.HistogramVec
	PluginCalls        *prometheus.CounterVec
	PluginCallDuration *prometheus.HistogramVec
	BatchesTotal       *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	BatchRemaining     prometheus.Gauge
	SignalCacheLookups *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LibraryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nendo",
				Subsystem: "library",
				Name:      "operations_total",
				Help:      "Library operations by name and outcome",
			},
			[]string{"op", "status"},
		),
		LibraryOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nendo",
				Subsystem: "library",
				Name:      "operation_duration_seconds",
				Help:      "Library operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		PluginCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nendo",
				Subsystem: "plugin",
				Name:      "calls_total",
				Help:      "Plugin calls by plugin, op kind and outcome",
			},
			[]string{"plugin", "kind", "status"},
		),
		PluginCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nendo",
				Subsystem: "plugin",
				Name:      "call_duration_seconds",
				Help:      "Plugin call duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"plugin"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nendo",
				Subsystem: "batch",
				Name:      "batches_total",
				Help:      "Processed batches by outcome",
			},
			[]string{"status"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "nendo",
				Subsystem: "batch",
				Name:      "duration_seconds",
				Help:      "Batch processing duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
			},
		),
		BatchRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nendo",
				Subsystem: "batch",
				Name:      "eta_seconds",
				Help:      "Estimated remaining time of the running batch job",
			},
		),
		SignalCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nendo",
				Subsystem: "signal_cache",
				Name:      "lookups_total",
				Help:      "Signal cache lookups by result",
			},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nendo",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}

	m.registry.MustRegister(
		m.LibraryOps,
		m.LibraryOpDuration,
		m.PluginCalls,
		m.PluginCallDuration,
		m.BatchesTotal,
		m.BatchDuration,
		m.BatchRemaining,
		m.SignalCacheLookups,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordLibraryOp counts a library operation and its duration.
func (m *Metrics) RecordLibraryOp(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.LibraryOps.WithLabelValues(op, status(err)).Inc()
	m.LibraryOpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// RecordPluginCall counts a dispatched plugin call.
func (m *Metrics) RecordPluginCall(plugin, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PluginCalls.WithLabelValues(plugin, kind, status(err)).Inc()
	m.PluginCallDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// RecordBatch counts a finished batch and updates the ETA gauge.
func (m *Metrics) RecordBatch(d, remaining time.Duration, err error) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(status(err)).Inc()
	m.BatchDuration.Observe(d.Seconds())
	m.BatchRemaining.Set(remaining.Seconds())
}

// RecordSignalCache counts a cache hit or miss.
func (m *Metrics) RecordSignalCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SignalCacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
