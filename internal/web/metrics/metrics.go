// Package metrics exposes Prometheus counters for the HTTP surface and the
// analysis runs behind it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heatcheck/internal/model"
)

const namespace = "heatcheck"

// Metrics holds every collector on its own registry
type Metrics struct {
	Registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	records      prometheus.Counter
	anomalies    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Analysis runs by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_total",
			Help:      "Joined records produced by analysis runs.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Flagged records by anomaly flag.",
		}, []string{"flag"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.requests, m.duration, m.runs, m.records, m.anomalies, m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveRun records a run outcome: "ok", "cached" or "error"
func (m *Metrics) ObserveRun(outcome string) {
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveRecords counts the records of a fresh run and their flags
func (m *Metrics) ObserveRecords(records []model.JoinedRecord) {
	m.records.Add(float64(len(records)))
	for _, r := range records {
		if !r.Flags.Any() {
			continue
		}
		for _, f := range r.Flags.List() {
			m.anomalies.WithLabelValues(string(f)).Inc()
		}
	}
}

// ObserveCache records a cache lookup: "hit", "miss" or "error"
func (m *Metrics) ObserveCache(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}
