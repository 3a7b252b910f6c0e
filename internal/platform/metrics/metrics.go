// Package metrics holds the Prometheus collectors of the server.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally and tests pass nil.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks request, authentication and share-link metrics.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts /lox_api requests by matched rule and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks handler latency by matched rule.
	RequestDuration *prometheus.HistogramVec

	// AuthCacheLookups counts authentication cache lookups by result (hit, miss).
	AuthCacheLookups *prometheus.CounterVec

	// AuthVerifications counts external verification calls by outcome.
	AuthVerifications *prometheus.CounterVec

	// ShareLinks is the number of symlinks tracked by the link index.
	ShareLinks prometheus.Gauge
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localbox_requests_total",
				Help: "Total API requests by rule and status",
			},
			[]string{"rule", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localbox_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
		AuthCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localbox_auth_cache_lookups_total",
				Help: "Authentication cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
		AuthVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localbox_auth_verifications_total",
				Help: "External token verifications by result",
			},
			[]string{"result"}, // "ok", "rejected", "unreachable"
		),
		ShareLinks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "localbox_share_links",
				Help: "Share symlinks tracked by the link index",
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.AuthCacheLookups,
		m.AuthVerifications,
		m.ShareLinks,
	)
	return m
}

// Registry returns the underlying registry, nil for a nil receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatched request.
func (m *Metrics) ObserveRequest(rule string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if rule == "" {
		rule = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(rule, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(rule).Observe(d.Seconds())
}

// AuthCacheLookup records a cache hit or miss.
func (m *Metrics) AuthCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AuthCacheLookups.WithLabelValues(result).Inc()
}

// AuthVerification records the outcome of an external verification.
func (m *Metrics) AuthVerification(result string) {
	if m == nil {
		return
	}
	m.AuthVerifications.WithLabelValues(result).Inc()
}

// SetShareLinks sets the share link gauge.
func (m *Metrics) SetShareLinks(n int) {
	if m == nil {
		return
	}
	m.ShareLinks.Set(float64(n))
}
