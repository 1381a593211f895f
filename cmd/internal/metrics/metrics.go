// Package metrics owns skinlink's Prometheus collectors.
// All methods are safe on a nil *Metrics so callers never need to guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skinlink"

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	noncesIssued   prometheus.Counter
	verifications  *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	transferTiming prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

// New registers all collectors, plus Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		noncesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "nonces_issued_total",
			Help:      "Challenge nonces issued.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "verifications_total",
			Help:      "Link verification attempts by result.",
		}, []string{"result"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "transfers_total",
			Help:      "Credit transfers by result.",
		}, []string{"result"}),
		transferTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "transfer_seconds",
			Help:      "Time from request to confirmation or failure.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 90},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.noncesIssued,
		m.verifications,
		m.transfers,
		m.transferTiming,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) NonceIssued() {
	if m == nil {
		return
	}
	m.noncesIssued.Inc()
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Transfer(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
	m.transferTiming.Observe(took.Seconds())
}

func (m *Metrics) HTTPRequest(method, class string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
}
