// Package metrics exports engine activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// Prometheus implements domain.MetricsReporter on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	results       *prometheus.CounterVec
	credits       *prometheus.CounterVec
	effectiveness *prometheus.HistogramVec
}

// NewPrometheus creates and registers the engine metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Probe requests issued, by kind and outcome (blocked, passed, error)",
			},
			[]string{"kind", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Probe request latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"kind"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Finished tests, by kind and verdict",
			},
			[]string{"kind", "verdict"},
		),
		credits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_used_total",
				Help:      "Credits consumed by finished tests",
			},
			[]string{"kind"},
		),
		effectiveness: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "security_effectiveness_percent",
				Help:      "Share of injection payloads blocked per test",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(m.requests, m.latency, m.results, m.credits, m.effectiveness)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// ObserveRequest implements domain.MetricsReporter.
func (m *Prometheus) ObserveRequest(kind domain.TestKind, blocked, failed bool, latency time.Duration) {
	outcome := "passed"
	switch {
	case failed:
		outcome = "error"
	case blocked:
		outcome = "blocked"
	}
	m.requests.WithLabelValues(string(kind), outcome).Inc()
	if !failed {
		m.latency.WithLabelValues(string(kind)).Observe(latency.Seconds())
	}
}

// ObserveResult implements domain.MetricsReporter.
func (m *Prometheus) ObserveResult(r *domain.TestResult, kind domain.TestKind) {
	verdict := string(r.ResultDetails.Verdict)
	if r.ResultDetails.Error != "" {
		verdict = "error"
	}
	m.results.WithLabelValues(string(kind), verdict).Inc()
	m.credits.WithLabelValues(string(kind)).Add(float64(r.CreditsUsed))
	if kind.Family() == domain.FamilyInjection {
		m.effectiveness.WithLabelValues(string(kind)).Observe(r.ResultDetails.SecurityEffectiveness)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
