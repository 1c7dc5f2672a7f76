// Package metrics exposes Prometheus collectors for the matching pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dronewatch"

// Recorder is what the pipeline reports into. A nil *Metrics is a valid
// no-op recorder.
type Recorder interface {
	Decision(outcome, tier string)
	CapabilityFailure(capability, provider string)
	CapabilityLatency(capability, provider string, d time.Duration)
	LockWait(d time.Duration)
	Rejected(reason string)
}

type Metrics struct {
	registry           *prometheus.Registry
	decisions          *prometheus.CounterVec
	capabilityFailures *prometheus.CounterVec
	capabilityLatency  *prometheus.HistogramVec
	lockWait           prometheus.Histogram
	rejected           *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Matching decisions by outcome and deciding tier",
	}, []string{"outcome", "tier"})
	m.capabilityFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capability_failures_total",
		Help:      "Embedding and reasoning calls that failed or timed out",
	}, []string{"capability", "provider"})
	m.capabilityLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capability_latency_seconds",
		Help:      "Latency of embedding and reasoning calls",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2},
	}, []string{"capability", "provider"})
	m.lockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for a spacetime region lease",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	m.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_candidates_total",
		Help:      "Candidates dropped before matching",
	}, []string{"reason"})

	m.registry.MustRegister(
		m.decisions, m.capabilityFailures, m.capabilityLatency, m.lockWait, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Decision(outcome, tier string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, tier).Inc()
}

func (m *Metrics) CapabilityFailure(capability, provider string) {
	if m == nil {
		return
	}
	m.capabilityFailures.WithLabelValues(capability, provider).Inc()
}

func (m *Metrics) CapabilityLatency(capability, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.capabilityLatency.WithLabelValues(capability, provider).Observe(d.Seconds())
}

func (m *Metrics) LockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
