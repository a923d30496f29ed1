// Package metrics exposes loop counters for Prometheus scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thoughtloop"

// Cycle results.
const (
	ResultOK     = "ok"
	ResultEmpty  = "empty"
	ResultFailed = "failed"
)

// Backend call kinds.
const (
	KindAutonomous = "autonomous"
	KindHuman      = "human"
	KindDetox      = "detox"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	probes        *prometheus.CounterVec
	detoxChanged  *prometheus.CounterVec
	backend       *prometheus.HistogramVec
	thoughts      prometheus.Gauge
	segments      prometheus.Gauge
	contamination prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Autonomous cycles by result",
		}, []string{"result"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_fired_total",
			Help:      "Scheduled probes injected, by protocol",
		}, []string{"protocol"}),
		detoxChanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detox",
			Name:      "segments_changed_total",
			Help:      "Segments rewritten by detox passes, by strategy",
		}, []string{"strategy"}),
		backend: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_seconds",
			Help:      "Completion backend call latency in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"kind"}),
		thoughts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thought_count",
			Help:      "Successful autonomous cycles in the current run",
		}),
		segments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_segments",
			Help:      "Segments held in the context store",
		}),
		contamination: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contamination_avg",
			Help:      "Average contamination score over the context store",
		}),
	}
}

// Registry returns the underlying registry.
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

func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) Probe(protocol string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(protocol).Inc()
}

func (m *Metrics) DetoxChanged(strategy string, n int) {
	if m == nil {
		return
	}
	m.detoxChanged.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) Backend(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.backend.WithLabelValues(kind).Observe(d.Seconds())
}

// State sets the gauges from a consistent view of the engine.
func (m *Metrics) State(thoughts, segments int, contamination float64) {
	if m == nil {
		return
	}
	m.thoughts.Set(float64(thoughts))
	m.segments.Set(float64(segments))
	m.contamination.Set(contamination)
}
