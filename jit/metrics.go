package jit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports record transitions to Prometheus. Install it with
// WithListener.
type Metrics struct {
	compiles        *prometheus.CounterVec
	specializations *prometheus.CounterVec
	guardFailures   prometheus.Counter
	compileDuration prometheus.Histogram
}

// NewMetrics registers the JIT collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		compiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyjion_compiles_total",
			Help: "Compile attempts by result",
		}, []string{"result"}),
		specializations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyjion_specializations_total",
			Help: "Profile-guided recompiles by outcome",
		}, []string{"outcome"}),
		guardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyjion_guard_failures_total",
			Help: "Specialized operations that fell back to the generic path",
		}),
		compileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyjion_compile_duration_seconds",
			Help:    "Backend compile latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),
	}
}

// OnTransition implements Listener.
func (m *Metrics) OnTransition(e Event) {
	switch e.Kind {
	case EventCompiled, EventFailed, EventDiscarded:
		label := e.Result.String()
		if e.Kind == EventDiscarded {
			label = "discarded"
		}
		m.compiles.WithLabelValues(label).Inc()
		m.compileDuration.Observe(e.Duration.Seconds())
	case EventSpecialized:
		m.specializations.WithLabelValues("optimized").Inc()
		m.compileDuration.Observe(e.Duration.Seconds())
	case EventSpecializeFailed:
		m.specializations.WithLabelValues("failed").Inc()
	case EventGuardFailure:
		m.guardFailures.Add(float64(e.Count))
	}
}
