// Package metrics exposes Prometheus collectors for calls, batches and load tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apitest"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsTotal       *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	AssertionsFailed *prometheus.CounterVec
	BatchesTotal     *prometheus.CounterVec
	BatchesRunning   prometheus.Gauge
	LoadTestsTotal   *prometheus.CounterVec
	LoadTestsRunning prometheus.Gauge
}

// New registers collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Call attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Call attempt latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method"},
		),
		AssertionsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assertions_failed_total",
				Help:      "Failed assertion outcomes by kind",
			},
			[]string{"kind"},
		),
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Finished batches by final state",
			},
			[]string{"state"},
		),
		BatchesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_running",
			Help:      "Batches currently running",
		}),
		LoadTestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loadtests_total",
				Help:      "Load tests by lifecycle event",
			},
			[]string{"event"},
		),
		LoadTestsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loadtests_running",
			Help:      "Load-test workers currently tracked",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one call attempt
func (m *Metrics) ObserveCall(method string, passed bool, errored bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "passed"
	switch {
	case errored:
		outcome = "error"
	case !passed:
		outcome = "failed"
	}
	m.CallsTotal.WithLabelValues(method, outcome).Inc()
	m.CallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveAssertionFailure counts a failed assertion of the given kind
func (m *Metrics) ObserveAssertionFailure(kind string) {
	if m == nil {
		return
	}
	m.AssertionsFailed.WithLabelValues(kind).Inc()
}

// BatchStarted marks a batch as running
func (m *Metrics) BatchStarted() {
	if m == nil {
		return
	}
	m.BatchesRunning.Inc()
}

// BatchFinished records a batch's final state
func (m *Metrics) BatchFinished(state string) {
	if m == nil {
		return
	}
	m.BatchesRunning.Dec()
	m.BatchesTotal.WithLabelValues(state).Inc()
}

// LoadTestEvent records a load-test lifecycle event (started, stopped, collected, error)
func (m *Metrics) LoadTestEvent(event string) {
	if m == nil {
		return
	}
	m.LoadTestsTotal.WithLabelValues(event).Inc()
	switch event {
	case "started":
		m.LoadTestsRunning.Inc()
	case "collected":
		m.LoadTestsRunning.Dec()
	}
}
