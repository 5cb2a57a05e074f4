// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outreach/automation"
	"outreach/models"
	"outreach/worker"
)

const namespace = "outreach"

// Metrics owns a private registry so tests and multiple instances do not collide
type Metrics struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	cycles       prometheus.Counter
	cycleLength  prometheus.Histogram
	dueSequences prometheus.Gauge
	cycleErrors  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_outcomes_total",
			Help:      "Processed steps by step type and outcome.",
		}, []string{"step_type", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_execution_seconds",
			Help:      "Time spent in the action executor per attempted step.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"step_type"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_cycles_total",
			Help:      "Completed scheduling cycles.",
		}),
		cycleLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduling_cycle_seconds",
			Help:      "Wall time of a scheduling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		dueSequences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_sequences",
			Help:      "Sequences found due in the last cycle.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_errors_total",
			Help:      "Sequences whose processing returned an error.",
		}),
	}

	m.registry.MustRegister(
		m.steps,
		m.stepDuration,
		m.cycles,
		m.cycleLength,
		m.dueSequences,
		m.cycleErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStep implements automation.Recorder
func (m *Metrics) ObserveStep(stepType models.StepType, outcome automation.Outcome, duration time.Duration) {
	m.steps.WithLabelValues(string(stepType), string(outcome)).Inc()
	if duration > 0 {
		m.stepDuration.WithLabelValues(string(stepType)).Observe(duration.Seconds())
	}
}

// ObserveCycle implements worker.CycleObserver
func (m *Metrics) ObserveCycle(report worker.CycleReport) {
	m.cycles.Inc()
	m.cycleLength.Observe(report.Duration.Seconds())
	m.dueSequences.Set(float64(report.Due))
	m.cycleErrors.Add(float64(report.Errors))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
