// Package obsmetrics exposes ralph's run counters/gauges as Prometheus
// collectors. THE CORE only records; nothing in this module starts an
// HTTP server, since serving /metrics is a CLI-layer concern and the CLI
// is out of scope.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"ralph/internal/model"
)

// Metrics groups every collector this module registers.
type Metrics struct {
	IterationsTotal  prometheus.Counter
	StoriesPassed    prometheus.Counter
	StoriesFailed    prometheus.Counter
	StoriesDeferred  prometheus.Counter
	GatePassTotal    *prometheus.CounterVec
	GateFailTotal    *prometheus.CounterVec
	ActiveWorkers    prometheus.Gauge
	CheckpointsSaved prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_iterations_total",
			Help: "Total iterations run across all stories.",
		}),
		StoriesPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_stories_passed_total",
			Help: "Stories that reached a passing ExecutionResult.",
		}),
		StoriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_stories_failed_total",
			Help: "Stories that terminated without passing.",
		}),
		StoriesDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_stories_deferred_total",
			Help: "Stories deferred by the futility detector or conflict reconciliation.",
		}),
		GatePassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_gate_pass_total",
			Help: "Quality gate passes, by gate name.",
		}, []string{"gate"}),
		GateFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ralph_gate_fail_total",
			Help: "Quality gate failures, by gate name.",
		}, []string{"gate"}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_active_workers",
			Help: "Story workers currently holding a concurrency permit.",
		}),
		CheckpointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ralph_checkpoints_saved_total",
			Help: "Checkpoint saves written to disk.",
		}),
	}

	reg.MustRegister(
		m.IterationsTotal, m.StoriesPassed, m.StoriesFailed, m.StoriesDeferred,
		m.GatePassTotal, m.GateFailTotal, m.ActiveWorkers, m.CheckpointsSaved,
	)
	return m
}

// RecordGateOutcomes updates the gate counters from a slice of outcomes.
func (m *Metrics) RecordGateOutcomes(outcomes []model.GateOutcome) {
	for _, o := range outcomes {
		if o.Passed {
			m.GatePassTotal.WithLabelValues(o.Name).Inc()
		} else {
			m.GateFailTotal.WithLabelValues(o.Name).Inc()
		}
	}
}
