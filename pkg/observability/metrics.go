package observability

import (
	"context"
	"fmt"

	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	gitOps       *prometheus.CounterVec
	gitDuration  *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	candidate    *prometheus.GaugeVec
	lastActivity prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gitOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_git_operations_total",
				Help: "Git operations by repository, operation and result.",
			},
			[]string{"repo", "op", "result"},
		),
		gitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratchet_git_operation_duration_seconds",
				Help:    "Duration of git operations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"op"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_steps_total",
				Help: "Release steps by name and result.",
			},
			[]string{"step", "result"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_rollbacks_total",
				Help: "Compensated refs by repository and result.",
			},
			[]string{"repo", "result"},
		),
		candidate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ratchet_release_candidate",
				Help: "Latest candidate number published for a release.",
			},
			[]string{"version"},
		),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratchet_last_step_timestamp_seconds",
			Help: "Unix time at which the last step ended.",
		}),
	}
	m.registry.MustRegister(m.gitOps, m.gitDuration, m.steps, m.rollbacks, m.candidate, m.lastActivity)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnd: func(_ context.Context, e *domain.StepEvent) {
			m.steps.WithLabelValues(e.Step, result(e.Err)).Inc()
			m.lastActivity.Set(float64(e.Timestamp.Unix()))
		},
		OnGitOp: func(_ context.Context, e *domain.GitEvent) {
			m.gitOps.WithLabelValues(e.Repo, e.Op, result(e.Err)).Inc()
			m.gitDuration.WithLabelValues(e.Op).Observe(e.Duration.Seconds())
		},
		OnRollback: func(_ context.Context, e *domain.RollbackEvent) {
			m.rollbacks.WithLabelValues(e.Repo, result(e.Err)).Inc()
		},
	}
}

// ObserveState records the candidate number s has reached.
func (m *Metrics) ObserveState(s *domain.ReleaseState) {
	if s == nil {
		return
	}
	m.candidate.WithLabelValues(s.Version.String()).Set(float64(s.LastCandidate()))
}

// WriteToTextfile dumps every metric in the node_exporter textfile format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
