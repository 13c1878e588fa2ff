package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"loanflow/internal/domain"
	dErrors "loanflow/pkg/domain-errors"
)

// Metrics provides observability for the decision pipeline.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	// Decisions counts applications reaching a terminal status.
	Decisions *prometheus.CounterVec
}

// NewMetrics creates and registers workflow metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanflow_workflow_stage_duration_seconds",
			Help:    "Duration of workflow stage handlers",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_workflow_stage_failures_total",
			Help: "Workflow stage attempts that returned an error, by domain error code",
		}, []string{"stage", "code"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_workflow_decisions_total",
			Help: "Applications reaching a terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) recordStageFailure(stage string, err error) {
	if m != nil {
		m.StageFailures.WithLabelValues(stage, string(dErrors.CodeOf(err))).Inc()
	}
}

func (m *Metrics) recordDecision(status domain.ApplicationStatus) {
	if m != nil {
		m.Decisions.WithLabelValues(string(status)).Inc()
	}
}
