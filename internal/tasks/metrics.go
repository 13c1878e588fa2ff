package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for task execution.
type Metrics struct {
	Processed *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Promoted  prometheus.Counter
	Reclaimed *prometheus.CounterVec
}

// NewMetrics registers the task metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_tasks_processed_total",
			Help: "Task attempts by task name and outcome",
		}, []string{"task", "outcome"}),
		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_tasks_retries_total",
			Help: "Task attempts that were rescheduled",
		}, []string{"task"}),
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanflow_tasks_duration_seconds",
			Help:    "Time spent in task handlers",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"task"}),
		Promoted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_tasks_promoted_total",
			Help: "Delayed retries moved back onto their streams",
		}),
		Reclaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_tasks_reclaimed_total",
			Help: "Stream entries reclaimed from stalled consumers",
		}, []string{"queue"}),
	}
}

func (m *Metrics) recordOutcome(task Name, o outcome) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(string(task), o.String()).Inc()
	if o == outcomeRetry {
		m.Retries.WithLabelValues(string(task)).Inc()
	}
}

func (m *Metrics) observeDuration(task Name, d time.Duration) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(string(task)).Observe(d.Seconds())
}

func (m *Metrics) addPromoted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Promoted.Add(float64(n))
}

func (m *Metrics) recordReclaimed(q Queue, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Reclaimed.WithLabelValues(string(q)).Add(float64(n))
}
