package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit relay.
type Metrics struct {
	Pending         prometheus.Gauge
	PublishedTotal  prometheus.Counter
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
}

// NewMetrics registers the relay metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Pending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loanflow_audit_pending_total",
			Help: "Audit rows not yet published to Kafka",
		}),
		PublishedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_audit_published_total",
			Help: "Audit rows published to Kafka",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_audit_publish_failures_total",
			Help: "Failed audit fetches and publishes",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanflow_audit_publish_duration_seconds",
			Help:    "Time taken to publish one audit row",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanflow_audit_batch_size",
			Help:    "Audit rows fetched per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loanflow_audit_poll_duration_seconds",
			Help:    "Time taken for each relay poll",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) setPending(n int64) {
	if m != nil {
		m.Pending.Set(float64(n))
	}
}

func (m *Metrics) incPublished() {
	if m != nil {
		m.PublishedTotal.Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) observePublish(d time.Duration) {
	if m != nil {
		m.PublishDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeBatch(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

func (m *Metrics) observePoll(d time.Duration) {
	if m != nil {
		m.PollDuration.Observe(d.Seconds())
	}
}
