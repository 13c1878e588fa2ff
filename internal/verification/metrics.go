package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the verification engine.
type Metrics struct {
	Initiated      *prometheus.CounterVec
	CodeChecks     *prometheus.CounterVec
	ManualUpdates  *prometheus.CounterVec
	NotifyFailures *prometheus.CounterVec
}

// NewMetrics registers the verification metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Initiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_verifications_initiated_total",
			Help: "Verifications issued by channel",
		}, []string{"channel"}),
		CodeChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_verification_code_checks_total",
			Help: "Code checks by channel and outcome",
		}, []string{"channel", "reason"}),
		ManualUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_verification_manual_updates_total",
			Help: "Manual identity decisions by resulting status",
		}, []string{"status"}),
		NotifyFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_verification_notify_failures_total",
			Help: "Codes that could not be handed to the notifier",
		}, []string{"channel"}),
	}
}

func (m *Metrics) recordInitiated(channel string) {
	if m == nil {
		return
	}
	m.Initiated.WithLabelValues(channel).Inc()
}

func (m *Metrics) recordCheck(channel string, reason Reason) {
	if m == nil {
		return
	}
	m.CodeChecks.WithLabelValues(channel, string(reason)).Inc()
}

func (m *Metrics) recordManualUpdate(status string) {
	if m == nil {
		return
	}
	m.ManualUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) recordNotifyFailure(channel string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(channel).Inc()
}
