package enums

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks cache effectiveness and invalidation traffic.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	MessagesHandled *prometheus.CounterVec
	MessagesDropped prometheus.Counter
	Reconnects      prometheus.Counter
}

// NewMetrics registers the enum metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_enum_cache_hits_total",
			Help: "Enum cache hits by view (info, full)",
		}, []string{"view"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_enum_cache_misses_total",
			Help: "Enum cache misses by view (info, full)",
		}, []string{"view"}),
		MessagesHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_enum_invalidations_total",
			Help: "Invalidation messages handled by action",
		}, []string{"action"}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_enum_invalidations_dropped_total",
			Help: "Malformed invalidation messages dropped",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loanflow_enum_subscriber_reconnects_total",
			Help: "Subscriber reconnect attempts after a broker failure",
		}),
	}
}

func (m *Metrics) recordHit(view string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(view).Inc()
}

func (m *Metrics) recordMiss(view string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(view).Inc()
}

func (m *Metrics) recordHandled(action string) {
	if m == nil {
		return
	}
	m.MessagesHandled.WithLabelValues(action).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}
