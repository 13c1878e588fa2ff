// Package metrics exports connection pool gauges for the shared infrastructure clients.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// RegisterDatabase exports sql.DBStats for the given pool.
func RegisterDatabase(reg prometheus.Registerer, db *sql.DB) error {
	if db == nil {
		return nil
	}
	return reg.Register(collectors.NewDBStatsCollector(db, "loanflow"))
}

// RegisterRedis exports go-redis pool statistics.
func RegisterRedis(reg prometheus.Registerer, client *redis.Client) error {
	if client == nil {
		return nil
	}
	gauges := map[string]func(*redis.PoolStats) float64{
		"loanflow_redis_pool_total_conns":    func(s *redis.PoolStats) float64 { return float64(s.TotalConns) },
		"loanflow_redis_pool_idle_conns":     func(s *redis.PoolStats) float64 { return float64(s.IdleConns) },
		"loanflow_redis_pool_hits_total":     func(s *redis.PoolStats) float64 { return float64(s.Hits) },
		"loanflow_redis_pool_misses_total":   func(s *redis.PoolStats) float64 { return float64(s.Misses) },
		"loanflow_redis_pool_timeouts_total": func(s *redis.PoolStats) float64 { return float64(s.Timeouts) },
	}
	for name, read := range gauges {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: "Redis connection pool statistic " + name,
		}, func() float64 { return read(client.PoolStats()) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
