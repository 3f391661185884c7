package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DBPoolConnections reports pool connections by state: acquired, idle,
	// constructing, total and max.
	DBPoolConnections = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "PostgreSQL pool connections by state",
		},
		[]string{"state"},
	)

	DBPoolAcquireWait = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_acquire_wait_seconds",
			Help:      "Cumulative time spent waiting for a pool connection",
		},
	)

	DBPoolEmptyAcquires = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_empty_acquires",
			Help:      "Cumulative acquires that had to wait for a connection",
		},
	)
)

// PoolStatter is the subset of pgxpool.Pool the collector reads.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// DBCollector samples pool statistics on an interval. The rate limiter and
// the repositories share the pool, so waits here show up as request latency.
type DBCollector struct {
	pool PoolStatter
	stop chan struct{}
	once sync.Once
}

func NewDBCollector(pool PoolStatter) *DBCollector {
	return &DBCollector{pool: pool, stop: make(chan struct{})}
}

// Start blocks, sampling until ctx is done or Stop is called.
func (c *DBCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *DBCollector) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *DBCollector) collect() {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	DBPoolConnections.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	DBPoolConnections.WithLabelValues("constructing").Set(float64(stat.ConstructingConns()))
	DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
	DBPoolAcquireWait.Set(stat.AcquireDuration().Seconds())
	DBPoolEmptyAcquires.Set(float64(stat.EmptyAcquireCount()))
}
