package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Database Pool Monitor
// =============================================================================

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth represents the health assessment of a pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"` // 0.0 - 1.0
	Message     string           `json:"message,omitempty"`
}

// Utilization thresholds for the readiness probe.
const (
	degradedUtilization  = 0.80
	unhealthyUtilization = 0.95
	slowAverageWait      = time.Second
)

// AssessDBPoolHealth grades a pool by how many of its connections are checked out and by the
// average time callers waited for one.
func AssessDBPoolHealth(stats sql.DBStats) PoolHealth {
	health := PoolHealth{Status: PoolHealthy, Message: "pool operating normally"}
	if stats.MaxOpenConnections > 0 {
		health.Utilization = float64(stats.InUse) / float64(stats.MaxOpenConnections)
	} else {
		health.Message = "unlimited connections"
	}

	switch {
	case health.Utilization >= unhealthyUtilization:
		return PoolHealth{Status: PoolUnhealthy, Utilization: health.Utilization, Message: "pool nearly exhausted"}
	case health.Utilization >= degradedUtilization:
		health.Status, health.Message = PoolDegraded, "high pool utilization"
	}

	// 평균 대기 시간이 길면 degraded
	if stats.WaitCount > 0 && stats.WaitDuration/time.Duration(stats.WaitCount) > slowAverageWait {
		health.Status, health.Message = PoolDegraded, "elevated connection wait times"
	}
	return health
}

// DBPool exposes one database/sql pool to /metrics and the readiness probe.
type DBPool struct {
	name string
	db   *sql.DB
}

func NewDBPool(name string, db *sql.DB) *DBPool {
	return &DBPool{name: name, db: db}
}

// Register exports go_sql_* pool gauges labelled db_name=name.
func (p *DBPool) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return reg.Register(collectors.NewDBStatsCollector(p.db, p.name))
}

// Ping fails when the database is unreachable or the pool is exhausted.
func (p *DBPool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return err
	}
	if h := AssessDBPoolHealth(p.db.Stats()); h.Status == PoolUnhealthy {
		return fmt.Errorf("%s: %s (%.0f%% in use)", p.name, h.Message, h.Utilization*100)
	}
	return nil
}
