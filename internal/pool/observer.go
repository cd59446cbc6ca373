package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
)

// RoomJanitor is the room ledger's cleanup hook, invoked once per
// observation cycle.
type RoomJanitor interface {
	CleanupIdleRooms(ctx context.Context) int
}

// MetricsSink receives one HealthReport per cycle. The prometheus adapter
// implements it.
type MetricsSink interface {
	PublishHealth(report HealthReport)
}

// HealthReport is the per-cycle aggregate the observer publishes.
type HealthReport struct {
	Timestamp time.Time `json:"timestamp"`

	TotalConnections   int `json:"total_connections"`
	InUseConnections   int `json:"in_use_connections"`
	HealthyConnections int `json:"healthy_connections"`
	FailedConnections  int `json:"failed_connections"`

	LatencyMin time.Duration `json:"latency_min"`
	LatencyAvg time.Duration `json:"latency_avg"`
	LatencyMax time.Duration `json:"latency_max"`

	PoolQuality  float64 `json:"pool_quality"`
	RoomsCleaned int     `json:"rooms_cleaned"`
}

// Observer periodically probes idle pool connections, drives reconnection,
// scores quality, and triggers idle-room cleanup.
type Observer struct {
	pool    *Pool
	cfg     config.QualityConfig
	janitor RoomJanitor
	sink    MetricsSink

	done chan struct{}
}

func NewObserver(pool *Pool, cfg config.QualityConfig, janitor RoomJanitor, sink MetricsSink) *Observer {
	return &Observer{
		pool:    pool,
		cfg:     cfg,
		janitor: janitor,
		sink:    sink,
		done:    make(chan struct{}),
	}
}

// Run loops until the context is cancelled, finishing the current iteration
// before exiting.
func (o *Observer) Run(ctx context.Context) {
	defer close(o.done)

	interval := o.cfg.MonitoringInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Observe(ctx)
		}
	}
}

// Done is closed after Run returns.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Observe runs a single observation cycle: probe stale idle connections,
// reconnect failures, aggregate metrics, clean idle rooms, publish.
func (o *Observer) Observe(ctx context.Context) HealthReport {
	interval := o.cfg.MonitoringInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	stale := o.pool.staleIdle(time.Now().Add(-interval))
	for i, conn := range stale {
		if ctx.Err() != nil {
			for _, rest := range stale[i:] {
				o.pool.unreserve(rest)
			}
			break
		}

		err := o.pool.probe(ctx, conn)
		o.pool.unreserve(conn)
		if err != nil {
			slog.Warn("observer: probe failed, reconnecting",
				"connection_id", conn.ID, "error", err)
			if err := o.pool.Reconnect(ctx, conn); err != nil {
				slog.Warn("observer: reconnect failed, leaving slot for next cycle",
					"connection_id", conn.ID, "error", err)
			}
		}
	}

	report := o.aggregate()
	if o.janitor != nil && ctx.Err() == nil {
		report.RoomsCleaned = o.janitor.CleanupIdleRooms(ctx)
	}
	report.Timestamp = time.Now()

	if o.sink != nil {
		o.sink.PublishHealth(report)
	}
	return report
}

func (o *Observer) aggregate() HealthReport {
	snapshots := o.pool.Snapshot()

	report := HealthReport{TotalConnections: len(snapshots)}

	var latencySum time.Duration
	var withLatency int
	var qualitySum float64
	var withRequests int

	for _, s := range snapshots {
		if s.InUse {
			report.InUseConnections++
		}
		switch s.State {
		case StateConnected:
			report.HealthyConnections++
		case StateFailed:
			report.FailedConnections++
		}

		if s.AvgLatency > 0 {
			if withLatency == 0 || s.AvgLatency < report.LatencyMin {
				report.LatencyMin = s.AvgLatency
			}
			if s.AvgLatency > report.LatencyMax {
				report.LatencyMax = s.AvgLatency
			}
			latencySum += s.AvgLatency
			withLatency++
		}

		if s.Requests > 0 {
			qualitySum += connectionQuality(s)
			withRequests++
		}
	}

	if withLatency > 0 {
		report.LatencyAvg = latencySum / time.Duration(withLatency)
	}
	if withRequests > 0 {
		report.PoolQuality = qualitySum / float64(withRequests)
	}
	return report
}

// connectionQuality scores one connection: the mean of its success rate and
// a latency score where 0 ms maps to 1.0 and 1000 ms or worse maps to 0.
func connectionQuality(s ConnectionSnapshot) float64 {
	latencyScore := 1 - float64(s.AvgLatency.Milliseconds())/1000
	if latencyScore < 0 {
		latencyScore = 0
	}
	if latencyScore > 1 {
		latencyScore = 1
	}
	return (s.SuccessRate + latencyScore) / 2
}
