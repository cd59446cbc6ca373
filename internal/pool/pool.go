// Package pool manages a dynamically sized set of media-server API
// connections with health probing and exponential-backoff reconnection.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/id"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

// acquireBackoff is the polling delay while waiting for a slot at ceiling.
const acquireBackoff = 50 * time.Millisecond

// PooledConnection is one upstream client plus its metrics block. Fields
// are read and written only under the pool lock, or by the unique owner
// while the connection is in use.
type PooledConnection struct {
	ID     string
	Client ports.MediaServerClient

	State     ConnState
	InUse     bool
	CreatedAt time.Time
	LastUsed  time.Time
	LastProbe time.Time

	Requests       int64
	Failures       int64
	Reconnects     int64
	TimesAcquired  int64
	TimesReleased  int64
	CurrentLatency time.Duration
	avgLatencyNs   float64
}

// AvgLatency is the running average request latency.
func (c *PooledConnection) AvgLatency() time.Duration {
	return time.Duration(c.avgLatencyNs)
}

// SuccessRate reports the share of successful requests, 1.0 when idle.
func (c *PooledConnection) SuccessRate() float64 {
	if c.Requests == 0 {
		return 1.0
	}
	return float64(c.Requests-c.Failures) / float64(c.Requests)
}

// ConnectionSnapshot is a copyable view of a pooled connection's metrics.
type ConnectionSnapshot struct {
	ID          string        `json:"id"`
	State       ConnState     `json:"state"`
	InUse       bool          `json:"in_use"`
	Requests    int64         `json:"requests"`
	Failures    int64         `json:"failures"`
	Reconnects  int64         `json:"reconnects"`
	AvgLatency  time.Duration `json:"avg_latency"`
	SuccessRate float64       `json:"success_rate"`
	LastUsed    time.Time     `json:"last_used"`
	LastProbe   time.Time     `json:"last_probe"`
}

// Pool is the media-server connection pool. Initial size is fixed;
// expansion up to the ceiling is permanent until shutdown.
type Pool struct {
	mu      sync.Mutex
	cfg     config.PoolConfig
	factory ports.MediaServerFactory
	conns   []*PooledConnection
	closed  bool

	shutdown chan struct{}
}

// New builds the pool and dials the initial slots. A slot whose initial
// connection fails is created in the Failed state for the health observer
// to repair.
func New(cfg config.PoolConfig, factory ports.MediaServerFactory) (*Pool, error) {
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		shutdown: make(chan struct{}),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := p.dial(context.Background())
		if err != nil {
			slog.Warn("pool: initial connection failed", "slot", i, "error", err)
			p.conns = append(p.conns, &PooledConnection{
				ID:        id.NewConnection(),
				State:     StateFailed,
				CreatedAt: time.Now(),
			})
			continue
		}
		p.conns = append(p.conns, conn)
	}
	if len(p.conns) == 0 {
		return nil, fmt.Errorf("%w: no pool slots created", domain.ErrConnectionFailed)
	}
	return p, nil
}

// dial constructs and probes a fresh connection outside the pool lock.
func (p *Pool) dial(ctx context.Context) (*PooledConnection, error) {
	client, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
	}

	conn := &PooledConnection{
		ID:        id.NewConnection(),
		Client:    client,
		State:     StateConnecting,
		CreatedAt: time.Now(),
	}

	probeCtx := ctx
	if p.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()
	}
	if err := p.probe(probeCtx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// probe issues a lightweight list-rooms request and publishes the latency.
// The caller must own the connection (in-use, or not yet in the pool).
func (p *Pool) probe(ctx context.Context, conn *PooledConnection) error {
	start := time.Now()
	_, err := conn.Client.ListRooms(ctx)
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	conn.LastProbe = time.Now()
	conn.Requests++
	if err != nil {
		conn.Failures++
		conn.State = StateFailed
		return fmt.Errorf("%w: probe: %w", domain.ErrConnectionFailed, err)
	}

	conn.CurrentLatency = elapsed
	if conn.avgLatencyNs == 0 {
		conn.avgLatencyNs = float64(elapsed.Nanoseconds())
	} else {
		conn.avgLatencyNs = conn.avgLatencyNs*0.8 + float64(elapsed.Nanoseconds())*0.2
	}
	conn.State = StateConnected
	return nil
}

// Acquire hands out a Connected, idle connection. When none is free and the
// pool is below its ceiling, it grows by one probed slot. At the ceiling it
// waits in a short backoff loop until a slot frees or the context ends.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}

		for _, conn := range p.conns {
			if conn.State == StateConnected && !conn.InUse {
				conn.InUse = true
				conn.LastUsed = time.Now()
				conn.TimesAcquired++
				p.mu.Unlock()
				return conn, nil
			}
		}

		canGrow := len(p.conns) < p.cfg.EffectiveMaxPoolSize()
		p.mu.Unlock()

		if canGrow {
			conn, err := p.dial(ctx)
			if err != nil {
				slog.Warn("pool: expansion dial failed", "error", err)
			} else {
				p.mu.Lock()
				if p.closed {
					p.mu.Unlock()
					return nil, domain.ErrPoolClosed
				}
				// Another goroutine may have grown the pool past the ceiling
				// while we dialed; the extra slot is still admitted, expansion
				// races are benign and bounded by concurrent acquirers.
				conn.InUse = true
				conn.LastUsed = time.Now()
				conn.TimesAcquired++
				p.conns = append(p.conns, conn)
				p.mu.Unlock()
				return conn, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrPoolExhausted, ctx.Err())
		case <-p.shutdown:
			return nil, domain.ErrPoolClosed
		case <-time.After(acquireBackoff):
		}
	}
}

// Release returns a connection to the pool without closing it.
func (p *Pool) Release(conn *PooledConnection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !conn.InUse {
		return
	}
	conn.InUse = false
	conn.TimesReleased++
}

// WithConnection acquires a connection for the duration of fn and releases
// it on every exit path.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, client ports.MediaServerClient) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	start := time.Now()
	err = fn(ctx, conn.Client)

	p.mu.Lock()
	conn.Requests++
	conn.CurrentLatency = time.Since(start)
	if conn.avgLatencyNs == 0 {
		conn.avgLatencyNs = float64(conn.CurrentLatency.Nanoseconds())
	} else {
		conn.avgLatencyNs = conn.avgLatencyNs*0.8 + float64(conn.CurrentLatency.Nanoseconds())*0.2
	}
	if err != nil {
		conn.Failures++
	}
	p.mu.Unlock()
	return err
}

// Reconnect replaces a failed connection's client, up to the configured
// attempt limit with exponential backoff. The connection is reserved for
// the duration so Acquire cannot hand it out mid-repair; it stays in the
// pool either way, and on total failure the health observer retries later.
func (p *Pool) Reconnect(ctx context.Context, conn *PooledConnection) error {
	p.mu.Lock()
	if conn.InUse {
		p.mu.Unlock()
		return fmt.Errorf("%w: connection in use", domain.ErrConnectionFailed)
	}
	conn.InUse = true
	conn.State = StateReconnecting
	p.mu.Unlock()

	attempts := p.cfg.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	fail := func(err error) error {
		p.mu.Lock()
		conn.State = StateFailed
		conn.InUse = false
		p.mu.Unlock()
		return err
	}

	var lastErr error
	for k := 0; k < attempts; k++ {
		if k > 0 {
			delay := p.cfg.ReconnectBaseDelay * time.Duration(1<<uint(k))
			select {
			case <-ctx.Done():
				return fail(fmt.Errorf("%w: reconnect interrupted: %w", domain.ErrConnectionFailed, ctx.Err()))
			case <-p.shutdown:
				return fail(domain.ErrPoolClosed)
			case <-time.After(delay):
			}
		}

		client, err := p.factory()
		if err != nil {
			lastErr = err
			continue
		}

		p.mu.Lock()
		conn.Client = client
		p.mu.Unlock()

		if err := p.probe(ctx, conn); err != nil {
			lastErr = err
			p.mu.Lock()
			conn.State = StateReconnecting
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		conn.Reconnects++
		conn.InUse = false
		p.mu.Unlock()
		slog.Info("pool: connection reconnected", "connection_id", conn.ID, "attempt", k+1)
		return nil
	}

	return fail(fmt.Errorf("%w: reconnect attempts exhausted: %w", domain.ErrConnectionFailed, lastErr))
}

// Snapshot copies every connection's metrics for the observer and the
// operational endpoints.
func (p *Pool) Snapshot() []ConnectionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ConnectionSnapshot, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, ConnectionSnapshot{
			ID:          conn.ID,
			State:       conn.State,
			InUse:       conn.InUse,
			Requests:    conn.Requests,
			Failures:    conn.Failures,
			Reconnects:  conn.Reconnects,
			AvgLatency:  conn.AvgLatency(),
			SuccessRate: conn.SuccessRate(),
			LastUsed:    conn.LastUsed,
			LastProbe:   conn.LastProbe,
		})
	}
	return out
}

// staleIdle reserves and returns the connections whose last probe is older
// than the cutoff, skipping slots already held. The caller must unreserve
// each one when done; until then Acquire will not hand it out.
func (p *Pool) staleIdle(cutoff time.Time) []*PooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*PooledConnection
	for _, conn := range p.conns {
		if !conn.InUse && conn.LastProbe.Before(cutoff) {
			conn.InUse = true
			out = append(out, conn)
		}
	}
	return out
}

// unreserve drops a reservation taken by staleIdle without touching the
// acquire/release counters.
func (p *Pool) unreserve(conn *PooledConnection) {
	p.mu.Lock()
	conn.InUse = false
	p.mu.Unlock()
}

// Size reports the current slot count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// InUseCount reports how many connections are currently handed out.
func (p *Pool) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, conn := range p.conns {
		if conn.InUse {
			n++
		}
	}
	return n
}

// Close shuts the pool down. Idempotent. Outstanding holders may finish
// their current request; no new acquires succeed.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.shutdown)
	for _, conn := range p.conns {
		conn.State = StateDisconnected
	}
}
