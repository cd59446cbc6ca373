package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

type fakeClient struct {
	mu        sync.Mutex
	failProbe bool
	listCalls int
}

func (c *fakeClient) setFailProbe(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failProbe = fail
}

func (c *fakeClient) ListRooms(ctx context.Context) ([]ports.RoomInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.failProbe {
		return nil, errors.New("media server unreachable")
	}
	return nil, nil
}

func (c *fakeClient) CreateRoom(ctx context.Context, name string, opts ports.RoomOptions) (*ports.RoomInfo, error) {
	return &ports.RoomInfo{Name: name}, nil
}

func (c *fakeClient) DeleteRoom(ctx context.Context, name string) error { return nil }

func (c *fakeClient) IssueToken(room, identity, name string) (string, int64, error) {
	return "token", time.Now().Add(time.Hour).Unix(), nil
}

func fakeFactory(created *int32) ports.MediaServerFactory {
	return func() (ports.MediaServerClient, error) {
		if created != nil {
			atomic.AddInt32(created, 1)
		}
		return &fakeClient{}, nil
	}
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		PoolSize:             3,
		MaxPoolSize:          6,
		HealthCheckInterval:  30 * time.Second,
		ConnectionTimeout:    time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Millisecond,
	}
}

func TestPool_InitialSize(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.Size())
	for _, s := range p.Snapshot() {
		assert.Equal(t, StateConnected, s.State)
		assert.False(t, s.InUse)
	}
}

func TestPool_AcquireReleaseRoundTrip(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, conn.InUse)
	assert.Equal(t, StateConnected, conn.State)

	p.Release(conn)
	assert.Equal(t, 0, p.InUseCount())

	// Idle pool: the same slot comes back first.
	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conn.ID, again.ID)
	p.Release(again)
}

func TestPool_ExpansionUnderLoad(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	// 5 concurrent acquires against pool_size=3, ceiling 6.
	conns := make([]*PooledConnection, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := p.Acquire(ctx)
			require.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, p.Size(), 5, "pool must grow to serve 5 concurrent holders")
	assert.LessOrEqual(t, p.Size(), 6, "pool must respect the ceiling")
	assert.Equal(t, 5, p.InUseCount())

	for _, conn := range conns {
		p.Release(conn)
	}
	assert.Equal(t, 0, p.InUseCount())
	for _, s := range p.Snapshot() {
		assert.Equal(t, StateConnected, s.State, "expansion is permanent and slots stay healthy")
	}
}

func TestPool_AcquireBlocksAtCeilingThenTimesOut(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	cfg.MaxPoolSize = 1

	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolExhausted))

	p.Release(conn)
}

func TestPool_AcquireReleaseBalanced(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithConnection(context.Background(), func(ctx context.Context, client ports.MediaServerClient) error {
				_, err := client.ListRooms(ctx)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, p.InUseCount())
	var acquired, released int64
	p.mu.Lock()
	for _, conn := range p.conns {
		acquired += conn.TimesAcquired
		released += conn.TimesReleased
	}
	p.mu.Unlock()
	assert.Equal(t, acquired, released, "every acquire pairs with a release")
}

func TestPool_WithConnectionReleasesOnPanic(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	assert.Panics(t, func() {
		p.WithConnection(context.Background(), func(ctx context.Context, client ports.MediaServerClient) error {
			panic("handler exploded")
		})
	})
	assert.Equal(t, 0, p.InUseCount())
}

func TestPool_FailedConnectionNeverHandedOut(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolSize = 2
	cfg.MaxPoolSize = 2

	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	p.mu.Lock()
	p.conns[0].State = StateFailed
	p.mu.Unlock()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c1.State)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.Error(t, err, "the failed slot must not satisfy the second acquire")
	p.Release(c1)
}

func TestPool_ReconnectRestoresFailedConnection(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	p.mu.Lock()
	conn := p.conns[0]
	conn.State = StateFailed
	p.mu.Unlock()

	require.NoError(t, p.Reconnect(context.Background(), conn))

	p.mu.Lock()
	assert.Equal(t, StateConnected, conn.State)
	assert.Equal(t, int64(1), conn.Reconnects)
	p.mu.Unlock()
}

func TestPool_ReconnectSucceedsOnLaterAttempt(t *testing.T) {
	cfg := testPoolConfig()
	attempts := int32(0)
	factory := func() (ports.MediaServerClient, error) {
		// The first two dials land on a broken upstream, the third works.
		if atomic.AddInt32(&attempts, 1) < 3 {
			return &fakeClient{failProbe: true}, nil
		}
		return &fakeClient{}, nil
	}

	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()
	p.factory = factory

	p.mu.Lock()
	conn := p.conns[0]
	conn.State = StateFailed
	p.mu.Unlock()

	require.NoError(t, p.Reconnect(context.Background(), conn))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "both failed attempts must be followed by another")

	p.mu.Lock()
	assert.Equal(t, StateConnected, conn.State)
	assert.False(t, conn.InUse)
	assert.Equal(t, int64(1), conn.Reconnects)
	p.mu.Unlock()
}

func TestPool_ReconnectExhaustsAndLeavesFailed(t *testing.T) {
	cfg := testPoolConfig()
	attempts := int32(0)
	factory := func() (ports.MediaServerClient, error) {
		atomic.AddInt32(&attempts, 1)
		return &fakeClient{failProbe: true}, nil
	}

	// Seed with a working factory first.
	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()
	p.factory = factory

	p.mu.Lock()
	conn := p.conns[0]
	conn.State = StateFailed
	p.mu.Unlock()

	err = p.Reconnect(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnectionFailed))
	assert.Equal(t, int32(cfg.MaxReconnectAttempts), atomic.LoadInt32(&attempts))

	p.mu.Lock()
	assert.Equal(t, StateFailed, conn.State, "exhausted reconnect leaves the slot Failed in the pool")
	p.mu.Unlock()
}

func TestPool_StaleIdleReservesAgainstAcquire(t *testing.T) {
	cfg := testPoolConfig()
	cfg.PoolSize = 1
	cfg.MaxPoolSize = 1

	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	// Cutoff in the future marks the only slot stale; staleIdle reserves it.
	stale := p.staleIdle(time.Now().Add(time.Minute))
	require.Len(t, stale, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPoolExhausted), "a slot under probe must not be handed out")

	p.unreserve(stale[0])
	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stale[0].ID, conn.ID)

	// A held connection cannot be reconnected underneath its owner.
	err = p.Reconnect(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnectionFailed))
	p.Release(conn)
}

func TestPool_CloseRejectsAcquire(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)

	p.Close()
	p.Close() // idempotent

	_, err = p.Acquire(context.Background())
	assert.True(t, errors.Is(err, domain.ErrPoolClosed))
}

func TestObserver_ProbesAndReconnects(t *testing.T) {
	cfg := testPoolConfig()
	p, err := New(cfg, fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	// Break one connection's client so the next probe fails; reconnect
	// replaces it with a healthy one from the factory.
	p.mu.Lock()
	broken := p.conns[1]
	broken.Client.(*fakeClient).setFailProbe(true)
	broken.LastProbe = time.Now().Add(-time.Hour)
	for _, conn := range p.conns {
		if conn != broken {
			conn.LastProbe = time.Now()
		}
	}
	p.mu.Unlock()

	quality := config.DefaultConfig().Quality
	obs := NewObserver(p, quality, nil, nil)
	report := obs.Observe(context.Background())

	assert.Equal(t, 3, report.TotalConnections)
	assert.Equal(t, 3, report.HealthyConnections)
	assert.Equal(t, 0, report.FailedConnections)

	p.mu.Lock()
	assert.Equal(t, StateConnected, broken.State)
	assert.Equal(t, int64(1), broken.Reconnects)
	p.mu.Unlock()
}

type countingJanitor struct{ cleaned int }

func (j *countingJanitor) CleanupIdleRooms(ctx context.Context) int {
	j.cleaned++
	return 2
}

type captureSink struct{ reports []HealthReport }

func (s *captureSink) PublishHealth(report HealthReport) {
	s.reports = append(s.reports, report)
}

func TestObserver_PublishesReportWithCleanup(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	janitor := &countingJanitor{}
	sink := &captureSink{}
	obs := NewObserver(p, config.DefaultConfig().Quality, janitor, sink)
	report := obs.Observe(context.Background())

	assert.Equal(t, 1, janitor.cleaned)
	assert.Equal(t, 2, report.RoomsCleaned)
	require.Len(t, sink.reports, 1)
	assert.False(t, report.Timestamp.IsZero())
	assert.GreaterOrEqual(t, report.PoolQuality, 0.0)
	assert.LessOrEqual(t, report.PoolQuality, 1.0)
}

func TestConnectionQuality_Bounds(t *testing.T) {
	perfect := ConnectionSnapshot{Requests: 10, SuccessRate: 1.0, AvgLatency: 0}
	assert.InDelta(t, 1.0, connectionQuality(perfect), 1e-9)

	awful := ConnectionSnapshot{Requests: 10, SuccessRate: 0, AvgLatency: 5 * time.Second}
	assert.InDelta(t, 0.0, connectionQuality(awful), 1e-9)

	mixed := ConnectionSnapshot{Requests: 10, SuccessRate: 0.8, AvgLatency: 500 * time.Millisecond}
	assert.InDelta(t, 0.65, connectionQuality(mixed), 1e-9)
}

func TestObserver_RunStopsOnCancel(t *testing.T) {
	p, err := New(testPoolConfig(), fakeFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	quality := config.DefaultConfig().Quality
	quality.MonitoringInterval = 10 * time.Millisecond
	obs := NewObserver(p, quality, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go obs.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-obs.Done():
	case <-time.After(time.Second):
		t.Fatal("observer did not stop after cancellation")
	}
}
