package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/telemetry"
	"turbohttp/internal/uri"
)

type fakeConn struct {
	proto     Protocol
	lastUsed  time.Time
	keepAlive bool
	closed    int32
}

func (c *fakeConn) Protocol() Protocol   { return c.proto }
func (c *fakeConn) LastUsed() time.Time  { return c.lastUsed }
func (c *fakeConn) KeepAlive() bool      { return c.keepAlive }
func (c *fakeConn) Close() error         { atomic.AddInt32(&c.closed, 1); return nil }
func (c *fakeConn) isClosed() bool       { return atomic.LoadInt32(&c.closed) > 0 }

func testOrigin() uri.Origin {
	return uri.Origin{Scheme: "https", Host: "example.com", Port: "443"}
}

func TestPoolAcquireDialsThenReuses(t *testing.T) {
	dialCount := 0
	p := New(Options{
		PerOriginMax: 2,
		GlobalMax:    10,
		Dial: func(ctx context.Context, o uri.Origin) (Conn, error) {
			dialCount++
			return &fakeConn{proto: H1, lastUsed: time.Now(), keepAlive: true}, nil
		},
	})

	lease1, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	lease1.Release(DispositionReusable)

	lease2, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	defer lease2.Release(DispositionReusable)

	assert.Equal(t, 1, dialCount)
	assert.Same(t, lease1.Conn(), lease2.Conn())
}

func TestPoolReleaseDeadClosesConnection(t *testing.T) {
	p := New(Options{
		Dial: func(ctx context.Context, o uri.Origin) (Conn, error) {
			return &fakeConn{proto: H1, lastUsed: time.Now(), keepAlive: true}, nil
		},
	})
	lease, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	fc := lease.Conn().(*fakeConn)
	lease.Release(DispositionDead)
	assert.True(t, fc.isClosed())
	assert.Equal(t, 0, p.IdleCount())
}

func TestPoolH2ConnectionsShareRefs(t *testing.T) {
	p := New(Options{
		Dial: func(ctx context.Context, o uri.Origin) (Conn, error) {
			return &fakeConn{proto: H2, lastUsed: time.Now(), keepAlive: true}, nil
		},
	})
	l1, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	assert.Same(t, l1.Conn(), l2.Conn())

	fc := l1.Conn().(*fakeConn)
	l1.Release(DispositionReusable)
	assert.False(t, fc.isClosed())
	l2.Release(DispositionReusable)
	assert.False(t, fc.isClosed()) // keep-alive stays open even with zero refs
}

func TestPoolReportsIdleGauge(t *testing.T) {
	metrics := telemetry.NewRegistry()
	p := New(Options{
		Metrics: metrics,
		Dial: func(ctx context.Context, o uri.Origin) (Conn, error) {
			return &fakeConn{proto: H1, lastUsed: time.Now(), keepAlive: true}, nil
		},
	})

	lease, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.PoolIdle))

	lease.Release(DispositionReusable)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PoolIdle))

	_, err = p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.PoolIdle))
}

func TestPoolPerOriginLimitBlocks(t *testing.T) {
	p := New(Options{
		PerOriginMax: 1,
		GlobalMax:    10,
		Dial: func(ctx context.Context, o uri.Origin) (Conn, error) {
			return &fakeConn{proto: H1, lastUsed: time.Now(), keepAlive: false}, nil
		},
	})
	lease, err := p.Acquire(context.Background(), testOrigin())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, testOrigin())
	assert.Error(t, err)

	lease.Release(DispositionDead)
}
