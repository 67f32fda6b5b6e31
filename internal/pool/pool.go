// Package pool implements the per-origin connection pool from spec §4.5:
// idle/in-use tracking, per-origin and global caps, H1 exclusive leases vs
// H2 shared leases, and a shutdown that closes every pooled connection.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"turbohttp/internal/telemetry"
	"turbohttp/internal/uri"
)

// Protocol tags a connection's negotiated protocol.
type Protocol int

const (
	H1 Protocol = iota
	H2
)

// Conn is the minimal shape the pool manages; transports implement this
// over their real net.Conn/h1/h2 state.
type Conn interface {
	Protocol() Protocol
	LastUsed() time.Time
	KeepAlive() bool
	Close() error
}

// Dialer establishes a new Conn for origin. Supplied by the transport
// façade, which knows how to pick TLS/ALPN/SOCKS5 per spec §4.4/§B.
type Dialer func(ctx context.Context, origin uri.Origin) (Conn, error)

type entry struct {
	conn    Conn
	refs    int // >1 only possible for H2 shared leases
	inUse   bool
}

type originBucket struct {
	mu      sync.Mutex
	idle    []*entry
	inUse   []*entry
	h2Conns map[Conn]*entry // H2 connections are looked up for ref-sharing
	sem     chan struct{}   // per-origin slot semaphore
}

// Options configures pool limits, grounded on spec §3's Connection pool
// invariants.
type Options struct {
	PerOriginMax int
	GlobalMax    int
	IdleTimeout  time.Duration
	Dial         Dialer
	Metrics      *telemetry.Registry
}

// Pool is the process-wide connection pool: a mapping from origin-key to
// idle/in-use lists, per spec §3.
type Pool struct {
	opts Options

	mu      sync.Mutex
	buckets map[string]*originBucket

	globalSem chan struct{}

	shutdown   chan struct{}
	shutdownWg sync.WaitGroup
}

// New constructs a Pool. PerOriginMax/GlobalMax default to 6/100 when <= 0.
func New(opts Options) *Pool {
	if opts.PerOriginMax <= 0 {
		opts.PerOriginMax = 6
	}
	if opts.GlobalMax <= 0 {
		opts.GlobalMax = 100
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 90 * time.Second
	}
	return &Pool{
		opts:      opts,
		buckets:   make(map[string]*originBucket),
		globalSem: make(chan struct{}, opts.GlobalMax),
		shutdown:  make(chan struct{}),
	}
}

func (p *Pool) bucketFor(origin uri.Origin) *originBucket {
	key := origin.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &originBucket{
			h2Conns: make(map[Conn]*entry),
			sem:     make(chan struct{}, p.opts.PerOriginMax),
		}
		p.buckets[key] = b
	}
	return b
}

// Lease is a scoped resource: Release must run on every exit path exactly
// once, returning the per-origin slot, per spec §4.5.
type Lease struct {
	pool     *Pool
	bucket   *originBucket
	conn     Conn
	released bool
	mu       sync.Mutex
	tookSlot bool
}

func (l *Lease) Conn() Conn { return l.conn }

// Disposition tells Release whether the connection is still healthy.
type Disposition int

const (
	DispositionReusable Disposition = iota
	DispositionDead
)

// Release returns the connection to idle (if reusable and keep-alive), or
// closes it. For an H1 lease this always frees the per-origin/global slot
// taken by Acquire. For H2, only the lease that dialed the connection still
// holds a slot (it is freed here); a lease that shared an existing H2
// connection gave its slot back in Acquire. Beyond that, Release on an H2
// lease decrements the connection's ref count and closes the connection
// once the last reference drops and it's no longer reusable.
func (l *Lease) Release(disp Disposition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	b := l.bucket
	keep := disp == DispositionReusable && l.conn.KeepAlive()

	if l.conn.Protocol() == H2 {
		b.mu.Lock()
		e := b.h2Conns[l.conn]
		if e != nil {
			e.refs--
			if e.refs <= 0 && !keep {
				delete(b.h2Conns, l.conn)
				b.mu.Unlock()
				_ = l.conn.Close()
				l.releaseSlot()
				return
			}
		}
		b.mu.Unlock()
		l.releaseSlot()
		return
	}

	b.mu.Lock()
	for i, cand := range b.inUse {
		if cand.conn == l.conn {
			b.inUse = append(b.inUse[:i], b.inUse[i+1:]...)
			break
		}
	}
	if keep {
		b.idle = append(b.idle, &entry{conn: l.conn, refs: 1})
	}
	b.mu.Unlock()
	l.pool.reportIdle()

	if !keep {
		_ = l.conn.Close()
	}
	l.releaseSlot()
}

func (l *Lease) releaseSlot() {
	if !l.tookSlot {
		return
	}
	select {
	case <-l.bucket.sem:
	default:
	}
	select {
	case <-l.pool.globalSem:
	default:
	}
}

// Acquire selects an idle connection for origin whose keep-alive is true
// and idle age is within the idle timeout; otherwise dials a new one,
// blocking if the per-origin (and global) limit is reached.
func (p *Pool) Acquire(ctx context.Context, origin uri.Origin) (*Lease, error) {
	b := p.bucketFor(origin)

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case p.globalSem <- struct{}{}:
	case <-ctx.Done():
		<-b.sem
		return nil, ctx.Err()
	}

	lease := &Lease{pool: p, bucket: b, tookSlot: true}

	b.mu.Lock()
	// Prefer a shared H2 connection already in use. Sharing an existing H2
	// connection doesn't consume an additional slot — only establishing the
	// connection counted against the per-origin/global caps — so the slot
	// taken above is given back immediately.
	for _, e := range b.h2Conns {
		if e.conn.KeepAlive() && time.Since(e.conn.LastUsed()) < p.opts.IdleTimeout {
			e.refs++
			lease.conn = e.conn
			lease.tookSlot = false
			b.mu.Unlock()
			<-b.sem
			<-p.globalSem
			if p.opts.Metrics != nil {
				p.opts.Metrics.PoolLeases.WithLabelValues("reused_h2").Inc()
			}
			return lease, nil
		}
	}
	for i := len(b.idle) - 1; i >= 0; i-- {
		e := b.idle[i]
		if !e.conn.KeepAlive() || time.Since(e.conn.LastUsed()) >= p.opts.IdleTimeout {
			b.idle = append(b.idle[:i], b.idle[i+1:]...)
			_ = e.conn.Close()
			continue
		}
		b.idle = append(b.idle[:i], b.idle[i+1:]...)
		e.inUse = true
		b.inUse = append(b.inUse, e)
		lease.conn = e.conn
		b.mu.Unlock()
		p.reportIdle()
		if p.opts.Metrics != nil {
			p.opts.Metrics.PoolLeases.WithLabelValues("reused_h1").Inc()
		}
		return lease, nil
	}
	b.mu.Unlock()
	p.reportIdle() // the scan above may have evicted expired idle entries

	if p.opts.Dial == nil {
		lease.releaseSlot()
		return nil, errors.New("pool: no dialer configured")
	}
	conn, err := p.opts.Dial(ctx, origin)
	if err != nil {
		lease.releaseSlot()
		if p.opts.Metrics != nil {
			p.opts.Metrics.PoolLeases.WithLabelValues("dial_error").Inc()
		}
		return nil, err
	}

	e := &entry{conn: conn, refs: 1, inUse: true}
	b.mu.Lock()
	if conn.Protocol() == H2 {
		b.h2Conns[conn] = e
	} else {
		b.inUse = append(b.inUse, e)
	}
	b.mu.Unlock()

	lease.conn = conn
	// The dialing slot stays held for the lifetime of this first H2 lease
	// (released on Release, same as H1); subsequent shares skip it above.
	if p.opts.Metrics != nil {
		p.opts.Metrics.PoolLeases.WithLabelValues("dialed").Inc()
	}
	return lease, nil
}

// Shutdown closes every idle, in-use and shared H2 connection and returns
// their close errors combined. It does not wait for outstanding leases:
// nothing adds to shutdownWg, so the wait below ends at once and in-use
// connections are closed under their current requests.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.shutdown)
	done := make(chan struct{})
	go func() {
		p.shutdownWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var result *multierror.Error
	for _, b := range p.buckets {
		b.mu.Lock()
		for _, e := range b.idle {
			if err := e.conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		for _, e := range b.inUse {
			if err := e.conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		for _, e := range b.h2Conns {
			if err := e.conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		b.idle = nil
		b.inUse = nil
		b.h2Conns = map[Conn]*entry{}
		b.mu.Unlock()
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.PoolIdle.Set(0)
	}
	return result.ErrorOrNil()
}

// reportIdle pushes the current idle count to the pool's Prometheus gauge.
// Callers must not hold p.mu or any bucket's mu — IdleCount takes both.
func (p *Pool) reportIdle() {
	if p.opts.Metrics == nil {
		return
	}
	p.opts.Metrics.PoolIdle.Set(float64(p.IdleCount()))
}

// IdleCount returns the current idle connection count across all origins,
// used to feed the pool's Prometheus gauge.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.buckets {
		b.mu.Lock()
		n += len(b.idle)
		b.mu.Unlock()
	}
	return n
}
