// Package httpclient is the public façade of turbohttp: a cross-platform
// HTTP/1.1+HTTP/2 client with an RFC 9111 private cache, a record/replay
// deterministic test transport, and a WebSocket client, per spec §6.
package httpclient

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"turbohttp/internal/cache"
	"turbohttp/internal/message"
	"turbohttp/internal/middleware"
	"turbohttp/internal/pool"
	"turbohttp/internal/replay"
	"turbohttp/internal/telemetry"
	"turbohttp/internal/ws"
)

// Options configures a Client, per spec §6's ClientOptions. New replaces
// zero Pool fields and a zero RequestTimeout with the values DefaultOptions
// uses; Cache is taken as given, so a zero Cache leaves caching disabled.
type Options struct {
	Pool      PoolOptions
	Cache     cache.Options
	Transport TransportOptions
	Replay    ReplayOptions

	Logging telemetry.LogOptions
	Metrics bool

	RequestTimeout time.Duration
}

// PoolOptions mirrors pool.Options minus the Dialer, which the Client wires
// itself.
type PoolOptions struct {
	PerOriginMax int
	GlobalMax    int
	IdleTimeout  time.Duration
}

// ReplayOptions configures the optional record/replay transport stage. A
// zero-value ReplayOptions (Mode == "") disables it, and the Client talks
// straight to the network transport.
type ReplayOptions struct {
	Mode                     replay.Mode
	RecordingPath            string
	MismatchPolicy           replay.MismatchPolicy
	Redaction                replay.RedactionPolicy
	AutoFlushOnDispose       bool
	MatchHeaderNames         []string
	ExcludedMatchHeaderNames []string
}

// DefaultOptions returns spec-reasonable defaults: cache enabled, no
// replay, a process-wide pool with teacher-idiomatic caps.
func DefaultOptions() Options {
	return Options{
		Pool:           PoolOptions{PerOriginMax: 6, GlobalMax: 100, IdleTimeout: 90 * time.Second},
		Cache:          cache.DefaultOptions(),
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the public entry point: it owns the connection pool, the
// in-memory cache, the compiled middleware pipeline, and, when
// Options.Metrics is set, the telemetry registry, per spec §6.
type Client struct {
	opts     Options
	pool     *pool.Pool
	cache    *cache.Storage
	pipeline *middleware.Pipeline
	logger   *zap.Logger
	metrics  *telemetry.Registry
	replayT  *replay.Transport // non-nil only when Replay.Mode is set
}

// New constructs a Client. The caller must call Close when done to close
// the pooled connections and flush any pending replay recording.
func New(opts Options) (*Client, error) {
	if opts.Pool.PerOriginMax <= 0 {
		opts.Pool.PerOriginMax = 6
	}
	if opts.Pool.GlobalMax <= 0 {
		opts.Pool.GlobalMax = 100
	}
	if opts.Pool.IdleTimeout <= 0 {
		opts.Pool.IdleTimeout = 90 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	logger, err := telemetry.NewLogger(opts.Logging)
	if err != nil {
		return nil, err
	}

	var metrics *telemetry.Registry
	if opts.Metrics {
		metrics = telemetry.NewRegistry()
	}

	clock := clockwork.NewRealClock()
	storage := cache.NewStorage(0, 0, clock)

	netTransport := newTransport(opts.Transport, nil)
	p := pool.New(pool.Options{
		PerOriginMax: opts.Pool.PerOriginMax,
		GlobalMax:    opts.Pool.GlobalMax,
		IdleTimeout:  opts.Pool.IdleTimeout,
		Metrics:      metrics,
		Dial:         netTransport.dial,
	})
	netTransport.pool = p

	c := &Client{opts: opts, pool: p, cache: storage, logger: logger, metrics: metrics}

	var bottom middleware.Transport = netTransport
	if opts.Replay.Mode != "" {
		rt, err := replay.New(replay.Options{
			Mode:                     opts.Replay.Mode,
			RecordingPath:            opts.Replay.RecordingPath,
			MismatchPolicy:           opts.Replay.MismatchPolicy,
			Redaction:                opts.Replay.Redaction,
			AutoFlushOnDispose:       opts.Replay.AutoFlushOnDispose,
			MatchHeaderNames:         opts.Replay.MatchHeaderNames,
			ExcludedMatchHeaderNames: opts.Replay.ExcludedMatchHeaderNames,
			Logger:                   logger,
		}, netTransport)
		if err != nil {
			return nil, err
		}
		c.replayT = rt
		bottom = rt
	}

	cacheMW := cache.New(opts.Cache, storage, clock, metrics)
	c.pipeline = middleware.Compile(bottom, cacheMW)

	return c, nil
}

// Send runs req through the compiled pipeline (cache decision, then the
// network or replay transport), per spec §4.6/§6.
func (c *Client) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout())
		defer cancel()
	} else if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	return c.pipeline.Send(ctx, req)
}

// Open dials a WebSocket connection, bypassing the HTTP middleware pipeline
// entirely (it is not cacheable and not subject to replay), per spec §4.11.
// A non-nil policy wraps the dial in a ResilientClient that reconnects
// across drops; a nil policy returns the bare Connection.
func (c *Client) Open(ctx context.Context, rawURL string, wsOpts ws.Options, policy *ws.ReconnectPolicy) (*ws.Connection, *ws.ResilientClient, error) {
	if policy == nil {
		conn, err := ws.Dial(ctx, rawURL, wsOpts)
		return conn, nil, err
	}
	dial := ws.DialFunc(func(dctx context.Context) (*ws.Connection, error) {
		return ws.Dial(dctx, rawURL, wsOpts)
	})
	effective := *policy
	if effective.Metrics == nil {
		effective.Metrics = c.metrics
	}
	rc := ws.NewResilientClient(dial, effective)
	return nil, rc, nil
}

// Close flushes any pending replay recording, then shuts the connection
// pool down, closing every pooled connection without waiting for requests
// still in flight.
func (c *Client) Close(ctx context.Context) error {
	if c.replayT != nil {
		if err := c.replayT.Flush(); err != nil {
			return err
		}
	}
	return c.pool.Shutdown(ctx)
}

// Metrics exposes the optional Prometheus registry, nil unless
// Options.Metrics was set.
func (c *Client) Metrics() *telemetry.Registry { return c.metrics }

// Logger exposes the structured logger the Client was built with.
func (c *Client) Logger() *zap.Logger { return c.logger }
