// Package telemetry wires the ambient logging and metrics stack used by
// every other package in this module: structured zap logging with optional
// lumberjack rotation, and an optional Prometheus registry for pool/cache/
// WebSocket health counters.
package telemetry

import (
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var zapStderr = os.Stderr

// LogOptions configures the package-wide structured logger.
type LogOptions struct {
	// Level is one of "debug", "info", "warn", "error"; empty defaults to "info".
	Level string
	// FilePath, if set, rotates logs through lumberjack instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger builds a *zap.Logger per opts. A zero-value LogOptions yields a
// sane stderr JSON logger at info level.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if opts.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    nonZero(opts.MaxSizeMB, 100),
			MaxBackups: nonZero(opts.MaxBackups, 3),
			MaxAge:     nonZero(opts.MaxAgeDays, 28),
			Compress:   opts.Compress,
		})
	} else {
		sink = zapcore.Lock(zapcore.AddSync(zapStderr))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Registry is an optional set of Prometheus collectors. Its collector
// fields cannot be reached through a nil *Registry, so callers check for
// nil before recording a metric; Gatherer accepts a nil receiver.
type Registry struct {
	reg *prometheus.Registry

	PoolLeases      *prometheus.CounterVec
	PoolIdle        prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheRevalidate prometheus.Counter
	WSReconnects    prometheus.Counter

	once sync.Once
}

// NewRegistry constructs a Registry backed by a fresh prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	r.PoolLeases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbohttp",
		Subsystem: "pool",
		Name:      "leases_total",
		Help:      "Connection pool lease attempts by outcome.",
	}, []string{"outcome"})
	r.PoolIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "turbohttp",
		Subsystem: "pool",
		Name:      "idle_connections",
		Help:      "Current idle connection count across all origins.",
	})
	r.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "turbohttp", Subsystem: "cache", Name: "hits_total",
	})
	r.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "turbohttp", Subsystem: "cache", Name: "misses_total",
	})
	r.CacheRevalidate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "turbohttp", Subsystem: "cache", Name: "revalidations_total",
	})
	r.WSReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "turbohttp", Subsystem: "websocket", Name: "reconnects_total",
	})
	r.reg.MustRegister(r.PoolLeases, r.PoolIdle, r.CacheHits, r.CacheMisses, r.CacheRevalidate, r.WSReconnects)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP /metrics
// handler; neither this package nor cmd/httpcore serves one.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}
