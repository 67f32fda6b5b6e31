package ws

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"turbohttp/internal/telemetry"
)

// ReconnectPolicy governs the resilient client's retry loop, per spec
// §4.12.
type ReconnectPolicy struct {
	// MaxRetries bounds consecutive reconnect attempts; -1 means
	// unlimited.
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	// ShouldReconnect decides whether a given close code warrants a
	// retry. Nil means always retry.
	ShouldReconnect func(code StatusCode) bool
	// Metrics, if set, is incremented on every successful reconnect. A
	// nil Metrics is a valid no-op, same as telemetry.Registry elsewhere.
	Metrics *telemetry.Registry
}

// DefaultReconnectPolicy matches common exponential-backoff defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxRetries:        -1,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

// delay returns the backoff for the given 0-indexed attempt, with jitter.
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := base * p.JitterFactor
		base += (rand.Float64()*2 - 1) * jitter
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// EventKind identifies a ResilientClient lifecycle event.
type EventKind int

const (
	EventError EventKind = iota
	EventReconnecting
	EventReconnected
	EventClosed
)

// Event is emitted to a ResilientClient's Events channel on every
// reconnect-loop transition, per spec §4.12.
type Event struct {
	Kind    EventKind
	Attempt int
	Delay   time.Duration
	Err     error
}

// DialFunc opens a fresh connection, re-run on every reconnect attempt.
type DialFunc func(ctx context.Context) (*Connection, error)

// ResilientClient wraps a Connection with automatic reconnection: on
// unexpected termination it re-dials with exponential backoff and resumes
// ReceiveAll from the new connection, per spec §4.12.
type ResilientClient struct {
	dial   DialFunc
	policy ReconnectPolicy
	events chan Event

	mu   sync.Mutex
	conn *Connection
}

// NewResilientClient wraps dial with policy. The initial connection is
// established lazily on the first Send/ReceiveAll call.
func NewResilientClient(dial DialFunc, policy ReconnectPolicy) *ResilientClient {
	return &ResilientClient{dial: dial, policy: policy, events: make(chan Event, 16)}
}

// Events returns the channel lifecycle events are published to. The
// channel is never closed by the client; callers select on ctx.Done()
// alongside it.
func (r *ResilientClient) Events() <-chan Event { return r.events }

func (r *ResilientClient) emit(e Event) {
	select {
	case r.events <- e:
	default: // a slow consumer never blocks the reconnect loop
	}
}

func (r *ResilientClient) current() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *ResilientClient) setCurrent(c *Connection) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
}

// ensure returns a live connection, dialing one (no retry) if none exists.
func (r *ResilientClient) ensure(ctx context.Context) (*Connection, error) {
	if c := r.current(); c != nil && c.State() == StateOpen {
		return c, nil
	}
	c, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	r.setCurrent(c)
	return c, nil
}

// Send forwards to the current connection, dialing one first if needed.
// It does not itself reconnect on a mid-send failure; that's ReceiveAll's
// job per spec §4.12 ("ReceiveAll blocks across reconnects").
func (r *ResilientClient) Send(ctx context.Context, opcode Opcode, data []byte) error {
	c, err := r.ensure(ctx)
	if err != nil {
		return err
	}
	return c.Send(ctx, opcode, data)
}

// Close closes the current connection, if any, and does not reconnect.
func (r *ResilientClient) Close(code StatusCode, reason string) error {
	c := r.current()
	if c == nil {
		return nil
	}
	return c.Close(code, reason)
}

// ReceiveAll streams messages across reconnects, per spec §4.12: on
// unexpected termination it emits Error, backs off, emits Reconnecting,
// re-dials, emits Reconnected on success, and resumes. Retry exhaustion
// emits Closed and ends the sequence.
func (r *ResilientClient) ReceiveAll(ctx context.Context) func(yield func(Message, error) bool) {
	return func(yield func(Message, error) bool) {
		attempt := 0

		conn, err := r.ensure(ctx)
		if err != nil {
			r.emit(Event{Kind: EventError, Err: err})
			conn, err = r.reconnectLoop(ctx, &attempt, StatusAbnormalClosure)
			if err != nil {
				r.emit(Event{Kind: EventClosed})
				return
			}
		}

		for {
			streamErr := error(nil)
			for msg, rerr := range conn.ReceiveAll(ctx) {
				if rerr != nil {
					streamErr = rerr
					break
				}
				attempt = 0 // a clean receive resets backoff
				if !yield(msg, nil) {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if streamErr == nil {
				streamErr = ErrConnectionClosed
			}
			r.emit(Event{Kind: EventError, Err: streamErr})

			code := StatusAbnormalClosure
			if status := conn.closeStatus.Load(); status != nil {
				code = status.Code
			}
			conn, err = r.reconnectLoop(ctx, &attempt, code)
			if err != nil {
				r.emit(Event{Kind: EventClosed})
				return
			}
		}
	}
}

// errReconnectAbandoned is the non-nil failure reconnectLoop always
// returns when it gives up without ctx itself having ended.
var errReconnectAbandoned = &reconnectAbandonedError{}

type reconnectAbandonedError struct{}

func (e *reconnectAbandonedError) Error() string { return "ws: reconnect abandoned" }

// reconnectLoop retries dial with backoff until it succeeds, the policy
// refuses the close code, retries are exhausted, or ctx ends.
func (r *ResilientClient) reconnectLoop(ctx context.Context, attempt *int, code StatusCode) (*Connection, error) {
	for {
		if r.policy.ShouldReconnect != nil && !r.policy.ShouldReconnect(code) {
			return nil, errReconnectAbandoned
		}
		if r.policy.MaxRetries >= 0 && *attempt >= r.policy.MaxRetries {
			return nil, errReconnectAbandoned
		}

		d := r.policy.delay(*attempt)
		*attempt++
		r.emit(Event{Kind: EventReconnecting, Attempt: *attempt, Delay: d})

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		c, err := r.dial(ctx)
		if err != nil {
			r.emit(Event{Kind: EventError, Err: err})
			continue
		}
		r.setCurrent(c)
		if r.policy.Metrics != nil {
			r.policy.Metrics.WSReconnects.Inc()
		}
		r.emit(Event{Kind: EventReconnected, Attempt: *attempt})
		return c, nil
	}
}
