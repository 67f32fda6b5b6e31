// Package middleware implements the fixed ordered pipeline from spec §4.6:
// a left-fold of (request, ctx, next) → response functions compiled once at
// client construction, terminating at the transport.
package middleware

import (
	"context"
	"time"

	"turbohttp/internal/message"
)

// Transport is the terminal collaborator every pipeline eventually calls.
type Transport interface {
	Send(ctx context.Context, req *message.Request) (*message.Response, error)
}

// Next is what a middleware calls to continue the chain.
type Next func(ctx context.Context, req *message.Request) (*message.Response, error)

// Middleware may inspect/transform the request before calling next,
// inspect/transform the response after, or short-circuit by returning a
// response without invoking next. Implementations must be stateless across
// requests — all per-request state flows through ctx (see Timeline/CurrentRequest).
type Middleware interface {
	Invoke(ctx context.Context, req *message.Request, next Next) (*message.Response, error)
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx context.Context, req *message.Request, next Next) (*message.Response, error)

func (f MiddlewareFunc) Invoke(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
	return f(ctx, req, next)
}

// Event is one recorded step in the pipeline timeline, used for debugging
// and test assertions.
type Event struct {
	Stage string
	At    time.Time
}

type timelineKey struct{}
type currentRequestKey struct{}

// Timeline is the mutable per-request recorder threaded through ctx so
// inner middlewares can observe prior stages without adding a pipeline
// dependency between them.
type Timeline struct {
	events []Event
}

func (t *Timeline) Record(stage string) {
	t.events = append(t.events, Event{Stage: stage, At: time.Now()})
}

func (t *Timeline) Events() []Event {
	return t.events
}

// currentRequestSlot lets an inner middleware observe a conditional rewrite
// made by an outer one (e.g. the cache middleware turning a GET into a
// conditional revalidation request), per spec §4.6.
type currentRequestSlot struct {
	req *message.Request
}

// NewContext attaches a fresh Timeline and current-request slot to ctx.
func NewContext(ctx context.Context, req *message.Request) context.Context {
	ctx = context.WithValue(ctx, timelineKey{}, &Timeline{})
	ctx = context.WithValue(ctx, currentRequestKey{}, &currentRequestSlot{req: req})
	return ctx
}

// TimelineFromContext returns the Timeline attached by NewContext, or nil.
func TimelineFromContext(ctx context.Context) *Timeline {
	t, _ := ctx.Value(timelineKey{}).(*Timeline)
	return t
}

// SetCurrentRequest updates the mutable current-request slot so inner
// middlewares observe the rewrite.
func SetCurrentRequest(ctx context.Context, req *message.Request) {
	if slot, ok := ctx.Value(currentRequestKey{}).(*currentRequestSlot); ok {
		slot.req = req
	}
}

// CurrentRequest reads the current-request slot.
func CurrentRequest(ctx context.Context) *message.Request {
	if slot, ok := ctx.Value(currentRequestKey{}).(*currentRequestSlot); ok {
		return slot.req
	}
	return nil
}

// Pipeline is the compiled-once left-fold of middlewares over a transport.
// An empty pipeline bypasses directly to the transport, per spec §4.6.
type Pipeline struct {
	chain Next
}

// Compile folds middlewares (outermost first) around transport into a
// single Next. Response processing walks the chain in reverse of request
// processing, per spec §5's ordering guarantee, because each middleware's
// own Invoke wraps next's result on the way back out.
func Compile(transport Transport, middlewares ...Middleware) *Pipeline {
	next := Next(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return transport.Send(ctx, req)
	})
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw := middlewares[i]
		innerNext := next
		next = func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return mw.Invoke(ctx, req, innerNext)
		}
	}
	return &Pipeline{chain: next}
}

// Send runs the compiled pipeline for one request.
func (p *Pipeline) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	ctx = NewContext(ctx, req)
	return p.chain(ctx, req)
}
