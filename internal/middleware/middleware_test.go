package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/message"
)

type fakeTransport struct {
	calls int
}

func (f *fakeTransport) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	f.calls++
	return message.NewResponse(200, nil, nil, req), nil
}

func recordingMiddleware(name string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
		TimelineFromContext(ctx).Record(name + ":before")
		resp, err := next(ctx, req)
		TimelineFromContext(ctx).Record(name + ":after")
		return resp, err
	})
}

func TestEmptyPipelineBypassesToTransport(t *testing.T) {
	tr := &fakeTransport{}
	p := Compile(tr)
	req := message.NewRequest(message.MethodGET, "http://example.com/", nil, nil)
	resp, err := p.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint16(200), resp.StatusCode)
	assert.Equal(t, 1, tr.calls)
}

func TestPipelineOrderingIsRequestThenReverseResponse(t *testing.T) {
	tr := &fakeTransport{}
	var timeline *Timeline
	capture := MiddlewareFunc(func(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
		timeline = TimelineFromContext(ctx)
		return next(ctx, req)
	})
	p := Compile(tr, capture, recordingMiddleware("A"), recordingMiddleware("B"))
	req := message.NewRequest(message.MethodGET, "http://example.com/", nil, nil)
	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	var stages []string
	for _, e := range timeline.Events() {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{"A:before", "B:before", "B:after", "A:after"}, stages)
}

func TestShortCircuitSkipsTransport(t *testing.T) {
	tr := &fakeTransport{}
	shortCircuit := MiddlewareFunc(func(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
		return message.NewResponse(304, nil, nil, req), nil
	})
	p := Compile(tr, shortCircuit)
	req := message.NewRequest(message.MethodGET, "http://example.com/", nil, nil)
	resp, err := p.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint16(304), resp.StatusCode)
	assert.Equal(t, 0, tr.calls)
}

func TestCurrentRequestSlotObservesRewrite(t *testing.T) {
	tr := &fakeTransport{}
	rewriter := MiddlewareFunc(func(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
		rewritten := req.WithHeader("If-None-Match", `"v1"`)
		SetCurrentRequest(ctx, rewritten)
		return next(ctx, rewritten)
	})
	var observed *message.Request
	observer := MiddlewareFunc(func(ctx context.Context, req *message.Request, next Next) (*message.Response, error) {
		observed = CurrentRequest(ctx)
		return next(ctx, req)
	})
	p := Compile(tr, rewriter, observer)
	req := message.NewRequest(message.MethodGET, "http://example.com/", nil, nil)
	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)
	v, ok := observed.Header().Get("If-None-Match")
	require.True(t, ok)
	assert.Equal(t, `"v1"`, v)
}
