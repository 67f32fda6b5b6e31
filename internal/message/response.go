package message

import (
	"sync"
	"time"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/headers"
)

// Response is created by a transport or by the cache from a stored entry.
// The consumer MUST call Release on every exit path, per spec §3 and §9's
// "shared response body borrowed from a pool" note.
type Response struct {
	StatusCode uint16
	Header     *headers.Table
	Elapsed    time.Duration
	Request    *Request
	Err        *Error

	body         *bufpool.PooledBytes
	releaseOnce  sync.Once
}

// NewResponse constructs a Response taking ownership of body (may be nil).
func NewResponse(status uint16, header *headers.Table, body *bufpool.PooledBytes, req *Request) *Response {
	if header == nil {
		header = headers.New()
	}
	return &Response{StatusCode: status, Header: header, body: body, Request: req}
}

// Body returns the response body bytes. Valid until Release is called.
func (r *Response) Body() []byte {
	if r == nil || r.body == nil {
		return nil
	}
	return r.body.Bytes()
}

// Release returns the pooled body buffer exactly once. Safe to call
// multiple times and on a nil receiver.
func (r *Response) Release() {
	if r == nil {
		return
	}
	r.releaseOnce.Do(func() {
		if r.body != nil {
			r.body.Release()
		}
	})
}
