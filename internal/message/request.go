package message

import (
	"time"

	"turbohttp/internal/headers"
)

// Method is an enum over the standard HTTP verbs, per spec §3.
type Method string

const (
	MethodGET     Method = "GET"
	MethodHEAD    Method = "HEAD"
	MethodPOST    Method = "POST"
	MethodPUT     Method = "PUT"
	MethodPATCH   Method = "PATCH"
	MethodDELETE  Method = "DELETE"
	MethodOPTIONS Method = "OPTIONS"
	MethodTRACE   Method = "TRACE"
	MethodCONNECT Method = "CONNECT"
)

// IsUnsafe reports whether the method is one of the unsafe verbs spec §4.7
// invalidation applies to.
func (m Method) IsUnsafe() bool {
	switch m {
	case MethodPOST, MethodPUT, MethodPATCH, MethodDELETE:
		return true
	}
	return false
}

// Request is an immutable value: callers derive modified copies through
// WithHeader/WithBody rather than mutating shared state, per spec §3 and the
// redesign note in spec §9 ("immutable request with builder").
type Request struct {
	method   Method
	uri      string
	header   *headers.Table
	body     []byte
	timeout  time.Duration
	metadata map[string]any
}

// NewRequest constructs a Request. header may be nil (an empty table is
// used); the table is cloned so the caller's copy stays independent.
func NewRequest(method Method, absoluteURI string, header *headers.Table, body []byte) *Request {
	var h *headers.Table
	if header == nil {
		h = headers.New()
	} else {
		h = header.Clone()
	}
	return &Request{method: method, uri: absoluteURI, header: h, body: body}
}

func (r *Request) Method() Method           { return r.method }
func (r *Request) URI() string              { return r.uri }
func (r *Request) Header() *headers.Table   { return r.header }
func (r *Request) Body() []byte             { return r.body }
func (r *Request) Timeout() time.Duration   { return r.timeout }
func (r *Request) Metadata() map[string]any { return r.metadata }

// WithHeader returns a new Request with name set to value (replacing prior
// values), leaving the receiver untouched.
func (r *Request) WithHeader(name, value string) *Request {
	clone := r.clone()
	clone.header.Set(name, value)
	return clone
}

// WithAddedHeader returns a new Request with value appended under name,
// preserving any existing values.
func (r *Request) WithAddedHeader(name, value string) *Request {
	clone := r.clone()
	clone.header.Add(name, value)
	return clone
}

// WithBody returns a new Request with body replaced.
func (r *Request) WithBody(body []byte) *Request {
	clone := r.clone()
	clone.body = body
	return clone
}

// WithTimeout returns a new Request with the per-request timeout set.
func (r *Request) WithTimeout(d time.Duration) *Request {
	clone := r.clone()
	clone.timeout = d
	return clone
}

// WithMetadata returns a new Request with key=value merged into the opaque
// metadata map.
func (r *Request) WithMetadata(key string, value any) *Request {
	clone := r.clone()
	m := make(map[string]any, len(r.metadata)+1)
	for k, v := range r.metadata {
		m[k] = v
	}
	m[key] = value
	clone.metadata = m
	return clone
}

func (r *Request) clone() *Request {
	return &Request{
		method:   r.method,
		uri:      r.uri,
		header:   r.header.Clone(),
		body:     r.body,
		timeout:  r.timeout,
		metadata: r.metadata,
	}
}
