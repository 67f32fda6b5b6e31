// Package bufpool hands out scoped-lease byte buffers backed by sync.Pool.
//
// Every lease is returned through Release exactly once; buffers are zeroed in
// length (not contents) before reuse so stale data never leaks across a
// lease boundary.
package bufpool

import (
	"bytes"
	"sync"
)

const defaultCapacity = 4096

var pool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, defaultCapacity))
	},
}

// Lease is a borrowed *bytes.Buffer. Callers must call Release when done.
type Lease struct {
	buf *bytes.Buffer
}

// Acquire returns a reset, ready-to-use buffer.
func Acquire() *Lease {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return &Lease{buf: b}
}

// Buffer exposes the underlying buffer for read/write.
func (l *Lease) Buffer() *bytes.Buffer {
	return l.buf
}

// Bytes returns the buffer's current contents.
func (l *Lease) Bytes() []byte {
	return l.buf.Bytes()
}

// Release returns the buffer to the pool. Safe to call at most once per
// lease; calling it twice would let two owners mutate the same backing
// array concurrently, so Release nils the lease's buffer and a second call
// returns without touching the pool.
func (l *Lease) Release() {
	if l.buf == nil {
		return
	}
	b := l.buf
	l.buf = nil
	if b.Cap() > 1<<20 {
		// Don't let one oversized response body inflate the pool's steady
		// state; let the GC reclaim it instead of recycling it.
		return
	}
	pool.Put(b)
}

// PooledBytes is an owned, released-on-disposal byte range used for response
// bodies and other data handed from a producer (transport) to a consumer
// (caller), per spec.md §3's "shared response body borrowed from a pool".
type PooledBytes struct {
	lease *Lease
	data  []byte
}

// Wrap takes ownership of lease and exposes data (a view into it, or a
// standalone slice when the body didn't come from the pool, e.g. a cache
// entry's stored copy).
func Wrap(lease *Lease, data []byte) *PooledBytes {
	return &PooledBytes{lease: lease, data: data}
}

// WrapOwned wraps data that does not need pool release (already a private
// copy, e.g. from cache storage).
func WrapOwned(data []byte) *PooledBytes {
	return &PooledBytes{data: data}
}

func (p *PooledBytes) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Release returns the backing lease to the pool exactly once. Safe to call
// on a nil receiver and safe to call multiple times.
func (p *PooledBytes) Release() {
	if p == nil || p.lease == nil {
		return
	}
	p.lease.Release()
	p.lease = nil
}
