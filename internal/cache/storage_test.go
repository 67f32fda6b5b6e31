package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/headers"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func entryWithBody(body string) *Entry {
	return &Entry{Header: headers.New(), Body: []byte(body)}
}

func TestStorageGetSetRoundTrip(t *testing.T) {
	s := NewStorage(10, 1<<20, nil)
	s.Set("k1", entryWithBody("hello"))
	e, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "hello", string(e.Body))
}

func TestStorageLRUEvictsOldest(t *testing.T) {
	s := NewStorage(2, 0, nil)
	s.Set("a", entryWithBody("1"))
	s.Set("b", entryWithBody("2"))
	s.Set("c", entryWithBody("3")) // evicts "a"

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Count())
}

func TestStorageGetTouchesRecency(t *testing.T) {
	s := NewStorage(2, 0, nil)
	s.Set("a", entryWithBody("1"))
	s.Set("b", entryWithBody("2"))
	s.Get("a") // touch a, making b the LRU tail
	s.Set("c", entryWithBody("3"))

	_, ok := s.Get("b")
	assert.False(t, ok)
	_, ok = s.Get("a")
	assert.True(t, ok)
}

func TestStorageByteBudgetDropsOversizedEntry(t *testing.T) {
	s := NewStorage(0, 10, nil)
	big := entryWithBody(string(make([]byte, 1000)))
	s.Set("big", big)
	_, ok := s.Get("big")
	assert.False(t, ok)
	assert.Equal(t, int64(0), s.Size())
}

func TestStorageExpiredEntryRemovedOnGet(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewStorage(10, 0, clock)
	expires := clock.now.Add(-time.Second)
	e := entryWithBody("stale")
	e.ExpiresAtUTC = &expires
	s.Set("k", e)

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}
