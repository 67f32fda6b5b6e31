package cache

import (
	"container/list"
	"sync"
	"time"
)

const metadataOverheadBytes = 1024

// Clock abstracts time.Now for deterministic freshness/LRU tests, grounded
// on github.com/jonboulle/clockwork per SPEC_FULL.md §A.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type lruNode struct {
	key      string
	entry    *Entry
	byteSize int64
}

// Storage is the bounded in-memory LRU cache store from spec §4.8: a
// single well-bounded mutex per spec §9 ("prefer a single well-bounded
// mutex per subsystem... rather than fine-grained concurrent maps"), since
// the store's own strict-LRU invariant (spec §8) requires one global
// recency order and operations never block on I/O.
type Storage struct {
	maxEntries int
	maxBytes   int64
	clock      Clock

	mu      sync.Mutex
	ll      *list.List // front = most recently used
	entries map[string]*list.Element
	bytes   int64
}

// NewStorage constructs a Storage bounded by maxEntries and maxBytes (both
// <= 0 meaning unbounded in that dimension). A nil clock uses time.Now.
func NewStorage(maxEntries int, maxBytes int64, clock Clock) *Storage {
	if clock == nil {
		clock = realClock{}
	}
	return &Storage{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		clock:      clock,
		ll:         list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// EstimateSize computes body_length + headers_bytes + metadataOverheadBytes,
// deterministically across platforms per spec §4.8.
func EstimateSize(e *Entry) int64 {
	size := int64(len(e.Body)) + metadataOverheadBytes
	e.Header.Range(func(name, value string) {
		size += int64(len(name) + len(": ") + len(value) + len("\r\n"))
	})
	return size
}

// Get returns the entry for key, moving it to the front if unexpired. An
// expired entry is removed and (nil, false) returned, per spec §4.8.
func (s *Storage) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	node := el.Value.(*lruNode)
	if node.entry.ExpiresAtUTC != nil && !node.entry.IsFresh(s.clock.Now()) {
		s.removeLocked(el, node)
		return nil, false
	}
	s.ll.MoveToFront(el)
	return node.entry, true
}

// Peek returns the entry for key regardless of freshness, moving it to the
// front of the recency list. Unlike Get, it never evicts an expired entry:
// the cache middleware still needs a stale entry's validator to drive
// conditional revalidation, per spec §4.7.
func (s *Storage) Peek(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*lruNode).entry, true
}

// Set stores entry under key. A single entry exceeding the byte budget is
// silently dropped (not stored); otherwise expired entries are swept and
// LRU-tail entries evicted until both bounds hold, per spec §4.8.
func (s *Storage) Set(key string, entry *Entry) {
	size := EstimateSize(entry)
	if s.maxBytes > 0 && size > s.maxBytes {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeLocked(el, el.Value.(*lruNode))
	}

	s.sweepExpiredLocked()

	node := &lruNode{key: key, entry: entry, byteSize: size}
	el := s.ll.PushFront(node)
	s.entries[key] = el
	s.bytes += size

	s.evictLocked()
}

// Remove deletes key unconditionally.
func (s *Storage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el, el.Value.(*lruNode))
	}
}

// Clear empties the store.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.entries = make(map[string]*list.Element)
	s.bytes = 0
}

// Count returns the current entry count.
func (s *Storage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Size returns the current estimated total byte size.
func (s *Storage) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Storage) removeLocked(el *list.Element, node *lruNode) {
	s.ll.Remove(el)
	delete(s.entries, node.key)
	s.bytes -= node.byteSize
}

func (s *Storage) sweepExpiredLocked() {
	now := s.clock.Now()
	var next *list.Element
	for el := s.ll.Back(); el != nil; el = next {
		next = el.Prev()
		node := el.Value.(*lruNode)
		if node.entry.ExpiresAtUTC != nil && !node.entry.IsFresh(now) {
			s.removeLocked(el, node)
		}
	}
}

func (s *Storage) evictLocked() {
	for (s.maxEntries > 0 && len(s.entries) > s.maxEntries) ||
		(s.maxBytes > 0 && s.bytes > s.maxBytes) {
		back := s.ll.Back()
		if back == nil {
			return
		}
		s.removeLocked(back, back.Value.(*lruNode))
	}
}
