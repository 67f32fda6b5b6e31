package replay

import (
	"sync"
	"sync/atomic"
)

// recordedEntry pairs a persisted entry with a one-shot consumed flag, per
// spec §4.9's "each entry may be consumed at most once (atomic one-shot
// flag)".
type recordedEntry struct {
	data     *envelopeEntry
	consumed atomic.Bool
}

// store is the in-memory index over a recording file's entries: the
// querying side (Replay mode) and the appending side (Record mode) of the
// record/replay transport.
type store struct {
	path string

	mu      sync.Mutex
	env     *envelope
	entries []*recordedEntry
	nextSeq int64
}

func newStore(path string) (*store, error) {
	env, err := loadEnvelope(path)
	if err != nil {
		return nil, err
	}
	s := &store{path: path, env: env}
	var maxSeq int64
	for _, e := range env.Entries {
		s.entries = append(s.entries, &recordedEntry{data: e})
		if e.Sequence > maxSeq {
			maxSeq = e.Sequence
		}
	}
	s.nextSeq = maxSeq + 1
	return s, nil
}

// append assigns e the next sequence number and records it.
func (s *store) append(e *envelopeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Sequence = s.nextSeq
	s.nextSeq++
	s.env.Entries = append(s.env.Entries, e)
	re := &recordedEntry{data: e}
	re.consumed.Store(true) // a just-recorded entry is not replay fodder in this run
	s.entries = append(s.entries, re)
}

// findAndConsume returns the first unconsumed entry whose RequestKey
// matches key, atomically marking it consumed.
func (s *store) findAndConsume(key string) (*envelopeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, re := range s.entries {
		if re.data.RequestKey != key {
			continue
		}
		if re.consumed.CompareAndSwap(false, true) {
			return re.data, true
		}
	}
	return nil, false
}

// findAndConsumeRelaxed returns the first unconsumed entry whose
// method+canonical-URI matches relaxed, per the Relaxed mismatch policy.
func (s *store) findAndConsumeRelaxed(relaxed string) (*envelopeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, re := range s.entries {
		k, err := relaxedKeyOfEntry(re.data)
		if err != nil || k != relaxed {
			continue
		}
		if re.consumed.CompareAndSwap(false, true) {
			return re.data, true
		}
	}
	return nil, false
}

// flush persists the current envelope to disk. A no-op when path is empty
// (in-memory-only use, e.g. tests).
func (s *store) flush() error {
	s.mu.Lock()
	env := s.env
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return nil
	}
	return saveEnvelope(path, env)
}
