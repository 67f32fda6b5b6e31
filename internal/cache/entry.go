package cache

import (
	"time"

	"turbohttp/internal/headers"
)

// Entry is an immutable cache record, per spec §3. Created at store/merge;
// never mutated in place — Merge returns a new Entry.
type Entry struct {
	StorageKey     string
	Status         uint16
	Header         *headers.Table
	Body           []byte
	CachedAtUTC    time.Time
	ExpiresAtUTC   *time.Time
	ETag           string
	LastModified   string
	ResponseURL    string
	VaryNames      []string // sorted
	VaryKey        string
	MustRevalidate bool
}

// Signature is this entry's vary signature, computed from its sorted
// VaryNames (empty list -> "").
func (e *Entry) Signature() string {
	return Signature(e.VaryNames)
}

// IsFresh reports whether the entry is fresh as of now.
func (e *Entry) IsFresh(now time.Time) bool {
	if e.ExpiresAtUTC == nil {
		return false
	}
	return now.Before(*e.ExpiresAtUTC)
}

// Age returns the computed Age value (spec §4.7's "Age: computed_age"),
// the elapsed time since the entry was cached.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.CachedAtUTC)
	if age < 0 {
		return 0
	}
	return age
}

// Merge applies a 304 response's headers onto the entry, replacing by name
// for every header present in the 304, and returns a new Entry with
// freshness recomputed by the caller (the middleware re-derives
// ExpiresAtUTC from the merged headers), per spec §4.7.
func (e *Entry) Merge(responseHeader *headers.Table) *Entry {
	merged := e.Header.Clone()
	for _, name := range responseHeader.Names() {
		merged.Del(name)
		for _, v := range responseHeader.Values(name) {
			merged.Add(name, v)
		}
	}
	out := *e
	out.Header = merged
	if etag, ok := merged.Get("ETag"); ok {
		out.ETag = etag
	}
	if lm, ok := merged.Get("Last-Modified"); ok {
		out.LastModified = lm
	}
	return &out
}
