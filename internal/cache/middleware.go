package cache

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/headers"
	"turbohttp/internal/message"
	"turbohttp/internal/middleware"
	"turbohttp/internal/telemetry"
	"turbohttp/internal/uri"
)

// Options mirrors spec §6's cache configuration options.
type Options struct {
	EnableCache                     bool
	CacheHeadRequests               bool
	EnableRevalidation              bool
	DoNotCacheWithoutFreshness      bool
	EnableHeuristicFreshness        bool
	HeuristicFreshnessLifetime      time.Duration
	AllowPrivateResponses           bool
	AllowCacheForAuthorizedRequests bool
	AllowSetCookieResponses         bool
	AllowVaryCookie                 bool
	AllowVaryAuthorization          bool
	InvalidateOnUnsafeMethods       bool
}

// DefaultOptions mirrors the defaults enumerated in spec §6.
func DefaultOptions() Options {
	return Options{
		EnableCache:                true,
		EnableRevalidation:         true,
		DoNotCacheWithoutFreshness: true,
		HeuristicFreshnessLifetime: 60 * time.Second,
		AllowPrivateResponses:      true,
		InvalidateOnUnsafeMethods:  true,
	}
}

// Middleware implements RFC 9111 decision logic per spec §4.7 as a
// turbohttp/internal/middleware.Middleware.
type Middleware struct {
	opts    Options
	storage *Storage
	index   *VariantIndex
	clock   Clock
	metrics *telemetry.Registry
}

// New constructs the cache middleware over storage (already bounded per
// spec §4.8).
func New(opts Options, storage *Storage, clock Clock, metrics *telemetry.Registry) *Middleware {
	if clock == nil {
		clock = realClock{}
	}
	return &Middleware{opts: opts, storage: storage, index: NewVariantIndex(), clock: clock, metrics: metrics}
}

var _ middleware.Middleware = (*Middleware)(nil)

// Invoke implements the decision tree from spec §4.7.
func (m *Middleware) Invoke(ctx context.Context, req *message.Request, next middleware.Next) (*message.Response, error) {
	if !m.opts.EnableCache {
		return next(ctx, req)
	}

	if req.Method().IsUnsafe() {
		resp, err := next(ctx, req)
		if err == nil && resp != nil && resp.StatusCode < 500 {
			m.invalidate(req, resp)
		}
		return resp, err
	}

	if req.Method() != message.MethodGET && !(req.Method() == message.MethodHEAD && m.opts.CacheHeadRequests) {
		return next(ctx, req)
	}

	baseKey, err := BaseKey(req.Method(), req.URI())
	if err != nil {
		return next(ctx, req)
	}

	forceRevalidate := HasPragmaNoCache(req.Header()) || ParseCacheControl(req.Header()).NoCache

	entry, storageKey := m.lookup(baseKey, req.Header())
	if entry == nil {
		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}
		m.maybeStore(baseKey, req, resp)
		if m.metrics != nil {
			m.metrics.CacheMisses.Inc()
		}
		return resp, nil
	}

	if !forceRevalidate && !entry.MustRevalidate && entry.IsFresh(m.clock.Now()) {
		if m.metrics != nil {
			m.metrics.CacheHits.Inc()
		}
		return m.synthesize(entry), nil
	}

	if !m.opts.EnableRevalidation || (entry.ETag == "" && entry.LastModified == "") {
		m.storage.Remove(storageKey)
		m.index.Remove(baseKey, storageKey)
		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}
		m.maybeStore(baseKey, req, resp)
		return resp, nil
	}

	return m.revalidate(ctx, req, baseKey, storageKey, entry, next)
}

func (m *Middleware) lookup(baseKey string, reqHeader *headers.Table) (*Entry, string) {
	sigs := m.index.Signatures(baseKey)
	if len(sigs) == 0 {
		key := DefaultStorageKey(baseKey)
		if e, ok := m.storage.Peek(key); ok {
			return e, key
		}
		return nil, ""
	}
	for _, sig := range sigs {
		varyNames := strings.Split(sig, "\n")
		if sig == "" {
			varyNames = nil
		}
		key := StorageKey(baseKey, VaryKey(varyNames, reqHeader))
		if e, ok := m.storage.Peek(key); ok {
			return e, key
		}
	}
	return nil, ""
}

func (m *Middleware) synthesize(entry *Entry) *message.Response {
	h := entry.Header.Clone()
	h.Set("Age", strconv.FormatInt(int64(entry.Age(m.clock.Now())/time.Second), 10))
	h.Set("X-Cache", "HIT")
	body := make([]byte, len(entry.Body))
	copy(body, entry.Body)
	return message.NewResponse(entry.Status, h, bufpool.WrapOwned(body), nil)
}

func (m *Middleware) maybeStore(baseKey string, req *message.Request, resp *message.Response) {
	if resp == nil || !IsCacheableStatus(int(resp.StatusCode)) {
		return
	}
	respCC := ParseCacheControl(resp.Header)
	reqCC := ParseCacheControl(req.Header())
	varyNames := VaryNames(resp.Header)

	if !ShouldStore(req.Header(), resp.Header, respCC, reqCC, varyNames, StoreOptions{
		AllowSetCookieResponses:         m.opts.AllowSetCookieResponses,
		AllowPrivateResponses:           m.opts.AllowPrivateResponses,
		AllowCacheForAuthorizedRequests: m.opts.AllowCacheForAuthorizedRequests,
		AllowVaryCookie:                 m.opts.AllowVaryCookie,
		AllowVaryAuthorization:          m.opts.AllowVaryAuthorization,
	}) {
		return
	}

	etag, _ := resp.Header.Get("ETag")
	lastModified, _ := resp.Header.Get("Last-Modified")
	hasValidator := etag != "" || lastModified != ""

	fresh := Lifetime(m.clock.Now(), resp.Header, respCC, hasValidator, FreshnessOptions{
		EnableHeuristicFreshness:   m.opts.EnableHeuristicFreshness,
		HeuristicFreshnessLifetime: m.opts.HeuristicFreshnessLifetime,
	})
	if fresh.ExpiresAtUTC == nil && !fresh.StorableWithoutFreshness && m.opts.DoNotCacheWithoutFreshness {
		return
	}

	varyKey := VaryKey(varyNames, req.Header())
	storageKey := StorageKey(baseKey, varyKey)
	sig := Signature(varyNames)

	entry := &Entry{
		StorageKey:     storageKey,
		Status:         resp.StatusCode,
		Header:         StripHopByHop(resp.Header),
		Body:           append([]byte(nil), resp.Body()...),
		CachedAtUTC:    m.clock.Now(),
		ExpiresAtUTC:   fresh.ExpiresAtUTC,
		ETag:           etag,
		LastModified:   lastModified,
		ResponseURL:    req.URI(),
		VaryNames:      varyNames,
		VaryKey:        varyKey,
		MustRevalidate: respCC.MustRevalidate,
	}
	m.storage.Set(storageKey, entry)
	m.index.Register(baseKey, storageKey, sig)
}

func (m *Middleware) revalidate(ctx context.Context, req *message.Request, baseKey, storageKey string, entry *Entry, next middleware.Next) (*message.Response, error) {
	condReq := req
	if entry.ETag != "" {
		condReq = condReq.WithHeader("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		condReq = condReq.WithHeader("If-Modified-Since", entry.LastModified)
	}
	middleware.SetCurrentRequest(ctx, condReq)

	resp, err := next(ctx, condReq)
	if err != nil {
		// Revalidation I/O error: the stale entry is removed rather than
		// served, per spec §7/§9 — stale-if-error is not adopted (see
		// SPEC_FULL.md §D).
		m.storage.Remove(storageKey)
		m.index.Remove(baseKey, storageKey)
		return resp, err
	}

	if resp.StatusCode == 304 {
		merged := entry.Merge(resp.Header)
		respCC := ParseCacheControl(merged.Header)
		fresh := Lifetime(m.clock.Now(), merged.Header, respCC, true, FreshnessOptions{
			EnableHeuristicFreshness:   m.opts.EnableHeuristicFreshness,
			HeuristicFreshnessLifetime: m.opts.HeuristicFreshnessLifetime,
		})
		merged.ExpiresAtUTC = fresh.ExpiresAtUTC
		merged.CachedAtUTC = m.clock.Now()
		merged.MustRevalidate = respCC.MustRevalidate
		m.storage.Set(storageKey, merged)
		if m.metrics != nil {
			m.metrics.CacheRevalidate.Inc()
		}
		h := merged.Header.Clone()
		h.Set("X-Cache", "REVALIDATED")
		h.Set("Age", strconv.FormatInt(int64(merged.Age(m.clock.Now())/time.Second), 10))
		body := append([]byte(nil), merged.Body...)
		return message.NewResponse(merged.Status, h, bufpool.WrapOwned(body), req), nil
	}

	// Non-304: drop the cached entry, store the new response if eligible,
	// and return the new response. The cached copy is not served, even when
	// the new response is not stored.
	m.storage.Remove(storageKey)
	m.index.Remove(baseKey, storageKey)
	m.maybeStore(baseKey, req, resp)
	return resp, nil
}

// invalidate deletes GET/HEAD default-keyed entries and all tracked
// variants for the request URI, plus same-authority Location/
// Content-Location targets, per spec §4.7.
func (m *Middleware) invalidate(req *message.Request, resp *message.Response) {
	if !m.opts.InvalidateOnUnsafeMethods {
		return
	}
	m.invalidateURI(req.URI())

	reqOrigin, err := uri.ParseOrigin(req.URI())
	if err != nil {
		return
	}
	for _, header := range []string{"Location", "Content-Location"} {
		v, ok := resp.Header.Get(header)
		if !ok {
			continue
		}
		target := resolveReference(req.URI(), v)
		if target == "" {
			continue
		}
		targetOrigin, err := uri.ParseOrigin(target)
		if err != nil || targetOrigin != reqOrigin {
			continue
		}
		m.invalidateURI(target)
	}
}

func (m *Middleware) invalidateURI(absoluteURI string) {
	for _, method := range []message.Method{message.MethodGET, message.MethodHEAD} {
		baseKey, err := BaseKey(method, absoluteURI)
		if err != nil {
			continue
		}
		for _, key := range m.index.StorageKeys(baseKey) {
			m.storage.Remove(key)
		}
		m.storage.Remove(DefaultStorageKey(baseKey))
		// Drop the whole bucket by removing every tracked key above; the
		// index self-prunes empty buckets in Remove.
		for _, key := range m.index.StorageKeys(baseKey) {
			m.index.Remove(baseKey, key)
		}
	}
}

func resolveReference(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
