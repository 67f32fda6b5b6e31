package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"turbohttp/internal/headers"
)

// Directives is the parsed Cache-Control directive set relevant to
// freshness, per spec §4.7.
type Directives struct {
	NoStore        bool
	NoCache        bool
	Public         bool
	Private        bool
	MustRevalidate bool
	MaxAge         *int64
	SMaxAge        *int64 // parsed but ignored for freshness: private cache.
}

// ParseCacheControl parses the comma-tokenized Cache-Control directive list.
func ParseCacheControl(h *headers.Table) Directives {
	var d Directives
	for _, tok := range h.TokensAll("Cache-Control") {
		name, value, _ := strings.Cut(tok, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch name {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		case "public":
			d.Public = true
		case "private":
			d.Private = true
		case "must-revalidate":
			d.MustRevalidate = true
		case "max-age":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				d.MaxAge = &n
			}
		case "s-maxage":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				d.SMaxAge = &n
			}
		}
	}
	return d
}

// HasPragmaNoCache reports the legacy HTTP/1.0 Pragma: no-cache directive,
// per spec §4.7 request-handling step 3.
func HasPragmaNoCache(h *headers.Table) bool {
	for _, v := range h.Values("Pragma") {
		if strings.EqualFold(strings.TrimSpace(v), "no-cache") {
			return true
		}
	}
	return false
}

// Lifetime computes the freshness lifetime for a response per spec §4.7:
//
//	Lifetime = max-age - upstream_Age (when present), added to now.
//	Else use Expires (0/-1 already-stale).
//	Else: no-cache-style-with-validator -> store without freshness (nil,
//	false meaning "no expiry but still storable"); else apply heuristic
//	freshness if enabled.
type FreshnessResult struct {
	ExpiresAtUTC *time.Time
	// StorableWithoutFreshness is true when the response has a validator
	// but no computable lifetime — store it, but it is never "fresh".
	StorableWithoutFreshness bool
}

type FreshnessOptions struct {
	EnableHeuristicFreshness   bool
	HeuristicFreshnessLifetime time.Duration
}

func Lifetime(now time.Time, respHeader *headers.Table, cc Directives, hasValidator bool, opts FreshnessOptions) FreshnessResult {
	if cc.MaxAge != nil {
		upstreamAge := parseAge(respHeader)
		lifetime := time.Duration(*cc.MaxAge)*time.Second - upstreamAge
		exp := now.Add(lifetime)
		return FreshnessResult{ExpiresAtUTC: &exp}
	}

	if exp, ok := parseExpires(now, respHeader); ok {
		return FreshnessResult{ExpiresAtUTC: &exp}
	}

	if cc.NoCache && hasValidator {
		return FreshnessResult{StorableWithoutFreshness: true}
	}

	if opts.EnableHeuristicFreshness {
		lifetime := opts.HeuristicFreshnessLifetime
		if lifetime <= 0 {
			lifetime = 60 * time.Second
		}
		exp := now.Add(lifetime)
		return FreshnessResult{ExpiresAtUTC: &exp}
	}

	return FreshnessResult{}
}

func parseAge(h *headers.Table) time.Duration {
	v, ok := h.Get("Age")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// parseExpires parses the Expires header; values "0" or "-1" (and any
// unparsable value, per RFC 9111 §5.3) are treated as already-stale.
func parseExpires(now time.Time, h *headers.Table) (time.Time, bool) {
	v, ok := h.Get("Expires")
	if !ok {
		return time.Time{}, false
	}
	v = strings.TrimSpace(v)
	if v == "0" || v == "-1" {
		return now.Add(-time.Second), true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return now.Add(-time.Second), true
	}
	return t, true
}
