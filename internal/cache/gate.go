package cache

import (
	"sort"
	"strconv"
	"strings"

	"turbohttp/internal/headers"
)

// hopByHop is the always-stripped header set from spec §4.7, grounded on
// mchtech-httpcache's getEndToEndHeaders (other_examples/).
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func isProxyHeader(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "proxy-")
}

// StripHopByHop returns a clone of h with hop-by-hop headers removed: the
// fixed set, any Proxy-* header, and any header named in the response's own
// Connection token list, per spec §4.7.
func StripHopByHop(h *headers.Table) *headers.Table {
	out := headers.New()
	connTokens := make(map[string]struct{})
	for _, tok := range h.TokensAll("Connection") {
		connTokens[strings.ToLower(tok)] = struct{}{}
	}
	h.Range(func(name, value string) {
		lower := strings.ToLower(name)
		if _, stripped := hopByHop[lower]; stripped {
			return
		}
		if isProxyHeader(name) {
			return
		}
		if _, stripped := connTokens[lower]; stripped {
			return
		}
		out.Add(name, value)
	})
	return out
}

// StoreOptions mirrors the relevant subset of spec §6's configuration
// options that gate storage decisions.
type StoreOptions struct {
	AllowSetCookieResponses       bool
	AllowPrivateResponses         bool
	AllowCacheForAuthorizedRequests bool
	AllowVaryCookie               bool
	AllowVaryAuthorization        bool
	CacheHeadRequests             bool
}

// Cacheable status codes additional to 2xx, per spec §4.7.
var extraCacheableStatus = map[int]struct{}{
	300: {}, 301: {}, 308: {}, 404: {}, 405: {}, 410: {}, 414: {}, 501: {},
}

// IsCacheableStatus reports whether status is cacheable by default under
// RFC 9111, per spec §4.7.
func IsCacheableStatus(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	_, ok := extraCacheableStatus[status]
	return ok
}

// ShouldStore applies the storage gate from spec §4.7: rejects entries per
// the listed conditions.
func ShouldStore(reqHeader, respHeader *headers.Table, respCC Directives, reqCC Directives, varyNames []string, opts StoreOptions) bool {
	if respCC.NoStore || reqCC.NoStore {
		return false
	}
	if respHeader.Has("Set-Cookie") && !opts.AllowSetCookieResponses {
		return false
	}
	if reqHeader.Has("Authorization") && !respCC.Public {
		if !opts.AllowCacheForAuthorizedRequests {
			return false
		}
	}
	if respCC.Private && !opts.AllowPrivateResponses {
		return false
	}
	if varyIsStar(respHeader) {
		return false
	}
	if len(varyNames) > 32 {
		return false
	}
	for _, name := range varyNames {
		lower := strings.ToLower(name)
		if lower == "authorization" && !opts.AllowVaryAuthorization {
			return false
		}
		if lower == "cookie" && !opts.AllowVaryCookie {
			return false
		}
	}
	return true
}

func varyIsStar(h *headers.Table) bool {
	for _, tok := range h.TokensAll("Vary") {
		if strings.TrimSpace(tok) == "*" {
			return true
		}
	}
	return false
}

// VaryNames returns the sorted, lowercased Vary header names from a
// response, or nil if Vary is absent.
func VaryNames(respHeader *headers.Table) []string {
	toks := respHeader.TokensAll("Vary")
	if len(toks) == 0 {
		return nil
	}
	out := make([]string, 0, len(toks))
	seen := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}

// parseContentLengthHint parses the Content-Length header, reporting false
// when it is absent or not an integer.
func parseContentLengthHint(h *headers.Table) (int, bool) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}
