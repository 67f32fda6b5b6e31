// Package uri canonicalizes absolute URIs into the single stable string form
// shared by the cache (internal/cache) and the record/replay transport
// (internal/replay), per spec §4.1.
package uri

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is returned when Canonicalize is given a non-absolute
// URI.
var ErrInvalidArgument = errors.New("uri: not an absolute URI")

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize maps semantically equivalent URIs to one stable string, per
// the ordered rules in spec §4.1.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidArgument, "parse %q: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", errors.Wrapf(ErrInvalidArgument, "%q is not absolute", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && defaultPorts[scheme] == port {
		port = ""
	}

	path := canonicalizePath(u.EscapedPath())
	query := canonicalizeQuery(u.RawQuery)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

// fastPathPath reports whether path needs no normalization: no '%', no
// "//", and no "." or ".." segments.
func fastPathPath(path string) bool {
	if strings.Contains(path, "%") || strings.Contains(path, "//") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func canonicalizePath(path string) string {
	if path == "" {
		return ""
	}
	if fastPathPath(path) {
		return path
	}

	trailingSlash := strings.HasSuffix(path, "/") && path != "/"
	leadingSlash := strings.HasPrefix(path, "/")

	segments := strings.Split(path, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, normalizePercentTriplets(seg))
		}
	}

	var b strings.Builder
	if leadingSlash {
		b.WriteByte('/')
	}
	b.WriteString(strings.Join(stack, "/"))
	if trailingSlash && b.Len() > 0 && !strings.HasSuffix(b.String(), "/") {
		b.WriteByte('/')
	}
	out := b.String()
	if out == "" {
		out = "/"
	}
	return out
}

// isUnreserved reports whether b is an RFC 3986 §2.3 unreserved byte:
// ALPHA / DIGIT / "-" / "." / "_" / "~".
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

// normalizePercentTriplets uppercases the hex digits of every percent-encoded
// triplet, and replaces the triplet by the literal character when the
// decoded byte is unreserved.
func normalizePercentTriplets(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			hi, lo := s[i+1], s[i+2]
			decoded := hexVal(hi)<<4 | hexVal(lo)
			if isUnreserved(decoded) {
				b.WriteByte(decoded)
			} else {
				b.WriteByte('%')
				b.WriteByte(toUpperHex(hi))
				b.WriteByte(toUpperHex(lo))
			}
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

func toUpperHex(b byte) byte {
	if b >= 'a' && b <= 'f' {
		return b - 'a' + 'A'
	}
	return b
}

type queryItem struct {
	name    string
	value   string
	hasEq   bool
	ordinal int
}

func fastPathQuery(q string) bool {
	return !strings.Contains(q, "%") && !strings.Contains(q, "&")
}

func canonicalizeQuery(q string) string {
	if q == "" {
		return ""
	}
	if fastPathQuery(q) {
		// A lone "name" with no "=" still needs its single item normalized
		// for hex-case consistency, but the fast path by definition has no
		// '%', so the raw string is already canonical.
		return q
	}

	rawItems := strings.Split(q, "&")
	items := make([]queryItem, 0, len(rawItems))
	for i, raw := range rawItems {
		if raw == "" {
			continue
		}
		idx := strings.IndexByte(raw, '=')
		var name, value string
		hasEq := idx >= 0
		if hasEq {
			name = raw[:idx]
			value = raw[idx+1:]
		} else {
			name = raw
		}
		items = append(items, queryItem{
			name:    normalizePercentTriplets(name),
			value:   normalizePercentTriplets(value),
			hasEq:   hasEq,
			ordinal: i,
		})
	}
	if len(items) == 0 {
		return ""
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].name != items[j].name {
			return items[i].name < items[j].name
		}
		return items[i].ordinal < items[j].ordinal
	})

	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.hasEq {
			parts = append(parts, it.name+"="+it.value)
		} else {
			parts = append(parts, it.name)
		}
	}
	return strings.Join(parts, "&")
}

// Origin is the (scheme, host, port) tuple used as the connection pool's
// bucketing key. The key has no ALPN component: H1 and H2 connections to
// the same origin share one bucket.
type Origin struct {
	Scheme string
	Host   string
	Port   string
}

// String renders the origin as "scheme://host:port" (port always explicit).
func (o Origin) String() string {
	return o.Scheme + "://" + o.Host + ":" + o.Port
}

// ParseOrigin extracts the pool origin key from an absolute URI, applying
// the same default-port elision rule as Canonicalize, but keeping the
// effective (possibly defaulted) port explicit for dialing purposes.
func ParseOrigin(raw string) (Origin, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Origin{}, errors.Wrapf(ErrInvalidArgument, "%q is not absolute", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	if port == "" {
		return Origin{}, errors.Wrapf(ErrInvalidArgument, "%q has no resolvable port for scheme %q", raw, scheme)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return Origin{}, errors.Wrapf(ErrInvalidArgument, "%q has invalid port %q", raw, port)
	}
	return Origin{Scheme: scheme, Host: host, Port: port}, nil
}
