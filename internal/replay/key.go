package replay

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"turbohttp/internal/headers"
	"turbohttp/internal/uri"
)

// defaultMatchHeaderNames is the default header-signature allow-list, per
// spec §4.9.
var defaultMatchHeaderNames = []string{"Accept", "Accept-Encoding", "Content-Type", "Content-Encoding"}

// sampledHashThreshold is the body size above which BodyHash samples
// instead of hashing the whole payload, per spec §4.9.
const sampledHashThreshold = 1 << 20 // 1 MiB
const sampleWindow = 64 * 1024       // 64 KiB

// headerSignature builds a deterministic allow-listed header fingerprint,
// grounded on the teacher's xxhash-keyed connection bucketing idiom
// (internal/pool uses string keys; here the key itself is hashed via
// xxhash for a compact, fixed-width signature component).
func headerSignature(h *headers.Table, matchNames, excludeNames []string) string {
	allow := matchNames
	if len(allow) == 0 {
		allow = defaultMatchHeaderNames
	}
	excluded := make(map[string]struct{}, len(excludeNames))
	for _, n := range excludeNames {
		excluded[strings.ToLower(n)] = struct{}{}
	}

	names := make([]string, 0, len(allow))
	for _, n := range allow {
		if _, skip := excluded[strings.ToLower(n)]; skip {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		values := h.Values(name)
		if len(values) == 0 {
			continue
		}
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(values, ","))
		b.WriteByte(';')
	}

	sum := xxhash.Sum64String(b.String())
	return hex.EncodeToString(binary.BigEndian.AppendUint64(nil, sum))
}

// bodyHash computes "sha256:" + lowercase-hex, sampling large bodies per
// spec §4.9 (first 64 KiB, last 64 KiB, then the 8-byte little-endian
// length) instead of hashing the whole payload.
func bodyHash(body []byte) string {
	h := sha256.New()
	if len(body) > sampledHashThreshold {
		h.Write(body[:sampleWindow])
		h.Write(body[len(body)-sampleWindow:])
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
		h.Write(lenBuf[:])
	} else {
		h.Write(body)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// requestKey builds "method | canonical_uri | header_signature | body_hash",
// per spec §4.9.
func requestKey(method, absoluteURI string, h *headers.Table, body []byte, matchNames, excludeNames []string) (string, error) {
	canon, err := uri.Canonicalize(absoluteURI)
	if err != nil {
		return "", err
	}
	sig := headerSignature(h, matchNames, excludeNames)
	hash := bodyHash(body)
	return strings.ToUpper(method) + " | " + canon + " | " + sig + " | " + hash, nil
}

// relaxedKey builds "method | canonical_uri", per spec §4.9's Relaxed
// mismatch policy fallback.
func relaxedKey(method, absoluteURI string) (string, error) {
	canon, err := uri.Canonicalize(absoluteURI)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(method) + " | " + canon, nil
}

// relaxedKeyOfEntry recomputes the relaxed key an already-recorded entry
// would match, from its stored Method/Url fields.
func relaxedKeyOfEntry(e *envelopeEntry) (string, error) {
	return relaxedKey(e.Method, e.URL)
}
