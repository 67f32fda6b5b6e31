// Package cache implements the RFC-9111-aware private cache from spec
// §4.7/§4.8: keys, variant indexing, freshness, storage gating,
// revalidation, invalidation, and a bounded in-memory LRU store. Grounded
// on mchtech-httpcache's RoundTripper cache (other_examples/) for the
// overall decision-tree shape, generalized to the spec's exact key ABI.
package cache

import (
	"sort"
	"strconv"
	"strings"

	"turbohttp/internal/headers"
	"turbohttp/internal/message"
	"turbohttp/internal/uri"
)

// BaseKey is "upper(method) + ' ' + canonical_uri", per spec §4.7.
func BaseKey(method message.Method, absoluteURI string) (string, error) {
	canon, err := uri.Canonicalize(absoluteURI)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(string(method)) + " " + canon, nil
}

// Signature is "sorted(vary_header_names).join(\"\\n\")", per spec §4.7's
// GLOSSARY "Vary signature".
func Signature(varyNames []string) string {
	if len(varyNames) == 0 {
		return ""
	}
	sorted := make([]string, len(varyNames))
	for i, n := range varyNames {
		sorted[i] = strings.ToLower(n)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// VaryKey builds the per-request variant discriminator: for each selected
// header name (lowercased, sorted) append "name=" then for each request
// value "len:value" joined by "," and terminated by ";"; absent headers are
// represented by "~". Empty selector list yields "~", per spec §4.7.
func VaryKey(varyNames []string, reqHeaders *headers.Table) string {
	if len(varyNames) == 0 {
		return "~"
	}
	sorted := make([]string, len(varyNames))
	for i, n := range varyNames {
		sorted[i] = strings.ToLower(n)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, name := range sorted {
		b.WriteString(name)
		b.WriteByte('=')
		values := reqHeaders.Values(name)
		if len(values) == 0 {
			b.WriteByte('~')
		} else {
			for i, v := range values {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strconv.Itoa(len(v)))
				b.WriteByte(':')
				b.WriteString(v)
			}
		}
		b.WriteByte(';')
	}
	return b.String()
}

// StorageKey is "base_key + '|' + vary_key", per spec §4.7.
func StorageKey(baseKey, varyKey string) string {
	return baseKey + "|" + varyKey
}

// DefaultStorageKey is the storage key used when no Vary selectors apply
// (vary_key == "~").
func DefaultStorageKey(baseKey string) string {
	return StorageKey(baseKey, "~")
}
