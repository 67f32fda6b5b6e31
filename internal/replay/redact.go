package replay

import (
	"encoding/json"
	"net/url"
	"strings"

	"turbohttp/internal/headers"
)

const redactedPlaceholder = "[REDACTED]"

// RedactionPolicy configures the write-time redaction from spec §4.9.
type RedactionPolicy struct {
	SensitiveHeaders     []string
	SensitiveQueryParams []string
	SensitiveJSONFields  []string
}

// DefaultRedactionPolicy mirrors the spec's "default list" wording.
func DefaultRedactionPolicy() RedactionPolicy {
	return RedactionPolicy{
		SensitiveHeaders:     []string{"Authorization", "Cookie", "Set-Cookie", "Proxy-Authorization", "X-Api-Key"},
		SensitiveQueryParams: []string{"access_token", "token", "api_key", "apikey", "password", "secret"},
		SensitiveJSONFields:  []string{"token", "password", "secret", "apikey", "authorization", "access_token", "refresh_token"},
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// redactHeaders converts h into the wire format's {name: [values]} map,
// replacing every value under a sensitive header name with the redaction
// placeholder.
func redactHeaders(h *headers.Table, sensitive []string) map[string][]string {
	set := toSet(sensitive)
	out := make(map[string][]string)
	for _, name := range h.Names() {
		values := h.Values(name)
		if _, hit := set[strings.ToLower(name)]; hit {
			redacted := make([]string, len(values))
			for i := range redacted {
				redacted[i] = redactedPlaceholder
			}
			out[name] = redacted
			continue
		}
		out[name] = values
	}
	return out
}

// redactQuery replaces sensitive query parameter values in rawURL with the
// redaction placeholder, leaving the parameter names and URI structure
// intact.
func redactQuery(rawURL string, sensitive []string) string {
	set := toSet(sensitive)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for key := range q {
		if _, hit := set[strings.ToLower(key)]; hit {
			for i := range q[key] {
				q[key][i] = redactedPlaceholder
			}
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// isJSONContentType reports whether contentType denotes a JSON body per
// spec §4.9's "Content-Type: application/json" trigger.
func isJSONContentType(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(base), "application/json")
}

// redactJSONBody replaces matching top-level and nested field values in a
// JSON body with the redaction placeholder. Non-JSON or unparsable bodies
// are returned unchanged.
func redactJSONBody(body []byte, contentType string, sensitiveFields []string) []byte {
	if len(body) == 0 || !isJSONContentType(contentType) {
		return body
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	set := toSet(sensitiveFields)
	redactJSONValue(doc, set)
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func redactJSONValue(v any, sensitive map[string]struct{}) {
	switch node := v.(type) {
	case map[string]any:
		for key, val := range node {
			if _, hit := sensitive[strings.ToLower(key)]; hit {
				node[key] = redactedPlaceholder
				continue
			}
			redactJSONValue(val, sensitive)
		}
	case []any:
		for _, item := range node {
			redactJSONValue(item, sensitive)
		}
	}
}
