package main

import (
	"strings"

	"github.com/spf13/cast"

	"turbohttp/pkg/httpclient"
)

// loadOptions reads configPath (if set) and layers set-style overlay flags
// ("key=value", dotted path into Options) on top, per spec §6's
// ClientOptions composition.
func loadOptions(overlays []string) (httpclient.Options, error) {
	opts := httpclient.DefaultOptions()
	if configPath != "" {
		loaded, err := httpclient.LoadConfig(configPath)
		if err != nil {
			return httpclient.Options{}, err
		}
		opts = loaded
	}
	if len(overlays) == 0 {
		return opts, nil
	}

	m := make(map[string]any, len(overlays))
	for _, kv := range overlays {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = coerce(v)
	}
	if err := httpclient.OverlayFromMap(&opts, m); err != nil {
		return httpclient.Options{}, err
	}
	return opts, nil
}

// coerce guesses the intended type of a raw "--set" flag value: cobra
// hands every overlay value to us as a string, so bool/int/duration
// overrides need an explicit best-effort conversion before mapstructure
// can decode them onto Options' typed fields.
func coerce(raw string) any {
	if b, err := cast.ToBoolE(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	if n, err := cast.ToInt64E(raw); err == nil {
		return n
	}
	if d, err := cast.ToDurationE(raw); err == nil && strings.ContainsAny(raw, "nsuµmh") {
		return d
	}
	return raw
}

// parseHeaderFlags turns repeated "Name: Value" strings into name/value
// pairs, in request-builder order.
func parseHeaderFlags(raw []string) [][2]string {
	pairs := make([][2]string, 0, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	}
	return pairs
}
