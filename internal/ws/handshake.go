package ws

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/url"
	"strconv"
	"strings"

	"turbohttp/internal/h1"
	"turbohttp/internal/headers"
)

// magicGUID is RFC 6455 §1.3's fixed accept-key salt.
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeOptions configures the client's opening request, per spec §4.11.
type HandshakeOptions struct {
	SubProtocols              []string
	RequestExtensions         bool
	RequireNegotiatedExtensions bool
	ExtraHeaders              map[string]string
}

// HandshakeResult is what the caller needs after a successful upgrade.
type HandshakeResult struct {
	SubProtocol    string
	DeflateEnabled bool
}

// generateKey returns a random 16-byte base64 Sec-WebSocket-Key.
func generateKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// acceptKey computes the expected Sec-WebSocket-Accept value for key.
func acceptKey(key string) string {
	sum := sha1.Sum([]byte(key + magicGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// buildHandshakeHeader constructs the request header for the opening
// GET, rejecting CRLF injection in caller-supplied header values per
// spec §4.11.
func buildHandshakeHeader(u *url.URL, key string, opts HandshakeOptions) (*headers.Table, error) {
	h := headers.New()
	h.Set("Host", hostHeaderValue(u))
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Key", key)
	h.Set("Sec-WebSocket-Version", "13")
	if len(opts.SubProtocols) > 0 {
		h.Set("Sec-WebSocket-Protocol", strings.Join(opts.SubProtocols, ", "))
	}
	if opts.RequestExtensions {
		h.Set("Sec-WebSocket-Extensions", NegotiationOffer)
	}
	for name, value := range opts.ExtraHeaders {
		if strings.ContainsAny(value, "\r\n") || strings.ContainsAny(name, "\r\n") {
			return nil, &ProtocolError{Reason: "CRLF in custom handshake header " + name}
		}
		h.Set(name, value)
	}
	return h, nil
}

// hostHeaderValue renders u's authority for the Host header, omitting the
// port when it's the scheme's default (80 for ws, 443 for wss).
func hostHeaderValue(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		return host
	}
	defaultPort := "80"
	if u.Scheme == "wss" {
		defaultPort = "443"
	}
	if port == defaultPort {
		return host
	}
	return host + ":" + port
}

// requestTarget renders the path+query portion of u for the request line.
func requestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// writeHandshakeRequest serializes the opening GET into w via the HTTP/1.1
// codec shared with the rest of the client, per spec §4.11.
func writeHandshakeRequest(w io.Writer, u *url.URL, key string, opts HandshakeOptions) error {
	h, err := buildHandshakeHeader(u, key, opts)
	if err != nil {
		return err
	}
	return h1.WriteRequest(w, "GET", requestTarget(u), h, nil)
}

// readHandshakeResponse parses and validates the server's 101 response,
// per spec §4.11's validation list.
func readHandshakeResponse(r *bufio.Reader, key string, opts HandshakeOptions) (*HandshakeResult, error) {
	resp, err := h1.ReadResponse(r, "GET")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 101 {
		return nil, &ProtocolError{Reason: "handshake status " + strconv.Itoa(resp.StatusCode) + " (expected 101)"}
	}

	upgrade, _ := resp.Header.Get("Upgrade")
	if !strings.Contains(strings.ToLower(upgrade), "websocket") {
		return nil, &ProtocolError{Reason: "missing Upgrade: websocket"}
	}
	if !hasToken(resp.Header, "Connection", "upgrade") {
		return nil, &ProtocolError{Reason: "missing Connection: Upgrade"}
	}
	accept, _ := resp.Header.Get("Sec-WebSocket-Accept")
	if accept != acceptKey(key) {
		return nil, &ProtocolError{Reason: "Sec-WebSocket-Accept mismatch"}
	}

	result := &HandshakeResult{}
	if proto, ok := resp.Header.Get("Sec-WebSocket-Protocol"); ok {
		if !contains(opts.SubProtocols, proto) {
			return nil, &ProtocolError{Reason: "server chose unoffered sub-protocol " + proto}
		}
		result.SubProtocol = proto
	}

	if extValue, ok := resp.Header.Get("Sec-WebSocket-Extensions"); ok {
		accepted, err := negotiateDeflate(extValue)
		if err != nil {
			return nil, err
		}
		result.DeflateEnabled = accepted
	}
	if opts.RequireNegotiatedExtensions && !result.DeflateEnabled {
		return nil, &ExtensionNegotiationError{Reason: "no negotiated extension matched RequireNegotiatedExtensions"}
	}

	return result, nil
}

func hasToken(h *headers.Table, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func splitExtensionList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseExtension splits one "name; param1; param2=val" token into its name
// and bare parameter list.
func parseExtension(token string) (string, []string) {
	parts := strings.Split(token, ";")
	name := strings.TrimSpace(parts[0])
	var params []string
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p != "" {
			params = append(params, p)
		}
	}
	return name, params
}

// ExtensionNegotiationError reports a failed extension negotiation.
type ExtensionNegotiationError struct {
	Reason string
}

func (e *ExtensionNegotiationError) Error() string { return "ws: extension negotiation failed: " + e.Reason }
