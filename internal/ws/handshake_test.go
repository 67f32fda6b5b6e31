package ws

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptKeyMatchesRFCExample(t *testing.T) {
	// RFC 6455 §1.3's worked example.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestHostHeaderValueOmitsDefaultPort(t *testing.T) {
	u, err := url.Parse("ws://example.com:80/path")
	require.NoError(t, err)
	assert.Equal(t, "example.com", hostHeaderValue(u))

	u, err = url.Parse("wss://example.com:443/path")
	require.NoError(t, err)
	assert.Equal(t, "example.com", hostHeaderValue(u))

	u, err = url.Parse("ws://example.com:8080/path")
	require.NoError(t, err)
	assert.Equal(t, "example.com:8080", hostHeaderValue(u))
}

func TestBuildHandshakeHeaderRejectsCRLFInjection(t *testing.T) {
	u, err := url.Parse("ws://example.com/chat")
	require.NoError(t, err)
	_, err = buildHandshakeHeader(u, "key", HandshakeOptions{
		ExtraHeaders: map[string]string{"X-Custom": "value\r\nInjected: true"},
	})
	require.Error(t, err)
}

func TestBuildHandshakeHeaderSetsRequiredFields(t *testing.T) {
	u, err := url.Parse("ws://example.com/chat")
	require.NoError(t, err)
	h, err := buildHandshakeHeader(u, "abc123", HandshakeOptions{SubProtocols: []string{"chat.v1"}})
	require.NoError(t, err)

	v, _ := h.Get("Upgrade")
	assert.Equal(t, "websocket", v)
	v, _ = h.Get("Sec-WebSocket-Version")
	assert.Equal(t, "13", v)
	v, _ = h.Get("Sec-WebSocket-Key")
	assert.Equal(t, "abc123", v)
	v, _ = h.Get("Sec-WebSocket-Protocol")
	assert.Equal(t, "chat.v1", v)
}

func TestNegotiateDeflateAcceptsNoContextTakeover(t *testing.T) {
	accepted, err := negotiateDeflate("permessage-deflate; client_no_context_takeover; server_no_context_takeover")
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestNegotiateDeflateRejectsUnsupportedParameter(t *testing.T) {
	_, err := negotiateDeflate("permessage-deflate; client_max_window_bits=10")
	require.Error(t, err)
}

func TestNegotiateDeflateNoExtensionOffered(t *testing.T) {
	accepted, err := negotiateDeflate("")
	require.NoError(t, err)
	assert.False(t, accepted)
}
