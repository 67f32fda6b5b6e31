package httpclient

import "turbohttp/internal/message"

// Error and the taxonomy constants live in internal/message for the same
// sharing reason as Request/Response (see request.go). The replay stage
// returns it directly, and this package's transport wraps pool, h1 and h2
// failures in it; internal/h2 and internal/ws also define error types of
// their own.
type (
	Error        = message.Error
	Kind         = message.Kind
	CacheSub     = message.CacheSub
	WebSocketSub = message.WebSocketSub
)

const (
	KindNetwork                     = message.KindNetwork
	KindTimeout                     = message.KindTimeout
	KindTLS                         = message.KindTLS
	KindMalformedResponse           = message.KindMalformedResponse
	KindUnsupportedTransferEncoding = message.KindUnsupportedTransferEncoding
	KindProtocol                    = message.KindProtocol
	KindFlowControl                 = message.KindFlowControl
	KindGoAway                      = message.KindGoAway
	KindProxyConnectionFailed       = message.KindProxyConnectionFailed
	KindProxyTunnelFailed           = message.KindProxyTunnelFailed
	KindProxyAuthenticationRequired = message.KindProxyAuthenticationRequired
	KindCancelled                   = message.KindCancelled
	KindCache                       = message.KindCache
	KindWebSocket                   = message.KindWebSocket
	KindInvalidArgument             = message.KindInvalidArgument

	CacheStorageFull = message.CacheStorageFull
	CacheCorrupt     = message.CacheCorrupt
	CacheExpired     = message.CacheExpired

	WSConnectionClosed           = message.WSConnectionClosed
	WSProtocolViolation          = message.WSProtocolViolation
	WSInvalidCloseCode           = message.WSInvalidCloseCode
	WSInvalidUTF8                = message.WSInvalidUTF8
	WSExtensionNegotiationFailed = message.WSExtensionNegotiationFailed
	WSMaskedServerFrame          = message.WSMaskedServerFrame
	WSReservedOpcode             = message.WSReservedOpcode
	WSDecompressedTooLarge       = message.WSDecompressedTooLarge
	WSSerializationFailed        = message.WSSerializationFailed
)

var (
	NetworkError                    = message.NetworkError
	TimeoutError                    = message.TimeoutError
	TLSError                        = message.TLSError
	MalformedResponseError          = message.MalformedResponseError
	UnsupportedTransferEncodingError = message.UnsupportedTransferEncodingError
	ProtocolError                   = message.ProtocolError
	FlowControlError                = message.FlowControlError
	GoAwayError                     = message.GoAwayError
	CancelledError                  = message.CancelledError
	InvalidArgumentError            = message.InvalidArgumentError
	ProxyConnectionFailedError      = message.ProxyConnectionFailedError
	ProxyTunnelFailedError          = message.ProxyTunnelFailedError
	ProxyAuthenticationRequiredError = message.ProxyAuthenticationRequiredError
	CacheError                      = message.CacheError
	WebSocketError                  = message.WebSocketError
)
