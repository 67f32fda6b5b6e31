package message

import "fmt"

// Kind is the top-level error taxonomy from spec §7.
type Kind string

const (
	KindNetwork                    Kind = "Network"
	KindTimeout                    Kind = "Timeout"
	KindTLS                        Kind = "Tls"
	KindMalformedResponse          Kind = "MalformedResponse"
	KindUnsupportedTransferEncoding Kind = "UnsupportedTransferEncoding"
	KindProtocol                   Kind = "Protocol"
	KindFlowControl                Kind = "FlowControl"
	KindGoAway                     Kind = "GoAway"
	KindProxyConnectionFailed      Kind = "ProxyConnectionFailed"
	KindProxyTunnelFailed          Kind = "ProxyTunnelFailed"
	KindProxyAuthenticationRequired Kind = "ProxyAuthenticationRequired"
	KindCancelled                  Kind = "Cancelled"
	KindCache                      Kind = "Cache"
	KindWebSocket                  Kind = "WebSocket"
	KindInvalidArgument            Kind = "InvalidArgument"
)

// CacheSub distinguishes local-only cache error subtypes (never surfaced to
// the caller as a request failure per spec §7).
type CacheSub string

const (
	CacheStorageFull CacheSub = "StorageFull"
	CacheCorrupt     CacheSub = "Corrupt"
	CacheExpired     CacheSub = "Expired"
)

// WebSocketSub distinguishes WebSocket error subtypes.
type WebSocketSub string

const (
	WSConnectionClosed           WebSocketSub = "ConnectionClosed"
	WSProtocolViolation          WebSocketSub = "ProtocolViolation"
	WSInvalidCloseCode           WebSocketSub = "InvalidCloseCode"
	WSInvalidUTF8                WebSocketSub = "InvalidUtf8"
	WSExtensionNegotiationFailed WebSocketSub = "ExtensionNegotiationFailed"
	WSMaskedServerFrame          WebSocketSub = "MaskedServerFrame"
	WSReservedOpcode             WebSocketSub = "ReservedOpcode"
	WSDecompressedTooLarge       WebSocketSub = "DecompressedMessageTooLarge"
	WSSerializationFailed        WebSocketSub = "SerializationFailed"
)

// Error is the typed error value returned across the transport, cache, and
// WebSocket layers. It implements errors.As-compatible wrapping via Unwrap.
type Error struct {
	Kind       Kind
	CacheSub   CacheSub
	WSSub      WebSocketSub
	StatusCode int // 0 if not applicable
	Retryable  bool
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	sub := ""
	switch e.Kind {
	case KindCache:
		if e.CacheSub != "" {
			sub = "/" + string(e.CacheSub)
		}
	case KindWebSocket:
		if e.WSSub != "" {
			sub = "/" + string(e.WSSub)
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s%s: %s: %v", e.Kind, sub, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, sub, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newErr constructs an *Error, the common path for every helper below.
func newErr(kind Kind, retryable bool, msg string, cause error) *Error {
	return &Error{Kind: kind, Retryable: retryable, Message: msg, Cause: cause}
}

func NetworkError(msg string, cause error) *Error  { return newErr(KindNetwork, true, msg, cause) }
func TimeoutError(msg string, cause error) *Error  { return newErr(KindTimeout, true, msg, cause) }
func TLSError(msg string, cause error) *Error      { return newErr(KindTLS, false, msg, cause) }
func MalformedResponseError(msg string) *Error     { return newErr(KindMalformedResponse, false, msg, nil) }
func UnsupportedTransferEncodingError(enc string) *Error {
	return newErr(KindUnsupportedTransferEncoding, false, "unsupported Transfer-Encoding: "+enc, nil)
}
func ProtocolError(msg string) *Error   { return newErr(KindProtocol, false, msg, nil) }
func FlowControlError(msg string) *Error { return newErr(KindFlowControl, false, msg, nil) }
func GoAwayError(msg string) *Error      { return newErr(KindGoAway, true, msg, nil) }
func CancelledError() *Error             { return newErr(KindCancelled, false, "operation cancelled", nil) }
func InvalidArgumentError(msg string) *Error {
	return newErr(KindInvalidArgument, false, msg, nil)
}

func ProxyConnectionFailedError(msg string, cause error) *Error {
	return newErr(KindProxyConnectionFailed, true, msg, cause)
}

// ProxyTunnelFailedError is never retryable on the same socket per spec §7
// ("tunnel failures with Connection: close or chunked 407 bodies must NOT be
// retried on the same socket").
func ProxyTunnelFailedError(msg string, cause error) *Error {
	return newErr(KindProxyTunnelFailed, false, msg, cause)
}
func ProxyAuthenticationRequiredError(msg string) *Error {
	return newErr(KindProxyAuthenticationRequired, false, msg, nil)
}

func CacheError(sub CacheSub, msg string) *Error {
	e := newErr(KindCache, false, msg, nil)
	e.CacheSub = sub
	return e
}

func WebSocketError(sub WebSocketSub, msg string) *Error {
	e := newErr(KindWebSocket, sub == WSConnectionClosed, msg, nil)
	e.WSSub = sub
	return e
}
