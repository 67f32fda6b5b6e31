package ws

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// deflateTrailer is the 4 bytes RFC 7692 §7.2.1 has senders strip from (and
// receivers re-append to) a deflated message body.
var deflateTrailer = []byte{0x00, 0x00, 0xFF, 0xFF}

// DeflateExtension implements permessage-deflate (RFC 7692), always
// operating in the negotiated no_context_takeover mode on both sides: a
// fresh flate stream per message, never retaining a sliding-window
// dictionary across messages. That's the only mode this client offers.
type DeflateExtension struct {
	// MaxDecompressedSize caps a single inflated message, returning a
	// *DecompressedTooLargeError when exceeded. Zero or less applies a
	// 1 GiB cap.
	MaxDecompressedSize int64
}

// NegotiationOffer is what the client sends in Sec-WebSocket-Extensions.
const NegotiationOffer = "permessage-deflate; client_no_context_takeover; server_no_context_takeover"

// Deflate compresses payload and strips the trailing empty-block marker,
// per spec §4.11's send-side transform.
func (d *DeflateExtension) Deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, err
	}
	if err := fw.Flush(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	out = bytes.TrimSuffix(out, deflateTrailer)
	return out, nil
}

// Inflate appends the trailer marker back and decompresses, enforcing
// MaxDecompressedSize, per spec §4.11's receive-side transform.
func (d *DeflateExtension) Inflate(payload []byte) ([]byte, error) {
	withTrailer := make([]byte, 0, len(payload)+len(deflateTrailer))
	withTrailer = append(withTrailer, payload...)
	withTrailer = append(withTrailer, deflateTrailer...)

	fr := flate.NewReader(bytes.NewReader(withTrailer))
	defer fr.Close()

	limit := d.MaxDecompressedSize
	if limit <= 0 {
		limit = 1 << 30 // a generous backstop when no cap is configured
	}
	lr := &io.LimitedReader{R: fr, N: limit + 1}
	out, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, &DecompressedTooLargeError{Limit: limit}
	}
	return out, nil
}

// DecompressedTooLargeError reports a permessage-deflate message whose
// inflated size exceeded the configured cap.
type DecompressedTooLargeError struct {
	Limit int64
}

func (e *DecompressedTooLargeError) Error() string {
	return fmt.Sprintf("ws: decompressed message exceeds %d byte limit", e.Limit)
}

// negotiateDeflate reports whether the server's Sec-WebSocket-Extensions
// response value grants permessage-deflate, and whether it asked for
// anything this client can't honor (a takeover mode we don't implement).
func negotiateDeflate(serverValue string) (accepted bool, err error) {
	if serverValue == "" {
		return false, nil
	}
	for _, offer := range splitExtensionList(serverValue) {
		name, params := parseExtension(offer)
		if name != "permessage-deflate" {
			continue
		}
		for _, p := range params {
			switch p {
			case "client_no_context_takeover", "server_no_context_takeover":
				// always honored; this client never retains context.
			default:
				return false, &ExtensionNegotiationError{Reason: "unsupported permessage-deflate parameter: " + p}
			}
		}
		return true, nil
	}
	return false, nil
}
