// Package h2 wraps golang.org/x/net/http2 and golang.org/x/net/http2/hpack
// into a multiplexed client connection per spec §4.3/§4.4, grounded on the
// teacher's single-stream internal/rfc8441_raw_h2.go.
package h2

import (
	"sync"

	"golang.org/x/net/http2/hpack"

	"turbohttp/internal/headers"
)

// defaultMaxHeaderListBytes is the RFC 7541 compression-ratio-attack guard
// from spec §4.3: the decoded header-list byte budget, independent of
// whatever dynamic-table size the peer advertises.
const defaultMaxHeaderListBytes = 256 * 1024

// HeaderCodec wraps an hpack.Encoder/Decoder pair with the decoded
// header-list byte budget the underlying library does not itself enforce.
type HeaderCodec struct {
	mu      sync.Mutex
	enc     *hpack.Encoder
	encBuf  headerEncodeBuffer
	dec     *hpack.Decoder
	maxList int

	decoded     []hpack.HeaderField
	decodedSize int
}

type headerEncodeBuffer struct {
	b []byte
}

func (h *headerEncodeBuffer) Write(p []byte) (int, error) {
	h.b = append(h.b, p...)
	return len(p), nil
}

// NewHeaderCodec constructs a codec. maxListBytes <= 0 uses the spec default.
func NewHeaderCodec(maxListBytes int) *HeaderCodec {
	if maxListBytes <= 0 {
		maxListBytes = defaultMaxHeaderListBytes
	}
	c := &HeaderCodec{maxList: maxListBytes}
	c.encBuf = headerEncodeBuffer{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(4096, c.onDecodedField)
	c.dec.SetMaxStringLength(maxListBytes)
	return c
}

// SetMaxDynamicTableSize applies a peer SETTINGS_HEADER_TABLE_SIZE update to
// the decoder's dynamic table (the table we use to decode frames the peer
// encoded under their chosen size).
func (c *HeaderCodec) SetMaxDynamicTableSize(size uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dec.SetMaxDynamicTableSize(size)
}

// SetPeerMaxTableSize caps the table size we're allowed to reference when
// encoding outbound headers (our encoder's dynamic table tracks the peer's
// advertised SETTINGS_HEADER_TABLE_SIZE).
func (c *HeaderCodec) SetPeerMaxTableSize(size uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.SetMaxDynamicTableSize(size)
}

// Encode serializes an ordered header list (pseudo-headers first, by
// convention of the caller) into an HPACK block.
func (c *HeaderCodec) Encode(fields []hpack.HeaderField) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encBuf.b = c.encBuf.b[:0]
	for _, f := range fields {
		_ = c.enc.WriteField(f)
	}
	out := make([]byte, len(c.encBuf.b))
	copy(out, c.encBuf.b)
	return out
}

func (c *HeaderCodec) onDecodedField(f hpack.HeaderField) {
	c.decodedSize += len(f.Name) + len(f.Value) + 32 // RFC 7541 §4.1 accounting overhead
	c.decoded = append(c.decoded, f)
}

// Decode parses a (possibly CONTINUATION-joined) HPACK block into a header
// table plus the pseudo-header pseudo-fields (":status" etc.), enforcing
// the decoded-size budget.
func (c *HeaderCodec) Decode(block []byte) (table *headers.Table, pseudo map[string]string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoded = c.decoded[:0]
	c.decodedSize = 0

	if _, err := c.dec.Write(block); err != nil {
		return nil, nil, &ConnError{Code: ErrCompression, Message: "hpack decode: " + err.Error()}
	}
	if err := c.dec.Close(); err != nil {
		return nil, nil, &ConnError{Code: ErrCompression, Message: "hpack decode close: " + err.Error()}
	}
	if c.decodedSize > c.maxList {
		return nil, nil, &ConnError{Code: ErrCompression, Message: "decoded header list exceeds budget"}
	}

	table = headers.New()
	pseudo = make(map[string]string)
	for _, f := range c.decoded {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			pseudo[f.Name] = f.Value
			continue
		}
		table.Add(f.Name, f.Value)
	}
	return table, pseudo, nil
}
