package h2

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"turbohttp/internal/headers"
)

// fakePeer drives the server side of the HTTP/2 wire protocol by hand,
// mirroring the level of detail the teacher's rfc8441_raw_h2.go uses on the
// client side, so the tests exercise Conn without a real network peer.
type fakePeer struct {
	t  *testing.T
	fr *http2.Framer
	hd *hpack.Encoder
	bw *bufio.Writer
}

func newFakePeer(t *testing.T, conn net.Conn) *fakePeer {
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	buf := make([]byte, 24)
	_, err := io.ReadFull(br, buf) // client preface
	require.NoError(t, err)
	fr := http2.NewFramer(bw, br)
	fr.ReadMetaHeaders = nil

	var hbuf []byte
	enc := hpack.NewEncoder(writerFunc(func(p []byte) (int, error) {
		hbuf = append(hbuf, p...)
		return len(p), nil
	}))
	_ = hbuf
	p := &fakePeer{t: t, fr: fr, hd: enc, bw: bw}
	return p
}

type writerFunc func([]byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) { return w(p) }

func (p *fakePeer) readClientSettings() {
	f, err := p.fr.ReadFrame()
	require.NoError(p.t, err)
	_, ok := f.(*http2.SettingsFrame)
	require.True(p.t, ok)
}

func (p *fakePeer) sendSettingsAndAck() {
	require.NoError(p.t, p.fr.WriteSettings())
	require.NoError(p.t, p.bw.Flush())
}

func (p *fakePeer) readSettingsAck() {
	f, err := p.fr.ReadFrame()
	require.NoError(p.t, err)
	sf, ok := f.(*http2.SettingsFrame)
	require.True(p.t, ok)
	require.True(p.t, sf.IsAck())
}

func TestConnSendReceivesUnaryResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	var peer *fakePeer
	go func() {
		defer close(done)
		peer = newFakePeer(t, serverConn)
		peer.readClientSettings()
		peer.sendSettingsAndAck()
		peer.readSettingsAck()

		f, err := peer.fr.ReadFrame()
		require.NoError(t, err)
		hf, ok := f.(*http2.HeadersFrame)
		require.True(t, ok)
		require.True(t, hf.StreamEnded())

		var hbuf []byte
		enc := hpack.NewEncoder(writerFunc(func(p []byte) (int, error) {
			hbuf = append(hbuf, p...)
			return len(p), nil
		}))
		_ = enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
		_ = enc.WriteField(hpack.HeaderField{Name: "content-type", Value: "text/plain"})

		require.NoError(t, peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      hf.StreamID,
			BlockFragment: hbuf,
			EndHeaders:    true,
			EndStream:     false,
		}))
		require.NoError(t, peer.fr.WriteData(hf.StreamID, true, []byte("hello")))
		require.NoError(t, peer.bw.Flush())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, clientConn, 0)
	require.NoError(t, err)
	defer conn.Close()

	h := headers.New()
	h.Add("accept", "*/*")
	resp, err := conn.Send(ctx, &Request{
		Method: "GET", Authority: "example.com", Scheme: "https", Path: "/x", Header: h,
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, []byte("hello"), resp.Body)

	<-done
}

// TestConnTrailerHeadersDoNotOverwriteResponse guards against a second
// HEADERS block (a trailer, per RFC 7540 §8.1) clobbering the real response
// headers captured from the first HEADERS block.
func TestConnTrailerHeadersDoNotOverwriteResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		peer := newFakePeer(t, serverConn)
		peer.readClientSettings()
		peer.sendSettingsAndAck()
		peer.readSettingsAck()

		f, err := peer.fr.ReadFrame()
		require.NoError(t, err)
		hf, ok := f.(*http2.HeadersFrame)
		require.True(t, ok)

		var hbuf []byte
		enc := hpack.NewEncoder(writerFunc(func(p []byte) (int, error) {
			hbuf = append(hbuf, p...)
			return len(p), nil
		}))
		_ = enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
		_ = enc.WriteField(hpack.HeaderField{Name: "content-type", Value: "text/plain"})
		require.NoError(t, peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID: hf.StreamID, BlockFragment: hbuf, EndHeaders: true, EndStream: false,
		}))
		require.NoError(t, peer.fr.WriteData(hf.StreamID, false, []byte("hello")))

		var tbuf []byte
		tenc := hpack.NewEncoder(writerFunc(func(p []byte) (int, error) {
			tbuf = append(tbuf, p...)
			return len(p), nil
		}))
		_ = tenc.WriteField(hpack.HeaderField{Name: "x-trailer", Value: "late"})
		require.NoError(t, peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID: hf.StreamID, BlockFragment: tbuf, EndHeaders: true, EndStream: true,
		}))
		require.NoError(t, peer.bw.Flush())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, clientConn, 0)
	require.NoError(t, err)
	defer conn.Close()

	h := headers.New()
	h.Add("accept", "*/*")
	resp, err := conn.Send(ctx, &Request{
		Method: "GET", Authority: "example.com", Scheme: "https", Path: "/x", Header: h,
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, []byte("hello"), resp.Body)

	ct, ok := resp.Header.Get("content-type")
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)
	_, hasTrailer := resp.Header.Get("x-trailer")
	require.False(t, hasTrailer)

	<-done
}
