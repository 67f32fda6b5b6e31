package h2

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"turbohttp/internal/headers"
)

const defaultWindowSize = 65535

// Request is the minimal request shape the h2 connection needs; the
// transport façade (pkg/httpclient) maps its own Request onto this.
type Request struct {
	Method    string
	Authority string
	Scheme    string
	Path      string
	Header    *headers.Table
	Body      []byte
}

// Response is what Send returns once headers (and, for non-streaming
// callers, the full body) have arrived.
type Response struct {
	StatusCode int
	Header     *headers.Table
	Body       []byte
}

// Conn is a multiplexed HTTP/2 client connection: one reader goroutine
// demultiplexes frames onto per-stream state, one writer goroutine
// serializes outbound frames under a mutex, per spec §4.4.
type Conn struct {
	nc net.Conn
	fr *http2.Framer
	bw *bufio.Writer

	writeMu sync.Mutex // serializes writer-goroutine frame emission

	streamsMu  sync.Mutex
	streams    map[uint32]*Stream
	nextStream uint32

	connSendWindow int64
	connRecvWindow int64
	connWindowMu   sync.Mutex
	connWindowCond *sync.Cond

	peerInitialWindow uint32
	codec             *HeaderCodec

	goAway       atomic.Bool
	goAwayLastID uint32

	writeQueue chan frameJob
	closed     chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

type frameJob struct {
	write func() error
	done  chan error
}

// Dial wraps an already-established net.Conn (TLS handshake with h2 ALPN
// already completed by the caller, as the teacher's dialRFC8441RawH2 does)
// and performs the connection preface + SETTINGS exchange.
func Dial(ctx context.Context, nc net.Conn, maxHeaderListBytes int) (*Conn, error) {
	br := bufio.NewReaderSize(nc, 32*1024)
	bw := bufio.NewWriterSize(nc, 32*1024)
	fr := http2.NewFramer(bw, br)
	fr.ReadMetaHeaders = nil
	fr.SetMaxReadFrameSize(1 << 20)

	c := &Conn{
		nc:                nc,
		fr:                fr,
		bw:                bw,
		streams:           make(map[uint32]*Stream),
		nextStream:        1,
		connSendWindow:    defaultWindowSize,
		connRecvWindow:    defaultWindowSize,
		peerInitialWindow: defaultWindowSize,
		codec:             NewHeaderCodec(maxHeaderListBytes),
		writeQueue:        make(chan frameJob, 64),
		closed:            make(chan struct{}),
	}
	c.connWindowCond = sync.NewCond(&c.connWindowMu)

	if _, err := io.WriteString(bw, http2.ClientPreface); err != nil {
		return nil, err
	}
	if err := fr.WriteSettings(
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: defaultWindowSize},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: 1 << 20},
	); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}

	go c.writerLoop()
	go c.readerLoop()

	return c, nil
}

func (c *Conn) writerLoop() {
	for job := range c.writeQueue {
		c.writeMu.Lock()
		err := job.write()
		if err == nil {
			err = c.bw.Flush()
		}
		c.writeMu.Unlock()
		if job.done != nil {
			job.done <- err
		}
		if err != nil {
			c.teardown(&ConnError{Code: ErrInternal, Message: "write failed: " + err.Error()})
			return
		}
	}
}

func (c *Conn) enqueueWrite(write func() error) error {
	done := make(chan error, 1)
	select {
	case c.writeQueue <- frameJob{write: write, done: done}:
	case <-c.closed:
		return c.closeErr
	}
	select {
	case err := <-done:
		return err
	case <-c.closed:
		return c.closeErr
	}
}

func (c *Conn) readerLoop() {
	for {
		f, err := c.fr.ReadFrame()
		if err != nil {
			c.teardown(&ConnError{Code: ErrInternal, Message: "read failed: " + err.Error()})
			return
		}
		if err := c.handleFrame(f); err != nil {
			if ce, ok := err.(*ConnError); ok {
				c.teardown(ce)
				return
			}
		}
	}
}

func (c *Conn) handleFrame(f http2.Frame) error {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		return c.handleSettings(fr)
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(fr)
	case *http2.HeadersFrame:
		return c.handleHeaders(fr)
	case *http2.ContinuationFrame:
		return c.handleContinuation(fr)
	case *http2.DataFrame:
		return c.handleData(fr)
	case *http2.RSTStreamFrame:
		return c.handleRSTStream(fr)
	case *http2.GoAwayFrame:
		return c.handleGoAway(fr)
	case *http2.PingFrame:
		return c.handlePing(fr)
	case *http2.PriorityFrame:
		// Accepted, decoded, no scheduling effect — spec §4.4 / §9.
		return nil
	default:
		return nil
	}
}

func (c *Conn) handleSettings(fr *http2.SettingsFrame) error {
	if fr.IsAck() {
		return nil
	}
	err := fr.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			c.peerInitialWindow = s.Val
		case http2.SettingHeaderTableSize:
			c.codec.SetPeerMaxTableSize(s.Val)
		}
		return nil
	})
	if err != nil {
		return &ConnError{Code: ErrProtocol, Message: "bad SETTINGS frame"}
	}
	return c.enqueueWrite(func() error { return c.fr.WriteSettingsAck() })
}

func (c *Conn) handleWindowUpdate(fr *http2.WindowUpdateFrame) error {
	if fr.StreamID == 0 {
		c.connWindowMu.Lock()
		c.connSendWindow += int64(fr.Increment)
		c.connWindowCond.Broadcast()
		c.connWindowMu.Unlock()
		return nil
	}
	s := c.getStream(fr.StreamID)
	if s != nil {
		s.applyWindowUpdate(fr.Increment)
	}
	return nil
}

// handleHeaders accumulates a HEADERS frame's fragment, decoding only once
// END_HEADERS arrives (possibly after further CONTINUATION frames) — a
// header field split across the HEADERS/CONTINUATION boundary must be
// HPACK-decoded as one block, since hpack.Decoder.Close rejects a block left
// mid-field.
func (c *Conn) handleHeaders(fr *http2.HeadersFrame) error {
	s := c.getStream(fr.StreamID)
	if s == nil {
		return nil
	}
	s.headerFrag = append([]byte(nil), fr.HeaderBlockFragment()...)
	s.pendingStreamEnd = fr.StreamEnded()
	if !fr.HeadersEnded() {
		return nil
	}
	return c.finishHeaderBlock(s)
}

func (c *Conn) handleContinuation(fr *http2.ContinuationFrame) error {
	s := c.getStream(fr.StreamID)
	if s == nil {
		return nil
	}
	s.headerFrag = append(s.headerFrag, fr.HeaderBlockFragment()...)
	if !fr.HeadersEnded() {
		return nil
	}
	return c.finishHeaderBlock(s)
}

// finishHeaderBlock decodes the fully-assembled HEADERS(+CONTINUATION...)
// block. The first block on a stream carries the actual response headers; a
// second one, per RFC 7540 §8.1, is a trailer block — it still must be
// HPACK-decoded to keep the shared dynamic table synchronized with the peer,
// but it is parsed and discarded rather than surfaced on Response (spec §9:
// trailers stay "parsed-but-discarded").
func (c *Conn) finishHeaderBlock(s *Stream) error {
	block := s.headerFrag
	s.headerFrag = nil
	table, pseudo, err := c.codec.Decode(block)
	if err != nil {
		return err
	}
	if !s.sawHeaders {
		s.respHeader = table
		s.respPseudo = pseudo
		s.sawHeaders = true
	} else {
		s.trailer = table
	}
	if s.pendingStreamEnd {
		s.endStream = true
		s.finish(nil)
	}
	return nil
}

func (c *Conn) handleData(fr *http2.DataFrame) error {
	s := c.getStream(fr.StreamID)
	n := len(fr.Data())
	if s != nil {
		s.dataBuf = append(s.dataBuf, fr.Data()...)
	}
	// Replenish both windows so the peer can keep sending, per spec §4.4.
	if n > 0 {
		c.connWindowMu.Lock()
		c.connRecvWindow -= int64(n)
		needConn := c.connRecvWindow < defaultWindowSize/2
		c.connWindowMu.Unlock()
		if needConn {
			_ = c.enqueueWrite(func() error { return c.fr.WriteWindowUpdate(0, defaultWindowSize) })
			c.connWindowMu.Lock()
			c.connRecvWindow += defaultWindowSize
			c.connWindowMu.Unlock()
		}
		if s != nil {
			_ = c.enqueueWrite(func() error { return c.fr.WriteWindowUpdate(fr.StreamID, uint32(n)) })
		}
	}
	if fr.StreamEnded() && s != nil {
		s.endStream = true
		s.finish(nil)
	}
	return nil
}

func (c *Conn) handleRSTStream(fr *http2.RSTStreamFrame) error {
	s := c.getStream(fr.StreamID)
	if s != nil {
		s.finish(&StreamError{StreamID: fr.StreamID, Code: ErrorCode(fr.ErrCode), Message: "stream reset by peer"})
	}
	return nil
}

func (c *Conn) handleGoAway(fr *http2.GoAwayFrame) error {
	c.goAway.Store(true)
	c.goAwayLastID = fr.LastStreamID
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	for id, s := range c.streams {
		if id > fr.LastStreamID {
			s.finish(&GoAwayError{LastStreamID: fr.LastStreamID, Code: ErrorCode(fr.ErrCode)})
		}
	}
	return nil
}

func (c *Conn) handlePing(fr *http2.PingFrame) error {
	if fr.IsAck() {
		return nil
	}
	data := fr.Data
	return c.enqueueWrite(func() error { return c.fr.WritePing(true, data) })
}

func (c *Conn) getStream(id uint32) *Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[id]
}

// IsGoingAway reports whether the peer has sent GOAWAY.
func (c *Conn) IsGoingAway() bool {
	return c.goAway.Load()
}

// Send opens a new client-initiated stream, writes the request, and blocks
// until the full response (headers + body) has been received or the
// context is cancelled.
func (c *Conn) Send(ctx context.Context, req *Request) (*Response, error) {
	if c.goAway.Load() {
		return nil, &GoAwayError{LastStreamID: c.goAwayLastID}
	}

	c.streamsMu.Lock()
	id := c.nextStream
	c.nextStream += 2
	s := newStream(id, int64(c.peerInitialWindow), defaultWindowSize)
	s.state = StreamOpen
	c.streams[id] = s
	c.streamsMu.Unlock()

	fields := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: req.Scheme},
		{Name: ":authority", Value: req.Authority},
		{Name: ":path", Value: req.Path},
	}
	req.Header.Range(func(name, value string) {
		fields = append(fields, hpack.HeaderField{Name: name, Value: value})
	})
	block := c.codec.Encode(fields)

	endStream := len(req.Body) == 0
	if err := c.enqueueWrite(func() error {
		return c.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      id,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     endStream,
		})
	}); err != nil {
		return nil, err
	}

	if !endStream {
		if err := c.sendData(ctx, s, req.Body); err != nil {
			return nil, err
		}
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		c.resetStream(id, ErrCancel)
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.closeErr
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	status := 0
	if v, ok := s.respPseudo[":status"]; ok {
		fmt.Sscanf(v, "%d", &status)
	}
	return &Response{StatusCode: status, Header: s.respHeader, Body: s.dataBuf}, nil
}

func (c *Conn) sendData(ctx context.Context, s *Stream, body []byte) error {
	const maxFrame = 16384
	for len(body) > 0 {
		// Block until both connection and stream send windows have room,
		// per spec §4.4's flow-control-stall behavior.
		for s.availableSendWindow() <= 0 {
			select {
			case <-s.waitChan():
			case <-ctx.Done():
				return ctx.Err()
			case <-c.closed:
				return c.closeErr
			}
		}
		c.connWindowMu.Lock()
		for c.connSendWindow <= 0 {
			c.connWindowCond.Wait()
		}
		avail := c.connSendWindow
		if sw := s.availableSendWindow(); sw < avail {
			avail = sw
		}
		c.connWindowMu.Unlock()

		n := int64(len(body))
		if n > avail {
			n = avail
		}
		if n > maxFrame {
			n = maxFrame
		}
		chunk := body[:n]
		body = body[n:]
		endStream := len(body) == 0

		if err := c.enqueueWrite(func() error {
			return c.fr.WriteData(s.ID, endStream, chunk)
		}); err != nil {
			return err
		}
		s.applySendDelta(n)
		c.connWindowMu.Lock()
		c.connSendWindow -= n
		c.connWindowMu.Unlock()
	}
	return nil
}

func (c *Conn) resetStream(id uint32, code ErrorCode) {
	_ = c.enqueueWrite(func() error { return c.fr.WriteRSTStream(id, http2.ErrCode(code)) })
	s := c.getStream(id)
	if s != nil {
		s.finish(&StreamError{StreamID: id, Code: code, Message: "stream reset by client"})
	}
}

// Close tears down the connection, failing all outstanding streams.
func (c *Conn) Close() error {
	c.teardown(&ConnError{Code: ErrNone, Message: "connection closed"})
	return c.nc.Close()
}

func (c *Conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		close(c.writeQueue)
		c.streamsMu.Lock()
		for _, s := range c.streams {
			s.finish(err)
		}
		c.streamsMu.Unlock()
		c.connWindowMu.Lock()
		c.connWindowCond.Broadcast()
		c.connWindowMu.Unlock()
	})
}
