package ws

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// State is a WebSocket connection's lifecycle state, per spec §4.11.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrConnectionClosed is returned by Send/Receive once the connection has
// left the Open state.
var ErrConnectionClosed = errors.New("ws: connection closed")

// ErrInvalidUTF8 is returned when Send is asked to send a non-UTF-8 text
// message.
var ErrInvalidUTF8 = errors.New("ws: text payload is not valid UTF-8")

// Options configures a dialed connection, per spec §6's
// WebSocketConnectionOptions.
type Options struct {
	HandshakeTimeout            time.Duration
	CloseHandshakeTimeout       time.Duration
	PingInterval                time.Duration
	PongTimeout                 time.Duration
	ReceiveQueueCapacity        int
	FragmentationThreshold      int
	MaxMessageSize              int64
	RequireNegotiatedExtensions bool
	RequestCompression          bool
	DeflateThreshold            int
	SubProtocols                []string
	TLSConfig                   *tls.Config
}

// DefaultOptions returns spec-reasonable defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout:       10 * time.Second,
		CloseHandshakeTimeout:  5 * time.Second,
		PongTimeout:            10 * time.Second,
		ReceiveQueueCapacity:   64,
		FragmentationThreshold: 64 * 1024,
		MaxMessageSize:         16 << 20,
		DeflateThreshold:       1024,
	}
}

// Message is one assembled application message handed to a receiver.
type Message struct {
	Type Opcode
	Data []byte
}

// CloseStatus is the code+reason the connection closed with, set exactly
// once regardless of which side initiated the close.
type CloseStatus struct {
	Code   StatusCode
	Reason string
}

type queueItem struct {
	msg Message
	err error
}

// Connection is a client-side RFC 6455 WebSocket connection: handshake,
// state machine, serialized send, single-pump receive, keepalive, and
// close handshake, per spec §4.11.
type Connection struct {
	opts Options

	netConn net.Conn
	br      *bufio.Reader

	state atomic.Int32

	writeMu sync.Mutex

	recvQueue   chan queueItem
	receiveGate chan struct{}

	pingMu      sync.Mutex
	pendingPing map[string]time.Time
	lastRTT     atomic.Int64 // nanoseconds; set from the most recent matched pong

	deflate        *DeflateExtension
	subProtocol    string

	closeOnce   sync.Once
	closeStatus atomic.Pointer[CloseStatus]

	group    *errgroup.Group
	cancel   context.CancelFunc
}

// Dial opens a WebSocket connection to rawURL (scheme ws or wss), per spec
// §4.11's handshake sequence.
func Dial(ctx context.Context, rawURL string, opts Options) (*Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}

	if opts.ReceiveQueueCapacity <= 0 {
		opts.ReceiveQueueCapacity = DefaultOptions().ReceiveQueueCapacity
	}
	if opts.FragmentationThreshold <= 0 {
		opts.FragmentationThreshold = DefaultOptions().FragmentationThreshold
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultOptions().HandshakeTimeout
	}
	if opts.CloseHandshakeTimeout <= 0 {
		opts.CloseHandshakeTimeout = DefaultOptions().CloseHandshakeTimeout
	}
	if opts.DeflateThreshold <= 0 {
		opts.DeflateThreshold = DefaultOptions().DeflateThreshold
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancelDial()

	addr := net.JoinHostPort(u.Hostname(), portOrDefault(u))
	var rawConn net.Conn
	if u.Scheme == "wss" {
		tlsCfg := opts.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
		}
		dialer := &tls.Dialer{Config: tlsCfg}
		rawConn, err = dialer.DialContext(dialCtx, "tcp", addr)
	} else {
		var d net.Dialer
		rawConn, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	key, err := generateKey()
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	hsOpts := HandshakeOptions{
		SubProtocols:                opts.SubProtocols,
		RequestExtensions:           opts.RequestCompression,
		RequireNegotiatedExtensions: opts.RequireNegotiatedExtensions,
	}
	if err := writeHandshakeRequest(rawConn, u, key, hsOpts); err != nil {
		rawConn.Close()
		return nil, err
	}
	br := bufio.NewReaderSize(rawConn, 32*1024)
	result, err := readHandshakeResponse(br, key, hsOpts)
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	_ = rawConn.SetDeadline(time.Time{}) // handshake deadline only

	return newConnection(rawConn, br, opts, result), nil
}

// newConnection wires a handshaken socket into a running Connection: it
// starts the pump and (if configured) keepalive goroutines. Split out of
// Dial so tests can drive the state machine over an in-memory net.Pipe
// without a real handshake round-trip.
func newConnection(rawConn net.Conn, br *bufio.Reader, opts Options, result *HandshakeResult) *Connection {
	groupCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(groupCtx)

	c := &Connection{
		opts:        opts,
		netConn:     rawConn,
		br:          br,
		recvQueue:   make(chan queueItem, opts.ReceiveQueueCapacity),
		receiveGate: make(chan struct{}, 1),
		pendingPing: make(map[string]time.Time),
		subProtocol: result.SubProtocol,
		group:       g,
		cancel:      cancel,
	}
	if result.DeflateEnabled {
		c.deflate = &DeflateExtension{MaxDecompressedSize: opts.MaxMessageSize}
	}
	c.receiveGate <- struct{}{}
	c.state.Store(int32(StateOpen))

	g.Go(func() error { return c.pump(gctx) })
	if opts.PingInterval > 0 {
		g.Go(func() error { return c.keepalive(gctx) })
	}

	return c
}

func portOrDefault(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "wss" {
		return "443"
	}
	return "80"
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// SubProtocol returns the negotiated sub-protocol, or "" if none.
func (c *Connection) SubProtocol() string { return c.subProtocol }

// RTT returns the round-trip time of the most recent matched ping/pong, or
// zero if no pong has been received yet.
func (c *Connection) RTT() time.Duration { return time.Duration(c.lastRTT.Load()) }

// Send writes one application message, fragmenting per
// Options.FragmentationThreshold and compressing via permessage-deflate
// when negotiated and the payload is at least DeflateThreshold bytes, per
// spec §4.11.
func (c *Connection) Send(ctx context.Context, opcode Opcode, data []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	if opcode == OpText && !utf8.Valid(data) {
		return ErrInvalidUTF8
	}

	payload := data
	rsv1 := false
	if c.deflate != nil && !opcode.IsControl() && len(data) >= c.opts.DeflateThreshold {
		compressed, err := c.deflate.Deflate(data)
		if err != nil {
			return err
		}
		payload = compressed
		rsv1 = true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetWriteDeadline(deadline)
		defer c.netConn.SetWriteDeadline(time.Time{})
	}
	return WriteMessage(c.netConn, opcode, payload, c.opts.FragmentationThreshold, true, rsv1)
}

// Receive dequeues one message, or returns an error once the connection is
// closed or ctx is done. Only one goroutine may call Receive/ReceiveAll at
// a time; the receive gate enforces it, per spec §4.11.
func (c *Connection) Receive(ctx context.Context) (Message, error) {
	select {
	case <-c.receiveGate:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	defer func() { c.receiveGate <- struct{}{} }()

	select {
	case item, ok := <-c.recvQueue:
		if !ok {
			return Message{}, c.finalErr()
		}
		return item.msg, item.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// ReceiveAll returns a range-over-func iterator that streams messages
// until the connection closes, holding the receive gate exclusively for
// the whole iteration (released when the loop body stops ranging), per
// spec §4.11.
func (c *Connection) ReceiveAll(ctx context.Context) func(yield func(Message, error) bool) {
	return func(yield func(Message, error) bool) {
		select {
		case <-c.receiveGate:
		case <-ctx.Done():
			return
		}
		defer func() { c.receiveGate <- struct{}{} }()

		for {
			select {
			case item, ok := <-c.recvQueue:
				if !ok {
					return
				}
				if !yield(item.msg, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			case <-ctx.Done():
				yield(Message{}, ctx.Err())
				return
			}
		}
	}
}

func (c *Connection) finalErr() error {
	if status := c.closeStatus.Load(); status != nil {
		return fmt.Errorf("%w: code=%d reason=%q", ErrConnectionClosed, status.Code, status.Reason)
	}
	return ErrConnectionClosed
}

// Close sends a close frame and transitions to Closing; the pump finalizes
// the transition to Closed once the peer's echo arrives or
// CloseHandshakeTimeout elapses, per spec §4.11. Codes 1005/1006 are
// reserved and are never placed on the wire.
func (c *Connection) Close(code StatusCode, reason string) error {
	if code == StatusNoStatusReceived || code == StatusAbnormalClosure {
		return fmt.Errorf("ws: status code %d is reserved and must not be sent", code)
	}
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return nil // already closing or closed
	}

	if len(reason) > 123 {
		reason = truncateUTF8(reason, 123)
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)

	c.writeMu.Lock()
	frame, err := BuildFrame(OpClose, payload, true, true, false)
	if err == nil {
		_, err = c.netConn.Write(frame)
	}
	c.writeMu.Unlock()

	time.AfterFunc(c.opts.CloseHandshakeTimeout, func() {
		c.abort(CloseStatus{Code: code, Reason: reason})
	})
	return err
}

// abort idempotently closes the underlying socket, records the close
// status (first caller wins), and cancels background goroutines. It does
// not touch recvQueue: pump is recvQueue's sole sender, and closes it
// itself on the way out, so a second caller racing abort (keepalive on a
// pong timeout, the close-handshake timer) never closes a channel pump is
// still sending on.
func (c *Connection) abort(status CloseStatus) {
	c.closeOnce.Do(func() {
		c.closeStatus.Store(&status)
		c.state.Store(int32(StateClosed))
		c.cancel()
		c.netConn.Close()
	})
}

// Wait blocks until the connection's background goroutines have exited
// (pump + keepalive), returning the first error either reported.
func (c *Connection) Wait() error {
	return c.group.Wait()
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// pump is the single reader goroutine: it parses frames, answers control
// frames, assembles fragmented messages, and feeds complete ones to
// recvQueue, per spec §4.11.
func (c *Connection) pump(ctx context.Context) error {
	defer close(c.recvQueue)

	frameOpts := FrameOptions{MaxPayload: c.opts.MaxMessageSize}
	if c.deflate != nil {
		frameOpts.PermittedRSVMask = 0x40 // RSV1
	}

	var assembling bool
	var assembledOpcode Opcode
	var assembledRSV1 bool
	var assembled []byte

	for {
		f, err := ReadFrame(c.br, frameOpts)
		if err != nil {
			c.abort(CloseStatus{Code: StatusAbnormalClosure, Reason: err.Error()})
			return err
		}

		switch f.Opcode {
		case OpPing:
			c.writeMu.Lock()
			pongFrame, ferr := BuildFrame(OpPong, f.Payload, true, true, false)
			if ferr == nil {
				_, _ = c.netConn.Write(pongFrame)
			}
			c.writeMu.Unlock()
			continue

		case OpPong:
			key := string(f.Payload)
			c.pingMu.Lock()
			sentAt, ok := c.pendingPing[key]
			delete(c.pendingPing, key)
			c.pingMu.Unlock()
			if ok {
				c.lastRTT.Store(int64(time.Since(sentAt)))
			}
			continue

		case OpClose:
			code, reason := parseClosePayload(f.Payload)
			wasClosing := c.State() == StateClosing
			if !wasClosing {
				c.writeMu.Lock()
				echo, ferr := BuildFrame(OpClose, f.Payload, true, true, false)
				if ferr == nil {
					_, _ = c.netConn.Write(echo)
				}
				c.writeMu.Unlock()
			}
			c.abort(CloseStatus{Code: code, Reason: reason})
			return nil

		case OpContinuation:
			if !assembling {
				err := &ProtocolError{Reason: "unexpected continuation frame"}
				c.abort(CloseStatus{Code: StatusProtocolError, Reason: err.Error()})
				return err
			}
			assembled = append(assembled, f.Payload...)
			if f.FIN {
				msg, merr := c.finishMessage(assembledOpcode, assembled, assembledRSV1)
				assembling = false
				assembled = nil
				if merr != nil {
					c.abort(CloseStatus{Code: StatusInvalidPayloadData, Reason: merr.Error()})
					return merr
				}
				c.recvQueue <- queueItem{msg: msg}
			}

		default: // OpText, OpBinary
			if f.FIN {
				msg, merr := c.finishMessage(f.Opcode, f.Payload, f.RSV1)
				if merr != nil {
					c.abort(CloseStatus{Code: StatusInvalidPayloadData, Reason: merr.Error()})
					return merr
				}
				c.recvQueue <- queueItem{msg: msg}
			} else {
				assembling = true
				assembledOpcode = f.Opcode
				assembledRSV1 = f.RSV1
				assembled = append([]byte(nil), f.Payload...)
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Connection) finishMessage(opcode Opcode, payload []byte, rsv1 bool) (Message, error) {
	if rsv1 {
		if c.deflate == nil {
			return Message{}, &ProtocolError{Reason: "RSV1 set but no compression negotiated"}
		}
		inflated, err := c.deflate.Inflate(payload)
		if err != nil {
			return Message{}, err
		}
		payload = inflated
	}
	if opcode == OpText && !utf8.Valid(payload) {
		return Message{}, ErrInvalidUTF8
	}
	return Message{Type: opcode, Data: payload}, nil
}

func parseClosePayload(payload []byte) (StatusCode, string) {
	if len(payload) < 2 {
		return StatusNoStatusReceived, ""
	}
	return StatusCode(binary.BigEndian.Uint16(payload[:2])), string(payload[2:])
}

// keepalive sends pings on PingInterval and force-closes the connection
// if a ping goes unanswered past PongTimeout, per spec §4.11.
func (c *Connection) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.State() != StateOpen {
				return nil
			}
			var payload [4]byte
			if _, err := rand.Read(payload[:]); err != nil {
				continue
			}
			key := string(payload[:])

			c.pingMu.Lock()
			c.pendingPing[key] = time.Now()
			c.pingMu.Unlock()

			c.writeMu.Lock()
			frame, err := BuildFrame(OpPing, payload[:], true, true, false)
			if err == nil {
				_, err = c.netConn.Write(frame)
			}
			c.writeMu.Unlock()
			if err != nil {
				c.abort(CloseStatus{Code: StatusAbnormalClosure, Reason: err.Error()})
				return err
			}

			pongTimeout := c.opts.PongTimeout
			if pongTimeout <= 0 {
				pongTimeout = DefaultOptions().PongTimeout
			}
			time.AfterFunc(pongTimeout, func() {
				c.pingMu.Lock()
				_, stillPending := c.pendingPing[key]
				c.pingMu.Unlock()
				if stillPending && c.State() == StateOpen {
					c.abort(CloseStatus{Code: StatusAbnormalClosure, Reason: "pong timeout"})
				}
			})
		}
	}
}
