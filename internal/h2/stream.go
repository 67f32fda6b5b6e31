package h2

import (
	"sync"

	"turbohttp/internal/headers"
)

// StreamState follows RFC 7540 §5.1 exactly, per spec §4.4.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
	StreamReset
)

// Stream holds one client-initiated HTTP/2 stream's state: inbound header
// block, DATA queue, per-direction flow-control windows, and the completion
// signal the caller awaits on.
type Stream struct {
	ID uint32

	mu    sync.Mutex
	state StreamState

	sendWindow int64 // may go negative transiently per RFC 7540 §6.9.1
	recvWindow int64

	respHeader  *headers.Table
	respPseudo  map[string]string
	dataBuf     []byte
	trailer     *headers.Table
	sawHeaders  bool // true once the first (non-trailer) HEADERS block has been decoded
	endStream   bool

	headerFrag       []byte // accumulates HEADERS+CONTINUATION fragments until END_HEADERS
	pendingStreamEnd bool   // END_STREAM seen on the HEADERS frame that opened headerFrag

	done chan struct{}
	err  error

	sendBlocked chan struct{} // closed/recreated to wake blocked writers on WINDOW_UPDATE
}

func newStream(id uint32, initialSendWindow, initialRecvWindow int64) *Stream {
	return &Stream{
		ID:          id,
		state:       StreamIdle,
		sendWindow:  initialSendWindow,
		recvWindow:  initialRecvWindow,
		done:        make(chan struct{}),
		sendBlocked: make(chan struct{}),
	}
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(st StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Done returns a channel closed when the stream reaches a terminal state
// (response fully received, reset, or connection torn down).
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, if the stream did not complete normally.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.state == StreamClosed || s.state == StreamReset {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state = StreamReset
		s.err = err
	} else {
		s.state = StreamClosed
	}
	s.mu.Unlock()
	close(s.done)
}

// availableSendWindow reports how many bytes of send window the stream
// currently has, reporting a negative window as 0. It reserves nothing;
// applySendDelta does the deduction.
func (s *Stream) availableSendWindow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendWindow < 0 {
		return 0
	}
	return s.sendWindow
}

func (s *Stream) applySendDelta(n int64) {
	s.mu.Lock()
	s.sendWindow -= n
	s.mu.Unlock()
}

func (s *Stream) applyWindowUpdate(increment uint32) {
	s.mu.Lock()
	s.sendWindow += int64(increment)
	blocked := s.sendBlocked
	s.sendBlocked = make(chan struct{})
	s.mu.Unlock()
	close(blocked)
}

func (s *Stream) waitChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendBlocked
}
