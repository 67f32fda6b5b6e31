package ws

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/telemetry"
)

// dialCounter returns a DialFunc that hands out fresh connections wired
// over net.Pipe, recording how many times it was invoked and letting the
// test drive each connection's server side.
func dialCounter(t *testing.T, onServer func(n int, server net.Conn)) (DialFunc, *atomic.Int32) {
	var n atomic.Int32
	fn := func(ctx context.Context) (*Connection, error) {
		count := int(n.Add(1))
		clientSide, serverSide := net.Pipe()
		opts := Options{ReceiveQueueCapacity: 8, FragmentationThreshold: 64 * 1024, CloseHandshakeTimeout: time.Second}
		c := newConnection(clientSide, bufio.NewReader(clientSide), opts, &HandshakeResult{})
		go onServer(count, serverSide)
		return c, nil
	}
	return fn, &n
}

func TestResilientClientReconnectsAfterAbnormalTermination(t *testing.T) {
	dial, calls := dialCounter(t, func(n int, server net.Conn) {
		if n == 1 {
			// First connection: send one message, then drop the socket
			// without a close handshake.
			frame, _ := BuildFrame(OpText, []byte("first"), true, false, false)
			server.Write(frame)
			time.Sleep(20 * time.Millisecond)
			server.Close()
			return
		}
		// Second connection: send one message and leave it open.
		frame, _ := BuildFrame(OpText, []byte("second"), true, false, false)
		server.Write(frame)
	})

	policy := ReconnectPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2}
	rc := NewResilientClient(dial, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []string
	for msg, err := range rc.ReceiveAll(ctx) {
		if err != nil {
			continue
		}
		got = append(got, string(msg.Data))
		if len(got) == 2 {
			cancel()
		}
	}

	require.GreaterOrEqual(t, int(calls.Load()), 2)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestResilientClientStopsAfterMaxRetries(t *testing.T) {
	dial, calls := dialCounter(t, func(n int, server net.Conn) {
		server.Close() // every connection dies immediately
	})

	policy := ReconnectPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}
	rc := NewResilientClient(dial, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sawClosed := false
	for range rc.ReceiveAll(ctx) {
	}
	for {
		select {
		case ev := <-rc.Events():
			if ev.Kind == EventClosed {
				sawClosed = true
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, sawClosed)
	assert.LessOrEqual(t, int(calls.Load()), 4) // initial dial + up to 2 retries, with slack
}

func TestResilientClientIncrementsReconnectMetric(t *testing.T) {
	dial, _ := dialCounter(t, func(n int, server net.Conn) {
		if n == 1 {
			server.Close()
			return
		}
		frame, _ := BuildFrame(OpText, []byte("second"), true, false, false)
		server.Write(frame)
	})

	metrics := telemetry.NewRegistry()
	policy := ReconnectPolicy{
		MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
		BackoffMultiplier: 2, Metrics: metrics,
	}
	rc := NewResilientClient(dial, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for msg, err := range rc.ReceiveAll(ctx) {
		if err == nil && string(msg.Data) == "second" {
			cancel()
		}
	}

	count := testutil.ToFloat64(metrics.WSReconnects)
	assert.Equal(t, float64(1), count)
}

func TestReconnectPolicyShouldReconnectRefusesRetry(t *testing.T) {
	dial, calls := dialCounter(t, func(n int, server net.Conn) {
		server.Close()
	})

	policy := ReconnectPolicy{
		MaxRetries:   -1,
		InitialDelay: time.Millisecond,
		ShouldReconnect: func(code StatusCode) bool {
			return false
		},
	}
	rc := NewResilientClient(dial, policy)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for range rc.ReceiveAll(ctx) {
	}
	assert.Equal(t, int32(1), calls.Load())
}
