package httpclient

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/h2"
	"turbohttp/internal/message"
	"turbohttp/internal/pool"
)

// h2PoolConn adapts an h2.Conn (multiplexed, shareable) to pool.Conn, per
// spec §4.4/§4.5's H2 shared-lease model.
type h2PoolConn struct {
	conn *h2.Conn

	lastUsed atomic.Int64 // unix nanos
}

func (c *h2PoolConn) Protocol() pool.Protocol { return pool.H2 }

func (c *h2PoolConn) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// KeepAlive reports whether the connection still accepts new streams; an
// H2 connection that has received GOAWAY must not be handed out again.
func (c *h2PoolConn) KeepAlive() bool {
	return !c.conn.IsGoingAway()
}

func (c *h2PoolConn) Close() error { return c.conn.Close() }

func (c *h2PoolConn) send(ctx context.Context, req *message.Request) (*message.Response, error) {
	c.lastUsed.Store(time.Now().UnixNano())

	scheme, authority, path := splitAbsoluteURI(req.URI())
	h2req := &h2.Request{
		Method:    string(req.Method()),
		Scheme:    scheme,
		Authority: authority,
		Path:      path,
		Header:    req.Header(),
		Body:      req.Body(),
	}

	resp, err := c.conn.Send(ctx, h2req)
	if err != nil {
		return nil, translateH2Error(err)
	}
	return message.NewResponse(uint16(resp.StatusCode), resp.Header, bufpool.WrapOwned(resp.Body), req), nil
}

func splitAbsoluteURI(absoluteURI string) (scheme, authority, path string) {
	schemeIdx := strings.Index(absoluteURI, "://")
	if schemeIdx < 0 {
		return "https", "", absoluteURI
	}
	scheme = absoluteURI[:schemeIdx]
	rest := absoluteURI[schemeIdx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return scheme, rest, "/"
	}
	return scheme, rest[:slash], rest[slash:]
}

func translateH2Error(err error) error {
	switch e := err.(type) {
	case *h2.GoAwayError:
		return message.GoAwayError(e.Error())
	case *h2.ConnError:
		return message.ProtocolError(e.Message)
	case *h2.StreamError:
		return message.ProtocolError(e.Message)
	default:
		return message.NetworkError("h2 send failed", err)
	}
}
