package httpclient

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/h1"
	"turbohttp/internal/headers"
	"turbohttp/internal/message"
	"turbohttp/internal/pool"
)

// h1Conn is an HTTP/1.1 connection leased exclusively to one request at a
// time, per spec §4.5. Its pool.Conn.KeepAlive reports the last response's
// Connection-header decision so Release can decide idle-vs-close.
type h1Conn struct {
	nc net.Conn
	br *bufio.Reader

	mu        sync.Mutex
	lastUsed  time.Time
	keepAlive bool
}

func newH1Conn(nc net.Conn) *h1Conn {
	return &h1Conn{nc: nc, br: bufio.NewReaderSize(nc, 16*1024), lastUsed: time.Now(), keepAlive: true}
}

func (c *h1Conn) Protocol() pool.Protocol { return pool.H1 }

func (c *h1Conn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *h1Conn) KeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

func (c *h1Conn) Close() error { return c.nc.Close() }

// send writes req over the wire and parses the response, per spec §4.2.
// The returned keepAlive mirrors h1.Response.KeepAlive so the caller can
// pick the right pool.Disposition.
func (c *h1Conn) send(ctx context.Context, req *message.Request) (*message.Response, bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
		defer c.nc.SetDeadline(time.Time{})
	}

	header := requestHeaderForH1(req)
	target := requestTargetForH1(req.URI())

	if err := h1.WriteRequest(c.nc, string(req.Method()), target, header, req.Body()); err != nil {
		return nil, false, message.NetworkError("writing request", err)
	}

	resp, err := h1.ReadResponse(c.br, string(req.Method()))
	if err != nil {
		return nil, false, message.MalformedResponseError(err.Error())
	}

	c.mu.Lock()
	c.lastUsed = time.Now()
	c.keepAlive = resp.KeepAlive
	c.mu.Unlock()

	return message.NewResponse(uint16(resp.StatusCode), resp.Header, bufpool.WrapOwned(resp.Body), req), resp.KeepAlive, nil
}

// requestHeaderForH1 builds the wire header for an H1 request, adding Host
// (from the request URI) if the caller didn't set one explicitly.
func requestHeaderForH1(req *message.Request) *headers.Table {
	h := req.Header().Clone()
	if !h.Has("Host") {
		if host := hostFromURI(req.URI()); host != "" {
			h.Set("Host", host)
		}
	}
	return h
}

func requestTargetForH1(absoluteURI string) string {
	schemeIdx := strings.Index(absoluteURI, "://")
	if schemeIdx < 0 {
		return absoluteURI
	}
	rest := absoluteURI[schemeIdx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "/"
	}
	return rest[slash:]
}

func hostFromURI(absoluteURI string) string {
	schemeIdx := strings.Index(absoluteURI, "://")
	if schemeIdx < 0 {
		return ""
	}
	rest := absoluteURI[schemeIdx+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		return rest
	}
	return rest[:end]
}
