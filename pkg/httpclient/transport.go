package httpclient

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"turbohttp/internal/h2"
	"turbohttp/internal/message"
	"turbohttp/internal/pool"
	"turbohttp/internal/uri"
)

// ProxySettings configures an upstream SOCKS5 proxy the transport dials
// through instead of connecting directly, per spec §4.4/§B.
type ProxySettings struct {
	Address  string
	Username string
	Password string
}

// TransportOptions configures the dialer wired into the connection pool.
type TransportOptions struct {
	DialTimeout         time.Duration
	TLSConfig           *tls.Config
	MaxHeaderListBytes  int
	Proxy               *ProxySettings
}

func (o TransportOptions) dialTimeout() time.Duration {
	if o.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return o.DialTimeout
}

func (o TransportOptions) maxHeaderListBytes() int {
	if o.MaxHeaderListBytes <= 0 {
		return 16 << 20
	}
	return o.MaxHeaderListBytes
}

// transport is the middleware.Transport at the bottom of the pipeline: it
// acquires a pooled connection for the request's origin, speaks H1 or H2 on
// it depending on what Dial negotiated, and returns the lease, per spec
// §4.2–§4.5.
type transport struct {
	pool *pool.Pool
	opts TransportOptions
}

func newTransport(opts TransportOptions, p *pool.Pool) *transport {
	return &transport{pool: p, opts: opts}
}

// dial implements pool.Dialer: it opens a raw TCP (or SOCKS5-proxied, or
// TLS+ALPN) socket to origin and wraps it in the pool.Conn the negotiated
// protocol requires.
func (t *transport) dial(ctx context.Context, origin uri.Origin) (pool.Conn, error) {
	addr := net.JoinHostPort(origin.Host, origin.Port)

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.dialTimeout())
	defer cancel()

	rawConn, err := t.dialRaw(dialCtx, addr)
	if err != nil {
		return nil, message.ProxyConnectionFailedError(err.Error())
	}

	if origin.Scheme != "https" {
		return newH1Conn(rawConn), nil
	}

	tlsCfg := t.opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	}
	tlsCfg = tlsCfg.Clone()
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = origin.Host
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg.NextProtos = []string{"h2", "http/1.1"}
	}

	tlsConn := tls.Client(rawConn, tlsCfg)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		rawConn.Close()
		return nil, message.TLSError(err.Error(), err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		conn, err := h2.Dial(ctx, tlsConn, t.opts.maxHeaderListBytes())
		if err != nil {
			tlsConn.Close()
			return nil, message.ProtocolError("h2 preface failed: " + err.Error())
		}
		return &h2PoolConn{conn: conn}, nil
	}
	return newH1Conn(tlsConn), nil
}

func (t *transport) dialRaw(ctx context.Context, addr string) (net.Conn, error) {
	if t.opts.Proxy == nil {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	var auth *proxy.Auth
	if t.opts.Proxy.Username != "" {
		auth = &proxy.Auth{User: t.opts.Proxy.Username, Password: t.opts.Proxy.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", t.opts.Proxy.Address, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// Send implements middleware.Transport: acquire a lease for the request's
// origin, speak its negotiated protocol, release the lease per spec §4.5.
func (t *transport) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	origin, err := uri.ParseOrigin(req.URI())
	if err != nil {
		return nil, message.InvalidArgumentError(err.Error())
	}

	lease, err := t.pool.Acquire(ctx, origin)
	if err != nil {
		return nil, message.NetworkError("acquiring connection", err)
	}

	switch c := lease.Conn().(type) {
	case *h1Conn:
		resp, keepAlive, err := c.send(ctx, req)
		disp := pool.DispositionReusable
		if err != nil || !keepAlive {
			disp = pool.DispositionDead
		}
		lease.Release(disp)
		return resp, err
	case *h2PoolConn:
		resp, err := c.send(ctx, req)
		disp := pool.DispositionReusable
		if err != nil {
			disp = pool.DispositionDead
		}
		lease.Release(disp)
		return resp, err
	default:
		lease.Release(pool.DispositionDead)
		return nil, message.ProtocolError("unrecognized pooled connection type")
	}
}
