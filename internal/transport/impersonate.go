package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Profile names a browser TLS fingerprint the impersonating client can
// present. Profiles are tried in the order of DefaultProfiles.
type Profile struct {
	Name    string
	helloID utls.ClientHelloID
}

// DefaultProfiles is the ordered list of fingerprint profiles, newest first.
var DefaultProfiles = []Profile{
	{Name: "chrome131", helloID: utls.HelloChrome_131},
	{Name: "chrome120", helloID: utls.HelloChrome_120},
	{Name: "chrome102", helloID: utls.HelloChrome_102},
}

// ImpersonatingClient returns an HTTP client whose TLS handshake presents
// the given browser fingerprint profile. Connections are routed through the
// configured proxy. Each request uses a fresh connection; the response body
// owns the connection and closing it releases it.
func (b *SessionBuilder) ImpersonatingClient(profile Profile, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &impersonatingTransport{
			builder: b,
			helloID: profile.helloID,
		},
		Timeout: timeout,
	}
}

// impersonatingTransport dials TLS with a utls ClientHello and then speaks
// whichever protocol was negotiated (HTTP/2 or HTTP/1.1) over the raw
// connection. No connection pooling: the upstream's anti-bot layer keys on
// handshake shape, and one fresh handshake per request matches what the
// fallback path needs.
type impersonatingTransport struct {
	builder *SessionBuilder
	helloID utls.ClientHelloID
}

// RoundTrip implements http.RoundTripper.
func (t *impersonatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}

	raw, err := t.builder.dialRaw("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}

	cfg := &utls.Config{
		ServerName: host,
	}
	conn := utls.UClient(raw, cfg, t.helloID)
	if err := t.handshake(req.Context(), conn); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("transport: impersonated handshake: %w", err)
	}

	if conn.ConnectionState().NegotiatedProtocol == "h2" {
		tr := &http2.Transport{}
		cc, err := tr.NewClientConn(conn)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: h2 client conn: %w", err)
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: h2 round trip: %w", err)
		}
		resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
		return resp, nil
	}

	// HTTP/1.1 over the impersonated connection.
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: write request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// handshake runs the TLS handshake, honoring context cancellation.
func (t *impersonatingTransport) handshake(ctx context.Context, conn *utls.UConn) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	return conn.HandshakeContext(ctx)
}

// connBody ties the lifetime of the underlying connection to the response
// body, since the transport does not pool connections.
type connBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
