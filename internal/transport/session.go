// Package transport builds ready-to-use upstream connections: proxy-aware
// dialers for the duplex websocket channel and plain chunked HTTP, browser
// headers derived from the active credential, and an alternate HTTP client
// that impersonates a specific browser TLS fingerprint.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"h12.io/socks"
)

// Static errors for session building.
var (
	// ErrUnsupportedProxyScheme is returned for proxy URLs whose scheme is
	// not http, https, socks4, socks5 or socks5h.
	ErrUnsupportedProxyScheme = errors.New("transport: unsupported proxy scheme")
)

const (
	originURL       = "https://grok.com"
	websocketUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	browserUA       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	handshakeWindow = 30 * time.Second
)

// SessionBuilder produces configured connections and header sets for the
// upstream service. It holds no per-request state and is safe for
// concurrent use.
type SessionBuilder struct {
	proxyURL    *url.URL
	cfClearance string
}

// Option configures a SessionBuilder.
type Option func(*SessionBuilder) error

// WithProxy routes all connections through the given proxy URL.
// Supported schemes: http, https, socks4, socks5, socks5h.
func WithProxy(rawURL string) Option {
	return func(b *SessionBuilder) error {
		if rawURL == "" {
			return nil
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("transport: parse proxy URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "socks4", "socks5", "socks5h":
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedProxyScheme, u.Scheme)
		}
		b.proxyURL = u
		return nil
	}
}

// WithCFClearance attaches a clearance token to the credential cookie pair.
func WithCFClearance(token string) Option {
	return func(b *SessionBuilder) error {
		b.cfClearance = token
		return nil
	}
}

// NewSessionBuilder creates a SessionBuilder with the given options.
func NewSessionBuilder(opts ...Option) (*SessionBuilder, error) {
	b := &SessionBuilder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// socksProxy reports whether the configured proxy is a SOCKS variant.
func (b *SessionBuilder) socksProxy() bool {
	return b.proxyURL != nil && b.proxyURL.Scheme != "http" && b.proxyURL.Scheme != "https"
}

// dialRaw opens a plain TCP connection to addr, through the proxy if one
// is configured. It is the shared base for all transports.
func (b *SessionBuilder) dialRaw(network, addr string) (net.Conn, error) {
	if b.socksProxy() {
		dial := socks.Dial(b.proxyURL.String())
		conn, err := dial(network, addr)
		if err != nil {
			return nil, fmt.Errorf("transport: socks dial: %w", err)
		}
		return conn, nil
	}

	d := net.Dialer{Timeout: handshakeWindow}
	conn, err := d.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return conn, nil
}

// WebsocketDialer returns a dialer for the duplex channel, routed through
// the configured proxy.
func (b *SessionBuilder) WebsocketDialer() *websocket.Dialer {
	d := &websocket.Dialer{
		HandshakeTimeout: handshakeWindow,
	}
	if b.proxyURL == nil {
		return d
	}
	if b.socksProxy() {
		d.NetDial = b.dialRaw
	} else {
		proxyURL := b.proxyURL
		d.Proxy = func(*http.Request) (*url.URL, error) { return proxyURL, nil }
	}
	return d
}

// HTTPClient returns a plain HTTP client for the chunked-stream path,
// routed through the configured proxy.
func (b *SessionBuilder) HTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{}
	if b.proxyURL != nil {
		if b.socksProxy() {
			tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return b.dialRaw(network, addr)
			}
		} else {
			tr.Proxy = http.ProxyURL(b.proxyURL)
		}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// WebsocketHeaders builds the header set for the duplex channel.
func (b *SessionBuilder) WebsocketHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Cookie", fmt.Sprintf("sso=%s; sso-rw=%s", token, token))
	h.Set("Origin", originURL)
	h.Set("User-Agent", websocketUA)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return h
}

// HTTPHeaders builds the header set for the chunked-HTTP path, including
// the credential cookie pair, the optional clearance token, a fresh request
// id and a regenerated telemetry value.
func (b *SessionBuilder) HTTPHeaders(token, referer string) http.Header {
	cookie := fmt.Sprintf("sso=%s; sso-rw=%s", token, token)
	if b.cfClearance != "" {
		cookie += "; cf_clearance=" + b.cfClearance
	}

	h := http.Header{}
	h.Set("Cookie", cookie)
	h.Set("Origin", originURL)
	h.Set("Referer", referer)
	h.Set("User-Agent", browserUA)
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Sec-Ch-Ua", `"Google Chrome";v="133", "Chromium";v="133", "Not(A:Brand";v="24"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Priority", "u=1, i")
	h.Set("x-xai-request-id", uuid.NewString())
	h.Set("x-statsig-id", TelemetryValue())
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return h
}

// CookieHeader returns just the credential cookie pair, with the clearance
// token appended when configured. Used for authenticated media downloads.
func (b *SessionBuilder) CookieHeader(token string) string {
	cookie := fmt.Sprintf("sso=%s; sso-rw=%s", token, token)
	if b.cfClearance != "" {
		cookie += "; cf_clearance=" + b.cfClearance
	}
	return cookie
}

const (
	lowerAlpha    = "abcdefghijklmnopqrstuvwxyz"
	lowerAlphaNum = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// TelemetryValue generates a randomized-but-plausible anti-bot telemetry
// value of the shape the web client emits. A fresh value is produced per
// call.
func TelemetryValue() string {
	var message string
	if rand.Intn(2) == 0 {
		message = fmt.Sprintf(
			"e:TypeError: Cannot read properties of null (reading 'children['%s']')",
			randomString(lowerAlphaNum, 5),
		)
	} else {
		message = fmt.Sprintf(
			"e:TypeError: Cannot read properties of undefined (reading '%s')",
			randomString(lowerAlpha, 10),
		)
	}
	return base64.StdEncoding.EncodeToString([]byte(message))
}

func randomString(alphabet string, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(buf)
}
