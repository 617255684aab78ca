package transport

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestWithProxy_SupportedSchemes(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http proxy", "http://proxy.local:8080", false},
		{"https proxy", "https://proxy.local:8443", false},
		{"socks4 proxy", "socks4://proxy.local:1080", false},
		{"socks5 proxy", "socks5://proxy.local:1080", false},
		{"socks5h proxy", "socks5h://proxy.local:1080", false},
		{"empty is a no-op", "", false},
		{"ftp rejected", "ftp://proxy.local:21", true},
		{"bare scheme rejected", "quic://proxy.local", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSessionBuilder(WithProxy(tt.url))
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebsocketDialer_ProxyRouting(t *testing.T) {
	t.Run("no proxy", func(t *testing.T) {
		b, err := NewSessionBuilder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := b.WebsocketDialer()
		if d.Proxy != nil || d.NetDial != nil {
			t.Error("expected no proxy hooks on the dialer")
		}
	})

	t.Run("http proxy uses Proxy func", func(t *testing.T) {
		b, err := NewSessionBuilder(WithProxy("http://proxy.local:8080"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := b.WebsocketDialer()
		if d.Proxy == nil {
			t.Error("expected Proxy func for http proxy")
		}
		if d.NetDial != nil {
			t.Error("expected no NetDial for http proxy")
		}
	})

	t.Run("socks proxy uses NetDial", func(t *testing.T) {
		b, err := NewSessionBuilder(WithProxy("socks5://proxy.local:1080"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := b.WebsocketDialer()
		if d.NetDial == nil {
			t.Error("expected NetDial for socks proxy")
		}
		if d.Proxy != nil {
			t.Error("expected no Proxy func for socks proxy")
		}
	})
}

func TestWebsocketHeaders(t *testing.T) {
	b, err := NewSessionBuilder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := b.WebsocketHeaders("tok-123")

	if got := h.Get("Cookie"); got != "sso=tok-123; sso-rw=tok-123" {
		t.Errorf("Cookie = %q", got)
	}
	if got := h.Get("Origin"); got != "https://grok.com" {
		t.Errorf("Origin = %q", got)
	}
	if h.Get("User-Agent") == "" {
		t.Error("expected User-Agent")
	}
}

func TestHTTPHeaders(t *testing.T) {
	b, err := NewSessionBuilder(WithCFClearance("clear-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := b.HTTPHeaders("tok-123", "https://grok.com/imagine")

	cookie := h.Get("Cookie")
	if !strings.Contains(cookie, "sso=tok-123") {
		t.Errorf("cookie missing sso: %q", cookie)
	}
	if !strings.Contains(cookie, "cf_clearance=clear-1") {
		t.Errorf("cookie missing clearance: %q", cookie)
	}
	if got := h.Get("Referer"); got != "https://grok.com/imagine" {
		t.Errorf("Referer = %q", got)
	}
	if h.Get("x-xai-request-id") == "" {
		t.Error("expected x-xai-request-id")
	}
	if h.Get("x-statsig-id") == "" {
		t.Error("expected x-statsig-id")
	}

	// Request ids must be fresh per call.
	h2 := b.HTTPHeaders("tok-123", "https://grok.com/imagine")
	if h.Get("x-xai-request-id") == h2.Get("x-xai-request-id") {
		t.Error("expected a fresh request id per header set")
	}
}

func TestCookieHeader_WithoutClearance(t *testing.T) {
	b, err := NewSessionBuilder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.CookieHeader("tok"); got != "sso=tok; sso-rw=tok" {
		t.Errorf("CookieHeader = %q", got)
	}
}

func TestTelemetryValue(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		v := TelemetryValue()
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			t.Fatalf("telemetry value is not base64: %v", err)
		}
		if !strings.HasPrefix(string(decoded), "e:TypeError: Cannot read properties of ") {
			t.Errorf("unexpected telemetry message: %s", decoded)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		t.Error("expected telemetry values to vary across calls")
	}
}
