package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIPDirect(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"

	if ip := GetClientIP(r, false, 0); ip != "203.0.113.7" {
		t.Errorf("expected 203.0.113.7, got %q", ip)
	}
}

func TestGetClientIPIgnoresSpoofedHeadersWithoutProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	if ip := GetClientIP(r, false, 0); ip != "203.0.113.7" {
		t.Errorf("spoofed headers must be ignored, got %q", ip)
	}
}

func TestGetClientIPBehindProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.2, 10.0.0.1")

	// Two trusted proxies: the client entry is just left of them.
	if ip := GetClientIP(r, true, 2); ip != "198.51.100.1" {
		t.Errorf("expected 198.51.100.1, got %q", ip)
	}
}

func TestGetClientIPXRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	if ip := GetClientIP(r, true, 1); ip != "198.51.100.9" {
		t.Errorf("expected 198.51.100.9, got %q", ip)
	}
}

func TestClientIPFromXFFMalformed(t *testing.T) {
	if ip := clientIPFromXFF("not-an-ip, 10.0.0.1", 1); ip != "" {
		t.Errorf("malformed entry must yield empty, got %q", ip)
	}
	if ip := clientIPFromXFF("", 1); ip != "" {
		t.Errorf("empty header must yield empty, got %q", ip)
	}
	// More trusted proxies than entries clamps to the leftmost entry.
	if ip := clientIPFromXFF("198.51.100.1", 5); ip != "198.51.100.1" {
		t.Errorf("expected 198.51.100.1, got %q", ip)
	}
}
