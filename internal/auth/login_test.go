package auth

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP_FromRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("got %q, want 203.0.113.7", got)
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	if got := clientIP(r); got != "198.51.100.9" {
		t.Errorf("got %q, want 198.51.100.9", got)
	}
}

func TestClientIP_FallsBackToRawRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("POST", "/auth/login", nil)
	r.RemoteAddr = "not-a-host-port"
	if got := clientIP(r); got != "not-a-host-port" {
		t.Errorf("got %q, want passthrough of malformed RemoteAddr", got)
	}
}
