package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	echoed := rr.Header().Get("X-Request-ID")
	if len(echoed) != 36 {
		t.Fatalf("generated id = %q, want uuid", echoed)
	}
	if seen != echoed {
		t.Fatalf("context id = %q, header id = %q", seen, echoed)
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "proxy-assigned-7")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "proxy-assigned-7" {
		t.Fatalf("context id = %q, want proxy-assigned-7", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "proxy-assigned-7" {
		t.Fatalf("echoed id = %q, want proxy-assigned-7", got)
	}
}

func TestRequestIDTruncatesOversizedInbound(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); len(got) != maxRequestIDLen {
		t.Fatalf("echoed id length = %d, want %d", len(got), maxRequestIDLen)
	}
}
