package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evalbank/internal/actor"
)

func TestRateLimiterAllow(t *testing.T) {
	l := NewRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("separate keys must not share a bucket")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || l.Allow("k") {
		t.Fatalf("expected one request per window")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("expected a fresh window after expiry")
	}

	now = now.Add(2 * time.Minute)
	l.sweep()
	if len(l.store) != 0 {
		t.Fatalf("expected sweep to drop expired buckets, got %d", len(l.store))
	}
}

func TestRateLimitMiddlewareKeysByActor(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	h := RateLimitMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(id int64) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/start", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: id, Student: true}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(7); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(7); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeat actor, got %d", code)
	}
	if code := send(8); code != http.StatusOK {
		t.Fatalf("expected a different actor behind the same address to pass, got %d", code)
	}
}
