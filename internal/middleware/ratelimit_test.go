package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock drives a limiter's refill in tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rate float64, burst int, turnCost float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rate, burst, turnCost)
	rl.now = clock.now
	return rl, clock
}

func okStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, path, remote, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	req.RemoteAddr = remote
	if user != "" {
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: user}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(1, 3, 0)
	h := rl.Handler(okStatus())

	for i := range 3 {
		if rec := serve(h, http.MethodGet, "/api/v1/sessions/s", "10.0.0.1:5000", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := serve(h, http.MethodGet, "/api/v1/sessions/s", "10.0.0.1:5000", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the burst, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}

	clock.advance(time.Second)
	if rec := serve(h, http.MethodGet, "/api/v1/sessions/s", "10.0.0.1:5000", ""); rec.Code != http.StatusOK {
		t.Errorf("expected a refilled token after 1s, got %d", rec.Code)
	}
}

func TestRateLimiterTurnsCostMore(t *testing.T) {
	rl, clock := newTestLimiter(0.5, 10, 4)
	h := rl.Handler(rl.Turns(okStatus()))

	// Each turn costs 1 for the request plus 4 for the turn.
	for i := range 2 {
		if rec := serve(h, http.MethodPost, "/api/v1/chat/stream", "10.0.0.2:1", "alice"); rec.Code != http.StatusOK {
			t.Fatalf("turn %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := serve(h, http.MethodPost, "/api/v1/chat/stream", "10.0.0.2:1", "alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third turn: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	clock.advance(10 * time.Second)
	if rec := serve(h, http.MethodPost, "/api/v1/chat/stream", "10.0.0.2:1", "alice"); rec.Code != http.StatusOK {
		t.Errorf("turn after refill: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterRefusalWithdrawsNothing(t *testing.T) {
	rl, _ := newTestLimiter(1, 5, 4)

	if _, ok := rl.AllowTurn("bob"); !ok {
		t.Fatal("first turn refused")
	}
	if _, ok := rl.AllowTurn("bob"); ok {
		t.Fatal("second turn allowed with one token left")
	}
	// The refused turn left the last token for a cheap request.
	if _, _, ok := rl.take("user:bob", 1); !ok {
		t.Error("refused turn consumed tokens")
	}
}

func TestRateLimiterAllowTurnWait(t *testing.T) {
	rl, clock := newTestLimiter(2, 4, 4)

	if _, ok := rl.AllowTurn("carol"); !ok {
		t.Fatal("first turn refused")
	}
	wait, ok := rl.AllowTurn("carol")
	if ok {
		t.Fatal("second turn allowed with an empty bucket")
	}
	if wait != 2*time.Second {
		t.Errorf("wait = %s, want 2s", wait)
	}
	clock.advance(wait)
	if _, ok := rl.AllowTurn("carol"); !ok {
		t.Error("turn refused after waiting")
	}
}

func TestRateLimiterKeysByIdentityThenIP(t *testing.T) {
	rl, _ := newTestLimiter(1, 1, 0)
	h := rl.Handler(okStatus())

	if rec := serve(h, http.MethodGet, "/", "10.0.0.9:1234", "alice"); rec.Code != http.StatusOK {
		t.Fatalf("alice first: %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/", "10.0.0.9:1234", "alice"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("alice second: expected 429, got %d", rec.Code)
	}
	// Same IP, different identity, own bucket.
	if rec := serve(h, http.MethodGet, "/", "10.0.0.9:1234", "bob"); rec.Code != http.StatusOK {
		t.Errorf("bob: expected 200, got %d", rec.Code)
	}
	// Anonymous callers are keyed by address.
	if rec := serve(h, http.MethodGet, "/", "10.0.0.9:1234", ""); rec.Code != http.StatusOK {
		t.Errorf("anonymous: expected 200, got %d", rec.Code)
	}
	if rl.Len() != 3 {
		t.Errorf("expected 3 buckets, got %d", rl.Len())
	}
}

func TestRateLimiterZeroTurnCostPassesThrough(t *testing.T) {
	rl, _ := newTestLimiter(1, 1, 0)
	h := rl.Turns(okStatus())
	for range 3 {
		if rec := serve(h, http.MethodPost, "/api/v1/chat/stream", "10.0.0.3:1", "dave"); rec.Code != http.StatusOK {
			t.Fatalf("expected turns to be free, got %d", rec.Code)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter(10, 5, 0)
	rl.take("ip:1.2.3.4", 1)
	clock.advance(time.Minute)
	rl.take("ip:5.6.7.8", 1)

	rl.cleanup(30 * time.Second)
	if rl.Len() != 1 {
		t.Errorf("expected only the idle bucket removed, got %d", rl.Len())
	}
}
