package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxTrackedCallers = 100_000

// RateLimiter keeps one token bucket per caller, keyed by identity or by
// client IP before authentication. A chat turn starts an agent run and
// backend queries, so turns are charged turnCost extra tokens on top of
// the request that carries them.
type RateLimiter struct {
	rate     float64 // tokens refilled per second
	burst    float64
	turnCost float64
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter refilling rate tokens per second up to
// burst, charging turnCost tokens per chat turn.
func NewRateLimiter(rate float64, burst int, turnCost float64) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		burst:    float64(burst),
		turnCost: turnCost,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Handler charges one token per request. It must run after Auth to see
// the identity.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return rl.limit(1, next)
}

// Turns charges the turn cost for requests that start a chat turn.
func (rl *RateLimiter) Turns(next http.Handler) http.Handler {
	return rl.limit(rl.turnCost, next)
}

// AllowTurn charges one turn to userID for transports that carry several
// turns over one request. When the turn is refused it returns the wait
// until enough tokens are back.
func (rl *RateLimiter) AllowTurn(userID string) (time.Duration, bool) {
	_, wait, ok := rl.take("user:"+userID, rl.turnCost)
	return wait, ok
}

func (rl *RateLimiter) limit(cost float64, next http.Handler) http.Handler {
	if cost <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(callerKey(r), cost)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(wait)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take refills the caller's bucket and withdraws cost tokens if they are
// all there. A refused request withdraws nothing.
func (rl *RateLimiter) take(key string, cost float64) (remaining float64, wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	switch {
	case exists:
		b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	case len(rl.buckets) >= maxTrackedCallers:
		return 0, time.Second, false
	default:
		b = &bucket{tokens: rl.burst}
		rl.buckets[key] = b
	}
	b.seen = now

	if b.tokens < cost {
		missing := cost - b.tokens
		return b.tokens, time.Duration(missing / rl.rate * float64(time.Second)), false
	}
	b.tokens -= cost
	return b.tokens, 0, true
}

func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// StartCleanup drops buckets idle for longer than maxIdle every interval.
// The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked callers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func callerKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + remoteIP(r)
}

// remoteIP reads RemoteAddr only. Behind a proxy, chi's RealIP middleware
// has already replaced it with the forwarded client address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
