// Package resilience guards calls to services a chat turn can live without.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling a service whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker state as reported in health output.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Option configures a Breaker.
type Option func(*Breaker)

// CountIf decides which errors count towards opening the breaker. Errors it
// rejects are returned to the caller but leave the breaker alone, e.g. a
// request the service refused as malformed.
func CountIf(fn func(error) bool) Option {
	return func(b *Breaker) { b.counts = fn }
}

// Breaker opens after maxFailures consecutive counted failures and rejects
// calls for cooldown. After that a single trial call is let through: its
// success closes the breaker, its failure opens it again. Cancellation and
// deadline errors never count.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	counts      func(error) bool
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewBreaker creates a closed breaker. name labels its log records.
func NewBreaker(name string, maxFailures int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		counts:      func(error) bool { return true },
		now:         time.Now,
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn unless the breaker rejects the call. A context that is already
// done is reported without calling fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.record(trial, err)
	return err
}

func (b *Breaker) admit() (trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, false
		}
		b.state = StateHalfOpen
		b.trial = true
		return true, true
	case StateHalfOpen:
		if b.trial {
			return false, false
		}
		b.trial = true
		return true, true
	default:
		return false, true
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}

	switch {
	case err == nil:
		if b.state != StateClosed {
			slog.Info("circuit breaker closed", "breaker", b.name)
		}
		b.state = StateClosed
		b.failures = 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), !b.counts(err):
		// A half-open trial that ended without a verdict lets the next call try.
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			if b.state != StateOpen {
				slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures, "error", err)
			}
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}

// State reports the current state. An open breaker whose cooldown has
// passed reports half-open, since the next call will be let through.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
