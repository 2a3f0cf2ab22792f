// Package ratelimit bounds login attempts per client over a fixed window.
//
// Counting is delegated to github.com/ulule/limiter. Two stores back it:
// Memory keeps counters in the process and loses them on restart; Redis
// shares them between replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
)

// Policy is the attempt budget per key.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultLoginPolicy is five attempts per fifteen minutes.
var DefaultLoginPolicy = Policy{MaxAttempts: 5, Window: 15 * time.Minute}

func (p Policy) validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("ratelimit: max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

func (p Policy) rate() limiter.Rate {
	return limiter.Rate{Period: p.Window, Limit: int64(p.MaxAttempts)}
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool

	// Remaining is the number of attempts left in the current window after
	// this one.
	Remaining int

	// RetryAfter is how long until the window resets. It is only set when
	// Allowed is false.
	RetryAfter time.Duration
}

// Limiter counts attempts per key. Every Allow call consumes an attempt.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// storeLimiter adapts a ulule limiter to Limiter. Memory and Redis differ
// only in the store they hand it.
type storeLimiter struct {
	lim     *limiter.Limiter
	backend string
	nowFunc func() time.Time
}

func newStoreLimiter(store limiter.Store, p Policy, backend string) *storeLimiter {
	return &storeLimiter{
		lim:     limiter.New(store, p.rate()),
		backend: backend,
		nowFunc: time.Now,
	}
}

func (l *storeLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := l.lim.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %s get %s: %w", l.backend, key, err)
	}
	if !lctx.Reached {
		return Decision{Allowed: true, Remaining: int(lctx.Remaining)}, nil
	}
	return Decision{Allowed: false, RetryAfter: retryAfter(lctx.Reset, l.nowFunc())}, nil
}

func (l *storeLimiter) Reset(ctx context.Context, key string) error {
	if _, err := l.lim.Reset(ctx, key); err != nil {
		return fmt.Errorf("ratelimit: %s reset %s: %w", l.backend, key, err)
	}
	return nil
}

// retryAfter converts the store's reset instant (unix seconds) into a wait.
// The store truncates to whole seconds, so a window that is about to close
// still reports one second.
func retryAfter(resetUnix int64, now time.Time) time.Duration {
	d := time.Unix(resetUnix, 0).Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
