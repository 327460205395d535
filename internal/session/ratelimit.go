package session

import (
	"context"
	"time"

	"github.com/lokalert/apkdist/internal/logctx"
)

// CompletionSource exposes the owner's last successful completion.
type CompletionSource interface {
	LastCompletedAt(ctx context.Context, ownerID string) (*time.Time, error)
}

// RateLimiter derives cooldown state from the owner's last successful
// completion. It is read-only and fails open: a lookup error treats the
// owner as eligible rather than blocking a legitimate user on
// infrastructure trouble. That degradation is intentional and observable
// through the fail-open hook.
type RateLimiter struct {
	src        CompletionSource
	window     time.Duration
	now        func() time.Time
	onFailOpen func(error)
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// WithFailOpenHook registers a callback invoked whenever a lookup error is
// swallowed in favour of eligibility.
func WithFailOpenHook(fn func(error)) RateLimiterOption {
	return func(l *RateLimiter) {
		l.onFailOpen = fn
	}
}

// NewRateLimiter builds a limiter over the given completion source and
// cooldown window.
func NewRateLimiter(src CompletionSource, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		src:    src,
		window: window,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// CanStart reports whether the owner may open a new session.
func (l *RateLimiter) CanStart(ctx context.Context, ownerID string) bool {
	last, err := l.src.LastCompletedAt(ctx, ownerID)
	if err != nil {
		l.failOpen(ctx, err)

		return true
	}

	if last == nil {
		return true
	}

	return l.now().Sub(*last) >= l.window
}

// Remaining returns the time until the owner becomes eligible again.
// Zero for owners who never completed a download, and on lookup errors.
func (l *RateLimiter) Remaining(ctx context.Context, ownerID string) time.Duration {
	last, err := l.src.LastCompletedAt(ctx, ownerID)
	if err != nil {
		l.failOpen(ctx, err)

		return 0
	}

	if last == nil {
		return 0
	}

	remaining := l.window - l.now().Sub(*last)
	if remaining < 0 {
		return 0
	}

	return remaining
}

func (l *RateLimiter) failOpen(ctx context.Context, err error) {
	logctx.LoggerFromContext(ctx).Warn("cooldown lookup failed, treating owner as eligible", "err", err)

	if l.onFailOpen != nil {
		l.onFailOpen(err)
	}
}
