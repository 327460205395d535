package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokalert/apkdist/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompletionSource struct {
	last *time.Time
	err  error
}

func (f *fakeCompletionSource) LastCompletedAt(context.Context, string) (*time.Time, error) {
	return f.last, f.err
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("first download is always eligible", func(t *testing.T) {
		t.Parallel()

		limiter := session.NewRateLimiter(&fakeCompletionSource{}, 5*time.Minute, session.WithClock(clock))

		assert.True(t, limiter.CanStart(context.Background(), "owner"))
		assert.Zero(t, limiter.Remaining(context.Background(), "owner"))
	})

	t.Run("blocks inside the window", func(t *testing.T) {
		t.Parallel()

		last := now.Add(-3 * time.Minute)
		limiter := session.NewRateLimiter(&fakeCompletionSource{last: &last}, 5*time.Minute, session.WithClock(clock))

		assert.False(t, limiter.CanStart(context.Background(), "owner"))
		assert.Equal(t, 2*time.Minute, limiter.Remaining(context.Background(), "owner"))
	})

	t.Run("window boundary is eligible", func(t *testing.T) {
		t.Parallel()

		last := now.Add(-5 * time.Minute)
		limiter := session.NewRateLimiter(&fakeCompletionSource{last: &last}, 5*time.Minute, session.WithClock(clock))

		assert.True(t, limiter.CanStart(context.Background(), "owner"))
		assert.Zero(t, limiter.Remaining(context.Background(), "owner"))
	})

	t.Run("fails open on lookup errors", func(t *testing.T) {
		t.Parallel()

		lookupErr := errors.New("db locked")

		var seen []error

		limiter := session.NewRateLimiter(
			&fakeCompletionSource{err: lookupErr},
			5*time.Minute,
			session.WithClock(clock),
			session.WithFailOpenHook(func(err error) { seen = append(seen, err) }),
		)

		assert.True(t, limiter.CanStart(context.Background(), "owner"))
		assert.Zero(t, limiter.Remaining(context.Background(), "owner"))

		require.Len(t, seen, 2)
		assert.ErrorIs(t, seen[0], lookupErr)
	})
}

func TestNewToken(t *testing.T) {
	t.Parallel()

	first, err := session.NewToken()
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := session.NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
