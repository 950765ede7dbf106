package security

import (
	"context"
	"testing"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(NewMemoryCounter(), 5, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		retryAfter, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err, "attempt %d", i+1)
		assert.Zero(t, retryAfter)
	}

	retryAfter, err := limiter.Allow(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(NewMemoryCounter(), 1, time.Hour)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = limiter.Allow(ctx, "10.0.0.7")
	assert.NoError(t, err)
}

func TestMemoryCounterSlidesWindow(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, _, err := counter.Record(ctx, "k", base.Add(time.Duration(i)*time.Minute), time.Hour)
		require.NoError(t, err)
	}

	// An attempt one hour later only sees itself and attempts still in
	// the window.
	count, oldest, err := counter.Record(ctx, "k", base.Add(61*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, base.Add(time.Minute), oldest)
}

func TestRateLimiterFailsOpenOnCounterError(t *testing.T) {
	limiter := NewRateLimiter(failingCounter{}, 1, time.Hour)

	retryAfter, err := limiter.Allow(context.Background(), "user-1")
	assert.NoError(t, err)
	assert.Zero(t, retryAfter)
}

type failingCounter struct{}

func (failingCounter) Record(context.Context, string, time.Time, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, assert.AnError
}
