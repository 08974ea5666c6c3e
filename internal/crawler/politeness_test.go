package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDomainLimiterCapsConcurrency(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(2, 0)
	ctx := context.Background()

	release1, err := limiter.Acquire(ctx, "https://example.com/a")
	require.NoError(t, err)
	release2, err := limiter.Acquire(ctx, "https://example.com/b")
	require.NoError(t, err)

	// Third acquire on the same domain must block until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(blocked, "https://example.com/c")
	require.Error(t, err)

	// A different domain is unaffected.
	releaseOther, err := limiter.Acquire(ctx, "https://other.com/a")
	require.NoError(t, err)
	releaseOther()

	release1()
	release3, err := limiter.Acquire(ctx, "https://example.com/c")
	require.NoError(t, err)
	release3()
	release2()
}

func TestDomainLimiterReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(1, 0)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, "https://example.com/a")
	require.NoError(t, err)
	release()
	release()

	// Double release must not have freed two slots.
	release2, err := limiter.Acquire(ctx, "https://example.com/b")
	require.NoError(t, err)
	defer release2()

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(blocked, "https://example.com/c")
	require.Error(t, err)
}

func TestDomainLimiterEnforcesMinInterval(t *testing.T) {
	t.Parallel()

	limiter := NewDomainLimiter(4, 80*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := limiter.Acquire(ctx, "https://example.com/a")
		require.NoError(t, err)
		release()
	}
	// First request is free; the next two wait one interval each.
	require.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
}

func TestVisitTrackerMarkIfNew(t *testing.T) {
	t.Parallel()

	tracker := NewVisitTracker()
	require.True(t, tracker.MarkIfNew("https://example.com/a"))
	require.False(t, tracker.MarkIfNew("https://example.com/a"))
	require.True(t, tracker.MarkIfNew("https://example.com/b"))
	require.False(t, tracker.MarkIfNew(""))
}
