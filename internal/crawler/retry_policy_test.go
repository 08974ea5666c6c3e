package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryClassification(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3)

	timeoutErr := &FetchError{Kind: FetchTimeout, URL: "https://example.com", Err: errors.New("timeout")}
	connErr := &FetchError{Kind: FetchConnectionError, URL: "https://example.com", Err: errors.New("refused")}
	serverErr := &FetchError{Kind: FetchHTTPStatus, URL: "https://example.com", StatusCode: 503}
	notFoundErr := &FetchError{Kind: FetchHTTPStatus, URL: "https://example.com", StatusCode: 404}

	require.True(t, policy.ShouldRetry(timeoutErr, 1))
	require.True(t, policy.ShouldRetry(connErr, 2))
	require.True(t, policy.ShouldRetry(serverErr, 1))
	require.False(t, policy.ShouldRetry(notFoundErr, 1))
	require.False(t, policy.ShouldRetry(nil, 1))
	require.False(t, policy.ShouldRetry(errors.New("plain error"), 1))
}

func TestShouldRetryRespectsAttemptCap(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3)
	err := &FetchError{Kind: FetchTimeout, URL: "https://example.com"}

	require.True(t, policy.ShouldRetry(err, 2))
	require.False(t, policy.ShouldRetry(err, 3))
	require.False(t, policy.ShouldRetry(err, 4))
}

func TestShouldRetryNeverAfterCancellation(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3)
	require.False(t, policy.ShouldRetry(context.Canceled, 1))
	require.False(t, policy.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestShouldRetryClientTimeout(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3)

	// http.Client deadlines unwrap to context.DeadlineExceeded. The
	// fetch classification decides, not the context sentinel: this is
	// an ordinary slow server, not a canceled job.
	cause := fmt.Errorf(
		"Get %q: context deadline exceeded (Client.Timeout exceeded while awaiting headers): %w",
		"https://example.com/story", context.DeadlineExceeded,
	)
	err := &FetchError{Kind: FetchTimeout, URL: "https://example.com/story", Err: cause}

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, policy.ShouldRetry(err, 1))
	require.True(t, policy.ShouldRetry(err, 2))
	require.False(t, policy.ShouldRetry(err, 3), "attempt cap still applies")
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(10)

	for attempt := 1; attempt <= 10; attempt++ {
		delay := policy.Backoff(attempt)
		require.Positive(t, delay)
		require.LessOrEqual(t, delay, 30*time.Second)
	}

	// The deterministic half of the delay doubles per attempt, so a
	// later attempt's floor exceeds an earlier attempt's ceiling.
	require.Greater(t, policy.Backoff(6), policy.Backoff(1))
}

func TestRetryableStatusCodes(t *testing.T) {
	t.Parallel()

	for _, code := range []int{500, 502, 503, 504, 408, 429} {
		err := &FetchError{Kind: FetchHTTPStatus, StatusCode: code}
		require.True(t, err.Retryable(), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 410} {
		err := &FetchError{Kind: FetchHTTPStatus, StatusCode: code}
		require.False(t, err.Retryable(), "status %d", code)
	}
}
