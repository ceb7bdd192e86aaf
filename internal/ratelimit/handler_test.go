package ratelimit

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) (*Handler, *time.Time) {
	t.Helper()
	h := NewHandler(&RetryStrategy{
		Intervals:  []time.Duration{time.Minute, 5 * time.Minute},
		MaxRetries: 3,
	})
	h.SetAutoRetry(false)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	t.Cleanup(h.Close)
	return h, &now
}

func TestIsRateLimitStatus(t *testing.T) {
	for _, code := range []int{429, 403, 509} {
		assert.True(t, IsRateLimitStatus(code), code)
	}
	for _, code := range []int{200, 204, 404, 500} {
		assert.False(t, IsRateLimitStatus(code), code)
	}
}

func TestBackoffSchedule(t *testing.T) {
	h, now := newHandler(t)

	assert.True(t, h.CheckStatus("moon", http.StatusTooManyRequests))
	assert.True(t, h.IsRateLimited("moon"))
	assert.False(t, h.IsRateLimited("mars"), "limits are tracked per layer")

	state := h.GetCurrentState("moon")
	require.NotNil(t, state)
	assert.Equal(t, 0, state.RetryAttempt)
	assert.Equal(t, now.Add(time.Minute), state.NextRetryAt)
	assert.Contains(t, state.Message, "HTTP 429")

	// After the interval one probe request is let through
	*now = now.Add(61 * time.Second)
	assert.False(t, h.IsRateLimited("moon"))

	assert.True(t, h.CheckStatus("moon", http.StatusForbidden))
	state = h.GetCurrentState("moon")
	assert.Equal(t, 1, state.RetryAttempt)
	assert.Equal(t, now.Add(5*time.Minute), state.NextRetryAt)

	// Intervals past the schedule reuse the last one
	assert.True(t, h.CheckStatus("moon", 509))
	assert.Equal(t, now.Add(5*time.Minute), h.GetCurrentState("moon").NextRetryAt)
}

func TestRecovery(t *testing.T) {
	h, _ := newHandler(t)

	var recovered atomic.Value
	h.SetOnRecovered(func(layerID string) { recovered.Store(layerID) })

	h.CheckStatus("moon", 429)
	assert.False(t, h.CheckStatus("moon", http.StatusNotFound))
	assert.NotNil(t, h.GetCurrentState("moon"), "client errors do not prove recovery")

	assert.False(t, h.CheckResponse("moon", &http.Response{StatusCode: http.StatusOK}))
	assert.Nil(t, h.GetCurrentState("moon"))
	assert.Eventually(t, func() bool { return recovered.Load() == "moon" }, time.Second, 5*time.Millisecond)
}

func TestManualRetry(t *testing.T) {
	h, _ := newHandler(t)

	var retried int32
	h.SetOnRetry(func(RateLimitEvent) { atomic.AddInt32(&retried, 1) })

	h.ManualRetry("moon")
	h.CheckStatus("moon", 429)
	assert.ElementsMatch(t, []string{"moon"}, h.LimitedLayers())

	h.ManualRetry("moon")
	assert.False(t, h.IsRateLimited("moon"))
	assert.Empty(t, h.LimitedLayers())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&retried) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRateLimitCallback(t *testing.T) {
	h, _ := newHandler(t)

	events := make(chan RateLimitEvent, 1)
	h.SetOnRateLimit(func(e RateLimitEvent) { events <- e })
	h.CheckStatus("earth", 429)

	select {
	case e := <-events:
		assert.Equal(t, "earth", e.LayerID)
		assert.Equal(t, 429, e.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("no rate limit event")
	}
}
