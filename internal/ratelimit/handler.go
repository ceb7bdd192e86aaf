// Package ratelimit tracks upstream tile services that refuse requests and
// pauses fetching from them on a backoff schedule.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// RetryStrategy defines the backoff intervals for rate limit retries
type RetryStrategy struct {
	Intervals  []time.Duration // e.g., [30s, 1min, 2min, 5min, 10min]
	MaxRetries int
}

// DefaultRetryStrategy returns the default backoff strategy. Tile services
// recover quickly, so the schedule is short compared to bulk downloads.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
		},
		MaxRetries: 10, // Maximum number of retry notifications before giving up
	}
}

// RateLimitEvent represents a rate limit occurrence
type RateLimitEvent struct {
	Timestamp    time.Time `json:"timestamp" ts_type:"string"`
	LayerID      string    `json:"layerId"`
	StatusCode   int       `json:"statusCode"`   // HTTP status code (403, 429, etc.)
	RetryAttempt int       `json:"retryAttempt"` // Current retry attempt (0 = first occurrence)
	NextRetryAt  time.Time `json:"nextRetryAt" ts_type:"string"`
	Message      string    `json:"message"` // User-friendly message
}

// Handler manages rate limit detection per layer
type Handler struct {
	mu               sync.RWMutex
	rateLimited      map[string]*RateLimitEvent // layer id -> current rate limit state
	strategy         *RetryStrategy
	onRateLimit      func(event RateLimitEvent) // Callback for UI notification
	onRetry          func(event RateLimitEvent) // Callback for retry notification
	onRecovered      func(layerID string)       // Callback when rate limit clears
	autoRetryEnabled bool
	now              func() time.Time
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil || len(strategy.Intervals) == 0 {
		strategy = DefaultRetryStrategy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		rateLimited:      make(map[string]*RateLimitEvent),
		strategy:         strategy,
		autoRetryEnabled: true,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRetry sets the callback for retry attempts
func (h *Handler) SetOnRetry(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from rate limit
func (h *Handler) SetOnRecovered(callback func(layerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether requests for a layer should be held back.
// Once the backoff interval has passed one request is let through as a probe.
func (h *Handler) IsRateLimited(layerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, limited := h.rateLimited[layerID]
	return limited && h.now().Before(event.NextRetryAt)
}

// IsRateLimitStatus reports whether an upstream status code signals throttling
func IsRateLimitStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || // 429
		statusCode == http.StatusForbidden || // 403, some tile CDNs throttle this way
		statusCode == 509 // Bandwidth Limit Exceeded
}

// CheckResponse analyzes an HTTP response for rate limit indicators
func (h *Handler) CheckResponse(layerID string, resp *http.Response) bool {
	return h.CheckStatus(layerID, resp.StatusCode)
}

// CheckStatus records the outcome of an upstream request and reports whether it was throttled
func (h *Handler) CheckStatus(layerID string, statusCode int) bool {
	if !IsRateLimitStatus(statusCode) {
		// Check if we were previously rate limited and have now recovered
		if statusCode < 400 {
			h.checkRecovery(layerID)
		}
		return false
	}

	// We're rate limited - record the event
	h.recordRateLimit(layerID, statusCode)
	return true
}

// recordRateLimit records a rate limit event and schedules the retry notification
func (h *Handler) recordRateLimit(layerID string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Check if we already have a rate limit for this layer
	existing, exists := h.rateLimited[layerID]

	retryAttempt := 0
	if exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	// Use last interval for all subsequent retries
	interval := h.strategy.Intervals[len(h.strategy.Intervals)-1]
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	}

	now := h.now()
	nextRetryAt := now.Add(interval)

	event := RateLimitEvent{
		Timestamp:    now,
		LayerID:      layerID,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(layerID, statusCode, retryAttempt, interval),
	}

	h.rateLimited[layerID] = &event

	log.Printf("[RateLimit] %s rate limited (attempt %d). Next retry at %s",
		layerID, retryAttempt, nextRetryAt.Format(time.RFC3339))

	// Notify UI
	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}

	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		go h.scheduleRetry(layerID, event, interval)
	}
}

// scheduleRetry notifies the UI once the backoff interval has passed. The
// retry itself is the next tile request, which IsRateLimited then lets through.
func (h *Handler) scheduleRetry(layerID string, event RateLimitEvent, wait time.Duration) {
	select {
	case <-time.After(wait):
		h.mu.RLock()
		current, exists := h.rateLimited[layerID]
		stale := !exists || !current.Timestamp.Equal(event.Timestamp)
		onRetry := h.onRetry
		h.mu.RUnlock()
		if stale {
			// Rate limit was already cleared or replaced
			return
		}

		log.Printf("[RateLimit] Retrying %s after %s wait", layerID, wait)
		if onRetry != nil {
			onRetry(event)
		}

	case <-h.ctx.Done():
		// Handler was shut down
		return
	}
}

// checkRecovery checks if we've recovered from a rate limit
func (h *Handler) checkRecovery(layerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rateLimited[layerID]; exists {
		delete(h.rateLimited, layerID)
		log.Printf("[RateLimit] %s rate limit cleared", layerID)

		if h.onRecovered != nil {
			go h.onRecovered(layerID)
		}
	}
}

// ManualRetry clears the rate limit of a layer so the next request goes upstream
func (h *Handler) ManualRetry(layerID string) {
	h.mu.Lock()
	event, exists := h.rateLimited[layerID]
	if !exists {
		h.mu.Unlock()
		return
	}

	log.Printf("[RateLimit] Manual retry requested for %s", layerID)

	// Clear the rate limit to allow retry
	delete(h.rateLimited, layerID)
	onRetry := h.onRetry
	h.mu.Unlock()

	// Notify about retry
	if onRetry != nil {
		go onRetry(*event)
	}
}

// SetAutoRetry enables or disables retry notifications
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// GetCurrentState returns the current rate limit state for a layer
func (h *Handler) GetCurrentState(layerID string) *RateLimitEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.rateLimited[layerID]; exists {
		// Return a copy
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

// LimitedLayers returns the ids of every layer with a recorded rate limit
func (h *Handler) LimitedLayers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rateLimited))
	for id := range h.rateLimited {
		ids = append(ids, id)
	}
	return ids
}

// buildMessage creates a user-friendly message
func buildMessage(layerID string, statusCode int, retryAttempt int, wait time.Duration) string {
	if retryAttempt == 0 {
		return fmt.Sprintf(
			"Tile service for %s is throttling requests (HTTP %d). "+
				"Tiles are paused and will be retried in %s.",
			layerID, statusCode, wait.Round(time.Second))
	}
	return fmt.Sprintf(
		"Tile service for %s is still throttling requests (retry attempt %d). "+
			"Next retry in %s.",
		layerID, retryAttempt+1, wait.Round(time.Second))
}

// Close shuts down the rate limit handler
func (h *Handler) Close() {
	h.cancel()
}
