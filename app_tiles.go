package main

import (
	"stellarcanvas-desktop/internal/cache"
	"stellarcanvas-desktop/internal/ratelimit"
)

// Rate Limit Management Functions (Wails-exported)

// ManualRetryRateLimit allows user to manually trigger a retry for a rate-limited layer
func (a *App) ManualRetryRateLimit(layerID string) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.ManualRetry(layerID)
	}
}

// GetRateLimitStatus returns the current rate limit state for a layer
func (a *App) GetRateLimitStatus(layerID string) *ratelimit.RateLimitEvent {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.GetCurrentState(layerID)
	}
	return nil
}

// IsRateLimited checks if a layer's tile service is currently rate limited
func (a *App) IsRateLimited(layerID string) bool {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.IsRateLimited(layerID)
	}
	return false
}

// GetRateLimitedLayers lists the layers currently rate limited
func (a *App) GetRateLimitedLayers() []string {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.LimitedLayers()
	}
	return nil
}

// SetAutoRetryRateLimit enables or disables automatic rate limit retries
func (a *App) SetAutoRetryRateLimit(enabled bool) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(enabled)
	}
}

// Cache Management Functions (Wails-exported)

// CacheStats represents cache statistics for frontend
type CacheStats struct {
	cache.Stats
	SizeMB float64 `json:"sizeMB"`
	MaxMB  float64 `json:"maxMB"`
}

// GetCacheStats returns current cache statistics
func (a *App) GetCacheStats() CacheStats {
	if a.tileCache == nil {
		return CacheStats{}
	}

	stats := a.tileCache.Stats()
	return CacheStats{
		Stats:  stats,
		SizeMB: float64(stats.SizeBytes) / 1024 / 1024,
		MaxMB:  float64(stats.MaxBytes) / 1024 / 1024,
	}
}

// ClearCache removes all cached tiles
func (a *App) ClearCache() {
	if a.tileCache != nil {
		a.tileCache.Clear()
	}
}

// PurgeLayerCache removes the cached tiles of one layer and returns how many were dropped
func (a *App) PurgeLayerCache(layerID string) int {
	if a.tileCache != nil {
		return a.tileCache.PurgeLayer(layerID)
	}
	return 0
}
