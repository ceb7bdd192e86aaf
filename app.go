package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"stellarcanvas-desktop/internal/cache"
	"stellarcanvas-desktop/internal/compare"
	"stellarcanvas-desktop/internal/config"
	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/handlers/tileserver"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/ratelimit"
	"stellarcanvas-desktop/internal/viewer"
	"stellarcanvas-desktop/internal/viewport"
	"stellarcanvas-desktop/internal/wmts"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// Events emitted besides the session events
const (
	EventRateLimit          = "rate-limit"
	EventRateLimitRetry     = "rate-limit-retry"
	EventRateLimitRecovered = "rate-limit-recovered"
)

// App struct
type App struct {
	ctx              context.Context
	mu               sync.Mutex
	settings         *config.UserSettings
	settingsPath     string
	registry         *layers.Registry
	session          *viewer.Session
	tileCache        *cache.TileCache
	rateLimitHandler *ratelimit.Handler
	tileServer       *tileserver.Server
	httpClient       *http.Client
	wmtsCaps         map[string]*wmts.Capabilities // capabilities URL -> parsed document
	proxyEnabled     atomic.Bool
	phClient         posthog.Client
	devMode          bool // Enable verbose logging in dev mode only
}

// NewApp creates a new App application struct
func NewApp() *App {
	// Load user settings
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	a := newApp(settings, config.GetSettingsPath())

	// Initialize PostHog
	if PostHogKey != "" {
		phConfig := posthog.Config{
			Endpoint: PostHogHost,
		}
		client, err := posthog.NewWithConfig(PostHogKey, phConfig)
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			a.phClient = client
		}
	}
	return a
}

// newApp wires the registry, session, cache and tile proxy for the given settings
func newApp(settings *config.UserSettings, settingsPath string) *App {
	a := &App{
		settings:     settings,
		settingsPath: settingsPath,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		wmtsCaps:     make(map[string]*wmts.Capabilities),
	}
	a.proxyEnabled.Store(settings.TileProxyEnabled)
	a.registry = loadRegistry(settings)

	tileCache, err := cache.NewTileCache(cache.Config{
		MaxEntries: settings.CacheMaxEntries,
		MaxSizeMB:  settings.CacheMaxSizeMB,
		TTLMinutes: settings.CacheTTLMinutes,
	})
	if err != nil {
		log.Printf("Failed to initialize tile cache: %v", err)
		tileCache = nil // Continue without cache
	}
	a.tileCache = tileCache
	a.rateLimitHandler = ratelimit.NewHandler(nil)

	a.session = viewer.NewSession(a.registry,
		newBridgeSurface(viewer.PrimaryViewport, a.emit, a.proxyTileURL),
		newBridgeSurface(viewer.SecondaryViewport, a.emit, a.proxyTileURL),
		viewer.EmitterFunc(a.emit),
		&viewer.Options{
			SettleDelay:     time.Duration(settings.PanSettleDelayMs) * time.Millisecond,
			ReleaseDelay:    time.Duration(settings.SyncReleaseDelayMs) * time.Millisecond,
			Date:            settings.DefaultDate,
			ComparisonLayer: settings.ComparisonLayer,
			Mode:            compare.Mode(settings.ComparisonMode),
			Opacity:         settings.OverlayOpacity,
		})

	a.tileServer = tileserver.NewServer(a.session, a.registry, tileserver.Options{
		TileCache: tileCache,
		Limiter:   a.rateLimitHandler,
		UserAgent: "StellarCanvas-Desktop/" + AppVersion,
	})
	return a
}

// loadRegistry registers the built-in layers, then the manifest, then the user's custom layers
func loadRegistry(settings *config.UserSettings) *layers.Registry {
	registry, err := layers.NewRegistry(layers.DefaultLayers()...)
	if err != nil {
		log.Printf("[Registry] Built-in layers rejected: %v", err)
		registry, _ = layers.NewRegistry()
	}

	manifest := settings.LayerManifestPath
	if manifest == "" {
		manifest = filepath.Join(config.GetSettingsDir(), "layers.json")
	}
	if _, err := os.Stat(manifest); err == nil {
		if err := registry.LoadManifest(manifest); err != nil {
			log.Printf("[Registry] %v", err)
		}
	} else if settings.LayerManifestPath != "" {
		log.Printf("[Registry] Layer manifest %s not found", manifest)
	}

	for _, cfg := range settings.CustomLayers {
		if err := registry.Register(cfg); err != nil {
			log.Printf("[Registry] Skipping custom layer: %v", err)
		}
	}
	return registry
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	// Start local tile server
	if err := a.tileServer.Start(); err != nil {
		wailsRuntime.LogError(ctx, err.Error())
	} else {
		wailsRuntime.LogInfo(ctx, fmt.Sprintf("Tile server started on %s", a.tileServer.GetTileServerURL()))
	}

	a.rateLimitHandler.SetOnRateLimit(func(event ratelimit.RateLimitEvent) {
		a.emit(EventRateLimit, event)
	})
	a.rateLimitHandler.SetOnRetry(func(event ratelimit.RateLimitEvent) {
		a.emit(EventRateLimitRetry, event)
	})
	a.rateLimitHandler.SetOnRecovered(func(layerID string) {
		a.emit(EventRateLimitRecovered, layerID)
	})

	a.restoreView()

	// Track app start
	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
		"layers":  a.registry.Len(),
	})
}

// restoreView opens the default layer on the primary viewport at the last position
func (a *App) restoreView() {
	a.mu.Lock()
	s := *a.settings
	a.mu.Unlock()

	layerID := s.DefaultLayer
	state := viewport.ViewportState{
		Center: geo.GeoPoint{Longitude: s.DefaultCenterLon, Latitude: s.DefaultCenterLat},
		Zoom:   s.DefaultZoom,
	}
	if p := s.LastPosition; p != nil {
		if p.LayerID != "" {
			layerID = p.LayerID
		}
		state = viewport.ViewportState{
			Center: geo.GeoPoint{Longitude: p.Longitude, Latitude: p.Latitude},
			Zoom:   p.Zoom,
		}
	}

	if err := a.session.ActivateLayer(viewer.PrimaryViewport, layerID); err != nil {
		log.Printf("Failed to open layer %s: %v", layerID, err)
		return
	}
	if err := a.session.RestoreView(viewer.PrimaryViewport, state); err != nil {
		log.Printf("Failed to restore view: %v", err)
		return
	}

	if s.ShowCrosshair {
		a.session.PlaceCrosshair(viewer.PrimaryViewport)
	}
}

// shutdown remembers the last position and releases the session, proxy and analytics client
func (a *App) shutdown(ctx context.Context) {
	if err := a.SaveLastPosition(); err != nil {
		log.Printf("Failed to save last position: %v", err)
	}

	a.session.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.tileServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("%v", err)
	}
	a.rateLimitHandler.Close()

	if a.phClient != nil {
		a.phClient.Close()
	}
}

// emit forwards an event to the frontend once the runtime is up
func (a *App) emit(event string, data ...interface{}) {
	if a.ctx == nil {
		if a.devMode {
			log.Printf("[Events] Dropped %s before startup", event)
		}
		return
	}
	wailsRuntime.EventsEmit(a.ctx, event, data...)
}

// proxyTileURL is the tile URL template of a generation when tiles go through the local proxy
func (a *App) proxyTileURL(viewportID string, generation uint64) string {
	if !a.proxyEnabled.Load() || a.tileServer.GetTileServerURL() == "" {
		return ""
	}
	return a.tileServer.TileURLTemplate(viewportID, generation)
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.mu.Lock()
		installID := a.settings.InstallID
		a.mu.Unlock()

		a.phClient.Enqueue(posthog.Capture{
			DistinctId: installID,
			Event:      event,
			Properties: props,
		})
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// GetTileServerURL returns the local tile proxy URL, empty until startup
func (a *App) GetTileServerURL() string {
	return a.tileServer.GetTileServerURL()
}

// ===================
// Layers
// ===================

// ListLayers returns every registered layer
func (a *App) ListLayers() []layers.TileLayerConfig {
	return a.registry.List()
}

// ListLayersForBody returns the layers of one planetary body
func (a *App) ListLayersForBody(body string) []layers.TileLayerConfig {
	return a.registry.ByBody(body)
}

// GetLayer returns one layer config
func (a *App) GetLayer(id string) (layers.TileLayerConfig, error) {
	return a.registry.Get(id)
}

// ActivateLayer shows a layer on a viewport ("primary" or "secondary")
func (a *App) ActivateLayer(viewportID, layerID string) error {
	if err := a.session.ActivateLayer(viewportID, layerID); err != nil {
		return err
	}
	a.TrackEvent("layer_activated", map[string]interface{}{
		"viewport": viewportID,
		"layer":    layerID,
	})
	return nil
}

// SetDate changes the date shown by temporal layers on a viewport
func (a *App) SetDate(viewportID, date string) error {
	return a.session.SetDate(viewportID, date)
}

// ===================
// Navigation
// ===================

// NavigateToFeature flies the primary viewport to a named feature
func (a *App) NavigateToFeature(name string, longitude, latitude, zoom float64) bool {
	ok := a.session.NavigateToFeature(name, longitude, latitude, zoom)
	if ok {
		a.TrackEvent("feature_navigated", map[string]interface{}{
			"feature": name,
			"layer":   a.session.LayerID(viewer.PrimaryViewport),
		})
	}
	return ok
}

// PlaceCrosshair marks the center of a viewport
func (a *App) PlaceCrosshair(viewportID string) bool {
	return a.session.PlaceCrosshair(viewportID)
}

// ReportViewChanged is called by the frontend after the user panned or zoomed a viewport
func (a *App) ReportViewChanged(viewportID string, longitude, latitude, zoom float64) error {
	return a.session.HandleViewChanged(viewportID, viewport.ViewportState{
		Center: geo.GeoPoint{Longitude: longitude, Latitude: latitude},
		Zoom:   zoom,
	})
}

// ReportSurfaceView is ReportViewChanged for a center given in pixels of the virtual image
func (a *App) ReportSurfaceView(viewportID string, x, y, zoom float64) error {
	return a.session.HandleSurfaceView(viewportID, geo.Pixel{X: x, Y: y}, zoom)
}

// GetViewportState returns the view of a viewport
func (a *App) GetViewportState(viewportID string) (viewport.ViewportState, error) {
	c, err := a.session.Controller(viewportID)
	if err != nil {
		return viewport.ViewportState{}, err
	}
	return c.State(), nil
}

// ResolveTile returns the upstream URL of a tile, or "" when the tile does not
// exist or belongs to a discarded generation
func (a *App) ResolveTile(viewportID string, generation uint64, level, col, row int) string {
	url, _, _ := a.session.ResolveTile(viewportID, generation, level, col, row)
	return url
}

// ===================
// Comparison
// ===================

// EnableComparison links the secondary viewport to the primary in "split" or "overlay" mode
func (a *App) EnableComparison(mode string, opacity float64) error {
	if err := a.session.EnableComparison(compare.Mode(mode), opacity); err != nil {
		return err
	}
	a.TrackEvent("comparison_enabled", map[string]interface{}{
		"mode":      mode,
		"primary":   a.session.LayerID(viewer.PrimaryViewport),
		"secondary": a.session.LayerID(viewer.SecondaryViewport),
	})
	return nil
}

// DisableComparison unlinks the viewports
func (a *App) DisableComparison() {
	a.session.DisableComparison()
	a.TrackEvent("comparison_disabled", nil)
}

// GetComparison returns the comparison state
func (a *App) GetComparison() viewer.Comparison {
	return a.session.Comparison()
}

// SetOverlayOpacity sets the opacity of the secondary viewport in overlay mode
func (a *App) SetOverlayOpacity(opacity float64) error {
	return a.session.SetOverlayOpacity(opacity)
}
