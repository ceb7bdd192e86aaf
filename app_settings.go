package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"stellarcanvas-desktop/internal/config"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/viewer"
	"stellarcanvas-desktop/internal/wmts"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// The install id identifies this machine and is never taken from the frontend
	settings.InstallID = a.settings.InstallID

	if err := config.SaveSettingsTo(a.settingsPath, settings); err != nil {
		return err
	}

	a.settings = settings
	a.proxyEnabled.Store(settings.TileProxyEnabled)

	// Note: cache limits and delays require app restart to take effect
	log.Printf("Settings saved. Cache and timing settings will apply on next restart.")
	return nil
}

// ResetSettings restores the defaults, keeping the install id and custom layers
func (a *App) ResetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defaults := config.DefaultSettings()
	defaults.InstallID = a.settings.InstallID
	defaults.CustomLayers = a.settings.CustomLayers
	a.mu.Unlock()

	if err := a.SaveSettings(defaults); err != nil {
		return nil, err
	}
	return a.GetSettings()
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return a.settingsPath
}

// SaveLastPosition remembers the primary viewport's view for the next start
func (a *App) SaveLastPosition() error {
	layerID := a.session.LayerID(viewer.PrimaryViewport)
	if layerID == "" {
		return nil
	}
	state, err := a.GetViewportState(viewer.PrimaryViewport)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.LastPosition = &config.Position{
		Viewport:  viewer.PrimaryViewport,
		LayerID:   layerID,
		Longitude: state.Center.Longitude,
		Latitude:  state.Center.Latitude,
		Zoom:      state.Zoom,
	}
	if err := config.SaveSettingsTo(a.settingsPath, a.settings); err != nil {
		return err
	}

	log.Printf("Saved map position: %s lon=%.6f, lat=%.6f, zoom=%.1f", layerID, state.Center.Longitude, state.Center.Latitude, state.Zoom)
	return nil
}

// ===================
// Custom Layers
// ===================

// AddCustomLayer registers a user-defined layer and persists it
func (a *App) AddCustomLayer(layer layers.TileLayerConfig) error {
	if err := config.ValidateCustomLayer(&layer); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Check for duplicate ids
	if _, err := a.registry.Get(layer.ID); err == nil {
		return fmt.Errorf("layer with id '%s' already exists", layer.ID)
	}

	previous := a.settings.CustomLayers
	a.settings.CustomLayers = append(append([]layers.TileLayerConfig{}, previous...), layer)
	if err := config.SaveSettingsTo(a.settingsPath, a.settings); err != nil {
		a.settings.CustomLayers = previous
		return err
	}
	if err := a.registry.Register(layer); err != nil {
		return err
	}

	log.Printf("Added custom layer: %s (%s)", layer.ID, layer.URLTemplate)
	return nil
}

// RemoveCustomLayer removes a user-defined layer. Viewports showing it keep
// their pyramid until another layer is activated.
func (a *App) RemoveCustomLayer(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	found := false
	newLayers := make([]layers.TileLayerConfig, 0)
	for _, layer := range a.settings.CustomLayers {
		if layer.ID != id {
			newLayers = append(newLayers, layer)
		} else {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("custom layer '%s' not found", id)
	}

	previous := a.settings.CustomLayers
	a.settings.CustomLayers = newLayers
	if err := config.SaveSettingsTo(a.settingsPath, a.settings); err != nil {
		a.settings.CustomLayers = previous
		return err
	}
	a.registry.Remove(id)
	if a.tileCache != nil {
		a.tileCache.PurgeLayer(id)
	}

	log.Printf("Removed custom layer: %s", id)
	return nil
}

// ===================
// WMTS Integration
// ===================

// ValidateWMTSURL validates a WMTS capabilities URL
func (a *App) ValidateWMTSURL(url string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return wmts.ValidateWMTSURL(ctx, a.httpClient, url)
}

// FetchWMTSLayers fetches available layers from a WMTS service
func (a *App) FetchWMTSLayers(url string) ([]wmts.LayerInfo, error) {
	caps, err := a.capabilities(url)
	if err != nil {
		return nil, err
	}

	infos := wmts.GetLayers(caps)
	log.Printf("Fetched %d layers from WMTS service", len(infos))
	return infos, nil
}

// FetchGIBSLayers fetches the NASA GIBS layers of a projection such as "epsg4326"
func (a *App) FetchGIBSLayers(projection string) ([]wmts.LayerInfo, error) {
	return a.FetchWMTSLayers(wmts.CapabilitiesURL(wmts.GIBSBaseURL, projection))
}

// AddWMTSLayer turns a layer of a WMTS service into a custom layer
func (a *App) AddWMTSLayer(url, layerName string) (layers.TileLayerConfig, error) {
	caps, err := a.capabilities(url)
	if err != nil {
		return layers.TileLayerConfig{}, err
	}

	var info *wmts.LayerInfo
	for _, l := range wmts.GetLayers(caps) {
		if l.Name == layerName {
			info = &l
			break
		}
	}
	if info == nil {
		return layers.TileLayerConfig{}, fmt.Errorf("layer '%s' not found in %s", layerName, url)
	}

	set, ok := wmts.FindTileMatrixSet(caps, info.TileMatrixSet)
	if !ok {
		return layers.TileLayerConfig{}, fmt.Errorf("tile matrix set '%s' not found in %s", info.TileMatrixSet, url)
	}

	cfg, err := wmts.ToLayerConfig(*info, set)
	if err != nil {
		return layers.TileLayerConfig{}, err
	}
	if err := a.AddCustomLayer(cfg); err != nil {
		return layers.TileLayerConfig{}, err
	}
	return cfg, nil
}

// capabilities returns the parsed capabilities of a URL, fetching it once per run
func (a *App) capabilities(url string) (*wmts.Capabilities, error) {
	a.mu.Lock()
	caps, ok := a.wmtsCaps[url]
	a.mu.Unlock()
	if ok {
		return caps, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	caps, err := wmts.FetchCapabilities(ctx, a.httpClient, url)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.wmtsCaps[url] = caps
	a.mu.Unlock()
	return caps, nil
}
