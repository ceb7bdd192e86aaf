package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"stellarcanvas-desktop/internal/layers"
)

// Position is a remembered map view
type Position struct {
	Viewport  string  `json:"viewport"`
	LayerID   string  `json:"layerId"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Layer settings
	LayerManifestPath string                   `json:"layerManifestPath,omitempty"`
	CustomLayers      []layers.TileLayerConfig `json:"customLayers"`
	DefaultLayer      string                   `json:"defaultLayer"`
	ComparisonLayer   string                   `json:"comparisonLayer"`
	DefaultDate       string                   `json:"defaultDate,omitempty"`

	// Default map settings
	DefaultZoom      float64 `json:"defaultZoom"`
	DefaultCenterLat float64 `json:"defaultCenterLat"`
	DefaultCenterLon float64 `json:"defaultCenterLon"`

	// Navigation and comparison
	PanSettleDelayMs   int     `json:"panSettleDelayMs"`
	SyncReleaseDelayMs int     `json:"syncReleaseDelayMs"`
	ComparisonMode     string  `json:"comparisonMode"` // "split" or "overlay"
	OverlayOpacity     float64 `json:"overlayOpacity"`

	// Tile proxy settings
	TileProxyEnabled bool `json:"tileProxyEnabled"`
	CacheMaxEntries  int  `json:"cacheMaxEntries"`
	CacheMaxSizeMB   int  `json:"cacheMaxSizeMB"`
	CacheTTLMinutes  int  `json:"cacheTTLMinutes"`

	// UI preferences
	Theme           string `json:"theme"` // "light", "dark", "system"
	ShowCrosshair   bool   `json:"showCrosshair"`
	ShowCoordinates bool   `json:"showCoordinates"`

	LastPosition *Position `json:"lastPosition,omitempty"`
	InstallID    string    `json:"installId"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	return &UserSettings{
		CustomLayers:       []layers.TileLayerConfig{},
		DefaultLayer:       "moon_lro_wac",
		ComparisonLayer:    "mars_mola",
		DefaultZoom:        2,
		DefaultCenterLat:   0,
		DefaultCenterLon:   0,
		PanSettleDelayMs:   600,
		SyncReleaseDelayMs: 150,
		ComparisonMode:     "split",
		OverlayOpacity:     0.5,
		TileProxyEnabled:   true,
		CacheMaxEntries:    4096,
		CacheMaxSizeMB:     128,
		CacheTTLMinutes:    60,
		Theme:              "system",
		ShowCrosshair:      false,
		ShowCoordinates:    true,
		InstallID:          uuid.NewString(),
	}
}

// GetSettingsDir returns the directory holding the settings file and layer manifests
func GetSettingsDir() string {
	homeDir, _ := os.UserHomeDir()

	// Unified directory structure: ~/.stellarcanvas/desktop/settings/
	return filepath.Join(homeDir, ".stellarcanvas", "desktop", "settings")
}

// GetSettingsPath returns the settings file path
func GetSettingsPath() string {
	return filepath.Join(GetSettingsDir(), "settings.json")
}

// LoadSettings loads user settings from disk
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads user settings from a file. A missing file yields the defaults.
func LoadSettingsFrom(settingsPath string) (*UserSettings, error) {
	// If file doesn't exist, return defaults
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	settings.mergeDefaults(DefaultSettings())
	return &settings, nil
}

// mergeDefaults fills fields missing from an older settings file
func (s *UserSettings) mergeDefaults(defaults *UserSettings) {
	if s.CustomLayers == nil {
		s.CustomLayers = defaults.CustomLayers
	}
	if s.DefaultLayer == "" {
		s.DefaultLayer = defaults.DefaultLayer
	}
	if s.ComparisonLayer == "" {
		s.ComparisonLayer = defaults.ComparisonLayer
	}
	if s.DefaultZoom == 0 {
		s.DefaultZoom = defaults.DefaultZoom
	}
	if s.PanSettleDelayMs == 0 {
		s.PanSettleDelayMs = defaults.PanSettleDelayMs
	}
	if s.SyncReleaseDelayMs == 0 {
		s.SyncReleaseDelayMs = defaults.SyncReleaseDelayMs
	}
	if s.ComparisonMode == "" {
		s.ComparisonMode = defaults.ComparisonMode
	}
	if s.OverlayOpacity == 0 {
		s.OverlayOpacity = defaults.OverlayOpacity
	}
	if s.CacheMaxEntries == 0 {
		s.CacheMaxEntries = defaults.CacheMaxEntries
	}
	if s.CacheMaxSizeMB == 0 {
		s.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if s.CacheTTLMinutes == 0 {
		s.CacheTTLMinutes = defaults.CacheTTLMinutes
	}
	if s.Theme == "" {
		s.Theme = defaults.Theme
	}
	if s.InstallID == "" {
		s.InstallID = defaults.InstallID
	}
}

// SaveSettings saves user settings to disk
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo validates and writes settings to a file
func SaveSettingsTo(settingsPath string, settings *UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the settings before they are saved
func (s *UserSettings) Validate() error {
	var problems []string

	if s.DefaultZoom < 0 {
		problems = append(problems, "defaultZoom must not be negative")
	}
	if s.DefaultCenterLat < -90 || s.DefaultCenterLat > 90 {
		problems = append(problems, "defaultCenterLat must be between -90 and 90")
	}
	if s.PanSettleDelayMs < 0 || s.SyncReleaseDelayMs < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if s.ComparisonMode != "split" && s.ComparisonMode != "overlay" {
		problems = append(problems, fmt.Sprintf("invalid comparisonMode: %s (must be split or overlay)", s.ComparisonMode))
	}
	if s.OverlayOpacity < 0 || s.OverlayOpacity > 1 {
		problems = append(problems, "overlayOpacity must be between 0 and 1")
	}
	if s.CacheMaxEntries < 0 || s.CacheMaxSizeMB < 0 || s.CacheTTLMinutes < 0 {
		problems = append(problems, "cache limits must not be negative")
	}
	switch s.Theme {
	case "light", "dark", "system":
	default:
		problems = append(problems, fmt.Sprintf("invalid theme: %s (must be light, dark, or system)", s.Theme))
	}
	for i := range s.CustomLayers {
		if err := ValidateCustomLayer(&s.CustomLayers[i]); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid settings:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateCustomLayer validates a user-added layer configuration
func ValidateCustomLayer(layer *layers.TileLayerConfig) error {
	if layer.ID == "" {
		return fmt.Errorf("custom layer id is required")
	}
	if layer.URLTemplate == "" {
		return fmt.Errorf("custom layer %q: URL template is required", layer.ID)
	}
	return layer.WithDefaults().Validate()
}
