package viewport

import "stellarcanvas-desktop/internal/geo"

// OverlayKind distinguishes the overlays a controller places
type OverlayKind string

const (
	OverlayMarker    OverlayKind = "marker"
	OverlayCrosshair OverlayKind = "crosshair"
)

// Overlay ids; a controller keeps at most one of each
const (
	FeatureMarkerID = "feature-marker"
	CrosshairID     = "crosshair"
)

// Overlay is a marker drawn over the imagery at a pixel of the virtual image
type Overlay struct {
	ID          string      `json:"id"`
	Kind        OverlayKind `json:"kind"`
	Position    geo.Pixel   `json:"position"`
	Label       string      `json:"label,omitempty"`
	Interactive bool        `json:"interactive"`
}

// TileSource describes the virtual image a surface should render.
// Resolve is bound to the generation the source was opened with and reports
// no tile once that generation is stale.
type TileSource struct {
	ViewportID string                                   `json:"viewportId"`
	LayerID    string                                   `json:"layerId"`
	Generation uint64                                   `json:"generation"`
	Width      float64                                  `json:"width"`
	Height     float64                                  `json:"height"`
	TileSize   int                                      `json:"tileSize"`
	LevelCount int                                      `json:"levelCount"`
	Resolve    func(level, col, row int) (string, bool) `json:"-"`
}

// Surface is the rendering surface a controller drives. It fetches, decodes and
// retries tiles on its own; the controller only tells it what to show.
// Methods are called with the controller locked, so implementations must report
// view changes back asynchronously rather than from inside these calls.
type Surface interface {
	// Open replaces the rendered image with src
	Open(src TileSource)
	// Close releases the rendered image and every overlay
	Close()
	// PanTo animates the view center to a pixel
	PanTo(center geo.Pixel)
	// ZoomTo animates to a zoom level
	ZoomTo(zoom float64)
	// SetView jumps to a center and zoom without animation
	SetView(center geo.Pixel, zoom float64)
	AddOverlay(o Overlay)
	RemoveOverlay(id string)
	// SetOpacity sets the global blend opacity of the rendered image
	SetOpacity(opacity float64)
}
