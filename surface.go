package main

import (
	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/viewport"
)

// EventSurfaceCommand carries rendering commands to the frontend map of a viewport
const EventSurfaceCommand = "surface-command"

// Surface command operations
const (
	SurfaceOpen          = "open"
	SurfaceClose         = "close"
	SurfacePanTo         = "pan-to"
	SurfaceZoomTo        = "zoom-to"
	SurfaceSetView       = "set-view"
	SurfaceAddOverlay    = "add-overlay"
	SurfaceRemoveOverlay = "remove-overlay"
	SurfaceSetOpacity    = "set-opacity"
)

// SurfaceSource is the virtual image the frontend opens.
// TileURL is empty when the tile proxy is disabled; the frontend then asks
// ResolveTile for every tile.
type SurfaceSource struct {
	LayerID    string  `json:"layerId"`
	Generation uint64  `json:"generation"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	TileSize   int     `json:"tileSize"`
	LevelCount int     `json:"levelCount"`
	TileURL    string  `json:"tileUrl,omitempty"`
}

// SurfaceCommand is the payload of EventSurfaceCommand
type SurfaceCommand struct {
	Viewport  string            `json:"viewport"`
	Op        string            `json:"op"`
	Source    *SurfaceSource    `json:"source,omitempty"`
	Center    *geo.Pixel        `json:"center,omitempty"`
	Zoom      float64           `json:"zoom"`
	Overlay   *viewport.Overlay `json:"overlay,omitempty"`
	OverlayID string            `json:"overlayId,omitempty"`
	Opacity   float64           `json:"opacity"`
}

// bridgeSurface renders a viewport by forwarding every command to the frontend.
// The frontend reports gestures back through App.ReportViewChanged.
type bridgeSurface struct {
	viewportID string
	emit       func(event string, data ...interface{})
	// tileURL returns the proxy URL template of a generation, or "" without a proxy
	tileURL func(viewportID string, generation uint64) string
}

func newBridgeSurface(viewportID string, emit func(string, ...interface{}), tileURL func(string, uint64) string) *bridgeSurface {
	return &bridgeSurface{viewportID: viewportID, emit: emit, tileURL: tileURL}
}

func (b *bridgeSurface) send(cmd SurfaceCommand) {
	cmd.Viewport = b.viewportID
	b.emit(EventSurfaceCommand, cmd)
}

func (b *bridgeSurface) Open(src viewport.TileSource) {
	source := &SurfaceSource{
		LayerID:    src.LayerID,
		Generation: src.Generation,
		Width:      src.Width,
		Height:     src.Height,
		TileSize:   src.TileSize,
		LevelCount: src.LevelCount,
	}
	if b.tileURL != nil {
		source.TileURL = b.tileURL(b.viewportID, src.Generation)
	}
	b.send(SurfaceCommand{Op: SurfaceOpen, Source: source})
}

func (b *bridgeSurface) Close() {
	b.send(SurfaceCommand{Op: SurfaceClose})
}

func (b *bridgeSurface) PanTo(center geo.Pixel) {
	b.send(SurfaceCommand{Op: SurfacePanTo, Center: &center})
}

func (b *bridgeSurface) ZoomTo(zoom float64) {
	b.send(SurfaceCommand{Op: SurfaceZoomTo, Zoom: zoom})
}

func (b *bridgeSurface) SetView(center geo.Pixel, zoom float64) {
	b.send(SurfaceCommand{Op: SurfaceSetView, Center: &center, Zoom: zoom})
}

func (b *bridgeSurface) AddOverlay(o viewport.Overlay) {
	b.send(SurfaceCommand{Op: SurfaceAddOverlay, Overlay: &o})
}

func (b *bridgeSurface) RemoveOverlay(id string) {
	b.send(SurfaceCommand{Op: SurfaceRemoveOverlay, OverlayID: id})
}

func (b *bridgeSurface) SetOpacity(opacity float64) {
	b.send(SurfaceCommand{Op: SurfaceSetOpacity, Opacity: opacity})
}
