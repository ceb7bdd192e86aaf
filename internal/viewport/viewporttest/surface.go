// Package viewporttest provides a recording rendering surface for tests.
package viewporttest

import (
	"sync"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/viewport"
)

// Call is one recorded surface command
type Call struct {
	Op      string
	Pixel   geo.Pixel
	Zoom    float64
	Opacity float64
	Overlay viewport.Overlay
	ID      string
	Source  viewport.TileSource
}

// Surface records every command it receives
type Surface struct {
	mu       sync.Mutex
	calls    []Call
	source   *viewport.TileSource
	overlays map[string]viewport.Overlay
	center   geo.Pixel
	zoom     float64
	opacity  float64
	closed   int
}

// NewSurface returns an empty recording surface
func NewSurface() *Surface {
	return &Surface{overlays: make(map[string]viewport.Overlay), opacity: 1}
}

func (s *Surface) record(c Call) {
	s.calls = append(s.calls, c)
}

func (s *Surface) Open(src viewport.TileSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = &src
	// Opening a new source resets blending like a real renderer does
	s.opacity = 1
	s.record(Call{Op: "open", Source: src})
}

func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.overlays = make(map[string]viewport.Overlay)
	s.closed++
	s.record(Call{Op: "close"})
}

func (s *Surface) PanTo(center geo.Pixel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.center = center
	s.record(Call{Op: "pan", Pixel: center})
}

func (s *Surface) ZoomTo(zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = zoom
	s.record(Call{Op: "zoom", Zoom: zoom})
}

func (s *Surface) SetView(center geo.Pixel, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.center, s.zoom = center, zoom
	s.record(Call{Op: "view", Pixel: center, Zoom: zoom})
}

func (s *Surface) AddOverlay(o viewport.Overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays[o.ID] = o
	s.record(Call{Op: "add-overlay", Overlay: o, ID: o.ID})
}

func (s *Surface) RemoveOverlay(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlays, id)
	s.record(Call{Op: "remove-overlay", ID: id})
}

func (s *Surface) SetOpacity(opacity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opacity = opacity
	s.record(Call{Op: "opacity", Opacity: opacity})
}

// Calls returns a copy of every recorded command
func (s *Surface) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the recorded command names in order
func (s *Surface) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was recorded
func (s *Surface) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets the recorded commands but keeps the current surface state
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Source returns the open tile source, if any
func (s *Surface) Source() (viewport.TileSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return viewport.TileSource{}, false
	}
	return *s.source, true
}

// Overlay returns the overlay with the given id, if placed
func (s *Surface) Overlay(id string) (viewport.Overlay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlays[id]
	return o, ok
}

// Overlays returns the number of placed overlays
func (s *Surface) Overlays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.overlays)
}

// View returns the center and zoom last shown
func (s *Surface) View() (geo.Pixel, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center, s.zoom
}

// Opacity returns the current blend opacity
func (s *Surface) Opacity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opacity
}

// Closed returns how many times Close was called
func (s *Surface) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
