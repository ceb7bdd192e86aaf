// Package viewer wires the layer registry, the two viewport controllers and the
// comparison link into the session a host UI drives.
package viewer

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"stellarcanvas-desktop/internal/compare"
	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/viewport"
)

// Viewport ids
const (
	PrimaryViewport   = "primary"
	SecondaryViewport = "secondary"
)

// Events emitted to the host
const (
	EventViewportChanged   = "viewport-changed"
	EventLayerActivated    = "layer-activated"
	EventComparisonChanged = "comparison-changed"
	EventSearchTextChanged = "search-text-changed"
)

var (
	// ErrUnknownViewport is returned for a viewport id other than primary or secondary
	ErrUnknownViewport = errors.New("unknown viewport")
	// ErrClosed is returned by a session after Close
	ErrClosed = errors.New("session closed")
)

// Emitter delivers session events to the host UI
type Emitter interface {
	Emit(event string, data ...interface{})
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event string, data ...interface{})

// Emit calls f
func (f EmitterFunc) Emit(event string, data ...interface{}) {
	f(event, data...)
}

// ViewportChanged is the payload of EventViewportChanged
type ViewportChanged struct {
	Viewport  string               `json:"viewport"`
	Longitude float64              `json:"longitude"`
	Latitude  float64              `json:"latitude"`
	Zoom      float64              `json:"zoom"`
	LayerID   string               `json:"layerId"`
	Source    viewport.EventSource `json:"source"`
}

// LayerActivated is the payload of EventLayerActivated
type LayerActivated struct {
	Viewport   string `json:"viewport"`
	LayerID    string `json:"layerId"`
	Title      string `json:"title"`
	Generation uint64 `json:"generation"`
	Date       string `json:"date,omitempty"`
}

// Comparison describes the comparison state; it is the payload of EventComparisonChanged
type Comparison struct {
	Enabled bool         `json:"enabled"`
	Mode    compare.Mode `json:"mode"`
	Opacity float64      `json:"opacity"`
}

// Options configures a session
type Options struct {
	SettleDelay  time.Duration
	ReleaseDelay time.Duration
	// Date is the initial date of temporal layers
	Date string
	// ComparisonLayer is activated on the secondary when comparison is enabled
	// before the secondary shows anything
	ComparisonLayer string
	Mode            compare.Mode
	Opacity         float64
}

// DefaultOptions returns the options used when nil is passed to NewSession
func DefaultOptions() *Options {
	return &Options{
		SettleDelay:  viewport.DefaultOptions().SettleDelay,
		ReleaseDelay: compare.DefaultOptions().ReleaseDelay,
		Mode:         compare.ModeSplit,
		Opacity:      0.5,
	}
}

// Session is the engine facade: one primary and one secondary viewport
// and at most one link between them
type Session struct {
	mu sync.Mutex

	registry  *layers.Registry
	emitter   Emitter
	opts      Options
	primary   *viewport.Controller
	secondary *viewport.Controller

	link    *compare.Link
	mode    compare.Mode
	opacity float64
	closed  bool
}

// NewSession creates both viewports, rendering to the given surfaces
func NewSession(registry *layers.Registry, primary, secondary viewport.Surface, emitter Emitter, opts *Options) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if emitter == nil {
		emitter = EmitterFunc(func(string, ...interface{}) {})
	}
	mode := opts.Mode
	if !mode.Valid() {
		mode = compare.ModeSplit
	}

	vopts := &viewport.Options{SettleDelay: opts.SettleDelay, Date: opts.Date}
	s := &Session{
		registry:  registry,
		emitter:   emitter,
		opts:      *opts,
		primary:   viewport.NewController(PrimaryViewport, primary, vopts),
		secondary: viewport.NewController(SecondaryViewport, secondary, vopts),
		mode:      mode,
		opacity:   lo.Clamp(opts.Opacity, 0, 1),
	}

	for _, c := range []*viewport.Controller{s.primary, s.secondary} {
		c.OnViewChange(s.emitView)
	}
	return s
}

func (s *Session) emitView(e viewport.ViewEvent) {
	s.emitter.Emit(EventViewportChanged, ViewportChanged{
		Viewport:  e.ViewportID,
		Longitude: e.State.Center.Longitude,
		Latitude:  e.State.Center.Latitude,
		Zoom:      e.State.Zoom,
		LayerID:   e.LayerID,
		Source:    e.Source,
	})
}

// Controller returns the controller of a viewport
func (s *Session) Controller(viewportID string) (*viewport.Controller, error) {
	switch viewportID {
	case PrimaryViewport:
		return s.primary, nil
	case SecondaryViewport:
		return s.secondary, nil
	}
	return nil, errors.Wrapf(ErrUnknownViewport, "%q", viewportID)
}

func (s *Session) open(viewportID string) (*viewport.Controller, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.Controller(viewportID)
}

// Registry returns the layer registry
func (s *Session) Registry() *layers.Registry {
	return s.registry
}

// ActivateLayer shows a registered layer on a viewport
func (s *Session) ActivateLayer(viewportID, layerID string) error {
	c, err := s.open(viewportID)
	if err != nil {
		return err
	}
	cfg, err := s.registry.Get(layerID)
	if err != nil {
		return err
	}
	if err := c.ActivateLayer(cfg); err != nil {
		return err
	}
	s.emitter.Emit(EventLayerActivated, LayerActivated{
		Viewport:   viewportID,
		LayerID:    cfg.ID,
		Title:      cfg.Title,
		Generation: c.Generation(),
		Date:       c.Date(),
	})
	return nil
}

// LayerID returns the id of the layer a viewport shows, or ""
func (s *Session) LayerID(viewportID string) string {
	c, err := s.Controller(viewportID)
	if err != nil {
		return ""
	}
	return c.LayerID()
}

// SetDate changes the date of temporal layers on a viewport
func (s *Session) SetDate(viewportID, date string) error {
	c, err := s.open(viewportID)
	if err != nil {
		return err
	}
	return c.SetDate(date)
}

// NavigateToFeature announces the feature name and flies the primary viewport
// to it. A linked secondary follows through the link.
func (s *Session) NavigateToFeature(name string, longitude, latitude, zoom float64) bool {
	if _, err := s.open(PrimaryViewport); err != nil {
		return false
	}
	s.emitter.Emit(EventSearchTextChanged, name)
	ok := s.primary.PanToGeo(geo.GeoPoint{Longitude: longitude, Latitude: latitude}, zoom)
	if !ok {
		log.Printf("[Viewer] Navigation to %q ignored", name)
	}
	return ok
}

// EnableComparison links the secondary to the primary. An existing link is
// replaced so mode and opacity can be changed in one call; invalid arguments
// leave it in place.
func (s *Session) EnableComparison(mode compare.Mode, opacity float64) error {
	if _, err := s.open(SecondaryViewport); err != nil {
		return err
	}
	if !mode.Valid() {
		return errors.Wrapf(compare.ErrInvalidMode, "%q", mode)
	}
	if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return errors.Wrapf(compare.ErrInvalidOpacity, "got %v", opacity)
	}
	if s.secondary.LayerID() == "" && s.opts.ComparisonLayer != "" {
		if err := s.ActivateLayer(SecondaryViewport, s.opts.ComparisonLayer); err != nil {
			return errors.Wrap(err, "failed to activate comparison layer")
		}
	}

	s.mu.Lock()
	old := s.link
	s.link = nil
	s.mu.Unlock()
	if old != nil {
		old.Unlink()
	}

	l, err := compare.New(s.primary, s.secondary, mode, opacity, &compare.Options{ReleaseDelay: s.opts.ReleaseDelay})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.link, s.mode, s.opacity = l, mode, opacity
	state := s.comparisonLocked()
	s.mu.Unlock()

	s.emitter.Emit(EventComparisonChanged, state)
	return nil
}

// DisableComparison removes the link, if any
func (s *Session) DisableComparison() {
	s.mu.Lock()
	l := s.link
	s.link = nil
	state := s.comparisonLocked()
	s.mu.Unlock()

	if l == nil {
		return
	}
	l.Unlink()
	s.emitter.Emit(EventComparisonChanged, state)
}

// SetOverlayOpacity changes the overlay opacity of the secondary
func (s *Session) SetOverlayOpacity(opacity float64) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()

	if l != nil {
		if err := l.SetOpacity(opacity); err != nil {
			return err
		}
	} else if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return errors.Wrapf(compare.ErrInvalidOpacity, "got %v", opacity)
	}

	s.mu.Lock()
	s.opacity = opacity
	state := s.comparisonLocked()
	s.mu.Unlock()

	s.emitter.Emit(EventComparisonChanged, state)
	return nil
}

// Comparison returns the current comparison state
func (s *Session) Comparison() Comparison {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comparisonLocked()
}

func (s *Session) comparisonLocked() Comparison {
	return Comparison{
		Enabled: s.link != nil && s.link.Linked(),
		Mode:    s.mode,
		Opacity: s.opacity,
	}
}

// RestoreView moves a viewport to a saved view without notifying the link,
// then announces the view once so the frontend shows where it starts
func (s *Session) RestoreView(viewportID string, state viewport.ViewportState) error {
	c, err := s.open(viewportID)
	if err != nil {
		return err
	}
	c.ApplyState(state)
	s.emitView(viewport.ViewEvent{
		ViewportID: viewportID,
		State:      c.State(),
		LayerID:    c.LayerID(),
		Source:     viewport.SourceNavigation,
	})
	return nil
}

// PlaceCrosshair marks the center of a viewport
func (s *Session) PlaceCrosshair(viewportID string) bool {
	c, err := s.open(viewportID)
	if err != nil {
		return false
	}
	return c.PlaceCrosshair()
}

// HandleViewChanged records a user pan/zoom reported by a viewport's surface
func (s *Session) HandleViewChanged(viewportID string, state viewport.ViewportState) error {
	c, err := s.open(viewportID)
	if err != nil {
		return err
	}
	c.HandleViewChanged(state)
	return nil
}

// HandleSurfaceView is HandleViewChanged for surfaces reporting pixel centers
func (s *Session) HandleSurfaceView(viewportID string, center geo.Pixel, zoom float64) error {
	c, err := s.open(viewportID)
	if err != nil {
		return err
	}
	c.HandleSurfaceView(center, zoom)
	return nil
}

// ResolveTile resolves a tile of a viewport's pyramid generation to its
// upstream URL and the id of the layer it belongs to
func (s *Session) ResolveTile(viewportID string, generation uint64, level, col, row int) (string, string, bool) {
	c, err := s.open(viewportID)
	if err != nil {
		return "", "", false
	}
	return c.ResolveTile(generation, level, col, row)
}

// IsCurrent reports whether generation is still the pyramid a viewport shows
func (s *Session) IsCurrent(viewportID string, generation uint64) bool {
	c, err := s.open(viewportID)
	if err != nil {
		return false
	}
	return c.IsCurrent(generation)
}

// Close unlinks the viewports, then tears both down
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		l.Unlink()
	}
	s.secondary.Teardown()
	s.primary.Teardown()
	log.Printf("[Viewer] Session closed")
}
