// Package viewport owns one pyramid-backed rendering surface and the view state
// shown on it.
package viewport

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/pyramid"
)

var (
	// ErrTornDown is returned by operations on a controller after Teardown
	ErrTornDown = errors.New("viewport controller torn down")
	// ErrNoLayer is returned when an operation needs an active layer
	ErrNoLayer = errors.New("no active layer")
)

// ViewportState is the view of one controller. It is always copied, never shared.
type ViewportState struct {
	Center geo.GeoPoint `json:"center"`
	Zoom   float64      `json:"zoom"`
}

// EventSource says what caused a view change
type EventSource string

const (
	SourceGesture    EventSource = "gesture"
	SourceNavigation EventSource = "navigation"
)

// ViewEvent is delivered to view observers after the state of a controller changed
type ViewEvent struct {
	ViewportID string        `json:"viewport"`
	LayerID    string        `json:"layerId"`
	State      ViewportState `json:"state"`
	Source     EventSource   `json:"source"`
}

// SourceEvent is delivered after a controller opened a new tile source
type SourceEvent struct {
	ViewportID string `json:"viewport"`
	LayerID    string `json:"layerId"`
	Generation uint64 `json:"generation"`
	Date       string `json:"date,omitempty"`
}

// Options configures a controller
type Options struct {
	// SettleDelay separates the pan and the zoom of PanToGeo
	SettleDelay time.Duration
	// Date is the initial date for temporal layers
	Date string
}

// DefaultOptions returns the options used when nil is passed to NewController
func DefaultOptions() *Options {
	return &Options{
		SettleDelay: 600 * time.Millisecond,
	}
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// Controller owns exactly one rendering surface and at most one virtual pyramid
type Controller struct {
	mu sync.Mutex

	id          string
	surface     Surface
	settleDelay time.Duration

	pyramid    *pyramid.VirtualPyramid
	resolver   *pyramid.Resolver
	generation uint64
	date       string

	state     ViewportState
	opacity   float64
	marker    bool
	crosshair bool

	navigation  uint64
	pendingZoom *time.Timer
	tornDown    bool

	// id of the link this controller belongs to, or ""
	link string

	nextObserver      uint64
	viewObservers     []observer[ViewEvent]
	sourceObservers   []observer[SourceEvent]
	teardownObservers []observer[string]
}

// NewController creates a controller rendering to surface
func NewController(id string, surface Surface, opts *Options) *Controller {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Controller{
		id:          id,
		surface:     surface,
		settleDelay: opts.SettleDelay,
		date:        opts.Date,
		opacity:     1,
	}
}

// ID returns the viewport id
func (c *Controller) ID() string {
	return c.id
}

// State returns a copy of the current view
func (c *Controller) State() ViewportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LayerID returns the id of the active layer, or "" when none is active
func (c *Controller) LayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pyramid == nil {
		return ""
	}
	return c.pyramid.Layer.ID
}

// Layer returns the active layer config
func (c *Controller) Layer() (layers.TileLayerConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pyramid == nil {
		return layers.TileLayerConfig{}, false
	}
	return c.pyramid.Layer, true
}

// Date returns the date temporal layers are resolved with
func (c *Controller) Date() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.date
}

// Generation returns the generation of the active pyramid
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// IsCurrent reports whether tiles of generation may still be drawn
func (c *Controller) IsCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.tornDown && c.pyramid != nil && generation == c.generation
}

// Opacity returns the blend opacity last set on the surface
func (c *Controller) Opacity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opacity
}

// ActivateLayer discards the current pyramid and builds one for cfg.
// Configuration errors are returned here, once, and leave the previous layer active.
func (c *Controller) ActivateLayer(cfg layers.TileLayerConfig) error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return ErrTornDown
	}

	date := c.date
	if cfg.Temporal != nil && date == "" {
		date = cfg.Temporal.Default
	}

	evt, err := c.openLocked(cfg, date)
	if err != nil {
		c.mu.Unlock()
		log.Printf("[Viewport %s] Failed to activate layer %s: %v", c.id, cfg.ID, err)
		return err
	}
	observers := c.sourceObservers
	c.mu.Unlock()

	log.Printf("[Viewport %s] Activated layer %s (generation %d)", c.id, evt.LayerID, evt.Generation)
	notify(observers, evt)
	return nil
}

// SetDate changes the date temporal layers are resolved with. When the active
// layer is temporal its pyramid is rebuilt so tiles of the old date are dropped.
func (c *Controller) SetDate(date string) error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return ErrTornDown
	}
	if c.pyramid == nil || c.pyramid.Layer.Temporal == nil {
		if date != "" {
			if _, err := layers.ParseDate(date); err != nil {
				c.mu.Unlock()
				return errors.Wrap(pyramid.ErrConfiguration, err.Error())
			}
		}
		c.date = date
		c.mu.Unlock()
		return nil
	}

	evt, err := c.openLocked(c.pyramid.Layer, date)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	observers := c.sourceObservers
	c.mu.Unlock()

	notify(observers, evt)
	return nil
}

// openLocked builds and opens a new pyramid. c.mu must be held.
func (c *Controller) openLocked(cfg layers.TileLayerConfig, date string) (SourceEvent, error) {
	gen := c.generation + 1
	p, err := pyramid.New(cfg, gen)
	if err != nil {
		return SourceEvent{}, err
	}
	r, err := pyramid.NewResolver(p)
	if err != nil {
		return SourceEvent{}, err
	}

	// Probe the root tile so template and date problems surface now, not per tile
	if _, _, err := r.Resolve(pyramid.TileRequest{Level: 0, Col: 0, Row: 0, Date: date}); err != nil {
		return SourceEvent{}, err
	}

	c.cancelNavigationLocked()
	if c.marker {
		c.surface.RemoveOverlay(FeatureMarkerID)
		c.marker = false
	}
	if c.crosshair {
		c.surface.RemoveOverlay(CrosshairID)
		c.crosshair = false
	}

	c.generation = gen
	c.pyramid = p
	c.resolver = r
	c.date = date
	c.state.Zoom = c.clampZoomLocked(c.state.Zoom)

	c.surface.Open(TileSource{
		ViewportID: c.id,
		LayerID:    cfg.ID,
		Generation: gen,
		Width:      p.Width(),
		Height:     p.Height(),
		TileSize:   p.TileSize(),
		LevelCount: p.LevelCount,
		Resolve: func(level, col, row int) (string, bool) {
			url, _, ok := c.ResolveTile(gen, level, col, row)
			return url, ok
		},
	})
	c.surface.SetView(c.toPixelLocked(c.state.Center), c.state.Zoom)

	return SourceEvent{ViewportID: c.id, LayerID: cfg.ID, Generation: gen, Date: date}, nil
}

// ResolveTile resolves a tile of the given generation to its URL and layer id. Stale generations,
// out-of-range rows and per-tile errors all resolve to no tile, silently.
func (c *Controller) ResolveTile(generation uint64, level, col, row int) (string, string, bool) {
	c.mu.Lock()
	if c.tornDown || c.resolver == nil || generation != c.generation {
		c.mu.Unlock()
		return "", "", false
	}
	r := c.resolver
	layerID := c.pyramid.Layer.ID
	date := c.date
	c.mu.Unlock()

	url, err := r.ResolveTileURL(level, col, row, date)
	if err != nil || url == "" {
		return "", "", false
	}
	return url, layerID, true
}

// PanToGeo places the feature marker at p, pans to it and, once the pan has
// settled, zooms to zoom. It reports false and does nothing when no layer is
// loaded, the controller is torn down, or p is not finite.
func (c *Controller) PanToGeo(p geo.GeoPoint, zoom float64) bool {
	if !p.IsFinite() || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return false
	}

	c.mu.Lock()
	if c.tornDown || c.pyramid == nil {
		c.mu.Unlock()
		return false
	}

	target := normalizePoint(p)
	px := c.toPixelLocked(target)

	if c.marker {
		c.surface.RemoveOverlay(FeatureMarkerID)
	}
	c.surface.AddOverlay(Overlay{ID: FeatureMarkerID, Kind: OverlayMarker, Position: px, Interactive: true})
	c.marker = true

	c.surface.PanTo(px)
	c.state.Center = target

	c.cancelNavigationLocked()
	c.navigation++
	nav, gen := c.navigation, c.generation
	zoom = c.clampZoomLocked(zoom)

	panned := c.viewEventLocked(SourceNavigation)
	observers := c.viewObservers

	if c.settleDelay <= 0 {
		c.state.Zoom = zoom
		c.surface.ZoomTo(zoom)
		zoomed := c.viewEventLocked(SourceNavigation)
		c.mu.Unlock()

		notify(observers, panned)
		notify(observers, zoomed)
		return true
	}

	c.pendingZoom = time.AfterFunc(c.settleDelay, func() {
		c.finishNavigation(gen, nav, zoom)
	})
	c.mu.Unlock()

	notify(observers, panned)
	return true
}

func (c *Controller) finishNavigation(generation, navigation uint64, zoom float64) {
	c.mu.Lock()
	if c.tornDown || generation != c.generation || navigation != c.navigation {
		c.mu.Unlock()
		return
	}
	c.pendingZoom = nil
	c.state.Zoom = zoom
	c.surface.ZoomTo(zoom)
	evt := c.viewEventLocked(SourceNavigation)
	observers := c.viewObservers
	c.mu.Unlock()

	notify(observers, evt)
}

// PlaceCrosshair places a non-interactive marker at the current view center
func (c *Controller) PlaceCrosshair() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown || c.pyramid == nil {
		return false
	}
	if c.crosshair {
		c.surface.RemoveOverlay(CrosshairID)
	}
	c.surface.AddOverlay(Overlay{
		ID:       CrosshairID,
		Kind:     OverlayCrosshair,
		Position: c.toPixelLocked(c.state.Center),
	})
	c.crosshair = true
	return true
}

// RemoveCrosshair removes the crosshair if one is placed
func (c *Controller) RemoveCrosshair() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown || !c.crosshair {
		return
	}
	c.surface.RemoveOverlay(CrosshairID)
	c.crosshair = false
}

// HandleViewChanged records a pan/zoom made by the user on the surface and
// notifies view observers. It cancels a navigation still waiting to zoom.
func (c *Controller) HandleViewChanged(state ViewportState) {
	if !state.Center.IsFinite() || math.IsNaN(state.Zoom) || math.IsInf(state.Zoom, 0) {
		return
	}

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.cancelNavigationLocked()
	c.state = ViewportState{Center: normalizePoint(state.Center), Zoom: c.clampZoomLocked(state.Zoom)}
	evt := c.viewEventLocked(SourceGesture)
	observers := c.viewObservers
	c.mu.Unlock()

	notify(observers, evt)
}

// HandleSurfaceView is HandleViewChanged for surfaces that report pixel centers
func (c *Controller) HandleSurfaceView(center geo.Pixel, zoom float64) {
	c.mu.Lock()
	if c.pyramid == nil {
		c.mu.Unlock()
		return
	}
	l := c.pyramid.Layer
	point := geo.ToGeo(center, c.pyramid.Width(), c.pyramid.Height(), l.Projection, l.Longitude)
	c.mu.Unlock()

	c.HandleViewChanged(ViewportState{Center: point, Zoom: zoom})
}

// ApplyState assigns state without notifying view observers. It is how a
// synchronizer copies a partner's view without re-triggering itself.
func (c *Controller) ApplyState(state ViewportState) {
	if !state.Center.IsFinite() || math.IsNaN(state.Zoom) || math.IsInf(state.Zoom, 0) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return
	}
	c.cancelNavigationLocked()
	c.state = ViewportState{Center: normalizePoint(state.Center), Zoom: c.clampZoomLocked(state.Zoom)}
	if c.pyramid != nil {
		c.surface.SetView(c.toPixelLocked(c.state.Center), c.state.Zoom)
	}
}

// SetOpacity sets the global blend opacity of the surface
func (c *Controller) SetOpacity(opacity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return
	}
	c.opacity = lo.Clamp(opacity, 0, 1)
	c.surface.SetOpacity(c.opacity)
}

// OnViewChange registers fn for view events and returns a func removing it
func (c *Controller) OnViewChange(fn func(ViewEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObserver++
	id := c.nextObserver
	c.viewObservers = append(c.viewObservers, observer[ViewEvent]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.viewObservers = without(c.viewObservers, id)
	}
}

// OnSourceChange registers fn for tile source changes and returns a func removing it
func (c *Controller) OnSourceChange(fn func(SourceEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObserver++
	id := c.nextObserver
	c.sourceObservers = append(c.sourceObservers, observer[SourceEvent]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sourceObservers = without(c.sourceObservers, id)
	}
}

// OnTeardown registers fn to run at the start of Teardown, before the surface is released
func (c *Controller) OnTeardown(fn func(viewportID string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObserver++
	id := c.nextObserver
	c.teardownObservers = append(c.teardownObservers, observer[string]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.teardownObservers = without(c.teardownObservers, id)
	}
}

// ClaimLink records that the controller belongs to link linkID. It fails and
// returns the current owner when another link already holds the controller.
func (c *Controller) ClaimLink(linkID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != "" && c.link != linkID {
		return c.link, false
	}
	c.link = linkID
	return linkID, true
}

// ReleaseLink frees the controller if link linkID holds it
func (c *Controller) ReleaseLink(linkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == linkID {
		c.link = ""
	}
}

// LinkID returns the id of the link holding the controller, or ""
func (c *Controller) LinkID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// ObserverCount returns the number of registered view and source observers
func (c *Controller) ObserverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.viewObservers) + len(c.sourceObservers)
}

// Teardown releases the surface and every overlay. It is safe to call more than once.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.cancelNavigationLocked()
	c.generation++
	c.pyramid = nil
	c.resolver = nil
	teardown := c.teardownObservers
	c.viewObservers = nil
	c.sourceObservers = nil
	c.teardownObservers = nil
	marker, crosshair := c.marker, c.crosshair
	c.marker, c.crosshair = false, false
	c.mu.Unlock()

	// Links detach before the surface goes away
	notify(teardown, c.id)

	if marker {
		c.surface.RemoveOverlay(FeatureMarkerID)
	}
	if crosshair {
		c.surface.RemoveOverlay(CrosshairID)
	}
	c.surface.Close()
	log.Printf("[Viewport %s] Torn down", c.id)
}

func (c *Controller) cancelNavigationLocked() {
	if c.pendingZoom != nil {
		c.pendingZoom.Stop()
		c.pendingZoom = nil
	}
	c.navigation++
}

func (c *Controller) clampZoomLocked(zoom float64) float64 {
	if c.pyramid == nil {
		return math.Max(zoom, 0)
	}
	return lo.Clamp(zoom, 0, float64(c.pyramid.LevelCount))
}

func (c *Controller) toPixelLocked(p geo.GeoPoint) geo.Pixel {
	l := c.pyramid.Layer
	return geo.ToPixel(p, c.pyramid.Width(), c.pyramid.Height(), l.Projection, l.Longitude)
}

func (c *Controller) viewEventLocked(source EventSource) ViewEvent {
	layerID := ""
	if c.pyramid != nil {
		layerID = c.pyramid.Layer.ID
	}
	return ViewEvent{ViewportID: c.id, LayerID: layerID, State: c.state, Source: source}
}

// normalizePoint clamps latitude to +-90 and wraps longitude into [-180, 180)
func normalizePoint(p geo.GeoPoint) geo.GeoPoint {
	return geo.GeoPoint{
		Longitude: geo.NormalizeLongitude(p.Longitude, geo.LongitudeSigned),
		Latitude:  geo.ClampLatitude(p.Latitude, geo.Equirectangular),
	}
}

func notify[T any](observers []observer[T], v T) {
	for _, o := range observers {
		o.fn(v)
	}
}

func without[T any](observers []observer[T], id uint64) []observer[T] {
	return lo.Filter(observers, func(o observer[T], _ int) bool { return o.id != id })
}
