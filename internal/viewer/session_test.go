package viewer

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarcanvas-desktop/internal/compare"
	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/viewport"
	"stellarcanvas-desktop/internal/viewport/viewporttest"
)

type emitted struct {
	event string
	data  interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emitted{event: event, data: payload})
}

func (r *recorder) named(event string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e.data)
		}
	}
	return out
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

type fixture struct {
	session            *Session
	events             *recorder
	primary, secondary *viewporttest.Surface
}

func newFixture(t *testing.T, opts *Options) fixture {
	t.Helper()
	registry, err := layers.NewRegistry(
		layers.TileLayerConfig{
			ID:          "moon",
			Title:       "Moon LRO WAC",
			URLTemplate: "https://trek.example/moon/{z}/{row}/{col}.jpg",
			MaxZoom:     7,
		},
		layers.TileLayerConfig{
			ID:          "mars",
			URLTemplate: "https://trek.example/mars/{z}/{row}/{col}.jpg",
			MaxZoom:     6,
		},
		layers.TileLayerConfig{
			ID:          "earth",
			URLTemplate: "https://gibs.example/{date}/{z}/{y}/{x}.jpg",
			MaxZoom:     9,
			Projection:  geo.WebMercator,
			RowOrder:    layers.RowOrderTMS,
			Temporal:    &layers.TemporalRange{Start: "2000-02-24"},
		},
	)
	require.NoError(t, err)

	if opts == nil {
		opts = DefaultOptions()
		opts.SettleDelay = 0
	}
	f := fixture{
		events:    &recorder{},
		primary:   viewporttest.NewSurface(),
		secondary: viewporttest.NewSurface(),
	}
	f.session = NewSession(registry, f.primary, f.secondary, f.events, opts)
	t.Cleanup(f.session.Close)
	return f
}

func TestActivateLayerEmits(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	got := f.events.named(EventLayerActivated)
	require.Len(t, got, 1)
	assert.Equal(t, LayerActivated{Viewport: "primary", LayerID: "moon", Title: "Moon LRO WAC", Generation: 1}, got[0])

	err := f.session.ActivateLayer(PrimaryViewport, "pluto")
	assert.True(t, errors.Is(err, layers.ErrLayerNotFound))

	err = f.session.ActivateLayer("third", "moon")
	assert.True(t, errors.Is(err, ErrUnknownViewport))
}

func TestTemporalLayerNeedsDate(t *testing.T) {
	f := newFixture(t, nil)

	err := f.session.ActivateLayer(PrimaryViewport, "earth")
	require.Error(t, err)
	assert.Empty(t, f.events.named(EventLayerActivated))

	require.NoError(t, f.session.SetDate(PrimaryViewport, "2024-01-15"))
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "earth"))

	src, ok := f.primary.Source()
	require.True(t, ok)
	url, layerID, ok := f.session.ResolveTile(PrimaryViewport, src.Generation, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, "https://gibs.example/2024-01-15/0/0/0.jpg", url)
	assert.Equal(t, "earth", layerID)
}

func TestNavigateToFeature(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))

	require.True(t, f.session.NavigateToFeature("Tycho", -11.2, -43.3, 6))

	order := f.events.order()
	assert.Equal(t, EventSearchTextChanged, order[1], "search text is announced before the view moves")
	assert.Equal(t, []interface{}{"Tycho"}, f.events.named(EventSearchTextChanged))

	views := f.events.named(EventViewportChanged)
	require.Len(t, views, 2)
	last := views[1].(ViewportChanged)
	assert.Equal(t, "primary", last.Viewport)
	assert.Equal(t, "moon", last.LayerID)
	assert.Equal(t, 6.0, last.Zoom)
	assert.InDelta(t, -11.2, last.Longitude, 1e-9)
	assert.InDelta(t, -43.3, last.Latitude, 1e-9)

	_, ok := f.primary.Overlay(viewport.FeatureMarkerID)
	assert.True(t, ok)
}

func TestNavigateWithoutLayerIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.session.NavigateToFeature("Tycho", -11.2, -43.3, 6))
	assert.Empty(t, f.events.named(EventViewportChanged))
}

func TestComparisonFollowsNavigation(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(SecondaryViewport, "mars"))

	require.NoError(t, f.session.EnableComparison(compare.ModeOverlay, 0.5))
	assert.Equal(t, Comparison{Enabled: true, Mode: compare.ModeOverlay, Opacity: 0.5}, f.session.Comparison())
	assert.Equal(t, 0.5, f.secondary.Opacity())

	require.True(t, f.session.NavigateToFeature("Olympus Mons", 133.8, 18.65, 5))
	c, err := f.session.Controller(SecondaryViewport)
	require.NoError(t, err)
	assert.InDelta(t, 133.8, c.State().Center.Longitude, 1e-9)
	assert.Equal(t, 5.0, c.State().Zoom)

	require.NoError(t, f.session.SetOverlayOpacity(0.8))
	assert.Equal(t, 0.8, f.secondary.Opacity())
	assert.Equal(t, 1.0, f.primary.Opacity())

	f.session.DisableComparison()
	assert.False(t, f.session.Comparison().Enabled)
	assert.Equal(t, 1.0, f.secondary.Opacity())

	states := f.events.named(EventComparisonChanged)
	require.Len(t, states, 3)
	assert.False(t, states[2].(Comparison).Enabled)
}

func TestEnableComparisonReplacesLink(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(SecondaryViewport, "mars"))

	require.NoError(t, f.session.EnableComparison(compare.ModeOverlay, 0.3))
	require.NoError(t, f.session.EnableComparison(compare.ModeSplit, 0.3))

	assert.Equal(t, compare.ModeSplit, f.session.Comparison().Mode)
	assert.Equal(t, 1.0, f.secondary.Opacity())

	c, _ := f.session.Controller(SecondaryViewport)
	// the session's own viewport-changed observer plus the link's view and source observers
	assert.Equal(t, 3, c.ObserverCount())
}

func TestEnableComparisonRejectsBadArgumentsKeepingLink(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(SecondaryViewport, "mars"))
	require.NoError(t, f.session.EnableComparison(compare.ModeOverlay, 0.4))

	err := f.session.EnableComparison("swipe", 0.4)
	assert.True(t, errors.Is(err, compare.ErrInvalidMode))
	err = f.session.EnableComparison(compare.ModeSplit, -1)
	assert.True(t, errors.Is(err, compare.ErrInvalidOpacity))

	assert.Equal(t, Comparison{Enabled: true, Mode: compare.ModeOverlay, Opacity: 0.4}, f.session.Comparison())
	assert.Equal(t, 0.4, f.secondary.Opacity())
}

func TestEnableComparisonActivatesComparisonLayer(t *testing.T) {
	opts := DefaultOptions()
	opts.SettleDelay = 0
	opts.ComparisonLayer = "mars"
	f := newFixture(t, opts)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))

	require.NoError(t, f.session.EnableComparison(compare.ModeSplit, 1))
	c, _ := f.session.Controller(SecondaryViewport)
	assert.Equal(t, "mars", c.LayerID())
}

func TestSetOverlayOpacityWithoutLink(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.session.SetOverlayOpacity(0.25))
	assert.Equal(t, 0.25, f.session.Comparison().Opacity)
	assert.False(t, f.session.Comparison().Enabled)

	err := f.session.SetOverlayOpacity(2)
	assert.True(t, errors.Is(err, compare.ErrInvalidOpacity))
}

func TestHandleViewChangedAndCrosshair(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))

	state := viewport.ViewportState{Center: geo.GeoPoint{Longitude: 20, Latitude: 10}, Zoom: 2}
	require.NoError(t, f.session.HandleViewChanged(PrimaryViewport, state))

	views := f.events.named(EventViewportChanged)
	require.Len(t, views, 1)
	assert.Equal(t, viewport.SourceGesture, views[0].(ViewportChanged).Source)

	assert.True(t, f.session.PlaceCrosshair(PrimaryViewport))
	assert.False(t, f.session.PlaceCrosshair(SecondaryViewport), "no layer on the secondary")
	_, ok := f.primary.Overlay(viewport.CrosshairID)
	assert.True(t, ok)
}

func TestRestoreViewAnnouncesOnce(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(SecondaryViewport, "mars"))
	require.NoError(t, f.session.EnableComparison(compare.ModeSplit, 1))
	secondary, _ := f.session.Controller(SecondaryViewport)
	before := secondary.State()

	state := viewport.ViewportState{Center: geo.GeoPoint{Longitude: -11.2, Latitude: -43.3}, Zoom: 5}
	require.NoError(t, f.session.RestoreView(PrimaryViewport, state))

	views := f.events.named(EventViewportChanged)
	require.Len(t, views, 1)
	assert.Equal(t, ViewportChanged{
		Viewport:  "primary",
		Longitude: -11.2,
		Latitude:  -43.3,
		Zoom:      5,
		LayerID:   "moon",
		Source:    viewport.SourceNavigation,
	}, views[0])
	assert.Equal(t, before, secondary.State(), "restoring does not drive the link")

	assert.ErrorIs(t, f.session.RestoreView("third", state), ErrUnknownViewport)
}

func TestResolveTileRejectsStaleGeneration(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "mars"))

	_, _, ok := f.session.ResolveTile(PrimaryViewport, 1, 0, 0, 0)
	assert.False(t, ok)
	assert.False(t, f.session.IsCurrent(PrimaryViewport, 1))
	assert.True(t, f.session.IsCurrent(PrimaryViewport, 2))
	assert.False(t, f.session.IsCurrent("third", 2))

	url, layerID, ok := f.session.ResolveTile(PrimaryViewport, 2, 0, 1, 0)
	assert.True(t, ok)
	assert.Equal(t, "https://trek.example/mars/0/0/1.jpg", url)
	assert.Equal(t, "mars", layerID)
}

func TestCloseUnlinksBeforeTeardown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.ActivateLayer(PrimaryViewport, "moon"))
	require.NoError(t, f.session.ActivateLayer(SecondaryViewport, "mars"))
	require.NoError(t, f.session.EnableComparison(compare.ModeOverlay, 0.5))

	f.session.Close()
	f.session.Close()

	assert.Equal(t, 1, f.primary.Closed())
	assert.Equal(t, 1, f.secondary.Closed())

	// the overlay opacity is restored before the secondary surface goes away
	ops := f.secondary.Ops()
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, []string{"opacity", "close"}, ops[len(ops)-2:])

	assert.ErrorIs(t, f.session.ActivateLayer(PrimaryViewport, "moon"), ErrClosed)
	assert.False(t, f.session.NavigateToFeature("Tycho", 0, 0, 1))
}
