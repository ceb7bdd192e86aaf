package compare

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/viewport"
	"stellarcanvas-desktop/internal/viewport/viewporttest"
)

type pair struct {
	primary          *viewport.Controller
	secondary        *viewport.Controller
	primarySurface   *viewporttest.Surface
	secondarySurface *viewporttest.Surface
}

func layer(id string) layers.TileLayerConfig {
	return layers.TileLayerConfig{
		ID:          id,
		URLTemplate: "https://tiles.example/" + id + "/{z}/{row}/{col}.png",
		MaxZoom:     7,
	}.WithDefaults()
}

func newPair(t *testing.T) pair {
	t.Helper()
	p := pair{
		primarySurface:   viewporttest.NewSurface(),
		secondarySurface: viewporttest.NewSurface(),
	}
	opts := &viewport.Options{SettleDelay: 0}
	p.primary = viewport.NewController("primary", p.primarySurface, opts)
	p.secondary = viewport.NewController("secondary", p.secondarySurface, opts)
	require.NoError(t, p.primary.ActivateLayer(layer("moon")))
	require.NoError(t, p.secondary.ActivateLayer(layer("mars")))
	t.Cleanup(func() {
		p.primary.Teardown()
		p.secondary.Teardown()
	})
	return p
}

func link(t *testing.T, p pair, mode Mode, opacity float64) *Link {
	t.Helper()
	l, err := New(p.primary, p.secondary, mode, opacity, &Options{ReleaseDelay: 30 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(l.Unlink)
	return l
}

func state(lon, lat, zoom float64) viewport.ViewportState {
	return viewport.ViewportState{Center: geo.GeoPoint{Longitude: lon, Latitude: lat}, Zoom: zoom}
}

func TestLinkCopiesGestureExactlyOnce(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeSplit, 1)

	var secondaryEvents int
	p.secondary.OnViewChange(func(viewport.ViewEvent) { secondaryEvents++ })

	p.primary.HandleViewChanged(state(12, 34, 3))

	assert.Equal(t, 1, l.Copies())
	assert.Equal(t, state(12, 34, 3), p.secondary.State())
	assert.Equal(t, 0, secondaryEvents, "a copied view is applied silently")

	// The secondary surface finishing its animation reports the copied view back
	p.secondary.HandleViewChanged(state(12, 34, 3))
	assert.Equal(t, 1, l.Copies(), "echo of a copy is not propagated")
	assert.Equal(t, state(12, 34, 3), p.primary.State())
}

func TestLinkPropagatesBothWaysAfterRelease(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeSplit, 1)

	p.primary.HandleViewChanged(state(1, 1, 1))
	assert.Eventually(t, func() bool {
		p.secondary.HandleViewChanged(state(-50, 20, 4))
		return l.Copies() == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, state(-50, 20, 4), p.primary.State())
}

func TestLinkCopiesEveryStepOfNavigation(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeSplit, 1)

	require.True(t, p.primary.PanToGeo(geo.GeoPoint{Longitude: -11.2, Latitude: -43.3}, 6))

	assert.Equal(t, 2, l.Copies(), "pan and zoom are both copied")
	got := p.secondary.State()
	assert.Equal(t, 6.0, got.Zoom)
	assert.InDelta(t, -11.2, got.Center.Longitude, 1e-9)
	assert.InDelta(t, -43.3, got.Center.Latitude, 1e-9)

	_, ok := p.secondarySurface.Overlay(viewport.FeatureMarkerID)
	assert.False(t, ok, "only the navigated viewport gets the marker")
}

func TestLinkAlignsSecondaryOnCreation(t *testing.T) {
	p := newPair(t)
	p.primary.ApplyState(state(100, -20, 5))

	link(t, p, ModeSplit, 1)
	assert.Equal(t, state(100, -20, 5), p.secondary.State())
}

func TestOverlayOpacityOnlyTouchesSecondary(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeOverlay, 0.5)

	assert.Equal(t, 0.5, p.secondarySurface.Opacity())
	assert.Equal(t, 1.0, p.primarySurface.Opacity())

	require.NoError(t, l.SetOpacity(0.8))
	assert.Equal(t, 0.8, p.secondarySurface.Opacity())
	assert.Equal(t, 0.8, l.Opacity())
	assert.Equal(t, 1.0, p.primarySurface.Opacity())
	assert.Equal(t, 0, p.primarySurface.Count("opacity"))

	err := l.SetOpacity(1.5)
	assert.True(t, errors.Is(err, ErrInvalidOpacity))
	assert.Equal(t, 0.8, l.Opacity())
}

func TestOverlayOpacitySurvivesLayerSwitch(t *testing.T) {
	p := newPair(t)
	link(t, p, ModeOverlay, 0.4)

	require.NoError(t, p.secondary.ActivateLayer(layer("mercury")))
	assert.Equal(t, 0.4, p.secondarySurface.Opacity())
}

func TestSplitIgnoresOpacity(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeSplit, 0.3)

	assert.Equal(t, 1.0, p.secondarySurface.Opacity())
	require.NoError(t, l.SetOpacity(0.6))
	assert.Equal(t, 1.0, p.secondarySurface.Opacity())
	assert.Equal(t, 0, p.secondarySurface.Count("opacity"))
}

func TestUnlinkLeavesNoObservers(t *testing.T) {
	p := newPair(t)
	before := p.primary.ObserverCount() + p.secondary.ObserverCount()

	l := link(t, p, ModeOverlay, 0.5)
	assert.Greater(t, p.primary.ObserverCount()+p.secondary.ObserverCount(), before)

	l.Unlink()
	l.Unlink()
	assert.False(t, l.Linked())
	assert.Equal(t, before, p.primary.ObserverCount()+p.secondary.ObserverCount())
	assert.Equal(t, 1.0, p.secondarySurface.Opacity(), "unlink restores full opacity")

	p.primary.HandleViewChanged(state(3, 3, 3))
	assert.Equal(t, 0, l.Copies())
	assert.NotEqual(t, state(3, 3, 3), p.secondary.State())
}

func TestUnlinkKeepsForeignObservers(t *testing.T) {
	p := newPair(t)
	var seen int
	p.primary.OnViewChange(func(viewport.ViewEvent) { seen++ })

	l := link(t, p, ModeSplit, 1)
	l.Unlink()

	p.primary.HandleViewChanged(state(3, 3, 3))
	assert.Equal(t, 1, seen)
}

func TestTeardownUnlinks(t *testing.T) {
	p := newPair(t)
	l := link(t, p, ModeOverlay, 0.5)

	p.primary.Teardown()
	assert.False(t, l.Linked())
	assert.Equal(t, 0, p.secondary.ObserverCount())

	// The freed secondary can be linked again
	other := viewport.NewController("other", viewporttest.NewSurface(), nil)
	t.Cleanup(other.Teardown)
	l2, err := New(other, p.secondary, ModeSplit, 1, nil)
	require.NoError(t, err)
	l2.Unlink()
}

func TestNewRejectsBadArguments(t *testing.T) {
	p := newPair(t)

	_, err := New(p.primary, p.secondary, Mode("swipe"), 1, nil)
	assert.True(t, errors.Is(err, ErrInvalidMode))

	_, err = New(p.primary, p.secondary, ModeOverlay, -0.1, nil)
	assert.True(t, errors.Is(err, ErrInvalidOpacity))

	_, err = New(p.primary, p.primary, ModeSplit, 1, nil)
	assert.True(t, errors.Is(err, ErrSameViewport))

	link(t, p, ModeSplit, 1)
	third := viewport.NewController("third", viewporttest.NewSurface(), nil)
	t.Cleanup(third.Teardown)
	_, err = New(third, p.secondary, ModeSplit, 1, nil)
	assert.True(t, errors.Is(err, ErrAlreadyLinked))
}

// sliceViewport is not comparable, so it cannot be used as a map key
type sliceViewport struct {
	*viewport.Controller
	tags []string
}

func TestLinkAcceptsNonComparableViewports(t *testing.T) {
	p := newPair(t)
	primary := sliceViewport{Controller: p.primary, tags: []string{"left"}}
	secondary := sliceViewport{Controller: p.secondary, tags: []string{"right"}}

	l, err := New(primary, secondary, ModeOverlay, 0.5, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.secondarySurface.Opacity())

	l.Unlink()
	assert.Empty(t, p.primary.LinkID())
	assert.Empty(t, p.secondary.LinkID())
}

func TestDroppedLinkOnlyHoldsItsOwnViewports(t *testing.T) {
	p := newPair(t)
	_, err := New(p.primary, p.secondary, ModeSplit, 1, nil)
	require.NoError(t, err)

	// the link is never unlinked, yet other viewports can still be linked
	other := newPair(t)
	l, err := New(other.primary, other.secondary, ModeSplit, 1, nil)
	require.NoError(t, err)
	l.Unlink()

	third := viewport.NewController("third", viewporttest.NewSurface(), nil)
	t.Cleanup(third.Teardown)
	_, err = New(third, p.primary, ModeSplit, 1, nil)
	assert.True(t, errors.Is(err, ErrAlreadyLinked))
}

func TestRejectedSecondaryReleasesPrimary(t *testing.T) {
	p := newPair(t)
	link(t, p, ModeSplit, 1)

	third := viewport.NewController("third", viewporttest.NewSurface(), nil)
	t.Cleanup(third.Teardown)
	_, err := New(third, p.secondary, ModeSplit, 1, nil)
	require.True(t, errors.Is(err, ErrAlreadyLinked))
	assert.Empty(t, third.LinkID(), "a failed link leaves no claim behind")
}
