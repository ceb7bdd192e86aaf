// Package compare links two viewports so they show the same place, either side
// by side or blended on top of each other.
package compare

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stellarcanvas-desktop/internal/viewport"
)

var (
	// ErrAlreadyLinked is returned when a viewport already belongs to a link
	ErrAlreadyLinked = errors.New("viewport is already linked")
	// ErrSameViewport is returned when a viewport is linked with itself
	ErrSameViewport = errors.New("cannot link a viewport with itself")
	// ErrInvalidMode is returned for an unknown comparison mode
	ErrInvalidMode = errors.New("invalid comparison mode")
	// ErrInvalidOpacity is returned for an opacity outside [0, 1]
	ErrInvalidOpacity = errors.New("opacity must be between 0 and 1")
)

// Mode is how the two viewports are presented
type Mode string

const (
	// ModeSplit shows the viewports side by side
	ModeSplit Mode = "split"
	// ModeOverlay draws the secondary over the primary with reduced opacity
	ModeOverlay Mode = "overlay"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeSplit || m == ModeOverlay
}

// Viewport is the part of a viewport controller a link needs
type Viewport interface {
	ID() string
	State() viewport.ViewportState
	ApplyState(state viewport.ViewportState)
	SetOpacity(opacity float64)
	OnViewChange(fn func(viewport.ViewEvent)) func()
	OnSourceChange(fn func(viewport.SourceEvent)) func()
	OnTeardown(fn func(viewportID string)) func()
	// ClaimLink marks the viewport as held by a link, returning the current
	// owner and false when another link holds it
	ClaimLink(linkID string) (string, bool)
	ReleaseLink(linkID string)
}

// Options configures a link
type Options struct {
	// ReleaseDelay is how long the guard stays set after a copy. Echoes of the
	// copied view that arrive before it elapses are dropped.
	ReleaseDelay time.Duration
}

// DefaultOptions returns the options used when nil is passed to New
func DefaultOptions() *Options {
	return &Options{ReleaseDelay: 150 * time.Millisecond}
}

// Link keeps two viewports on the same view
type Link struct {
	mu sync.Mutex

	id        string
	primary   Viewport
	secondary Viewport
	mode      Mode
	opacity   float64

	// id of the viewport a copy was last applied to, until released
	guarded  string
	release  func(func())
	copies   int
	unlinked bool
	removers []func()
}

// New links primary and secondary. The secondary is moved to the primary's view
// right away, and in overlay mode it is drawn with the given opacity.
func New(primary, secondary Viewport, mode Mode, opacity float64, opts *Options) (*Link, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !mode.Valid() {
		return nil, errors.Wrapf(ErrInvalidMode, "%q", mode)
	}
	if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return nil, errors.Wrapf(ErrInvalidOpacity, "got %v", opacity)
	}
	if primary.ID() == secondary.ID() {
		return nil, errors.Wrapf(ErrSameViewport, "%s", primary.ID())
	}

	l := &Link{
		id:        uuid.NewString(),
		primary:   primary,
		secondary: secondary,
		mode:      mode,
		opacity:   opacity,
		release:   debounce.New(opts.ReleaseDelay),
	}

	if owner, ok := primary.ClaimLink(l.id); !ok {
		return nil, errors.Wrapf(ErrAlreadyLinked, "%s (link %s)", primary.ID(), owner)
	}
	if owner, ok := secondary.ClaimLink(l.id); !ok {
		primary.ReleaseLink(l.id)
		return nil, errors.Wrapf(ErrAlreadyLinked, "%s (link %s)", secondary.ID(), owner)
	}

	secondary.ApplyState(primary.State())
	if mode == ModeOverlay {
		secondary.SetOpacity(opacity)
	}

	removers := []func(){
		primary.OnViewChange(func(e viewport.ViewEvent) { l.propagate(primary, secondary, e) }),
		secondary.OnViewChange(func(e viewport.ViewEvent) { l.propagate(secondary, primary, e) }),
		secondary.OnSourceChange(func(viewport.SourceEvent) { l.reapplyOpacity() }),
		primary.OnTeardown(func(string) { l.Unlink() }),
		secondary.OnTeardown(func(string) { l.Unlink() }),
	}

	l.mu.Lock()
	l.removers = removers
	l.mu.Unlock()

	log.Printf("[Sync] Linked %s -> %s (%s, link %s)", primary.ID(), secondary.ID(), mode, l.id)
	return l, nil
}

// propagate copies a view event of from to its partner. Events the partner
// reports while the guard is set are echoes of the copy and are dropped.
func (l *Link) propagate(from, to Viewport, e viewport.ViewEvent) {
	l.mu.Lock()
	if l.unlinked || l.guarded == from.ID() {
		l.mu.Unlock()
		return
	}
	l.guarded = to.ID()
	l.copies++
	l.mu.Unlock()

	to.ApplyState(e.State)

	l.release(func() {
		l.mu.Lock()
		l.guarded = ""
		l.mu.Unlock()
	})
}

// reapplyOpacity restores the overlay opacity after the secondary opened a new source
func (l *Link) reapplyOpacity() {
	l.mu.Lock()
	if l.unlinked || l.mode != ModeOverlay {
		l.mu.Unlock()
		return
	}
	opacity := l.opacity
	l.mu.Unlock()

	l.secondary.SetOpacity(opacity)
}

// SetOpacity changes the overlay opacity of the secondary. In split mode the
// value is stored but not applied.
func (l *Link) SetOpacity(opacity float64) error {
	if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return errors.Wrapf(ErrInvalidOpacity, "got %v", opacity)
	}

	l.mu.Lock()
	if l.unlinked {
		l.mu.Unlock()
		return nil
	}
	l.opacity = opacity
	apply := l.mode == ModeOverlay
	l.mu.Unlock()

	if apply {
		l.secondary.SetOpacity(opacity)
	}
	return nil
}

// Unlink detaches every handler the link attached. It is safe to call more than once.
func (l *Link) Unlink() {
	l.mu.Lock()
	if l.unlinked {
		l.mu.Unlock()
		return
	}
	l.unlinked = true
	removers := l.removers
	l.removers = nil
	overlay := l.mode == ModeOverlay
	l.mu.Unlock()

	for _, remove := range removers {
		remove()
	}

	l.primary.ReleaseLink(l.id)
	l.secondary.ReleaseLink(l.id)

	if overlay {
		l.secondary.SetOpacity(1)
	}
	log.Printf("[Sync] Unlinked %s -> %s (link %s)", l.primary.ID(), l.secondary.ID(), l.id)
}

// ID returns the link id
func (l *Link) ID() string {
	return l.id
}

// Linked reports whether the link is still active
func (l *Link) Linked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.unlinked
}

// Mode returns the comparison mode
func (l *Link) Mode() Mode {
	return l.mode
}

// Opacity returns the overlay opacity
func (l *Link) Opacity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity
}

// Copies returns how many view events were copied to a partner
func (l *Link) Copies() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copies
}
