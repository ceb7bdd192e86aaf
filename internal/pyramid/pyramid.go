// Package pyramid turns a tile layer description into a virtual, zoomable
// image pyramid and resolves tile requests against it.
package pyramid

import (
	"github.com/pkg/errors"

	"stellarcanvas-desktop/internal/layers"
)

var (
	// ErrConfiguration marks problems that are reported once at layer activation
	ErrConfiguration = errors.New("tile layer configuration error")

	// ErrDateRequired is returned when a temporal layer is resolved without a date
	ErrDateRequired = errors.Wrap(ErrConfiguration, "temporal layer requires a date")
)

// VirtualPyramid is the derived tile grid of one layer activation.
// Generation distinguishes it from pyramids built earlier for the same viewport.
type VirtualPyramid struct {
	Layer      layers.TileLayerConfig
	Generation uint64
	LevelCount int
}

// New validates cfg and builds its pyramid. The pyramid kind is resolved here,
// once, rather than re-derived for every tile.
func New(cfg layers.TileLayerConfig, generation uint64) (*VirtualPyramid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	return &VirtualPyramid{
		Layer:      cfg,
		Generation: generation,
		LevelCount: cfg.LevelCount(),
	}, nil
}

// Cols returns the tile column count at a relative level
func (p *VirtualPyramid) Cols(level int) int {
	if p.Layer.Pyramid == layers.PyramidRectangular {
		return 1 << (level + 1)
	}
	return 1 << level
}

// Rows returns the tile row count at a relative level
func (p *VirtualPyramid) Rows(level int) int {
	return 1 << level
}

// RowsAtZoom returns the row count in the service's native (absolute) zoom numbering
func (p *VirtualPyramid) RowsAtZoom(z int) int {
	return 1 << z
}

// ValidLevel reports whether level exists in the pyramid
func (p *VirtualPyramid) ValidLevel(level int) bool {
	return level >= 0 && level <= p.LevelCount
}

// TileSize returns the edge length of one tile in pixels
func (p *VirtualPyramid) TileSize() int {
	return p.Layer.TileSize
}

// Width is the full-resolution width of the virtual image in pixels
func (p *VirtualPyramid) Width() float64 {
	return float64(p.Cols(p.LevelCount) * p.Layer.TileSize)
}

// Height is the full-resolution height of the virtual image in pixels
func (p *VirtualPyramid) Height() float64 {
	return float64(p.Rows(p.LevelCount) * p.Layer.TileSize)
}
