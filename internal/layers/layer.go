// Package layers describes imagery layers and keeps the registry the viewer
// activates them from.
package layers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"stellarcanvas-desktop/internal/geo"
)

// ErrInvalidConfig is wrapped by every TileLayerConfig validation failure
var ErrInvalidConfig = errors.New("invalid layer configuration")

// PyramidKind selects how many tile columns a level has relative to its rows
type PyramidKind string

const (
	// PyramidSquare has 2^level columns and rows
	PyramidSquare PyramidKind = "square"
	// PyramidRectangular has 2^(level+1) columns and 2^level rows (2:1 aspect)
	PyramidRectangular PyramidKind = "rectangular"
)

// RowOrder is the vertical numbering convention of a tile service
type RowOrder string

const (
	RowOrderXYZ RowOrder = "xyz" // row 0 is the northernmost row
	RowOrderTMS RowOrder = "tms" // row 0 is the southernmost row
)

// Placeholder tokens understood in URL templates
const (
	TokenZoom   = "z"
	TokenX      = "x"
	TokenY      = "y"
	TokenColumn = "col"
	TokenRow    = "row"
	TokenDate   = "date"
)

// KnownTokens lists every placeholder a template may use
var KnownTokens = []string{TokenZoom, TokenX, TokenY, TokenColumn, TokenRow, TokenDate}

var tokenPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// TemporalRange marks a layer whose tiles vary by acquisition date
type TemporalRange struct {
	Start      string     `json:"start,omitempty"`
	End        string     `json:"end,omitempty"`
	Default    string     `json:"default,omitempty"`
	DateFormat DateFormat `json:"dateFormat"`
}

// TileLayerConfig identifies one imagery layer.
// It is immutable once registered and always passed by value.
type TileLayerConfig struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Body        string                  `json:"body,omitempty"`
	Attribution string                  `json:"attribution,omitempty"`
	URLTemplate string                  `json:"urlTemplate"`
	MinZoom     int                     `json:"minZoom"`
	MaxZoom     int                     `json:"maxZoom"`
	TileSize    int                     `json:"tileSize"`
	Projection  geo.Projection          `json:"projection"`
	Longitude   geo.LongitudeConvention `json:"longitude"`
	Pyramid     PyramidKind             `json:"pyramid"`
	RowOrder    RowOrder                `json:"rowOrder"`
	Temporal    *TemporalRange          `json:"temporalRange,omitempty"`
}

// IsTemporal reports whether the layer needs a date to resolve tiles
func (c TileLayerConfig) IsTemporal() bool {
	return c.Temporal != nil
}

// LevelCount is the number of levels above the base level of the virtual pyramid
func (c TileLayerConfig) LevelCount() int {
	return c.MaxZoom - c.MinZoom
}

// WithDefaults fills the optional fields with the values most tile services use
func (c TileLayerConfig) WithDefaults() TileLayerConfig {
	if c.TileSize == 0 {
		c.TileSize = 256
	}
	if c.Projection == "" {
		c.Projection = geo.Equirectangular
	}
	if c.Longitude == "" {
		if c.Projection == geo.WebMercator {
			c.Longitude = geo.LongitudeSigned
		} else {
			c.Longitude = geo.LongitudeEast360
		}
	}
	if c.Pyramid == "" {
		if c.Projection == geo.WebMercator {
			c.Pyramid = PyramidSquare
		} else {
			c.Pyramid = PyramidRectangular
		}
	}
	if c.RowOrder == "" {
		c.RowOrder = RowOrderXYZ
	}
	if c.Title == "" {
		c.Title = c.ID
	}
	if c.Temporal != nil && c.Temporal.DateFormat == "" {
		temporal := *c.Temporal
		temporal.DateFormat = DateISO
		c.Temporal = &temporal
	}
	return c
}

// TemplateTokens returns the placeholder names used in a URL template, in order of appearance
func TemplateTokens(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	return lo.Uniq(lo.Map(matches, func(m []string, _ int) string { return m[1] }))
}

// Validate reports every problem with the configuration in a single error
func (c TileLayerConfig) Validate() error {
	var errs []string

	if c.ID == "" {
		errs = append(errs, "id is required")
	}
	if c.URLTemplate == "" {
		errs = append(errs, "urlTemplate is required")
	}
	if c.MinZoom < 0 {
		errs = append(errs, fmt.Sprintf("minZoom must be >= 0, got %d", c.MinZoom))
	}
	if c.MaxZoom < c.MinZoom {
		errs = append(errs, fmt.Sprintf("maxZoom (%d) must be >= minZoom (%d)", c.MaxZoom, c.MinZoom))
	}
	if c.MaxZoom > 30 {
		errs = append(errs, fmt.Sprintf("maxZoom must be <= 30, got %d", c.MaxZoom))
	}
	if c.TileSize <= 0 {
		errs = append(errs, fmt.Sprintf("tileSize must be positive, got %d", c.TileSize))
	}
	if !c.Projection.Valid() {
		errs = append(errs, fmt.Sprintf("unknown projection %q", c.Projection))
	}
	if !c.Longitude.Valid() {
		errs = append(errs, fmt.Sprintf("unknown longitude convention %q", c.Longitude))
	}
	if c.Pyramid != PyramidSquare && c.Pyramid != PyramidRectangular {
		errs = append(errs, fmt.Sprintf("unknown pyramid kind %q (must be square or rectangular)", c.Pyramid))
	}
	if c.RowOrder != RowOrderXYZ && c.RowOrder != RowOrderTMS {
		errs = append(errs, fmt.Sprintf("unknown row order %q (must be xyz or tms)", c.RowOrder))
	}

	// Mixed conventions
	if c.Pyramid == PyramidRectangular && c.Projection == geo.WebMercator {
		errs = append(errs, "rectangular pyramid cannot be used with web-mercator projection")
	}
	if c.Pyramid == PyramidRectangular && c.RowOrder == RowOrderTMS {
		errs = append(errs, "tms row order requires a square pyramid")
	}

	tokens := TemplateTokens(c.URLTemplate)
	unknown := lo.Without(tokens, KnownTokens...)
	if len(unknown) > 0 {
		errs = append(errs, fmt.Sprintf("urlTemplate has unknown placeholders: {%s}", strings.Join(unknown, "}, {")))
	}
	if c.URLTemplate != "" && !lo.Contains(tokens, TokenZoom) {
		errs = append(errs, "urlTemplate is missing {z}")
	}
	if lo.Contains(tokens, TokenX) && lo.Contains(tokens, TokenColumn) {
		errs = append(errs, "urlTemplate mixes {x} and {col}")
	}
	if lo.Contains(tokens, TokenY) && lo.Contains(tokens, TokenRow) {
		errs = append(errs, "urlTemplate mixes {y} and {row}")
	}

	hasDate := lo.Contains(tokens, TokenDate)
	switch {
	case c.Temporal == nil && hasDate:
		errs = append(errs, "urlTemplate uses {date} but no temporalRange is set")
	case c.Temporal != nil && !hasDate:
		errs = append(errs, "temporalRange is set but urlTemplate has no {date}")
	case c.Temporal != nil:
		errs = append(errs, c.Temporal.problems()...)
	}

	if len(errs) > 0 {
		return errors.Wrapf(ErrInvalidConfig, "layer %q:\n  - %s", c.ID, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (t TemporalRange) problems() []string {
	var errs []string
	if !t.DateFormat.Valid() {
		errs = append(errs, fmt.Sprintf("unknown dateFormat %q", t.DateFormat))
	}

	bounds := map[string]string{"start": t.Start, "end": t.End, "default": t.Default}
	for _, name := range []string{"start", "end", "default"} {
		if bounds[name] == "" {
			continue
		}
		if _, err := ParseDate(bounds[name]); err != nil {
			errs = append(errs, fmt.Sprintf("temporalRange.%s: %v", name, err))
		}
	}

	if t.Start != "" && t.End != "" {
		start, errStart := ParseDate(t.Start)
		end, errEnd := ParseDate(t.End)
		if errStart == nil && errEnd == nil && end.Before(start) {
			errs = append(errs, "temporalRange.end is before temporalRange.start")
		}
	}
	return errs
}
