package pyramid

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/valyala/fasttemplate"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
)

// TileRequest addresses one tile of the virtual pyramid
type TileRequest struct {
	Level int
	Col   int
	Row   int
	Date  string
}

// Tile is a resolved tile request
type Tile struct {
	URL        string
	Generation uint64
	Z          int
	Col        int
	Row        int
}

// Resolver substitutes tile indices into the URL template of a pyramid's layer
type Resolver struct {
	pyramid  *VirtualPyramid
	template *fasttemplate.Template
}

// NewResolver compiles the layer's URL template
func NewResolver(p *VirtualPyramid) (*Resolver, error) {
	tmpl, err := fasttemplate.NewTemplate(p.Layer.URLTemplate, "{", "}")
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "layer %q: malformed urlTemplate: %v", p.Layer.ID, err)
	}
	return &Resolver{pyramid: p, template: tmpl}, nil
}

// Pyramid returns the pyramid the resolver was built for
func (r *Resolver) Pyramid() *VirtualPyramid {
	return r.pyramid
}

// ResolveTileURL returns the URL of a tile, or "" when the row lies outside the
// grid (no such tile; not an error). Columns wrap around horizontally.
func (r *Resolver) ResolveTileURL(level, col, row int, date string) (string, error) {
	tile, ok, err := r.Resolve(TileRequest{Level: level, Col: col, Row: row, Date: date})
	if err != nil || !ok {
		return "", err
	}
	return tile.URL, nil
}

// Resolve resolves a tile request. ok is false when there is no tile to draw.
func (r *Resolver) Resolve(req TileRequest) (Tile, bool, error) {
	p := r.pyramid
	if !p.ValidLevel(req.Level) {
		return Tile{}, false, nil
	}

	z := req.Level + p.Layer.MinZoom
	cols := p.Cols(req.Level)
	rows := p.Rows(req.Level)

	col := ((req.Col % cols) + cols) % cols
	if req.Row < 0 || req.Row >= rows {
		return Tile{}, false, nil
	}

	row := req.Row
	if p.Layer.RowOrder == layers.RowOrderTMS {
		row = geo.FlipRow(z, row)
	}

	date, err := r.formatDate(req.Date)
	if err != nil {
		return Tile{}, false, err
	}

	zs, cs, rs := strconv.Itoa(z), strconv.Itoa(col), strconv.Itoa(row)
	url := r.template.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case layers.TokenZoom:
			return w.Write([]byte(zs))
		case layers.TokenX, layers.TokenColumn:
			return w.Write([]byte(cs))
		case layers.TokenY, layers.TokenRow:
			return w.Write([]byte(rs))
		case layers.TokenDate:
			if date != "" {
				return w.Write([]byte(date))
			}
		}
		// Unknown tokens are left as they were
		return w.Write([]byte("{" + tag + "}"))
	})

	return Tile{URL: url, Generation: p.Generation, Z: z, Col: col, Row: row}, true, nil
}

func (r *Resolver) formatDate(date string) (string, error) {
	temporal := r.pyramid.Layer.Temporal
	if temporal == nil {
		return "", nil
	}
	if date == "" {
		return "", errors.Wrapf(ErrDateRequired, "layer %q", r.pyramid.Layer.ID)
	}

	t, err := layers.ParseDate(date)
	if err != nil {
		return "", errors.Wrapf(ErrConfiguration, "layer %q: %v", r.pyramid.Layer.ID, err)
	}
	if !temporal.Contains(t) {
		return "", errors.Wrapf(ErrConfiguration, "layer %q: date %s outside %s..%s",
			r.pyramid.Layer.ID, date, temporal.Start, temporal.End)
	}
	return temporal.DateFormat.Format(t), nil
}
