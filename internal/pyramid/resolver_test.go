package pyramid

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarcanvas-desktop/internal/geo"
	"stellarcanvas-desktop/internal/layers"
)

func newResolver(t *testing.T, cfg layers.TileLayerConfig) *Resolver {
	t.Helper()
	p, err := New(cfg.WithDefaults(), 1)
	require.NoError(t, err)
	r, err := NewResolver(p)
	require.NoError(t, err)
	return r
}

func squareLayer() layers.TileLayerConfig {
	return layers.TileLayerConfig{
		ID:          "square",
		URLTemplate: "https://tiles.example/{z}/{y}/{x}.jpg",
		MinZoom:     0,
		MaxZoom:     8,
		Projection:  geo.Equirectangular,
		Pyramid:     layers.PyramidSquare,
	}
}

func rectangularLayer() layers.TileLayerConfig {
	return layers.TileLayerConfig{
		ID:          "trek",
		URLTemplate: "https://trek.example/{z}/{row}/{col}.jpg",
		MinZoom:     0,
		MaxZoom:     7,
		Pyramid:     layers.PyramidRectangular,
	}
}

func gibsLayer(format layers.DateFormat) layers.TileLayerConfig {
	return layers.TileLayerConfig{
		ID:          "gibs",
		URLTemplate: "https://gibs.example/wmts/{date}/GoogleMapsCompatible/{z}/{y}/{x}.jpg",
		MinZoom:     1,
		MaxZoom:     9,
		Projection:  geo.WebMercator,
		Pyramid:     layers.PyramidSquare,
		RowOrder:    layers.RowOrderTMS,
		Temporal:    &layers.TemporalRange{Start: "2000-02-24", DateFormat: format},
	}
}

func TestPyramidGrid(t *testing.T) {
	sq, err := New(squareLayer().WithDefaults(), 3)
	require.NoError(t, err)
	assert.Equal(t, 8, sq.LevelCount)
	assert.Equal(t, uint64(3), sq.Generation)
	assert.Equal(t, 4, sq.Cols(2))
	assert.Equal(t, 4, sq.Rows(2))
	assert.Equal(t, float64(256*256), sq.Width())
	assert.Equal(t, float64(256*256), sq.Height())

	rect, err := New(rectangularLayer().WithDefaults(), 1)
	require.NoError(t, err)
	assert.Equal(t, 8, rect.Cols(2))
	assert.Equal(t, 4, rect.Rows(2))
	assert.Equal(t, 2*rect.Height(), rect.Width())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := squareLayer().WithDefaults()
	cfg.Pyramid = layers.PyramidRectangular
	cfg.Projection = geo.WebMercator

	_, err := New(cfg, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResolveSubstitutesBothTokenFamilies(t *testing.T) {
	url, err := newResolver(t, squareLayer()).ResolveTileURL(3, 5, 2, "")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.example/3/2/5.jpg", url)

	url, err = newResolver(t, rectangularLayer()).ResolveTileURL(3, 12, 6, "")
	require.NoError(t, err)
	assert.Equal(t, "https://trek.example/3/6/12.jpg", url)
}

func TestResolveAddsMinZoom(t *testing.T) {
	cfg := squareLayer()
	cfg.MinZoom = 2
	cfg.MaxZoom = 10

	url, err := newResolver(t, cfg).ResolveTileURL(1, 1, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.example/3/0/1.jpg", url)
}

func TestResolveWrapsColumns(t *testing.T) {
	r := newResolver(t, squareLayer())

	tests := []struct{ col, want int }{
		{-1, 7}, {8, 0}, {9, 1}, {-17, 7}, {3, 3},
	}
	for _, tt := range tests {
		tile, ok, err := r.Resolve(TileRequest{Level: 3, Col: tt.col, Row: 0})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tt.want, tile.Col, "col=%d", tt.col)
	}

	rect := newResolver(t, rectangularLayer())
	tile, ok, err := rect.Resolve(TileRequest{Level: 2, Col: -1, Row: 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, tile.Col)
}

func TestResolveOutOfRangeRowIsNoTile(t *testing.T) {
	r := newResolver(t, squareLayer())

	for _, row := range []int{-1, 8, 100} {
		url, err := r.ResolveTileURL(3, 0, row, "")
		assert.NoError(t, err)
		assert.Empty(t, url, "row=%d", row)
	}

	url, err := r.ResolveTileURL(9, 0, 0, "")
	assert.NoError(t, err)
	assert.Empty(t, url, "level beyond the pyramid")
}

func TestResolveTileBounds(t *testing.T) {
	for _, cfg := range []layers.TileLayerConfig{squareLayer(), rectangularLayer()} {
		r := newResolver(t, cfg)
		p := r.Pyramid()
		for level := 0; level <= 4; level++ {
			for col := -20; col <= 40; col += 3 {
				for row := -2; row <= p.Rows(level)+1; row++ {
					tile, ok, err := r.Resolve(TileRequest{Level: level, Col: col, Row: row})
					require.NoError(t, err)
					assert.GreaterOrEqual(t, tile.Col, 0)
					if !ok {
						assert.True(t, row < 0 || row >= p.Rows(level))
						continue
					}
					assert.Less(t, tile.Col, p.Cols(level))
					assert.GreaterOrEqual(t, tile.Row, 0)
					assert.Less(t, tile.Row, p.Rows(level))
				}
			}
		}
	}
}

func TestResolveTMSFlipUsesAbsoluteZoom(t *testing.T) {
	r := newResolver(t, gibsLayer(layers.DateISO))

	// level 1 + minZoom 1 = z 2: four native rows
	tile, ok, err := r.Resolve(TileRequest{Level: 1, Col: 0, Row: 0, Date: "2024-01-15"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, tile.Z)
	assert.Equal(t, 3, tile.Row)
	assert.Equal(t, "https://gibs.example/wmts/2024-01-15/GoogleMapsCompatible/2/3/0.jpg", tile.URL)
}

func TestResolveTemporalSubstitution(t *testing.T) {
	url, err := newResolver(t, gibsLayer(layers.DateISO)).ResolveTileURL(0, 0, 0, "2024-01-15")
	require.NoError(t, err)
	assert.Contains(t, url, "/2024-01-15/")

	url, err = newResolver(t, gibsLayer(layers.DateCompact)).ResolveTileURL(0, 0, 0, "2024-01-15")
	require.NoError(t, err)
	assert.Contains(t, url, "/20240115/")

	url, err = newResolver(t, gibsLayer(layers.DateSlashed)).ResolveTileURL(0, 0, 0, "20240115")
	require.NoError(t, err)
	assert.Contains(t, url, "/2024/01/15/")
}

func TestResolveTemporalRequiresDate(t *testing.T) {
	r := newResolver(t, gibsLayer(layers.DateISO))

	url, err := r.ResolveTileURL(0, 0, 0, "")
	require.Error(t, err)
	assert.Empty(t, url)
	assert.True(t, errors.Is(err, ErrDateRequired))
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.NotContains(t, err.Error(), "https://")

	_, err = r.ResolveTileURL(0, 0, 0, "January 15")
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = r.ResolveTileURL(0, 0, 0, "1999-01-01")
	assert.True(t, errors.Is(err, ErrConfiguration), "date before the range start")
}

func TestResolveLeavesUnknownTokens(t *testing.T) {
	// Validation rejects unknown tokens, so build the pyramid by hand
	cfg := squareLayer().WithDefaults()
	cfg.URLTemplate = "https://tiles.example/{z}/{y}/{x}.jpg?key={apikey}"
	r, err := NewResolver(&VirtualPyramid{Layer: cfg, Generation: 1, LevelCount: cfg.LevelCount()})
	require.NoError(t, err)

	url, err := r.ResolveTileURL(1, 1, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.example/1/1/1.jpg?key={apikey}", url)
}
