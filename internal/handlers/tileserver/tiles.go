package tileserver

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// Tile results, used as metric labels
const (
	resultHit         = "hit"
	resultMiss        = "miss"
	resultNoTile      = "no_tile"
	resultRateLimited = "rate_limited"
	resultUpstreamErr = "upstream_error"
)

// 1x1 transparent PNG, scaled by the renderer to the tile size
var transparentPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00,
	0x01, 0x03, 0x00, 0x00, 0x00, 0x66, 0xbc, 0x3a, 0x25, 0x00, 0x00, 0x00,
	0x03, 0x50, 0x4c, 0x54, 0x45, 0x00, 0x00, 0x00, 0xa7, 0x7a, 0x3d, 0xda,
	0x00, 0x00, 0x00, 0x01, 0x74, 0x52, 0x4e, 0x53, 0x00, 0x40, 0xe6, 0xd8,
	0x66, 0x00, 0x00, 0x00, 0x1f, 0x49, 0x44, 0x41, 0x54, 0x68, 0xde, 0xed,
	0xc1, 0x01, 0x0d, 0x00, 0x00, 0x00, 0xc2, 0xa0, 0xf7, 0x4f, 0x6d, 0x0e,
	0x37, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xbe, 0x0d,
	0x21, 0x00, 0x00, 0x01, 0x9a, 0x60, 0xe1, 0xd5, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type tileParams struct {
	viewport   string
	generation uint64
	level      int
	col        int
	row        int
}

func parseTileParams(c echo.Context) (tileParams, error) {
	p := tileParams{viewport: c.Param("viewport")}

	var err error
	if p.generation, err = strconv.ParseUint(c.Param("generation"), 10, 64); err != nil {
		return p, fmt.Errorf("invalid generation")
	}
	if p.level, err = strconv.Atoi(c.Param("level")); err != nil {
		return p, fmt.Errorf("invalid level")
	}
	if p.col, err = strconv.Atoi(c.Param("col")); err != nil {
		return p, fmt.Errorf("invalid column")
	}
	if p.row, err = strconv.Atoi(c.Param("row")); err != nil {
		return p, fmt.Errorf("invalid row")
	}
	return p, nil
}

// handleTile serves one tile of a viewport's pyramid generation
// URL format: /tiles/{viewport}/{generation}/{level}/{col}/{row}
func (s *Server) handleTile(c echo.Context) error {
	p, err := parseTileParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Stale generations, rows outside the pyramid and per-tile problems are all "no tile"
	url, layerID, ok := s.resolver.ResolveTile(p.viewport, p.generation, p.level, p.col, p.row)
	if !ok {
		s.metrics.tiles.WithLabelValues(resultNoTile).Inc()
		return c.NoContent(http.StatusNoContent)
	}

	// Check cache first
	if s.tileCache != nil {
		if entry, found := s.tileCache.Get(url); found {
			s.metrics.tiles.WithLabelValues(resultHit).Inc()
			return s.serveTile(c, entry.ContentType, entry.Data, "HIT")
		}
	}

	if s.limiter.IsRateLimited(layerID) {
		s.metrics.tiles.WithLabelValues(resultRateLimited).Inc()
		return s.serveTransparentTile(c)
	}

	data, contentType, status, err := s.fetchUpstream(c, url)
	if err != nil {
		log.Printf("[TileServer] Failed to fetch tile for %s: %v", layerID, err)
		s.metrics.tiles.WithLabelValues(resultUpstreamErr).Inc()
		return c.NoContent(http.StatusBadGateway)
	}
	if s.limiter.CheckStatus(layerID, status) {
		s.metrics.tiles.WithLabelValues(resultRateLimited).Inc()
		return s.serveTransparentTile(c)
	}

	// The viewport moved on to another pyramid while the tile was in flight
	if !s.resolver.IsCurrent(p.viewport, p.generation) {
		s.metrics.tiles.WithLabelValues(resultNoTile).Inc()
		return c.NoContent(http.StatusNoContent)
	}

	switch {
	case status == http.StatusNotFound:
		// Sparse services have holes; the renderer shows nothing there
		s.metrics.tiles.WithLabelValues(resultNoTile).Inc()
		return c.NoContent(http.StatusNoContent)
	case status != http.StatusOK:
		s.metrics.tiles.WithLabelValues(resultUpstreamErr).Inc()
		return c.NoContent(http.StatusBadGateway)
	}

	// Cache the tile
	if s.tileCache != nil {
		s.tileCache.Set(url, layerID, contentType, data)
	}
	s.metrics.tiles.WithLabelValues(resultMiss).Inc()
	return s.serveTile(c, contentType, data, "MISS")
}

// fetchUpstream fetches a tile, returning the body only for 200 responses
func (s *Server) fetchUpstream(c echo.Context, url string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	s.metrics.upstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	s.metrics.upstreamStatus.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to read tile: %w", err)
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = contentTypeFromPath(url)
	}
	return data, contentType, resp.StatusCode, nil
}

func (s *Server) serveTile(c echo.Context, contentType string, data []byte, cacheStatus string) error {
	h := c.Response().Header()
	h.Set("Cache-Control", "public, max-age=86400")
	h.Set("X-Cache-Status", cacheStatus)
	return c.Blob(http.StatusOK, contentType, data)
}

// serveTransparentTile serves an empty tile while the upstream service is throttling
func (s *Server) serveTransparentTile(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Tile-Status", "rate-limited")
	return c.Blob(http.StatusOK, "image/png", transparentPNG)
}

func contentTypeFromPath(url string) string {
	switch path.Ext(url) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}
