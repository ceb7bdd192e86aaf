package tileserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"stellarcanvas-desktop/internal/layers"
)

// handleLayers lists the registered layers, optionally filtered by ?body=
func (s *Server) handleLayers(c echo.Context) error {
	list := s.layers.List()
	if body := c.QueryParam("body"); body != "" {
		list = lo.Filter(list, func(l layers.TileLayerConfig, _ int) bool {
			return strings.EqualFold(l.Body, body)
		})
	}
	return c.JSON(http.StatusOK, list)
}

// handleLayer returns one layer config
func (s *Server) handleLayer(c echo.Context) error {
	cfg, err := s.layers.Get(c.Param("id"))
	if errors.Is(err, layers.ErrLayerNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

type healthResponse struct {
	Status       string   `json:"status"`
	Layers       int      `json:"layers"`
	CacheEntries int      `json:"cacheEntries"`
	RateLimited  []string `json:"rateLimited"`
}

// handleHealth reports that the proxy is up
func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:      "ok",
		Layers:      len(s.layers.List()),
		RateLimited: s.limiter.LimitedLayers(),
	}
	if s.tileCache != nil {
		resp.CacheEntries = s.tileCache.Stats().Entries
	}
	return c.JSON(http.StatusOK, resp)
}
