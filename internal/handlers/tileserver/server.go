// Package tileserver runs the local HTTP proxy the frontend loads tiles from.
// Tile URLs carry the viewport and pyramid generation, so tiles of a discarded
// pyramid are refused here before anything is fetched upstream, and again
// when the pyramid is replaced while the fetch is in flight.
package tileserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"stellarcanvas-desktop/internal/cache"
	"stellarcanvas-desktop/internal/layers"
	"stellarcanvas-desktop/internal/ratelimit"
)

// TileResolver resolves the tiles of a viewport's current pyramid
type TileResolver interface {
	// ResolveTile returns the upstream URL of a tile and the id of its layer
	ResolveTile(viewportID string, generation uint64, level, col, row int) (url, layerID string, ok bool)
	IsCurrent(viewportID string, generation uint64) bool
}

// LayerSource lists the layers the viewer knows
type LayerSource interface {
	List() []layers.TileLayerConfig
	Get(id string) (layers.TileLayerConfig, error)
}

// Server manages the tile server HTTP server
type Server struct {
	resolver      TileResolver
	layers        LayerSource
	tileCache     *cache.TileCache
	limiter       *ratelimit.Handler
	client        *http.Client
	metrics       *metrics
	echo          *echo.Echo
	httpServer    *http.Server
	tileServerURL string
	userAgent     string
}

// Options configures a server
type Options struct {
	// Client fetches upstream tiles; nil uses a client with a 20s timeout
	Client *http.Client
	// TileCache may be nil to disable caching
	TileCache *cache.TileCache
	// Limiter may be nil to disable rate-limit tracking
	Limiter   *ratelimit.Handler
	UserAgent string
}

// NewServer creates a new tile server instance
func NewServer(resolver TileResolver, layerSource LayerSource, opts Options) *Server {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewHandler(nil)
		limiter.SetAutoRetry(false)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "StellarCanvas-Desktop/1.0"
	}

	s := &Server{
		resolver:  resolver,
		layers:    layerSource,
		tileCache: opts.TileCache,
		limiter:   limiter,
		client:    client,
		metrics:   newMetrics(),
		userAgent: userAgent,
	}
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goJSONSerializer{}

	e.Use(middleware.Recover())
	// Allow all origins (needed for wails://wails on macOS/Linux)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/tiles/:viewport/:generation/:level/:col/:row", s.handleTile)
	e.GET("/viewer/layers", s.handleLayers)
	e.GET("/viewer/layers/:id", s.handleLayer)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.metrics.handler()))
	return e
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.echo
}

// GetTileServerURL returns the tile server URL
func (s *Server) GetTileServerURL() string {
	return s.tileServerURL
}

// TileURLTemplate returns the URL template a surface uses for one pyramid generation
func (s *Server) TileURLTemplate(viewportID string, generation uint64) string {
	return fmt.Sprintf("%s/tiles/%s/%d/{level}/{col}/{row}", s.tileServerURL, viewportID, generation)
}

// Limiter returns the rate-limit tracker used for upstream requests
func (s *Server) Limiter() *ratelimit.Handler {
	return s.limiter
}

// Start starts the local HTTP server on a random loopback port
func (s *Server) Start() error {
	// Listen on a random available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	s.tileServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	log.Printf("[TileServer] Started on %s", s.tileServerURL)

	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[TileServer] Stopped: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop tile server: %w", err)
	}
	return nil
}
