// Package dashboard serves the web front end of the pattern catalog: HTML
// pages for the overview, pattern details and the relationship graph, JSON
// views of the same data and a websocket channel for live search.
//
// The dashboard holds no data of its own. Everything is read through a
// DataSource, normally a *client.Client talking to the catalog API.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/search"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/theme"
)

const (
	// DefaultGraphLimit caps the nodes of the relationship graph. Pairs are
	// scored quadratically, so the full catalog is only drawn on request.
	DefaultGraphLimit = 100
	MaxGraphLimit     = 1000
)

// DataSource is the catalog API as seen by the dashboard.
type DataSource interface {
	ListPatterns(ctx context.Context, limit, offset int) (*attack.SearchResponse, error)
	SearchPatterns(ctx context.Context, req attack.SearchRequest) (*attack.SearchResponse, error)
	GetPattern(ctx context.Context, id string) (*attack.AttackPattern, error)
	Stats(ctx context.Context) (*attack.StatsResponse, error)
	DashboardData(ctx context.Context) (*attack.SearchResponse, error)
	Health(ctx context.Context) (*attack.Health, error)
	Invalidate(ctx context.Context, tags ...string) error
}

// Exporter stores catalog exports and hands out download links.
type Exporter interface {
	PutExport(ctx context.Context, name string, data []byte) (string, error)
	DownloadLink(ctx context.Context, key string) (string, error)
}

type Server struct {
	data       DataSource
	palette    *theme.Palette
	archive    Exporter
	searchOpts []search.Option
	graphLimit int
	upgrader   websocket.Upgrader
	now        func() time.Time
}

type Option func(*Server)

func WithPalette(p *theme.Palette) Option {
	return func(s *Server) {
		s.palette = p
	}
}

// WithArchive enables POST /api/export/archive.
func WithArchive(e Exporter) Option {
	return func(s *Server) {
		s.archive = e
	}
}

// WithSearchOptions is applied to every live search session.
func WithSearchOptions(opts ...search.Option) Option {
	return func(s *Server) {
		s.searchOpts = append(s.searchOpts, opts...)
	}
}

func WithGraphLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.graphLimit = n
		}
	}
}

// WithAllowedOrigins restricts websocket upgrades to the given origins. "*"
// allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = originChecker(origins)
	}
}

func New(data DataSource, opts ...Option) *Server {
	s := &Server{
		data:       data,
		palette:    theme.Default(),
		graphLimit: DefaultGraphLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Echo builds the router with every page and endpoint registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Renderer = newRenderer(s.palette)

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())

	e.GET("/", s.indexPage)
	e.GET("/patterns/:id", s.patternPage)
	e.GET("/graph", s.graphPage)

	api := e.Group("/api")
	api.GET("/table", s.tableJSON)
	api.GET("/graph", s.graphJSON)
	api.GET("/graph.dot", s.graphDOT)
	api.GET("/graph/related/:id", s.relatedJSON)
	api.GET("/stats", s.statsJSON)
	api.GET("/theme", s.themeJSON)
	api.POST("/refresh", s.refresh)
	api.GET("/export", s.export)
	api.POST("/export/archive", s.exportArchive)

	e.GET("/health", s.health)
	e.GET("/ws/search", s.searchSocket)

	return e
}

// Run serves on addr until ctx is done, then shuts down within 10 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	e := s.Echo()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Dashboard] Starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// upstreamError writes a failed catalog call as JSON. API errors keep their
// status when it is a 404, everything else is a bad gateway.
func upstreamError(c echo.Context, err error) error {
	status := http.StatusBadGateway
	if isNotFound(err) {
		status = http.StatusNotFound
	}
	logger.Warn("[Dashboard] Catalog request failed", "path", c.Path(), "err", err)
	return c.JSON(status, attack.ErrorBody{Detail: err.Error()})
}
