// Package api exposes the HTTP surface: the provider webhook endpoint, a
// routing diagnostics endpoint, and a small JWT-guarded admin API over the
// agent registry.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/convoflow/internal/config"
	"github.com/convoflow/internal/ingest"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/registry"
	"github.com/convoflow/internal/router"
)

// Ingestor processes one webhook delivery
type Ingestor interface {
	Ingest(ctx context.Context, payload []byte, idempotencyKey string) (*ingest.Result, error)
}

// Responder routes a diagnostic turn without touching storage
type Responder interface {
	Route(ctx context.Context, turn router.Turn) (*router.Result, error)
}

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	ingestor  Ingestor
	responder Responder
	agents    *registry.Registry
	log       zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, ingestor Ingestor, responder Responder, agents *registry.Registry) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		cfg:       cfg,
		ingestor:  ingestor,
		responder: responder,
		agents:    agents,
		log:       logging.Component("api"),
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// Provider deliveries
	s.echo.POST("/webhooks/channel", s.ChannelWebhookHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/diagnostics/route", s.DiagnosticsRouteHandler)

	admin := v1.Group("", RequireAdmin(s.cfg.Auth.JWTSecret))
	admin.GET("/agents", s.listAgents)
	admin.GET("/agents/:key", s.getAgent)
	admin.POST("/agents/refresh", s.refreshAgents)
}

// Start begins the API server and blocks until an interrupt, then shuts
// down gracefully.
func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
