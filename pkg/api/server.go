// Package api exposes the orchestration core over HTTP and WebSocket.
// Handlers validate at the boundary and delegate to the swarm engine, the
// trace store and the event bus; no orchestration logic lives here.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/warrenet/nebula/pkg/bus"
	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/metrics"
	"github.com/warrenet/nebula/pkg/store"
	"github.com/warrenet/nebula/pkg/swarm"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	engine     *swarm.Engine
	traces     *store.Store
	events     *bus.Bus
	metrics    *metrics.Registry
}

// NewServer creates the API server with all core dependencies injected.
func NewServer(cfg *config.Config, engine *swarm.Engine, traces *store.Store, events *bus.Bus, reg *metrics.Registry) *Server {
	s := &Server{
		echo:    echo.New(),
		cfg:     cfg,
		engine:  engine,
		traces:  traces,
		events:  events,
		metrics: reg,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Body limit sits above the 10k mission cap to allow JSON envelope
	// overhead while rejecting oversized payloads before deserialization.
	s.echo.Use(middleware.BodyLimit(64 * 1024))
	s.echo.Use(securityHeaders())

	// Per-IP rate limits; the execute endpoint is the expensive one and
	// gets a much stricter budget.
	general := newIPRateLimiter(s.cfg.GeneralRPM, s.cfg.GeneralBurst)
	execute := newIPRateLimiter(s.cfg.ExecuteRPM, s.cfg.ExecuteBurst)

	api := s.echo.Group("/api", general.middleware())

	api.POST("/mission/execute", s.executeMissionHandler, execute.middleware())
	api.POST("/mission/estimate", s.estimateHandler)
	api.GET("/mission/:traceId", s.getTraceHandler)
	api.GET("/mission/:traceId/status", s.getStatusHandler)
	api.POST("/mission/:traceId/cancel", s.cancelMissionHandler)

	api.GET("/traces", s.listTracesHandler)
	api.GET("/swarms/active", s.activeSwarmsHandler)
	api.GET("/health", s.healthHandler)

	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	s.echo.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener. Used by tests to bind
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
