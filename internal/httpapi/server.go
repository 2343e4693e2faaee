// Package httpapi exposes a read-only introspection surface over the event
// store: external tooling can list sessions and inspect a
// session's current state or raw event log without ever mutating it. Built
// on gin, matching the router/handler split used across the pack's HTTP
// services.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"deepresearch/internal/core/ports"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server wraps a gin.Engine bound to an *http.Server with the pack's
// standard timeouts, so it can be started and shut down from main like any
// other long-running component.
type Server struct {
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// New builds the read-only API. addr is the listen address, e.g. ":8090".
func New(store ports.EventStore, addr string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	h := &handler{store: store, log: log}
	engine.GET("/healthz", h.health)
	sessions := engine.Group("/sessions")
	{
		sessions.GET("", h.listSessions)
		sessions.GET("/:id", h.getSession)
		sessions.GET("/:id/events", h.getEvents)
	}

	return &Server{
		log: log,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run starts the server and blocks until it exits with an error other than
// http.ErrServerClosed.
func (s *Server) Run() error {
	s.log.Infow("http introspection api starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to the given context's
// deadline for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
