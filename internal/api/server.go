// Package api implements the admin HTTP API: session status, lifecycle
// control, and key-queue management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/db"
	"github.com/shepherd-project/shepherd/internal/session"
)

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	queue    *db.KeyQueue

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, registry *session.Registry, queue *db.KeyQueue) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
	}
}

// Start builds the router and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if origins := s.cfg.API.AllowedOrigins; len(origins) > 0 {
		corsCfg.AllowOrigins = origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE"}
	s.router.Use(cors.New(corsCfg))

	s.registerRoutes()

	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
