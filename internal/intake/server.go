package intake

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/ratelimit"
)

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CORSOrigins is the browser origin allowlist for the triage API; empty
	// refuses cross-origin requests
	CORSOrigins []string
}

// Server wraps the HTTP server
type Server struct {
	config     ServerConfig
	authConfig AuthConfig
	handler    *Handler
	limiter    *ratelimit.Limiter
	httpServer *http.Server
}

// NewServer creates a new intake API server
func NewServer(cfg ServerConfig, authCfg AuthConfig, handler *Handler, limiter *ratelimit.Limiter) *Server {
	return &Server{
		config:     cfg,
		authConfig: authCfg,
		handler:    handler,
		limiter:    limiter,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(Recovery())
	router.Use(Logger())
	router.Use(SetupCORS(s.config.CORSOrigins))

	SetupRoutes(router, s.handler, s.authConfig, s.limiter)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting intake server",
		zap.String("address", addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down intake server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}

// SetupRoutes configures all intake routes
func SetupRoutes(router *gin.Engine, handler *Handler, authCfg AuthConfig, limiter *ratelimit.Limiter) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// Push provider hook. GET carries the subscription challenge; POST
	// carries notification batches (and may also carry a challenge). The
	// rate limit is per source address.
	hooks := router.Group("/hooks", RateLimit(limiter))
	hooks.GET("/confirmations", handler.HandlePushValidation)
	hooks.POST("/confirmations", handler.HandlePush)

	// Triage API (requires authentication)
	v1 := router.Group("/api/v1")
	v1.Use(Auth(authCfg))
	{
		// Wildcard because external keys contain slashes
		v1.GET("/ingestions/*key", handler.GetIngestion)
		v1.GET("/decisions", handler.ListDecisions)
	}
}
