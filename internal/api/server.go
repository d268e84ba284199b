package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/middleware"
	"github.com/claim-automation-server/internal/notify"
	"github.com/claim-automation-server/internal/service"
)

// HealthFunc reports whether the backing stores are reachable.
type HealthFunc func(ctx context.Context) error

// Deps are the components the HTTP server exposes.
type Deps struct {
	Core   *service.Core
	Hub    *notify.Hub
	Health HealthFunc
	Logger *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	core          *service.Core
	hub           *notify.Hub
	health        HealthFunc
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Deps) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		core:          deps.Core,
		hub:           deps.Hub,
		health:        deps.Health,
		logger:        deps.Logger,
		router:        router,
	}

	// Setup routes
	server.setupRoutes(cfg.Auth)

	return server
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(auth domain.AuthConfig) {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Attribution(middleware.AttributionConfig{
		Secret: []byte(auth.JWTSecret),
		Issuer: auth.Issuer,
	}))
	v1.Use(middleware.AuditLogger())
	{
		claims := v1.Group("/claims")
		claims.POST("/generate", s.handleGenerateClaim)
		claims.GET("/:id", s.handleGetClaim)
		claims.POST("/:id/advance", s.handleAdvanceWorkflow)
		claims.PUT("/:id/narrative", s.handleUpdateNarrative)
		claims.POST("/:id/submit", s.handleSubmit)
		claims.POST("/:id/under-review", s.handleMarkUnderReview)
		claims.POST("/:id/outcome", s.handleRecordOutcome)
		claims.POST("/:id/paid", s.handleMarkPaid)
		claims.POST("/:id/resubmit", s.handleAutoResubmit)
		claims.POST("/:id/escalate", s.handleEscalate)
		claims.GET("/:id/warnings", s.handleClaimWarnings)

		monitoring := v1.Group("/monitoring")
		monitoring.GET("/attention", s.handleScanForAttention)
		monitoring.POST("/sweep", s.handleRunSweep)

		v1.GET("/templates/best", s.handleGetBestTemplate)

		if s.hub != nil {
			v1.GET("/ws/notifications", s.handleNotificationFeed)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	body := gin.H{"timestamp": time.Now().UTC()}

	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
	}
	if s.hub != nil {
		body["websocket_clients"] = s.hub.ClientCount()
	}
	body["status"] = status
	c.JSON(code, body)
}

// respondError maps err onto the API error shape. Internal errors are logged
// with the correlation id so they can be found from the response.
func (s *Server) respondError(c *gin.Context, err error) {
	apiErr := domain.ToAPIError(err, c.GetString(middleware.CorrelationIDKey))
	if apiErr.Status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": apiErr.RequestID,
			"path":           c.FullPath(),
			"error":          err,
		}).Error("Request failed")
	}
	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Correlation-ID, X-User-ID, X-User-Role")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
