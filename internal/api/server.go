package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phqovo/slimming/internal/config"
	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/metrics"
	"github.com/phqovo/slimming/internal/mihealth"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/store"
	syncrun "github.com/phqovo/slimming/internal/sync"
)

// SyncService is the orchestrator surface the API needs.
type SyncService interface {
	RunSync(ctx context.Context, req syncrun.Request) syncrun.Result
	Status(userID int64, dataSource string, category models.Category) bool
}

// JobRegistry mirrors config changes into the scheduler.
type JobRegistry interface {
	UpsertJob(cfg *models.SyncJobConfig)
	RemoveJob(configID string)
	Jobs() int
}

// Binder performs the platform login handshake for credential binding.
type Binder interface {
	Login(ctx context.Context, username, password string) (*mihealth.Session, error)
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	store      store.Store
	syncSvc    SyncService
	jobs       JobRegistry
	binder     Binder
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics returns the server's metrics collector so callers can wire it
// into the sync pipeline.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, st store.Store, svc SyncService, jobs JobRegistry, binder Binder) *Server {
	gin.SetMode(gin.ReleaseMode)

	m := metrics.NewMetrics("slimming")
	logger := logging.NewLogger()

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 50
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		store:     st,
		syncSvc:   svc,
		jobs:      jobs,
		binder:    binder,
		metrics:   m,
		logger:    logger,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	v1 := s.router.Group(s.apiConfig.BasePath)
	v1.Use(authMiddleware)
	{
		v1.POST("/sync/trigger", s.handleTriggerSync)
		v1.GET("/sync/status", s.handleSyncStatus)
		v1.GET("/sync/runs", s.handleListRunLogs)
		v1.GET("/sync/runs/:id", s.handleGetRunLog)

		v1.GET("/sync-configs", s.handleListSyncConfigs)
		v1.POST("/sync-configs", s.handleCreateSyncConfig)
		v1.GET("/sync-configs/:id", s.handleGetSyncConfig)
		v1.PUT("/sync-configs/:id", s.handleUpdateSyncConfig)
		v1.DELETE("/sync-configs/:id", s.handleDeleteSyncConfig)

		v1.POST("/auth/bind", s.handleBind)
		v1.POST("/auth/verify", s.handleVerify)
		v1.DELETE("/auth/bind", s.handleUnbind)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return &errors.ErrServerShutdown{Err: err}
	}
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
