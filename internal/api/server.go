// Package api provides a thin gin-based transport exercising the
// ingest and retrieval operations documented in spec §6. It mirrors the
// teacher's internal/api package (NewServer/setupRoutes/Start/Stop
// shape, the same Response envelope, the same CORS/rate-limit
// middleware wiring) narrowed to this domain's operations. A full
// JSON-RPC transport is an external collaborator per spec §1; this
// package is the ambient demo surface that keeps the teacher's
// transport idiom exercised, not a production API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mycelic/cogmem/internal/embedder"
	"github.com/mycelic/cogmem/internal/frozen"
	"github.com/mycelic/cogmem/internal/insight"
	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/ratelimit"
	"github.com/mycelic/cogmem/internal/retriever"
	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/workingset"
	"github.com/mycelic/cogmem/pkg/config"
)

var log = logging.GetLogger("api")

// Server is the thin REST transport wrapping the core components.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config

	store         *store.Store
	workingSet    *workingset.WorkingSet
	retriever     *retriever.Retriever
	frozenTier    *frozen.Tier
	insightLinker *insight.Linker
	embedder      embedder.Embedder
}

// Deps bundles the core collaborators NewServer wires into routes.
type Deps struct {
	Store         *store.Store
	WorkingSet    *workingset.WorkingSet
	Retriever     *retriever.Retriever
	FrozenTier    *frozen.Tier
	InsightLinker *insight.Linker
	Embedder      embedder.Embedder
	Limiter       *ratelimit.Limiter
}

// NewServer constructs the REST server, grounded on the teacher's
// NewServer: gin.Recovery, conditional CORS, conditional rate limiting,
// a body-size ceiling, then route registration.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		router.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:   []string{"Content-Length", "Retry-After"},
			MaxAge:          12 * time.Hour,
		}))
	}

	if deps.Limiter != nil {
		router.Use(RateLimitMiddleware(deps.Limiter))
	}

	defaultBodyLimit := MaxBodySizeMiddleware(DefaultBodyLimit)
	router.Use(func(c *gin.Context) {
		// /search carries its own larger limit (see setupRoutes); wrapping
		// its body here first would cap it at DefaultBodyLimit.
		if c.FullPath() == "/api/v1/search" {
			c.Next()
			return
		}
		defaultBodyLimit(c)
	})

	registry := prometheus.NewRegistry()
	if deps.Store != nil {
		registry.MustRegister(deps.Store.PoolSaturationGauge())
	}
	if deps.WorkingSet != nil {
		registry.MustRegister(deps.WorkingSet.PressureGauge())
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s := &Server{
		router:        router,
		cfg:           cfg,
		store:         deps.Store,
		workingSet:    deps.WorkingSet,
		retriever:     deps.Retriever,
		frozenTier:    deps.FrozenTier,
		insightLinker: deps.InsightLinker,
		embedder:      deps.Embedder,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers every handler under /api/v1, grouped by
// concern exactly as spec §6 names the operations.
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthHandler)

		v1.POST("/memories", s.createMemory)
		v1.GET("/memories/:id", s.getMemory)
		v1.DELETE("/memories/:id", s.deleteMemory)
		v1.POST("/memories/:id/migrate", s.migrateMemory)
		v1.POST("/memories/:id/freeze", s.freezeMemory)
		v1.POST("/memories/:id/unfreeze", s.unfreezeMemory)

		v1.POST("/search", MaxBodySizeMiddleware(IngestBodyLimit), s.search)

		v1.POST("/insights", s.submitInsight)
		v1.POST("/insights/:id/feedback", s.insightFeedback)
	}
}

// Router exposes the underlying gin.Engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server, blocking until it exits or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.RestAPI.Host, s.cfg.RestAPI.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	log.Info("starting REST API server", "address", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithContext runs the server until ctx is cancelled, then
// gracefully shuts it down within shutdownTimeout.
func (s *Server) StartWithContext(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.RestAPI.Host, s.cfg.RestAPI.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting REST API server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info("stopping REST API server")
	return s.httpServer.Shutdown(ctx)
}
