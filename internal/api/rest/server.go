// Package rest is the read-only HTTP surface: operator login, status and
// history queries, and the websocket upgrade. Anything that moves hardware
// goes through the websocket command channel, never through REST.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/auth"
	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/control"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/monitor"
	"github.com/openmmu/printflow/internal/storage"
)

// StatusSource is the monitor's read side.
type StatusSource interface {
	Snapshot() monitor.Snapshot
}

// HistoryStore lists persisted material changes and recipes.
type HistoryStore interface {
	ListMaterialChanges(ctx context.Context, limit int) ([]storage.MaterialChangeRecord, error)
	ListRecipes(ctx context.Context, limit int) ([]storage.RecipeRecord, error)
}

// ProfileSource lists the configured actuator profiles.
type ProfileSource interface {
	All() []*actuator.Profile
}

// SystemSource reports the process lifecycle state for the health check.
type SystemSource interface {
	SystemState() string
}

// Deps are the collaborators the handlers read from. Everything is an
// interface or a read-only value; the server never mutates orchestrator
// state.
type Deps struct {
	Status   StatusSource
	History  HistoryStore
	Profiles ProfileSource
	Catalog  *materials.Catalog
	Auth     *auth.Authenticator
	Hub      *control.Hub
	System   SystemSource
}

type Server struct {
	router   *gin.Engine
	monitor  StatusSource
	history  HistoryStore
	profiles ProfileSource
	catalog  *materials.Catalog
	authn    *auth.Authenticator
	hub      *control.Hub
	system   SystemSource
	logger   *zap.Logger
	server   *http.Server
	version  string
	tokenTTL time.Duration
}

func NewServer(cfg *config.Config, deps Deps, version string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		monitor:  deps.Status,
		history:  deps.History,
		profiles: deps.Profiles,
		catalog:  deps.Catalog,
		authn:    deps.Auth,
		hub:      deps.Hub,
		system:   deps.System,
		logger:   logger.Named("rest"),
		version:  version,
		tokenTTL: cfg.Auth.AccessTokenTTL,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		// The websocket authenticates in-band with its first message, so the
		// upgrade itself is public.
		v1.GET("/ws/live", s.wsLiveConnection)

		protected := v1.Group("")
		protected.Use(s.authn.Middleware())
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/recipe", s.getRecipe)
			protected.GET("/materials", s.listMaterials)
			protected.GET("/pumps", s.listPumps)
			protected.GET("/history", s.listHistory)
			protected.GET("/recipes", s.listRecipes)
			protected.GET("/ws/status", s.wsStatus)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"system":    s.system.SystemState(),
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	control.ServeWs(s.hub, c.Writer, c.Request, s.logger)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.hub.ClientCount(),
	})
}
