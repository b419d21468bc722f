package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/api/handlers"
	"catalogsync/internal/api/middleware"
	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/importer"
	"catalogsync/internal/jobs"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/staging"
	"catalogsync/internal/syncer"

	"github.com/gin-gonic/gin"
)

// Deps are the engines the HTTP layer exposes.
type Deps struct {
	Store    catalog.Store
	Mapper   *mapping.Mapper
	Staging  *staging.Store
	Ledger   *jobs.Ledger
	Importer *importer.Orchestrator
	Engine   *syncer.Engine
	Pusher   *syncer.Pusher
	// Queue is optional. When set, push requests may be handed to the worker.
	Queue handlers.Enqueuer
}

type Server struct {
	config *config.Config
	logger *logger.Logger
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, logger *logger.Logger, deps Deps) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Initialize handlers
	importHandler := handlers.NewImportHandler(deps.Importer, deps.Staging, deps.Ledger, logger)
	syncHandler := handlers.NewSyncHandler(deps.Engine, deps.Pusher, deps.Queue, logger)
	mappingHandler := handlers.NewMappingHandler(deps.Mapper, logger)
	productHandler := handlers.NewProductHandler(deps.Store, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Routes
	v1 := router.Group("/api/v1")
	{
		admin := v1.Group("", middleware.BearerToken(cfg.AdminToken))

		// Import
		imports := admin.Group("/import")
		{
			imports.POST("/fetch", importHandler.Fetch)
			imports.POST("/start", importHandler.Start)
			imports.GET("/progress", importHandler.Progress)
			imports.POST("/cancel", importHandler.Cancel)
			imports.POST("/batch", importHandler.Batch)
			imports.GET("/failed", importHandler.Failed)
			imports.POST("/failed/retry", importHandler.RetryFailed)
			imports.GET("/jobs", importHandler.Jobs)
		}

		// On-demand sync
		sync := admin.Group("/sync")
		{
			sync.POST("/products/:id", syncHandler.Product)
			sync.POST("/variations/:id", syncHandler.Variation)
		}

		// Mappings
		mappings := admin.Group("/mappings")
		{
			mappings.GET("/attributes", mappingHandler.ListAttributes)
			mappings.POST("/attributes", mappingHandler.SaveAttribute)
			mappings.GET("/categories", mappingHandler.ListCategories)
			mappings.POST("/categories", mappingHandler.SaveCategory)
		}

		// Products
		products := admin.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
		}

		// Push
		v1.POST("/push/sync", middleware.BearerToken(cfg.PushSecret), syncHandler.Push)
	}

	return &Server{
		config: cfg,
		logger: logger,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on %s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}
