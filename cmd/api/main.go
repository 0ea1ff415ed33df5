package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/cache"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/ingest"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/jobstatus"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/middleware"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/origin"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/tracing"
)

type API struct {
	db     *database.DB
	cache  *cache.Cache
	logger *logging.Logger
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger = logger.WithComponent("api")

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
	}

	repo := database.NewRepository(db)

	// Initialize storage
	stor, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to queue")
	}
	defer q.Close()

	// The job cache is optional; interfaces stay nil without it
	var (
		redisCache  *cache.Cache
		jobCache    ingest.JobCache
		statusCache jobstatus.Cache
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewCache(cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisCache.Close()
		jobCache = redisCache
		statusCache = redisCache
	}

	ingestService := ingest.NewService(cfg.Ingest, repo, stor, q, jobCache, logger)
	reader := jobstatus.NewReader(repo, statusCache, logger)

	api := &API{db: db, cache: redisCache, logger: logger}

	router := setupRouter(cfg, api, ingestService, reader, stor, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

func setupRouter(cfg *config.Config, api *API, ingestService *ingest.Service, reader *jobstatus.Reader, stor *storage.Storage, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	var writes []gin.HandlerFunc
	if cfg.Auth.Enabled {
		writes = append(writes, middleware.JWTAuth(cfg.Auth.JWTSecret))
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go limiter.Cleanup(context.Background(), 10*time.Minute)
		writes = append(writes, middleware.RateLimit(limiter))
	}

	// API routes
	v1 := router.Group("/api/v1")
	ingest.NewHandler(ingestService, logger).Register(v1, writes...)
	jobstatus.NewHandler(reader, logger).Register(v1)

	// Playback
	origin.NewHandler(stor, cfg.Stream, logger).Register(router)

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Check database health
	if err := api.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	if api.cache != nil {
		if err := api.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
