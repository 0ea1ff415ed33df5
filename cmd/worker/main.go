package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/cache"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/jobstatus"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/reconcile"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/webhook"
)

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

	baseLogger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := baseLogger.WithComponent("worker").WithWorkerID(uuid.New().String())

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer closer.Close()

	// Create context with cancellation on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

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

	var (
		redisCache  *cache.Cache
		statusCache jobstatus.Cache
		locker      reconcile.Locker
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewCache(cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisCache.Close()
		statusCache = redisCache
		locker = redisCache
	}

	notifier := webhook.NewService(cfg.Webhook, logger)
	defer notifier.Wait()

	recorder := jobstatus.NewRecorder(repo, statusCache, notifier, logger)

	// Initialize transcoder service
	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder)
	transcoderService := transcoder.NewService(cfg.Transcoder, ffmpeg, stor, recorder, logger)
	worker := transcoder.NewWorker(transcoderService, q, recorder, cfg.Transcoder, logger)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()

		go monitoring.NewMonitor(q, 15*time.Second, logger).Start(ctx)
	}

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.NewSweeper(cfg.Reconcile, repo, stor, locker, logger)
		go sweeper.Start(ctx)
	}

	// Start consuming jobs
	if err := q.ConsumeJobs(ctx, worker.Handle); err != nil {
		logger.WithError(err).Fatal("Failed to consume jobs")
	}
	logger.Infof("Worker started with %s strategy, waiting for jobs...", transcoderService.Strategy())

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Shutting down worker gracefully...")

	// The in-flight job is cancelled and requeued before the channel closes
	q.Wait()
	logger.Info("Worker stopped")
}
