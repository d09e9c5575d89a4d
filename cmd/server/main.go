package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appbulk "github.com/erp/ingest/internal/application/bulk"
	appstorage "github.com/erp/ingest/internal/application/storage"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/auth"
	"github.com/erp/ingest/internal/infrastructure/cache"
	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/erp/ingest/internal/infrastructure/persistence"
	"github.com/erp/ingest/internal/infrastructure/scheduler"
	objstore "github.com/erp/ingest/internal/infrastructure/storage"
	"github.com/erp/ingest/internal/infrastructure/strategy"
	"github.com/erp/ingest/internal/infrastructure/telemetry"
	"github.com/erp/ingest/internal/interfaces/http/handler"
	"github.com/erp/ingest/internal/interfaces/http/middleware"
	"github.com/erp/ingest/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	resumeBatchSize = 500
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	base, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = base.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}

	// Telemetry
	collector := telemetry.Collector{
		Endpoint:    cfg.Telemetry.CollectorEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: serviceName,
		Version:     version,
	}
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Collector: collector,
		Enabled:   cfg.Telemetry.LogsEnabled,
	}, base)
	if err != nil {
		return fmt.Errorf("initialize log exporter: %w", err)
	}
	log := logsProvider.Bridge(base, zapcore.InfoLevel)

	log.Info("Starting ingest service",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TraceConfig{
		Collector:     collector,
		Enabled:       cfg.Telemetry.Enabled,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Collector:      collector,
		Enabled:        cfg.Telemetry.MetricsEnabled,
		ExportInterval: cfg.Telemetry.MetricsExportInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	meter := meterProvider.Meter(serviceName)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServerAddress,
		ApplicationName: serviceName,
	}, log)
	if err != nil {
		return fmt.Errorf("initialize profiler: %w", err)
	}
	if cfg.Telemetry.ProfilingEnabled && cfg.Telemetry.Enabled {
		tracerProvider.EnableSpanProfiles()
	}

	ingestMetrics, err := telemetry.NewIngestMetrics(meter)
	if err != nil {
		return fmt.Errorf("initialize ingest metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(meter)
	if err != nil {
		return fmt.Errorf("initialize http metrics: %w", err)
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	tracing := telemetry.DefaultDBTracingConfig()
	tracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTracingEnabled
	tracing.SlowQueryThresh = cfg.Telemetry.SlowQueryThreshold
	if err := telemetry.NewDBTracingPlugin(tracing, log).Register(db.DB); err != nil {
		return fmt.Errorf("register database tracing: %w", err)
	}
	dbMetrics, err := telemetry.NewDBMetrics(meter, db.SQL(), cfg.Telemetry.SlowQueryThreshold, log)
	if err != nil {
		return fmt.Errorf("initialize database metrics: %w", err)
	}
	defer dbMetrics.Stop()
	if err := db.DB.Use(dbMetrics); err != nil {
		return fmt.Errorf("register database metrics: %w", err)
	}
	log.Info("Database connected")

	// Redis is only dialled when a backend needs it
	var redisClient *redis.Client
	if cfg.Redis.Enabled || cfg.Upload.LedgerBackend == config.BackendRedis || cfg.Bulk.StatusBackend == config.BackendRedis {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}
	factory := cache.NewFactory(cache.WithLogger(log), cache.WithRedisClient(redisClient))
	ledger, err := factory.ConcurrencyLedger(cfg.Upload)
	if err != nil {
		return err
	}
	statusStore, closeStatus, err := factory.JobStatusStore(cfg.Bulk)
	if err != nil {
		return err
	}
	defer func() { _ = closeStatus() }()

	objects, err := newObjectStore(&cfg.Storage, log)
	if err != nil {
		return err
	}

	// Upload admission
	tiers := persistence.NewGormTierRepository(db.DB)
	userConfigs := persistence.NewGormUserStorageConfigRepository(db.DB)
	sessions := persistence.NewGormUploadSessionRepository(db.DB)
	registry := appstorage.NewQuotaRegistry(tiers, userConfigs,
		appstorage.WithTierCacheTTL(cfg.Upload.TierCacheTTL),
		appstorage.WithRegistryLogger(log),
	)
	admission := appstorage.NewAdmissionController(registry, ledger, ingestMetrics, log)
	orchestrator := appstorage.NewUploadOrchestrator(registry, admission, sessions, sessions, objects,
		appstorage.WithSessionTTL(cfg.Upload.SessionTTL),
		appstorage.WithLogger(log),
		appstorage.WithMetrics(ingestMetrics),
	)
	sweeper := appstorage.NewSessionSweeper(sessions, orchestrator, cfg.Upload.SweepBatchSize, log)
	sweepTask, err := scheduler.NewPeriodicTask("upload-session-sweeper", cfg.Upload.SweepInterval, sweeper.Run, log)
	if err != nil {
		return err
	}

	// Bulk processing
	bulkRepo := persistence.NewGormBulkProcessingRequestRepository(db.DB)
	strategies, err := strategy.NewRegistryWithDefaults(strategy.Dependencies{
		Sessions: sessions,
		Objects:  objects,
		Products: persistence.NewGormCatalogProductRepository(db.DB),
	})
	if err != nil {
		return fmt.Errorf("register bulk strategies: %w", err)
	}
	runner := appbulk.NewRunner(bulkRepo, strategies,
		appbulk.WithFlushEvery(cfg.Bulk.ProgressFlushRows),
		appbulk.WithRunnerMetrics(ingestMetrics),
		appbulk.WithRunnerLogger(log),
	)
	queue, err := scheduler.NewJobQueue(scheduler.QueueConfig{
		MaxConcurrentJobs: cfg.Bulk.MaxConcurrentJobs,
		QueueSize:         cfg.Bulk.QueueSize,
		JobTimeout:        cfg.Bulk.JobTimeout,
	}, runner, statusStore, log)
	if err != nil {
		return err
	}
	bulkService := appbulk.NewService(bulkRepo, sessions, queue, statusStore, log)

	// HTTP
	identity := middleware.IdentityConfig{Logger: log}
	if cfg.JWT.Enabled {
		identity.JWTService = auth.NewJWTService(cfg.JWT)
	}
	var limiter *middleware.KeyedLimiter
	if cfg.Upload.InitiateRPS > 0 {
		limiter = middleware.NewKeyedLimiter(cfg.Upload.InitiateRPS, cfg.Upload.InitiateBurst)
	}
	mode := gin.ReleaseMode
	if cfg.App.Env == "development" {
		mode = gin.DebugMode
	}

	checks := map[string]handler.Checker{
		"database": db.Ping,
		"bulk_queue": func(context.Context) error {
			if !queue.Stats().Running {
				return scheduler.ErrQueueNotRunning
			}
			return nil
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	engine, err := router.New(router.Options{
		ServiceName:      serviceName,
		Mode:             mode,
		Logger:           log,
		HTTP:             cfg.HTTP,
		Identity:         identity,
		TracingEnabled:   cfg.Telemetry.Enabled,
		ProfilingEnabled: cfg.Telemetry.ProfilingEnabled,
		Metrics:          httpMetrics,
		InitiateLimiter:  limiter,
	}, router.Handlers{
		Health:  handler.NewHealthHandler(cfg.App.Name, version, checks),
		Uploads: handler.NewUploadHandler(orchestrator, admission, registry),
		Bulk:    handler.NewBulkHandler(bulkService, router.BulkRequestsPath),
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Workers run on a context that outlives the signal so Stop can drain them
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	if err := queue.Start(workerCtx); err != nil {
		return err
	}
	if err := sweepTask.Start(workerCtx); err != nil {
		return err
	}
	if cfg.Bulk.ResumeOnStartup {
		resumed, err := bulkService.ResumePending(ctx, resumeBatchSize)
		if err != nil {
			log.Error("Failed to resume pending bulk requests", zap.Int("resumed", resumed), zap.Error(err))
		} else if resumed > 0 {
			log.Info("Resumed pending bulk requests", zap.Int("count", resumed))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			sweepTask.Stop(shutdownCtx),
			queue.Stop(shutdownCtx),
			profiler.Stop(),
			meterProvider.Shutdown(shutdownCtx),
			tracerProvider.Shutdown(shutdownCtx),
			logsProvider.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		return err
	}
	log.Info("Service stopped")
	return nil
}

func newObjectStore(cfg *config.StorageConfig, log *zap.Logger) (storage.ObjectStore, error) {
	if cfg.Stub {
		log.Warn("Using in-process stub object storage")
		return objstore.NewStubObjectStorage(cfg.Bucket), nil
	}
	s3, err := objstore.NewS3ObjectStorage(cfg, objstore.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("initialize object storage: %w", err)
	}
	return s3, nil
}
