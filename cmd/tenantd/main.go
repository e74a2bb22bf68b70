// Package main provides the entry point for the tenant controller daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/config"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/envfile"
	apierrors "github.com/imagicrafter/open-webui-infrastructure-sub002/internal/errors"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/handler"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/health"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/lock"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/server"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/service"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/variant"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./tenantd.yaml"
	}

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting tenant controller",
		zap.String("config_path", path),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("deployments_root", cfg.Tenants.DeploymentsRoot),
		zap.String("state_driver", cfg.State.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize state store
	var stateStore store.StateStore
	switch cfg.State.Driver {
	case "postgres":
		stateStore, err = store.NewPostgresStateStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to initialize state store", zap.Error(err))
		}
	default:
		stateStore = store.NewMemoryStateStore(logger)
	}
	defer stateStore.Close()
	logger.Info("state store initialized", zap.String("driver", cfg.State.Driver))

	// Initialize apply cache
	var applyCache store.ApplyCache
	switch cfg.Cache.Driver {
	case "redis":
		applyCache, err = store.NewRedisApplyCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to initialize apply cache", zap.Error(err))
		}
	default:
		applyCache = store.NewMemoryApplyCache(logger)
	}
	defer applyCache.Close()
	logger.Info("apply cache initialized", zap.String("driver", cfg.Cache.Driver))

	// Initialize container runtime client
	runtime, err := client.NewDockerRuntime(client.RuntimeOptions{
		CallTimeout:        cfg.Runtime.CallTimeout,
		StopTimeout:        cfg.Runtime.StopTimeout,
		HealthWaitTimeout:  cfg.Runtime.HealthWaitTimeout,
		HealthPollInterval: cfg.Runtime.HealthPollInterval,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize container runtime client", zap.Error(err))
	}
	defer runtime.Close()
	logger.Info("container runtime client initialized")

	// Load the variant catalog
	catalog, err := variant.LoadCatalog()
	if err != nil {
		logger.Fatal("failed to load variant catalog", zap.Error(err))
	}
	generator := variant.NewGenerator(catalog)
	logger.Info("variant catalog loaded", zap.Int("variants", len(catalog.Names())))

	// Initialize services
	locks := lock.New()
	fetcher := client.NewFetcher(cfg.Assets.FetchTimeout, cfg.Assets.FetchMaxBytes)

	registry := service.NewRegistryService(
		runtime,
		cfg.Tenants.DeploymentsRoot,
		cfg.Tenants.ContainerPrefix,
		cfg.Tenants.EnvFilename,
		cfg.Tenants.AssetDir,
		cfg.Tenants.DataDir,
		logger,
	)
	topology := service.NewTopologyService(registry, cfg.Assets.StaticDir, logger)

	configService, err := service.NewConfigService(registry, logger)
	if err != nil {
		logger.Fatal("failed to initialize config service", zap.Error(err))
	}

	injectDirs := []string{cfg.Assets.StaticDir, cfg.Assets.BuildDir, cfg.Assets.BuildStaticDir}
	reconciler := service.NewReconcileService(
		stateStore,
		applyCache,
		runtime,
		registry,
		topology,
		generator,
		locks,
		m,
		cfg.Cache.ApplyTTL,
		cfg.Assets.ApplyTimeout,
		injectDirs,
		logger,
	)
	assetService := service.NewAssetService(stateStore, registry, reconciler, generator, fetcher, logger)
	migrationService := service.NewMigrationService(
		stateStore,
		runtime,
		registry,
		configService,
		locks,
		m,
		cfg.Migration.BackupRoot,
		cfg.Migration.CopyConcurrency,
		cfg.Migration.SpaceFactor,
		logger,
	)

	logger.Info("services initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Finish any cutover interrupted by a previous crash before accepting
	// new work.
	if err := migrationService.ResumeIncomplete(ctx); err != nil {
		logger.Error("failed to resume incomplete cutovers", zap.Error(err))
	}

	// Start the reconcile dispatcher and the container event watcher
	dispatcher := service.NewDispatcher(reconciler, m, cfg.Watcher.QueueSize, cfg.Watcher.Workers, logger)
	dispatcher.Start(ctx)

	watcher := service.NewWatcherService(
		runtime,
		registry,
		stateStore,
		dispatcher,
		m,
		cfg.Watcher.BackoffMin,
		cfg.Watcher.BackoffMax,
		logger,
	)
	watcher.Resync(ctx)
	watcher.Start(ctx)
	logger.Info("event watcher started")

	// Watch tenant override files so hand edits are revalidated immediately
	envWatcher, err := envfile.NewWatcher(
		cfg.Tenants.DeploymentsRoot,
		cfg.Tenants.EnvFilename,
		func(path string) {
			m.RecordOverrideFileEdit()
			configService.RevalidateFile(path)
		},
		logger,
	)
	if err != nil {
		logger.Warn("override file watcher disabled", zap.Error(err))
	} else {
		go envWatcher.Run()
		logger.Info("override file watcher started")
	}

	// Start metrics server if enabled
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Initialize HTTP server
	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(
		registry,
		topology,
		assetService,
		configService,
		migrationService,
		errorHandler,
		cfg.Server.RequestTimeout,
		cfg.Assets.ApplyTimeout,
		logger,
	)
	healthCheck := health.NewHealthCheck(stateStore, applyCache, runtime, m, logger)
	httpServer := server.NewServer(cfg, handlers, healthCheck, m, logger)
	httpServer.SetupRoutes()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	m.SetHealthStatus(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if err := watcher.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("event watcher stop", zap.Error(err))
	}
	if err := dispatcher.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("dispatcher stop", zap.Error(err))
	}
	if envWatcher != nil {
		envWatcher.Stop()
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("tenant controller stopped")
}

// initLogger initializes the zap logger from the logging configuration.
func initLogger(lc config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch lc.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if lc.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
