package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/socialpilot/internal/adapters/badger"
	"github.com/manthysbr/socialpilot/internal/adapters/duckdb"
	"github.com/manthysbr/socialpilot/internal/adapters/platform"
	appconfig "github.com/manthysbr/socialpilot/internal/config"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/services"
	"github.com/manthysbr/socialpilot/pkg/kernel"
)

func main() {
	configPath := flag.String("config", os.Getenv("PILOT_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := appconfig.LoadKernelConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger.Info("starting socialpilot kernel", "data_dir", cfg.DataDir)

	if err := run(logger, cfg); err != nil {
		logger.Error("kernel stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *appconfig.KernelConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Adapters
	repo, err := duckdb.NewRepository(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	claims, err := badger.Open(cfg.ClaimsPath(), logger)
	if err != nil {
		return err
	}
	defer claims.Close()

	secretKey, err := appconfig.NewSecretKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}
	owners := appconfig.NewOwnerVault(repo, secretKey)

	settingsStore, err := appconfig.NewSettingsStore(ctx, logger, repo)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}
	settingsStore.OnChange(func(c *domain.AppConfig) {
		logger.Info("runtime settings reloaded", "default_plan", c.DefaultPlan)
	})

	clients := platform.NewFactory(platform.Config{
		BaseURL:     cfg.Platform.BaseURL,
		Version:     cfg.Platform.Version,
		Timeout:     cfg.Platform.Timeout.Duration,
		RateLimit:   cfg.Platform.RateLimit,
		MaxAttempts: cfg.Platform.MaxAttempts,
	}, logger)

	// Core services
	eventBus := services.NewEventBus(logger)
	emitter := services.NewEmitter(logger, eventBus, repo)

	registry := services.NewActionRegistry(services.ActionDeps{
		Logger:   logger,
		Quota:    services.NewQuotaGuard(repo, settingsStore),
		Claims:   claims,
		Dedupe:   repo,
		Emitter:  emitter,
		ClaimTTL: cfg.Claims.TTL.Duration,
	})

	queue := services.NewJobQueue(logger, services.QueueConfig{
		MaxConcurrentJobs: cfg.Workers.MaxConcurrentJobs,
		Capacity:          cfg.Workers.QueueCapacity,
	})
	jobService := services.NewJobService(logger, repo, queue, registry, emitter)

	scheduler := services.NewScenarioScheduler(logger, jobService)
	scenarioService := services.NewScenarioService(logger, repo, owners, registry, scheduler, jobService)
	scenarioExec := services.NewScenarioExecutor(logger, repo, registry, services.NewConditionEvaluator(), claims, settingsStore, emitter)

	runner := services.NewJobRunner(services.RunnerDeps{
		Logger:      logger,
		Queue:       queue,
		Jobs:        repo,
		Owners:      owners,
		Limits:      settingsStore,
		Clients:     clients,
		Registry:    registry,
		Scenarios:   scenarioExec,
		Automations: scenarioService,
		Emitter:     emitter,
	})

	if err := jobService.Recover(ctx); err != nil {
		logger.Error("job recovery incomplete", "error", err)
	}
	if err := scenarioService.Sync(ctx); err != nil {
		logger.Error("scenario schedule sync incomplete", "error", err)
	}

	apiServer, err := kernel.NewServer(ctx, logger, kernel.Deps{
		Jobs:          jobService,
		Scenarios:     scenarioService,
		Owners:        owners,
		Notifications: repo,
		Registry:      registry,
		Settings:      settingsStore,
		Events:        eventBus,
	})
	if err != nil {
		return err
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           c.Handler(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(gCtx)
	})

	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	g.Go(func() error {
		return claims.RunGC(gCtx, cfg.Claims.GCInterval.Duration)
	})

	g.Go(func() error {
		logger.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
