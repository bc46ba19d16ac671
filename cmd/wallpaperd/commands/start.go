package commands

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/api"
	"github.com/wallpaperd/wallpaperd/pkg/api/handlers"
	"github.com/wallpaperd/wallpaperd/pkg/consumer"
	"github.com/wallpaperd/wallpaperd/pkg/events/natsbus"
	"github.com/wallpaperd/wallpaperd/pkg/metrics"
	promMetrics "github.com/wallpaperd/wallpaperd/pkg/metrics/prometheus"
	"github.com/wallpaperd/wallpaperd/pkg/probe"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/reconcile"
	s3store "github.com/wallpaperd/wallpaperd/pkg/store/object/s3"
	"github.com/wallpaperd/wallpaperd/pkg/upload"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wallpaperd service",
	Long: `Start the ingestion service: metadata store, object store, event bus,
rate limiter, reconciler loops and the operational HTTP server.

Examples:
  # Start with environment configuration
  DATABASE_URL=postgres://... S3_BUCKET=wallpapers wallpaperd start

  # Start with a config file
  wallpaperd start --config /etc/wallpaperd/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.System()

	logger.Info("Starting wallpaperd", "version", Version)

	// Metadata store (runs schema migration on open).
	metaStore, err := store.New(&cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer metaStore.Close()

	// Object store.
	cfg.S3.Metrics = promMetrics.NewObjectStoreMetrics()
	s3Client, err := s3store.NewClient(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to create object store client: %w", err)
	}
	objects, err := s3store.New(ctx, s3Client, cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	defer objects.Close()

	// Event bus.
	bus, err := natsbus.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer bus.Close()

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		limiter = ratelimit.NewRedis(goredis.NewClient(opts), cfg.RateLimit.Config, clk)
		logger.Info("Rate limiter using redis", "max", cfg.RateLimit.Max, "window", cfg.RateLimit.Window)
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimit.Config, clk)
		logger.Warn("Rate limiter using in-process windows, counters are per-instance")
	}
	limiter = ratelimit.Instrument(limiter, promMetrics.NewRateLimitMetrics())
	defer limiter.Close()

	// Upload orchestrator.
	orchestrator, err := upload.New(upload.Config{
		Store:         metaStore,
		Objects:       objects,
		Bus:           bus,
		Limiter:       limiter,
		Prober:        probe.New(),
		Policy:        cfg.Upload.Policy,
		Clock:         clk,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		Metrics:       promMetrics.NewUploadMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to create upload orchestrator: %w", err)
	}

	// Reconciler.
	reconciler := reconcile.New(metaStore, objects, bus, clk, cfg.Reconcile, promMetrics.NewReconcilerMetrics())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	// Optional in-process read-model consumer.
	if cfg.Consumer.Enabled {
		readModel, err := consumer.NewReadModel(metaStore.DB())
		if err != nil {
			return fmt.Errorf("failed to create read model consumer: %w", err)
		}
		runner, err := consumer.NewRunner(bus.JetStream(), bus.Stream(), cfg.Consumer.Config, readModel.Handle)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Consumer failed", logger.KeyError, err)
			}
		}()
	}

	// Operational HTTP server.
	health := handlers.NewHealthHandler(map[string]handlers.Checker{
		"database":     metaStore,
		"object_store": objects,
		"event_bus":    bus,
		"rate_limiter": limiter,
	}, reconciler, clk)
	uploads := handlers.NewUploadHandler(orchestrator, cfg.Upload.Policy.MaxBytesImage+1)
	server := api.NewServer(cfg.Server, api.NewRouter(health, uploads))

	err = server.Start(ctx)

	// Server returned: either shutdown signal or server failure. Wait for
	// the background loops to finish their in-flight passes.
	stop()
	wg.Wait()

	if err != nil {
		return err
	}
	logger.Info("wallpaperd stopped")
	return nil
}
