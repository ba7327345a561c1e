package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/opensource-finance/liquidity/internal/api"
	"github.com/opensource-finance/liquidity/internal/bus"
	"github.com/opensource-finance/liquidity/internal/cache"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/metrics"
	"github.com/opensource-finance/liquidity/internal/pipeline"
	"github.com/opensource-finance/liquidity/internal/repository"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/opensource-finance/liquidity/internal/worker"
)

type serveCmd struct {
	configPath string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API and the async run worker" }
func (*serveCmd) Usage() string {
	return `liquidity serve [-config <file>]

  Starts the HTTP API. The rule table is seeded from the reference pack (or
  calculation.rulePackPath) when empty.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "Configuration file (defaults to $LIQUIDITY_CONFIG).")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(c.configPath, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if err := serve(ctx, cfg); err != nil {
		slog.Error("liquidity stopped with error", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting liquidity",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	metrics.Init()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Registry from the rule table
	registry, err := rules.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to initialize rule registry: %w", err)
	}
	if err := seedRules(ctx, repo, cfg.Calculation.RulePackPath); err != nil {
		return err
	}
	if _, err := rules.LoadFromRepository(ctx, repo, registry); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule registry initialized", "rules_count", registry.RulesCount())

	// Calculation pipeline
	processor := pipeline.NewProcessor(registry, cfg.Calculation)
	hist := history.NewService(repo, cacheImpl, cfg.Cache.RunTTL)
	runner := worker.NewRunner(repo, processor, hist)
	slog.Info("pipeline initialized",
		"max_workers", processor.Config().MaxWorkers,
		"partition_size", processor.Config().PartitionSize,
		"unclassified_mode", cfg.Calculation.Unclassified.Mode,
	)

	// Async worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, runner)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.Tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.Tenants))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, registry, runner, hist, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("liquidity is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("liquidity shutdown complete")
	return serveErr
}

// seedRules fills an empty rule table from packPath, or from the embedded
// reference pack when packPath is empty.
func seedRules(ctx context.Context, repo domain.Repository, packPath string) error {
	pack := rules.ReferencePack()
	if packPath != "" {
		var err error
		if pack, err = rules.LoadPackFile(packPath); err != nil {
			return err
		}
	}

	if _, err := rules.SeedIfEmpty(ctx, repo, pack); err != nil {
		return err
	}
	return nil
}
