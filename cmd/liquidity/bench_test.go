package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/liquidity/internal/api"
	"github.com/opensource-finance/liquidity/internal/bus"
	"github.com/opensource-finance/liquidity/internal/cache"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/pipeline"
	"github.com/opensource-finance/liquidity/internal/repository"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/opensource-finance/liquidity/internal/worker"
)

func startTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "bench.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	registry, err := rules.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := seedRules(ctx, repo, ""); err != nil {
		t.Fatalf("seedRules failed: %v", err)
	}
	if _, err := rules.LoadFromRepository(ctx, repo, registry); err != nil {
		t.Fatalf("LoadFromRepository failed: %v", err)
	}

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	hist := history.NewService(repo, lru, time.Minute)
	runner := worker.NewRunner(repo, pipeline.NewProcessor(registry, domain.DefaultCalculationConfig()), hist)
	srv := api.NewServer(domain.ServerConfig{Host: "localhost", Port: 0}, repo, lru, eventBus, registry, runner, hist, "test")

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestBench(t *testing.T) {
	ts := startTestAPI(t)
	ctx := context.Background()

	batch, err := readBatch(writeFile(t, "batch.json", testBatch()), "", "")
	if err != nil {
		t.Fatalf("readBatch failed: %v", err)
	}
	items := batch.Items

	t.Run("Health", func(t *testing.T) {
		if err := checkHealth(ctx, ts.Client(), ts.URL); err != nil {
			t.Errorf("expected healthy API: %v", err)
		}
	})

	t.Run("Run", func(t *testing.T) {
		cmd := &benchCmd{
			baseURL:     ts.URL,
			tenantID:    "bench-tenant",
			ratio:       string(domain.RatioLCR),
			date:        "2025-03-31",
			submissions: 5,
			workers:     2,
		}
		stats := cmd.run(ctx, ts.Client(), items)
		if stats.Errors != 0 {
			t.Fatalf("expected no errors, got %d", stats.Errors)
		}
		if stats.TotalProcessed != 5 {
			t.Errorf("expected 5 processed, got %d", stats.TotalProcessed)
		}
		if got := stats.Passed + stats.Warning + stats.Failed; got != 5 {
			t.Errorf("expected 5 verdicts, got %d", got)
		}
	})

	t.Run("RejectedSubmission", func(t *testing.T) {
		cmd := &benchCmd{
			baseURL:     ts.URL,
			tenantID:    "bench-tenant",
			ratio:       string(domain.RatioLCR),
			date:        "not-a-date",
			submissions: 2,
			workers:     1,
		}
		stats := cmd.run(ctx, ts.Client(), items)
		if stats.Errors != 2 {
			t.Errorf("expected 2 errors, got %d", stats.Errors)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		client := &http.Client{Timeout: time.Second}
		if err := checkHealth(ctx, client, "http://127.0.0.1:1"); err == nil {
			t.Error("expected health check to fail")
		}
	})
}
