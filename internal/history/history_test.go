package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/liquidity/internal/cache"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/repository"
)

var reportingDate = time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "history-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func run(id string, ratio domain.RatioType, createdAt time.Time, supersedes string) *domain.Run {
	value := 1.21
	return &domain.Run{
		Result: &domain.ValidationResult{
			RunID:         id,
			TenantID:      "tenant-001",
			SubmissionID:  "sub-001",
			ReportingDate: reportingDate,
			Ratio:         ratio,
			RatioValue:    &value,
			Compliant:     true,
			Status:        domain.StatusPassed,
			Supersedes:    supersedes,
			CreatedAt:     createdAt,
		},
		Breakdowns: []domain.ComponentBreakdown{
			{
				RunID: id, Family: domain.FamilyHQLA, Category: "level1_cash_reserves", RuleCode: "hqla_l1_cash",
				TotalAmount: 121, AdjustedAmount: 121, Factor: 1, CalculatedAmount: 121, RecordCount: 1,
				LineItemIDs: []string{"li-001"},
			},
		},
	}
}

func TestHistoryService(t *testing.T) {
	repo := newRepo(t)
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(repo, lru, time.Minute)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("FirstRunSupersedesNothing", func(t *testing.T) {
		id, err := svc.Supersedes(ctx, tenantID, "sub-001", reportingDate, domain.RatioLCR)
		if err != nil {
			t.Fatalf("Supersedes failed: %v", err)
		}
		if id != "" {
			t.Errorf("expected no superseded run, got %q", id)
		}
	})

	t.Run("LatestRunWins", func(t *testing.T) {
		if err := svc.Record(ctx, tenantID, run("run-001", domain.RatioLCR, base, "")); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if err := svc.Record(ctx, tenantID, run("run-002", domain.RatioLCR, base.Add(time.Hour), "run-001")); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if err := svc.Record(ctx, tenantID, run("run-nsfr", domain.RatioNSFR, base.Add(2*time.Hour), "")); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		id, err := svc.Supersedes(ctx, tenantID, "sub-001", reportingDate, domain.RatioLCR)
		if err != nil {
			t.Fatalf("Supersedes failed: %v", err)
		}
		if id != "run-002" {
			t.Errorf("expected run-002, got %q", id)
		}

		runs, err := svc.ListRuns(ctx, tenantID, "sub-001", time.Time{}, "")
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 3 || runs[0].RunID != "run-nsfr" {
			t.Errorf("expected 3 runs newest first, got %d", len(runs))
		}
	})

	t.Run("RecordCachesResult", func(t *testing.T) {
		cached, err := lru.GetRun(ctx, tenantID, "run-002")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if cached == nil || cached.Supersedes != "run-001" {
			t.Errorf("expected cached run-002, got %+v", cached)
		}
	})

	t.Run("GetRunFallsBackToRepository", func(t *testing.T) {
		uncached := NewService(repo, cache.NewLRUCache(10), time.Minute)

		result, err := uncached.GetRun(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if result.RunID != "run-001" {
			t.Errorf("expected run-001, got %s", result.RunID)
		}

		// The second lookup is served from the cache it populated.
		cached, _ := uncached.cache.GetRun(ctx, tenantID, "run-001")
		if cached == nil {
			t.Error("expected run to be cached after lookup")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := svc.GetRun(ctx, tenantID, "missing")
		if !IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}

		_, err = svc.Breakdowns(ctx, tenantID, "missing")
		if !IsNotFound(err) {
			t.Errorf("expected not found for breakdowns, got %v", err)
		}
	})

	t.Run("Breakdowns", func(t *testing.T) {
		rows, err := svc.Breakdowns(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("Breakdowns failed: %v", err)
		}
		if len(rows) != 1 || rows[0].RuleCode != "hqla_l1_cash" {
			t.Errorf("unexpected breakdowns: %+v", rows)
		}
	})

	t.Run("BreakdownsServedFromCache", func(t *testing.T) {
		rows, found, err := lru.GetBreakdowns(ctx, tenantID, "run-001")
		if err != nil || !found {
			t.Fatalf("expected breakdowns cached by Record, got found=%v err=%v", found, err)
		}
		if len(rows) != 1 {
			t.Errorf("expected 1 cached row, got %d", len(rows))
		}

		// A cached set wins over the repository.
		if err := lru.SetBreakdowns(ctx, tenantID, "run-cached-only", []domain.ComponentBreakdown{{RuleCode: "x"}}, time.Minute); err != nil {
			t.Fatalf("SetBreakdowns failed: %v", err)
		}
		rows, err = svc.Breakdowns(ctx, tenantID, "run-cached-only")
		if err != nil || len(rows) != 1 || rows[0].RuleCode != "x" {
			t.Errorf("expected cached rows, got %+v, %v", rows, err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		latest, err := svc.LatestRun(ctx, "tenant-002", "sub-001", reportingDate, domain.RatioLCR)
		if err != nil {
			t.Fatalf("LatestRun failed: %v", err)
		}
		if latest != nil {
			t.Errorf("expected no run for other tenant, got %s", latest.RunID)
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if _, err := svc.LatestRun(ctx, "", "sub-001", reportingDate, domain.RatioLCR); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestHistoryWithoutCache(t *testing.T) {
	repo := newRepo(t)
	svc := NewService(repo, nil, 0)
	ctx := context.Background()

	if err := svc.Record(ctx, "tenant-001", run("run-001", domain.RatioLCR, time.Now().UTC(), "")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	result, err := svc.GetRun(ctx, "tenant-001", "run-001")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if result.RatioValue == nil || *result.RatioValue != 1.21 {
		t.Errorf("unexpected ratio %v", result.RatioValue)
	}
}
