package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
)

func testRun(runID string) *domain.ValidationResult {
	ratio := 1.21
	return &domain.ValidationResult{
		RunID:        runID,
		TenantID:     "tenant-001",
		SubmissionID: "sub-001",
		Ratio:        domain.RatioLCR,
		RatioValue:   &ratio,
		Compliant:    true,
		Status:       domain.StatusWarning,
		ReasonCode:   domain.ReasonUnclassifiedItems,
	}
}

func TestRunCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGetRun", func(t *testing.T) {
		if err := cache.SetRun(ctx, tenantID, testRun("run-001"), time.Minute); err != nil {
			t.Fatalf("SetRun failed: %v", err)
		}

		got, err := cache.GetRun(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got == nil || got.RatioValue == nil || *got.RatioValue != 1.21 {
			t.Fatalf("expected cached run with ratio 1.21, got %+v", got)
		}
		if got.ReasonCode != domain.ReasonUnclassifiedItems {
			t.Errorf("expected reason %s, got %s", domain.ReasonUnclassifiedItems, got.ReasonCode)
		}
	})

	t.Run("RunMiss", func(t *testing.T) {
		got, err := cache.GetRun(ctx, tenantID, "missing")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil for a miss, got %+v, %v", got, err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		other, err := cache.GetRun(ctx, "tenant-002", "run-001")
		if err != nil || other != nil {
			t.Errorf("expected miss for other tenant, got %+v, %v", other, err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.SetRun(ctx, "", testRun("run-x"), time.Minute); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
		if _, err := cache.GetRun(ctx, "", "run-x"); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
		if _, _, err := cache.GetBreakdowns(ctx, "", "run-x"); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})

	t.Run("RunWithoutID", func(t *testing.T) {
		if err := cache.SetRun(ctx, tenantID, &domain.ValidationResult{}, time.Minute); err == nil {
			t.Error("expected error for a run without id")
		}
	})

	t.Run("Breakdowns", func(t *testing.T) {
		rows := []domain.ComponentBreakdown{
			{RunID: "run-001", Family: domain.FamilyHQLA, Category: "level1_cash", RuleCode: "hqla_l1_cash", TotalAmount: 121, Factor: 1, CalculatedAmount: 121, RecordCount: 1, LineItemIDs: []string{"li-cash"}},
			{RunID: "run-001", Family: domain.FamilyOutflow, Category: "unsecured_wholesale", RuleCode: "outflow_wholesale_financial", TotalAmount: 100, Factor: 1, CalculatedAmount: 100, RecordCount: 1},
		}
		if err := cache.SetBreakdowns(ctx, tenantID, "run-001", rows, time.Minute); err != nil {
			t.Fatalf("SetBreakdowns failed: %v", err)
		}

		got, found, err := cache.GetBreakdowns(ctx, tenantID, "run-001")
		if err != nil || !found {
			t.Fatalf("expected cached breakdowns, got found=%v err=%v", found, err)
		}
		if len(got) != 2 || got[0].LineItemIDs[0] != "li-cash" {
			t.Errorf("unexpected breakdowns %+v", got)
		}
	})

	t.Run("EmptyBreakdownsAreFound", func(t *testing.T) {
		if err := cache.SetBreakdowns(ctx, tenantID, "run-empty", nil, time.Minute); err != nil {
			t.Fatalf("SetBreakdowns failed: %v", err)
		}
		got, found, err := cache.GetBreakdowns(ctx, tenantID, "run-empty")
		if err != nil || !found {
			t.Fatalf("expected found, got found=%v err=%v", found, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("BreakdownsMiss", func(t *testing.T) {
		_, found, err := cache.GetBreakdowns(ctx, tenantID, "run-unknown")
		if err != nil || found {
			t.Errorf("expected miss, got found=%v err=%v", found, err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestLRUStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Expiry", func(t *testing.T) {
		s := newLRUStore(10)
		now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }

		_ = s.set(ctx, "k", []byte("v"), time.Minute)
		if val, _ := s.get(ctx, "k"); val == nil {
			t.Fatal("expected value before expiry")
		}

		now = now.Add(time.Minute)
		if val, _ := s.get(ctx, "k"); val != nil {
			t.Error("expected miss at expiry")
		}
		if size, _ := s.stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("Eviction", func(t *testing.T) {
		s := newLRUStore(3)
		_ = s.set(ctx, "a", []byte("1"), time.Minute)
		_ = s.set(ctx, "b", []byte("2"), time.Minute)
		_ = s.set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" is the least recently used.
		_, _ = s.get(ctx, "a")
		_ = s.set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := s.get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := s.get(ctx, "a"); val == nil {
			t.Error("expected 'a' to survive")
		}
		if size, capacity := s.stats(); size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newLRUStore(3)
		_ = s.set(ctx, "k", []byte("old"), time.Minute)
		_ = s.set(ctx, "k", []byte("new"), time.Minute)
		if val, _ := s.get(ctx, "k"); string(val) != "new" {
			t.Errorf("expected 'new', got %q", val)
		}
		if size, _ := s.stats(); size != 1 {
			t.Errorf("expected one entry, got %d", size)
		}
	})

	t.Run("Close", func(t *testing.T) {
		s := newLRUStore(3)
		_ = s.set(ctx, "k", []byte("v"), time.Minute)
		if err := s.close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if val, _ := s.get(ctx, "k"); val != nil {
			t.Error("expected store to be cleared after close")
		}
	})
}

// mapStore is a remote tier stand-in recording reads.
type mapStore struct {
	data  map[string][]byte
	reads int
	err   error
}

func (m *mapStore) get(_ context.Context, key string) ([]byte, error) {
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func (m *mapStore) set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.data[key]; !ok {
		m.data[key] = value
	}
	return nil
}

func (m *mapStore) ping(context.Context) error { return m.err }
func (m *mapStore) close() error               { return nil }

func TestTieredStore(t *testing.T) {
	ctx := context.Background()

	t.Run("RemoteHitFillsLocal", func(t *testing.T) {
		remote := &mapStore{data: map[string][]byte{}}
		cache := &RunCache{store: newTieredStore(newLRUStore(10), remote, time.Minute)}

		// Written by another replica: only the remote tier has it.
		writer := &RunCache{store: remote}
		if err := writer.SetRun(ctx, "tenant-001", testRun("run-remote"), time.Hour); err != nil {
			t.Fatalf("SetRun failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			got, err := cache.GetRun(ctx, "tenant-001", "run-remote")
			if err != nil || got == nil {
				t.Fatalf("expected hit, got %+v, %v", got, err)
			}
		}
		if remote.reads != 1 {
			t.Errorf("expected one remote read, got %d", remote.reads)
		}
		if size, _ := cache.Stats(); size != 1 {
			t.Errorf("expected local tier to hold the run, size %d", size)
		}
	})

	t.Run("WritesBothTiers", func(t *testing.T) {
		remote := &mapStore{data: map[string][]byte{}}
		cache := &RunCache{store: newTieredStore(newLRUStore(10), remote, time.Minute)}

		if err := cache.SetRun(ctx, "tenant-001", testRun("run-both"), time.Hour); err != nil {
			t.Fatalf("SetRun failed: %v", err)
		}
		if _, ok := remote.data[makeKey("tenant-001", "run", "run-both")]; !ok {
			t.Error("expected remote tier to be written")
		}
		if _, err := cache.GetRun(ctx, "tenant-001", "run-both"); err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if remote.reads != 0 {
			t.Errorf("expected local hit, got %d remote reads", remote.reads)
		}
	})

	t.Run("RemoteErrors", func(t *testing.T) {
		remote := &mapStore{data: map[string][]byte{}, err: errors.New("connection refused")}
		cache := &RunCache{store: newTieredStore(newLRUStore(10), remote, time.Minute)}

		if _, err := cache.GetRun(ctx, "tenant-001", "run-x"); err == nil {
			t.Error("expected remote error on miss")
		}
		if err := cache.Ping(ctx); err == nil {
			t.Error("expected ping to report the remote tier")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, capacity := cache.Stats(); capacity != 100 {
			t.Errorf("expected capacity 100, got %d", capacity)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
