// Package cache provides tenant-scoped caches for run results and their
// breakdown rows.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
)

// ErrTenantRequired is returned for lookups without a tenant.
var ErrTenantRequired = errors.New("tenantID is required")

// store is the byte-level backend a RunCache sits on. get returns nil, nil
// on a miss.
type store interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ping(ctx context.Context) error
	close() error
}

// New creates a new cache based on configuration.
// memory: in-process LRU (Community tier).
// redis: Redis, or LRU in front of Redis when EnableTwoPhase is set (Pro tier).
func New(cfg domain.CacheConfig) (*RunCache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := newRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return &RunCache{store: remote}, nil
		}
		return &RunCache{store: newTieredStore(newLRUStore(cfg.LocalMaxSize), remote, cfg.LocalTTL)}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewLRUCache returns a RunCache backed only by an in-process LRU holding at
// most maxSize entries.
func NewLRUCache(maxSize int) *RunCache {
	return &RunCache{store: newLRUStore(maxSize)}
}

// RunCache implements domain.Cache. Results and breakdowns are stored as
// JSON under "<tenant>:run:<id>" and "<tenant>:breakdowns:<id>".
type RunCache struct {
	store store
}

// GetRun retrieves a cached run result.
func (c *RunCache) GetRun(ctx context.Context, tenantID string, runID string) (*domain.ValidationResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	data, err := c.store.get(ctx, makeKey(tenantID, "run", runID))
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached run %s: %w", runID, err)
	}
	return &result, nil
}

// SetRun caches a run result.
func (c *RunCache) SetRun(ctx context.Context, tenantID string, result *domain.ValidationResult, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if result == nil || result.RunID == "" {
		return fmt.Errorf("run result with an id is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", result.RunID, err)
	}
	return c.store.set(ctx, makeKey(tenantID, "run", result.RunID), data, ttl)
}

// GetBreakdowns retrieves the cached breakdown rows of a run.
func (c *RunCache) GetBreakdowns(ctx context.Context, tenantID string, runID string) ([]domain.ComponentBreakdown, bool, error) {
	if tenantID == "" {
		return nil, false, ErrTenantRequired
	}
	data, err := c.store.get(ctx, makeKey(tenantID, "breakdowns", runID))
	if err != nil || data == nil {
		return nil, false, err
	}

	rows := []domain.ComponentBreakdown{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached breakdowns of %s: %w", runID, err)
	}
	return rows, true, nil
}

// SetBreakdowns caches the breakdown rows of a run.
func (c *RunCache) SetBreakdowns(ctx context.Context, tenantID string, runID string, rows []domain.ComponentBreakdown, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if rows == nil {
		rows = []domain.ComponentBreakdown{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode breakdowns of %s: %w", runID, err)
	}
	return c.store.set(ctx, makeKey(tenantID, "breakdowns", runID), data, ttl)
}

// Ping checks the backing store.
func (c *RunCache) Ping(ctx context.Context) error {
	return c.store.ping(ctx)
}

// Close releases the backing store.
func (c *RunCache) Close() error {
	return c.store.close()
}

// Stats returns the size and capacity of the in-process tier, or zeros
// when there is none.
func (c *RunCache) Stats() (size int, capacity int) {
	switch s := c.store.(type) {
	case *lruStore:
		return s.stats()
	case *tieredStore:
		return s.local.stats()
	}
	return 0, 0
}

func makeKey(tenantID, kind, id string) string {
	return tenantID + ":" + kind + ":" + id
}

// tieredStore reads the local LRU first and Redis second, filling the LRU
// on a Redis hit. Local entries live at most localTTL.
type tieredStore struct {
	local    *lruStore
	remote   store
	localTTL time.Duration
}

func newTieredStore(local *lruStore, remote store, localTTL time.Duration) *tieredStore {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &tieredStore{local: local, remote: remote, localTTL: localTTL}
}

func (t *tieredStore) get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := t.local.get(ctx, key); val != nil {
		return val, nil
	}
	val, err := t.remote.get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = t.local.set(ctx, key, val, t.localTTL)
	return val, nil
}

func (t *tieredStore) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.local.set(ctx, key, value, min(ttl, t.localTTL))
	return t.remote.set(ctx, key, value, ttl)
}

func (t *tieredStore) ping(ctx context.Context) error {
	if err := t.remote.ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (t *tieredStore) close() error {
	_ = t.local.close()
	return t.remote.close()
}
