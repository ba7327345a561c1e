package domain

import (
	"context"
	"time"
)

// Cache holds run results and breakdown sets. Both are immutable once
// persisted, so entries only ever expire; they are never invalidated.
// Every method is tenant scoped.
type Cache interface {
	// GetRun returns nil, nil on a miss.
	GetRun(ctx context.Context, tenantID string, runID string) (*ValidationResult, error)
	SetRun(ctx context.Context, tenantID string, result *ValidationResult, ttl time.Duration) error

	// GetBreakdowns reports found=false on a miss. A cached run without
	// breakdown rows is found with an empty slice.
	GetBreakdowns(ctx context.Context, tenantID string, runID string) (rows []ComponentBreakdown, found bool, err error)
	SetBreakdowns(ctx context.Context, tenantID string, runID string, rows []ComponentBreakdown, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase"` // If true, check local first, then Redis

	// RunTTL is how long run results stay cached.
	RunTTL time.Duration `json:"runTtl"`
}
