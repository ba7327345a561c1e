package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Calculation policy
	Calculation CalculationConfig `json:"calculation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string `json:"allowedOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// WorkerConfig holds async run worker settings.
type WorkerConfig struct {
	Enabled bool     `json:"enabled"`
	Tenants []string `json:"tenants"` // empty = every tenant
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// CalculationConfig holds the policy knobs of the calculation pipeline.
type CalculationConfig struct {
	Caps         CapPolicy          `json:"caps"`
	Tolerance    TolerancePolicy    `json:"tolerance"`
	Unclassified UnclassifiedPolicy `json:"unclassified"`

	// MinimumRatio is the regulatory minimum for both LCR and NSFR.
	MinimumRatio float64 `json:"minimumRatio"`

	// MaxWorkers bounds categorization parallelism within a run.
	MaxWorkers int `json:"maxWorkers"`

	// PartitionSize is the number of line items per categorization task.
	PartitionSize int `json:"partitionSize"`

	// ReportingCurrency is used when formatting variances.
	ReportingCurrency string `json:"reportingCurrency"`

	// RulePackPath optionally points to a YAML rule pack seeded at startup.
	// Empty seeds the embedded reference pack when the rule table is empty.
	RulePackPath string `json:"rulePackPath"`
}

// CapPolicy holds the cross-category cap ratios.
type CapPolicy struct {
	// Level2AToLevel1 caps Level 2A at this multiple of Level 1 (2/3).
	Level2AToLevel1 float64 `json:"level2aToLevel1"`

	// Level2BShareOfHQLA caps Level 2B at this share of total HQLA (0.15).
	Level2BShareOfHQLA float64 `json:"level2bShareOfHqla"`

	// InflowCapToOutflows caps inflows at this share of outflows (0.75).
	InflowCapToOutflows float64 `json:"inflowCapToOutflows"`

	// OutflowFloor floors net cash outflows at this share of outflows (0.25).
	OutflowFloor float64 `json:"outflowFloor"`
}

// ToleranceBand is an absolute/relative tolerance pair. The effective
// tolerance is the smaller of Absolute and Relative×|expected|.
type ToleranceBand struct {
	Absolute float64 `json:"absolute"`
	Relative float64 `json:"relative"`
}

// TolerancePolicy configures variance checks against expected figures.
type TolerancePolicy struct {
	Amount ToleranceBand `json:"amount"`
	Ratio  ToleranceBand `json:"ratio"`

	// FailureMultiplier widens the tolerance into the error band: a variance
	// beyond tolerance×FailureMultiplier fails instead of warning.
	FailureMultiplier float64 `json:"failureMultiplier"`
}

// Unclassified policy modes.
const (
	UnclassifiedWarn   = "warn"
	UnclassifiedReject = "reject"
)

// UnclassifiedPolicy decides whether unclassified amounts can reject a run.
type UnclassifiedPolicy struct {
	Mode string `json:"mode"` // warn or reject

	// Reject thresholds; a run is rejected when either is exceeded.
	// Zero thresholds in reject mode reject on any unclassified amount.
	MaxAmount float64 `json:"maxAmount"`
	MaxShare  float64 `json:"maxShare"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultCalculationConfig returns the reference Basel III policy.
func DefaultCalculationConfig() CalculationConfig {
	return CalculationConfig{
		Caps: CapPolicy{
			Level2AToLevel1:     2.0 / 3.0,
			Level2BShareOfHQLA:  0.15,
			InflowCapToOutflows: 0.75,
			OutflowFloor:        0.25,
		},
		Tolerance: TolerancePolicy{
			Amount:            ToleranceBand{Absolute: 1000, Relative: 0.001},
			Ratio:             ToleranceBand{Absolute: 0.001, Relative: 0.001},
			FailureMultiplier: 10,
		},
		Unclassified: UnclassifiedPolicy{
			Mode: UnclassifiedWarn,
		},
		MinimumRatio:      1.0,
		MaxWorkers:        8,
		PartitionSize:     512,
		ReportingCurrency: "USD",
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:        TierCommunity,
		Calculation: DefaultCalculationConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./liquidity.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RunTTL:       24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "liquidity",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "liquidity",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		RunTTL:         24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "liquidity-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
