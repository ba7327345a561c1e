// Package config loads the service configuration from an optional file and
// LIQUIDITY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "LIQUIDITY"

// ErrInvalidConfig is returned when a loaded configuration is unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load builds the configuration. The tier defaults come first
// (LIQUIDITY_TIER=pro selects ProConfig), then the file named by
// LIQUIDITY_CONFIG, then individual LIQUIDITY_* variables such as
// LIQUIDITY_SERVER_PORT or LIQUIDITY_CALCULATION_MAXWORKERS.
func Load() (*domain.Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path falls back
// to LIQUIDITY_CONFIG.
func LoadFile(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	apply(v, cfg)

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply overrides every field of cfg whose key is set in v.
func apply(v *viper.Viper, cfg *domain.Config) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	// Server
	str("server.host", &cfg.Server.Host)
	integer("server.port", &cfg.Server.Port)
	integer("server.readTimeout", &cfg.Server.ReadTimeout)
	integer("server.writeTimeout", &cfg.Server.WriteTimeout)
	if v.IsSet("server.allowedOrigins") {
		cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowedOrigins"))
	}

	// Calculation policy
	calc := &cfg.Calculation
	float("calculation.caps.level2aToLevel1", &calc.Caps.Level2AToLevel1)
	float("calculation.caps.level2bShareOfHqla", &calc.Caps.Level2BShareOfHQLA)
	float("calculation.caps.inflowCapToOutflows", &calc.Caps.InflowCapToOutflows)
	float("calculation.caps.outflowFloor", &calc.Caps.OutflowFloor)
	float("calculation.tolerance.amount.absolute", &calc.Tolerance.Amount.Absolute)
	float("calculation.tolerance.amount.relative", &calc.Tolerance.Amount.Relative)
	float("calculation.tolerance.ratio.absolute", &calc.Tolerance.Ratio.Absolute)
	float("calculation.tolerance.ratio.relative", &calc.Tolerance.Ratio.Relative)
	float("calculation.tolerance.failureMultiplier", &calc.Tolerance.FailureMultiplier)
	str("calculation.unclassified.mode", &calc.Unclassified.Mode)
	float("calculation.unclassified.maxAmount", &calc.Unclassified.MaxAmount)
	float("calculation.unclassified.maxShare", &calc.Unclassified.MaxShare)
	float("calculation.minimumRatio", &calc.MinimumRatio)
	integer("calculation.maxWorkers", &calc.MaxWorkers)
	integer("calculation.partitionSize", &calc.PartitionSize)
	str("calculation.reportingCurrency", &calc.ReportingCurrency)
	str("calculation.rulePackPath", &calc.RulePackPath)

	// Repository
	repo := &cfg.Repository
	str("repository.driver", &repo.Driver)
	str("repository.sqlitePath", &repo.SQLitePath)
	str("repository.postgresHost", &repo.PostgresHost)
	integer("repository.postgresPort", &repo.PostgresPort)
	str("repository.postgresUser", &repo.PostgresUser)
	str("repository.postgresPassword", &repo.PostgresPassword)
	str("repository.postgresDb", &repo.PostgresDB)
	str("repository.postgresSslMode", &repo.PostgresSSLMode)
	integer("repository.maxOpenConns", &repo.MaxOpenConns)
	integer("repository.maxIdleConns", &repo.MaxIdleConns)
	if v.IsSet("repository.connMaxLifetime") {
		repo.ConnMaxLifetime = v.GetDuration("repository.connMaxLifetime")
	}

	// Cache
	c := &cfg.Cache
	str("cache.type", &c.Type)
	integer("cache.localMaxSize", &c.LocalMaxSize)
	if v.IsSet("cache.localTtl") {
		c.LocalTTL = v.GetDuration("cache.localTtl")
	}
	str("cache.redisAddr", &c.RedisAddr)
	str("cache.redisPassword", &c.RedisPassword)
	integer("cache.redisDb", &c.RedisDB)
	boolean("cache.enableTwoPhase", &c.EnableTwoPhase)
	if v.IsSet("cache.runTtl") {
		c.RunTTL = v.GetDuration("cache.runTtl")
	}

	// Event bus
	b := &cfg.EventBus
	str("eventBus.type", &b.Type)
	integer("eventBus.channelBufferSize", &b.ChannelBufferSize)
	str("eventBus.natsUrl", &b.NATSUrl)
	str("eventBus.natsToken", &b.NATSToken)
	integer("eventBus.natsMaxReconnects", &b.NATSMaxReconnects)
	integer("eventBus.natsReconnectWait", &b.NATSReconnectWait)
	str("eventBus.natsQueueGroup", &b.NATSQueueGroup)

	// Worker
	boolean("worker.enabled", &cfg.Worker.Enabled)
	if v.IsSet("worker.tenants") {
		cfg.Worker.Tenants = splitList(v.GetStringSlice("worker.tenants"))
	}

	// Observability
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
	boolean("tracing.enabled", &cfg.Tracing.Enabled)
	str("tracing.serviceName", &cfg.Tracing.ServiceName)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings the service cannot start without.
func Validate(cfg *domain.Config) error {
	if cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidConfig, cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, cfg.Server.Port)
	}

	calc := cfg.Calculation
	switch calc.Unclassified.Mode {
	case domain.UnclassifiedWarn, domain.UnclassifiedReject:
	default:
		return fmt.Errorf("%w: unclassified mode must be %q or %q, got %q",
			ErrInvalidConfig, domain.UnclassifiedWarn, domain.UnclassifiedReject, calc.Unclassified.Mode)
	}

	caps := map[string]float64{
		"level2aToLevel1":     calc.Caps.Level2AToLevel1,
		"level2bShareOfHqla":  calc.Caps.Level2BShareOfHQLA,
		"inflowCapToOutflows": calc.Caps.InflowCapToOutflows,
		"outflowFloor":        calc.Caps.OutflowFloor,
	}
	for name, value := range caps {
		if value < 0 {
			return fmt.Errorf("%w: cap %s must not be negative", ErrInvalidConfig, name)
		}
	}
	// The Level 2B fixed point divides by 1 - share.
	if calc.Caps.Level2BShareOfHQLA >= 1 {
		return fmt.Errorf("%w: level2bShareOfHqla must be below 1", ErrInvalidConfig)
	}

	if calc.Tolerance.FailureMultiplier < 1 {
		return fmt.Errorf("%w: failureMultiplier must be at least 1", ErrInvalidConfig)
	}
	if calc.MaxWorkers < 1 || calc.PartitionSize < 1 {
		return fmt.Errorf("%w: maxWorkers and partitionSize must be positive", ErrInvalidConfig)
	}
	return nil
}
