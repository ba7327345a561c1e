package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/liquidity/internal/domain"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// LoadFromRepository replaces the registry's rules with the global rule
// table and returns the number of rows read.
func LoadFromRepository(ctx context.Context, repo domain.Repository, registry *Registry) (int, error) {
	stored, err := repo.ListRules(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := registry.ReloadRules(stored); err != nil {
		return 0, err
	}
	return len(stored), nil
}

// SeedIfEmpty writes pack to the global rule table when the table has no
// rules yet. It reports whether anything was written.
func SeedIfEmpty(ctx context.Context, repo domain.Repository, pack []*domain.CalculationRule) (bool, error) {
	existing, err := repo.ListRules(ctx, GlobalTenantID)
	if err != nil {
		return false, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	for _, rule := range pack {
		rule.TenantID = GlobalTenantID
		if err := repo.SaveRule(ctx, GlobalTenantID, rule); err != nil {
			return false, fmt.Errorf("failed to seed rule %s: %w", rule.Code, err)
		}
	}

	slog.Info("rule table seeded", "count", len(pack))
	return true, nil
}
