package rules

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/opensource-finance/liquidity/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed packs/basel3.yaml
var referencePack []byte

// Pack is a versioned set of calculation rules loaded from YAML.
type Pack struct {
	Version string     `yaml:"version"`
	Source  string     `yaml:"source"`
	Rules   []packRule `yaml:"rules"`
}

type packRule struct {
	domain.CalculationRule `yaml:",inline"`
	Disabled               bool `yaml:"disabled,omitempty"`
}

// ParsePack decodes a YAML rule pack. Rules are enabled unless marked
// disabled, and inherit the pack version when they carry none.
func ParsePack(data []byte) ([]*domain.CalculationRule, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	if len(pack.Rules) == 0 {
		return nil, fmt.Errorf("%w: rule pack has no rules", ErrInvalidRule)
	}

	seen := make(map[string]struct{}, len(pack.Rules))
	out := make([]*domain.CalculationRule, 0, len(pack.Rules))
	for i := range pack.Rules {
		rule := pack.Rules[i].CalculationRule
		if _, dup := seen[rule.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate rule code %q", ErrInvalidRule, rule.Code)
		}
		seen[rule.Code] = struct{}{}

		if rule.Version == "" {
			rule.Version = pack.Version
		}
		rule.Enabled = !pack.Rules[i].Disabled
		if err := validateConfig(&rule); err != nil {
			return nil, err
		}
		out = append(out, &rule)
	}
	return out, nil
}

// LoadPackFile reads and decodes a rule pack from disk.
func LoadPackFile(path string) ([]*domain.CalculationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	return ParsePack(data)
}

// ReferencePack returns the embedded Basel III reference rules.
func ReferencePack() []*domain.CalculationRule {
	rules, err := ParsePack(referencePack)
	if err != nil {
		panic(fmt.Sprintf("embedded rule pack is invalid: %v", err))
	}
	return rules
}
