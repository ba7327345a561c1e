// Package rules provides the rule registry and the line item categorizer.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/liquidity/internal/domain"
)

var (
	// ErrInvalidRule is returned when a rule fails validation or compilation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrAmbiguousRule is returned when two equally specific rules match an item.
	ErrAmbiguousRule = errors.New("ambiguous rule match")
)

// Registry holds the compiled calculation rules.
type Registry struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledRule
}

// CompiledRule holds a validated rule with its predicate sets and an optional
// pre-compiled CEL condition.
type CompiledRule struct {
	Config    *domain.CalculationRule
	Condition cel.Program

	// Specificity is the number of constrained dimensions.
	Specificity int

	products       matchSet
	counterparties matchSet
	maturities     matchSet
}

// NewRegistry creates an empty rule registry.
func NewRegistry() (*Registry, error) {
	// Line item attributes visible to rule conditions
	env, err := cel.NewEnv(
		cel.Variable("product", cel.StringType),
		cel.Variable("sub_product", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		cel.Variable("maturity", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("side", cel.StringType),
		cel.Variable("hqla_level", cel.StringType),
		cel.Variable("is_hqla", cel.BoolType),
		cel.Variable("balance", cel.DoubleType),
		cel.Variable("cash_flow", cel.DoubleType),
		cel.Variable("encumbered", cel.DoubleType),
		cel.Variable("collateral_value", cel.DoubleType),
		cel.Variable("collateral_haircut", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Registry{
		env:      env,
		compiled: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (r *Registry) ValidateRule(cfg *domain.CalculationRule) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, err := r.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the registry.
func (r *Registry) LoadRule(cfg *domain.CalculationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiled, err := r.compileRule(cfg)
	if err != nil {
		return err
	}

	r.compiled[cfg.Code] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (r *Registry) LoadRules(configs []*domain.CalculationRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := r.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces the loaded rules. Nothing changes if any rule fails.
func (r *Registry) ReloadRules(configs []*domain.CalculationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newRules := make(map[string]*CompiledRule, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := r.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.Code] = compiled
	}

	r.compiled = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (r *Registry) RulesCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.compiled)
}

// GetLoadedRules returns the loaded rule configurations ordered by code.
func (r *Registry) GetLoadedRules() []*domain.CalculationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.CalculationRule, 0, len(r.compiled))
	for _, compiled := range r.compiled {
		out = append(out, compiled.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Snapshot returns an immutable view of the loaded rules for one run.
// Later reloads do not affect a snapshot already taken.
func (r *Registry) Snapshot() *RuleSet {
	r.mu.RLock()
	compiled := make([]*CompiledRule, 0, len(r.compiled))
	for _, c := range r.compiled {
		compiled = append(compiled, c)
	}
	r.mu.RUnlock()

	return newRuleSet(compiled)
}

// Close cleans up the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiled = make(map[string]*CompiledRule)
	return nil
}

func (r *Registry) compileRule(cfg *domain.CalculationRule) (*CompiledRule, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	// Copy so later edits by the caller cannot leak into a loaded rule
	rule := *cfg
	if rule.FormulaType == "" {
		rule.FormulaType = domain.FormulaFlat
	}

	compiled := &CompiledRule{
		Config:         &rule,
		products:       newMatchSet(rule.Products),
		counterparties: newMatchSet(rule.Counterparties),
		maturities:     newMatchSet(rule.Maturities),
	}

	if compiled.products != nil {
		compiled.Specificity++
	}
	if compiled.counterparties != nil {
		compiled.Specificity++
	}
	if compiled.maturities != nil {
		compiled.Specificity++
	}

	if strings.TrimSpace(rule.Condition) != "" {
		ast, issues := r.env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: rule %s: condition: %v", ErrInvalidRule, rule.Code, issues.Err())
		}
		if !ast.OutputType().IsExactType(types.BoolType) {
			return nil, fmt.Errorf("%w: rule %s: condition must return bool, got %s", ErrInvalidRule, rule.Code, ast.OutputType())
		}
		program, err := r.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, rule.Code, err)
		}
		compiled.Condition = program
		compiled.Specificity++
	}

	return compiled, nil
}

func validateConfig(cfg *domain.CalculationRule) error {
	if cfg.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	if !cfg.Family.Valid() {
		return fmt.Errorf("%w: rule %s: unknown family %q", ErrInvalidRule, cfg.Code, cfg.Family)
	}
	if cfg.Category == "" {
		return fmt.Errorf("%w: rule %s: category is required", ErrInvalidRule, cfg.Code)
	}

	if cfg.Family == domain.FamilyHQLA {
		if !cfg.HQLALevel.Valid() {
			return fmt.Errorf("%w: rule %s: HQLA rules need a level (1, 2A or 2B)", ErrInvalidRule, cfg.Code)
		}
	} else if cfg.HQLALevel != "" {
		return fmt.Errorf("%w: rule %s: hqlaLevel only applies to HQLA rules", ErrInvalidRule, cfg.Code)
	}

	switch cfg.FormulaType {
	case "", domain.FormulaFlat, domain.FormulaCollateralAdjusted:
	default:
		return fmt.Errorf("%w: rule %s: unknown formula type %q", ErrInvalidRule, cfg.Code, cfg.FormulaType)
	}

	if cfg.Factor != nil && (*cfg.Factor < 0 || *cfg.Factor > 1) {
		return fmt.Errorf("%w: rule %s: factor %.4f outside [0, 1]", ErrInvalidRule, cfg.Code, *cfg.Factor)
	}

	return nil
}

// matchSet is a normalized predicate set; nil matches every value.
type matchSet map[string]struct{}

func newMatchSet(values []string) matchSet {
	set := make(matchSet, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == domain.Wildcard {
			return nil
		}
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (s matchSet) matches(value string) bool {
	if s == nil {
		return true
	}
	_, ok := s[normalize(value)]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
