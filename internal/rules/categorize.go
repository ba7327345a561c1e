package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/liquidity/internal/domain"
)

// AmbiguousRuleError reports equally specific rules matching one line item.
type AmbiguousRuleError struct {
	LineItemID string
	Family     domain.Family
	RuleCodes  []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("%s: line item %s in %s matches %s",
		ErrAmbiguousRule, e.LineItemID, e.Family, strings.Join(e.RuleCodes, ", "))
}

// Unwrap lets errors.Is match ErrAmbiguousRule.
func (e *AmbiguousRuleError) Unwrap() error {
	return ErrAmbiguousRule
}

// RuleSet is an immutable, family-indexed view of compiled rules.
// It is safe for concurrent use.
type RuleSet struct {
	families map[domain.Family][]*CompiledRule
	byCode   map[string]*CompiledRule
}

func newRuleSet(compiled []*CompiledRule) *RuleSet {
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Config.Code < compiled[j].Config.Code
	})

	rs := &RuleSet{
		families: make(map[domain.Family][]*CompiledRule),
		byCode:   make(map[string]*CompiledRule, len(compiled)),
	}
	for _, c := range compiled {
		rs.families[c.Config.Family] = append(rs.families[c.Config.Family], c)
		rs.byCode[c.Config.Code] = c
	}
	return rs
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	return len(rs.byCode)
}

// Rules returns the rules of a family ordered by code.
func (rs *RuleSet) Rules(family domain.Family) []*CompiledRule {
	return rs.families[family]
}

// Rule returns the rule with the given code, or nil.
func (rs *RuleSet) Rule(code string) *CompiledRule {
	return rs.byCode[code]
}

// Categorize returns the most specific rule of family matching item.
// It returns nil, nil when no rule matches, and an *AmbiguousRuleError when
// two or more rules tie for the highest specificity.
func (rs *RuleSet) Categorize(item *domain.LineItem, family domain.Family) (*CompiledRule, error) {
	var (
		best       []*CompiledRule
		bestScore  = -1
		activation map[string]any
	)

	for _, rule := range rs.families[family] {
		if !rule.matchesAttributes(item) {
			continue
		}
		if rule.Condition != nil {
			if activation == nil {
				activation = Activation(item)
			}
			if !rule.conditionHolds(activation) {
				continue
			}
		}

		switch {
		case rule.Specificity > bestScore:
			best = []*CompiledRule{rule}
			bestScore = rule.Specificity
		case rule.Specificity == bestScore:
			best = append(best, rule)
		}
	}

	switch len(best) {
	case 0:
		return nil, nil
	case 1:
		return best[0], nil
	}

	codes := make([]string, len(best))
	for i, r := range best {
		codes[i] = r.Config.Code
	}
	return nil, &AmbiguousRuleError{LineItemID: item.ID, Family: family, RuleCodes: codes}
}

func (c *CompiledRule) matchesAttributes(item *domain.LineItem) bool {
	// A pre-set HQLA level restricts the item to rules of that level
	if c.Config.Family == domain.FamilyHQLA && item.HQLALevel != "" && c.Config.HQLALevel != item.HQLALevel {
		return false
	}
	return c.products.matches(item.ProductCategory) &&
		c.counterparties.matches(item.CounterpartyType) &&
		c.maturities.matches(item.MaturityBucket)
}

// conditionHolds evaluates the CEL condition. Evaluation errors count as no match.
func (c *CompiledRule) conditionHolds(activation map[string]any) bool {
	out, _, err := c.Condition.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Activation builds the CEL variables for a line item.
func Activation(item *domain.LineItem) map[string]any {
	return map[string]any{
		"product":            item.ProductCategory,
		"sub_product":        item.SubProduct,
		"counterparty":       item.CounterpartyType,
		"maturity":           item.MaturityBucket,
		"currency":           item.Currency,
		"side":               string(item.Side),
		"hqla_level":         string(item.HQLALevel),
		"is_hqla":            item.IsHQLA,
		"balance":            item.OutstandingBalance,
		"cash_flow":          deref(item.CashFlowAmount),
		"encumbered":         deref(item.EncumberedAmount),
		"collateral_value":   deref(item.CollateralValue),
		"collateral_haircut": deref(item.CollateralHaircut),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
