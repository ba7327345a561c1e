// Package calc turns categorized line items into breakdown rows, capped
// totals and the final ratio.
package calc

import (
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// Categorized is a line item with the family and rule it was routed to.
type Categorized struct {
	Item   *domain.LineItem
	Family domain.Family
	Rule   *domain.CalculationRule
}

// Contribution is the resolved amount and factor of one line item.
type Contribution struct {
	Item   *domain.LineItem
	Family domain.Family
	Rule   *domain.CalculationRule

	// Amount is the family's amount basis for flat rules and the outstanding
	// balance for collateral-adjusted ones. Adjusted equals Amount for flat
	// rules and is the collateral-netted balance otherwise.
	Amount   decimal.Decimal
	Adjusted decimal.Decimal
	Factor   decimal.Decimal
}

// Calculated returns Adjusted × Factor.
func (c Contribution) Calculated() decimal.Decimal {
	return c.Adjusted.Mul(c.Factor)
}

// Exclusion is a categorized line item left out of every total.
type Exclusion struct {
	LineItemID string
	Family     domain.Family
	RuleCode   string
	Reason     string
	Amount     decimal.Decimal
}

var one = decimal.NewFromInt(1)

// AmountBasis returns the amount an item contributes before any factor:
// HQLA uses the unencumbered balance, cash-flow families prefer the
// projected cash flow, stable funding families use the balance.
func AmountBasis(item *domain.LineItem, family domain.Family) decimal.Decimal {
	balance := decimal.NewFromFloat(item.OutstandingBalance)

	switch family {
	case domain.FamilyHQLA:
		if item.EncumberedAmount != nil {
			balance = balance.Sub(decimal.NewFromFloat(*item.EncumberedAmount))
		}
		if balance.IsNegative() {
			return decimal.Zero
		}
		return balance
	case domain.FamilyOutflow, domain.FamilyInflow:
		if item.CashFlowAmount != nil {
			return decimal.NewFromFloat(*item.CashFlowAmount)
		}
	}
	return balance
}

// ApplyFactor resolves the amount, adjusted amount and effective factor of a
// categorized item. A non-nil Exclusion means the item cannot contribute.
func ApplyFactor(c Categorized) (Contribution, *Exclusion) {
	amount := AmountBasis(c.Item, c.Family)

	factor, hasFactor := effectiveFactor(c)

	switch c.Rule.FormulaType {
	case domain.FormulaCollateralAdjusted:
		// Collateral nets against the outstanding balance, never a projected
		// cash flow.
		amount = decimal.NewFromFloat(c.Item.OutstandingBalance)
		if c.Item.CollateralValue == nil || c.Item.CollateralHaircut == nil {
			return Contribution{}, c.exclude(domain.ReasonMissingCollateral, amount)
		}
		if !hasFactor {
			factor = one
		}

		collateral := decimal.NewFromFloat(*c.Item.CollateralValue).
			Mul(one.Sub(decimal.NewFromFloat(*c.Item.CollateralHaircut)))
		adjusted := amount.Sub(collateral)
		if adjusted.IsNegative() {
			adjusted = decimal.Zero
		}

		return Contribution{
			Item:     c.Item,
			Family:   c.Family,
			Rule:     c.Rule,
			Amount:   amount,
			Adjusted: adjusted,
			Factor:   factor,
		}, nil

	default:
		if !hasFactor {
			return Contribution{}, c.exclude(domain.ReasonMissingFactor, amount)
		}
		return Contribution{
			Item:     c.Item,
			Family:   c.Family,
			Rule:     c.Rule,
			Amount:   amount,
			Adjusted: amount,
			Factor:   factor,
		}, nil
	}
}

// effectiveFactor returns the item override when present, else the rule factor.
func effectiveFactor(c Categorized) (decimal.Decimal, bool) {
	if v, ok := c.Item.FactorOverride(c.Family); ok {
		return decimal.NewFromFloat(v), true
	}
	if c.Rule.Factor != nil {
		return decimal.NewFromFloat(*c.Rule.Factor), true
	}
	return decimal.Zero, false
}

func (c Categorized) exclude(reason string, amount decimal.Decimal) *Exclusion {
	return &Exclusion{
		LineItemID: c.Item.ID,
		Family:     c.Family,
		RuleCode:   c.Rule.Code,
		Reason:     reason,
		Amount:     amount,
	}
}
