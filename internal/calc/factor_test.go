package calc

import (
	"testing"

	"github.com/opensource-finance/liquidity/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestAmountBasis(t *testing.T) {
	tests := []struct {
		name   string
		item   domain.LineItem
		family domain.Family
		want   float64
	}{
		{"HQLA net of encumbrance", domain.LineItem{OutstandingBalance: 100, EncumberedAmount: ptr(30)}, domain.FamilyHQLA, 70},
		{"HQLA encumbrance above balance floors at zero", domain.LineItem{OutstandingBalance: 100, EncumberedAmount: ptr(130)}, domain.FamilyHQLA, 0},
		{"outflow prefers cash flow", domain.LineItem{OutstandingBalance: 100, CashFlowAmount: ptr(40)}, domain.FamilyOutflow, 40},
		{"inflow falls back to balance", domain.LineItem{OutstandingBalance: 100}, domain.FamilyInflow, 100},
		{"ASF ignores cash flow", domain.LineItem{OutstandingBalance: 100, CashFlowAmount: ptr(40)}, domain.FamilyASF, 100},
		{"RSF ignores encumbrance", domain.LineItem{OutstandingBalance: 100, EncumberedAmount: ptr(30)}, domain.FamilyRSF, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountBasis(&tt.item, tt.family).InexactFloat64()
			if !approx(got, tt.want) {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

func TestApplyFactorFlat(t *testing.T) {
	rule := &domain.CalculationRule{Code: "outflow_retail_stable", Category: "retail", FormulaType: domain.FormulaFlat, Factor: ptr(0.05)}

	t.Run("rule factor", func(t *testing.T) {
		item := &domain.LineItem{ID: "li-1", OutstandingBalance: 1000}
		c, excl := ApplyFactor(Categorized{Item: item, Family: domain.FamilyOutflow, Rule: rule})
		if excl != nil {
			t.Fatalf("unexpected exclusion: %+v", excl)
		}
		if got := c.Calculated().InexactFloat64(); !approx(got, 50) {
			t.Errorf("expected 50, got %.4f", got)
		}
		if !c.Adjusted.Equal(c.Amount) {
			t.Error("flat rules must not adjust the amount")
		}
	})

	t.Run("item override wins", func(t *testing.T) {
		item := &domain.LineItem{ID: "li-1", OutstandingBalance: 1000, RunoffRateOverride: ptr(0.2)}
		c, _ := ApplyFactor(Categorized{Item: item, Family: domain.FamilyOutflow, Rule: rule})
		if got := c.Calculated().InexactFloat64(); !approx(got, 200) {
			t.Errorf("expected 200, got %.4f", got)
		}
	})

	t.Run("HQLA haircut override becomes one minus haircut", func(t *testing.T) {
		l2a := &domain.CalculationRule{Code: "l2a", Category: "level2a", HQLALevel: domain.HQLALevel2A, Factor: ptr(0.85)}
		item := &domain.LineItem{ID: "li-1", OutstandingBalance: 100, HaircutOverride: ptr(0.25)}
		c, _ := ApplyFactor(Categorized{Item: item, Family: domain.FamilyHQLA, Rule: l2a})
		if got := c.Factor.InexactFloat64(); !approx(got, 0.75) {
			t.Errorf("expected factor 0.75, got %.4f", got)
		}
	})

	t.Run("override for another family is ignored", func(t *testing.T) {
		item := &domain.LineItem{ID: "li-1", OutstandingBalance: 1000, InflowRateOverride: ptr(0.9)}
		c, _ := ApplyFactor(Categorized{Item: item, Family: domain.FamilyOutflow, Rule: rule})
		if got := c.Factor.InexactFloat64(); !approx(got, 0.05) {
			t.Errorf("expected rule factor 0.05, got %.4f", got)
		}
	})

	t.Run("missing factor excludes the item", func(t *testing.T) {
		noFactor := &domain.CalculationRule{Code: "nf", Category: "x", FormulaType: domain.FormulaFlat}
		item := &domain.LineItem{ID: "li-7", OutstandingBalance: 500}
		_, excl := ApplyFactor(Categorized{Item: item, Family: domain.FamilyRSF, Rule: noFactor})
		if excl == nil {
			t.Fatal("expected exclusion")
		}
		if excl.Reason != domain.ReasonMissingFactor || excl.LineItemID != "li-7" || excl.RuleCode != "nf" {
			t.Errorf("unexpected exclusion: %+v", excl)
		}
		if !approx(excl.Amount.InexactFloat64(), 500) {
			t.Errorf("expected excluded amount 500, got %s", excl.Amount)
		}
	})
}

func TestApplyFactorCollateralAdjusted(t *testing.T) {
	rule := &domain.CalculationRule{Code: "outflow_secured_funding", Category: "secured_funding", FormulaType: domain.FormulaCollateralAdjusted}

	tests := []struct {
		name         string
		balance      float64
		collateral   float64
		haircut      float64
		factor       *float64
		wantAdjusted float64
		wantCalc     float64
	}{
		{"partially collateralized", 1000, 600, 0.5, nil, 700, 700},
		{"fully collateralized floors at zero", 1000, 2000, 0.1, nil, 0, 0},
		{"factor applied after adjustment", 1000, 500, 0.0, ptr(0.25), 500, 125},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := *rule
			r.Factor = tt.factor
			item := &domain.LineItem{ID: "li-1", OutstandingBalance: tt.balance, CollateralValue: ptr(tt.collateral), CollateralHaircut: ptr(tt.haircut)}

			c, excl := ApplyFactor(Categorized{Item: item, Family: domain.FamilyOutflow, Rule: &r})
			if excl != nil {
				t.Fatalf("unexpected exclusion: %+v", excl)
			}
			if got := c.Adjusted.InexactFloat64(); !approx(got, tt.wantAdjusted) {
				t.Errorf("expected adjusted %.2f, got %.2f", tt.wantAdjusted, got)
			}
			if got := c.Calculated().InexactFloat64(); !approx(got, tt.wantCalc) {
				t.Errorf("expected calculated %.2f, got %.2f", tt.wantCalc, got)
			}
		})
	}

	t.Run("cash flow amount does not replace the balance", func(t *testing.T) {
		for _, family := range []domain.Family{domain.FamilyOutflow, domain.FamilyInflow} {
			item := &domain.LineItem{
				ID: "li-repo", OutstandingBalance: 100, CashFlowAmount: ptr(50),
				CollateralValue: ptr(40), CollateralHaircut: ptr(0),
			}
			c, excl := ApplyFactor(Categorized{Item: item, Family: family, Rule: rule})
			if excl != nil {
				t.Fatalf("%s: unexpected exclusion: %+v", family, excl)
			}
			if got := c.Amount.InexactFloat64(); !approx(got, 100) {
				t.Errorf("%s: expected amount 100, got %.2f", family, got)
			}
			if got := c.Adjusted.InexactFloat64(); !approx(got, 60) {
				t.Errorf("%s: expected adjusted 60, got %.2f", family, got)
			}
		}
	})

	t.Run("missing collateral excludes the item", func(t *testing.T) {
		item := &domain.LineItem{ID: "li-2", OutstandingBalance: 1000, CollateralValue: ptr(100)}
		_, excl := ApplyFactor(Categorized{Item: item, Family: domain.FamilyOutflow, Rule: rule})
		if excl == nil || excl.Reason != domain.ReasonMissingCollateral {
			t.Errorf("expected missing_collateral exclusion, got %+v", excl)
		}
	})
}
