package calc

import (
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// LCRTotals are the finalized family totals before caps.
type LCRTotals struct {
	Level1   decimal.Decimal
	Level2A  decimal.Decimal
	Level2B  decimal.Decimal
	Outflows decimal.Decimal
	Inflows  decimal.Decimal
}

// LCRTotalsFrom reads the LCR totals out of an aggregation.
func LCRTotalsFrom(a *Aggregation) LCRTotals {
	return LCRTotals{
		Level1:   a.LevelTotal(domain.HQLALevel1),
		Level2A:  a.LevelTotal(domain.HQLALevel2A),
		Level2B:  a.LevelTotal(domain.HQLALevel2B),
		Outflows: a.FamilyTotal(domain.FamilyOutflow),
		Inflows:  a.FamilyTotal(domain.FamilyInflow),
	}
}

// CappedLCR is the cap-stage result kept in exact arithmetic.
type CappedLCR struct {
	Level1          decimal.Decimal
	Level2A         Capped
	Level2B         Capped
	TotalHQLA       decimal.Decimal
	Outflows        decimal.Decimal
	Inflows         Capped
	NetCashOutflows decimal.Decimal
	OutflowFloor    decimal.Decimal
	FloorApplied    bool
}

// Capped is one cap step in exact arithmetic.
type Capped struct {
	Uncapped decimal.Decimal
	Bound    decimal.Decimal
	Result   decimal.Decimal
	Applied  bool
}

// Outcome converts the step for reporting.
func (c Capped) Outcome() domain.CapOutcome {
	return domain.CapOutcome{
		Uncapped: c.Uncapped.InexactFloat64(),
		Bound:    c.Bound.InexactFloat64(),
		Result:   c.Result.InexactFloat64(),
		Applied:  c.Applied,
	}
}

// Figures converts the cap result for reporting.
func (c CappedLCR) Figures() *domain.LCRFigures {
	return &domain.LCRFigures{
		Level1:          c.Level1.InexactFloat64(),
		Level2A:         c.Level2A.Outcome(),
		Level2B:         c.Level2B.Outcome(),
		TotalHQLA:       c.TotalHQLA.InexactFloat64(),
		TotalOutflows:   c.Outflows.InexactFloat64(),
		Inflows:         c.Inflows.Outcome(),
		NetCashOutflows: c.NetCashOutflows.InexactFloat64(),
		OutflowFloor:    c.OutflowFloor.InexactFloat64(),
		FloorApplied:    c.FloorApplied,
	}
}

// EnforceCaps applies the Level 2A and Level 2B caps, the inflow cap and the
// net cash outflow floor, in that order. No step increases a total.
func EnforceCaps(t LCRTotals, policy domain.CapPolicy) CappedLCR {
	out := CappedLCR{
		Level1:   t.Level1,
		Outflows: t.Outflows,
	}

	// Level 2A ≤ ratio × Level 1
	out.Level2A = capAt(t.Level2A, t.Level1.Mul(decimal.NewFromFloat(policy.Level2AToLevel1)))

	// Level 2B ≤ s × (L1 + L2A' + L2B'), solved for L2B': (L1 + L2A') × s/(1-s)
	share := decimal.NewFromFloat(policy.Level2BShareOfHQLA)
	if share.LessThan(one) {
		bound := t.Level1.Add(out.Level2A.Result).Mul(share).Div(one.Sub(share))
		out.Level2B = capAt(t.Level2B, bound)
	} else {
		out.Level2B = Capped{Uncapped: t.Level2B, Bound: t.Level2B, Result: t.Level2B}
	}

	out.TotalHQLA = t.Level1.Add(out.Level2A.Result).Add(out.Level2B.Result)

	out.Inflows = capAt(t.Inflows, t.Outflows.Mul(decimal.NewFromFloat(policy.InflowCapToOutflows)))

	net := t.Outflows.Sub(out.Inflows.Result)
	out.OutflowFloor = nonNegative(t.Outflows.Mul(decimal.NewFromFloat(policy.OutflowFloor)))
	if out.OutflowFloor.GreaterThan(net) {
		out.NetCashOutflows = out.OutflowFloor
		out.FloorApplied = true
	} else {
		out.NetCashOutflows = net
	}

	return out
}

// capAt limits value to bound; a negative bound is treated as zero.
func capAt(value, bound decimal.Decimal) Capped {
	bound = nonNegative(bound)
	c := Capped{Uncapped: value, Bound: bound, Result: value}
	if value.GreaterThan(bound) {
		c.Result = bound
		c.Applied = true
	}
	return c
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
