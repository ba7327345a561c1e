package calc

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrZeroDenominator is returned when a ratio's denominator is not positive.
var ErrZeroDenominator = errors.New("zero denominator")

// Outcome is the calculated side of a run: figures, ratio and compliance.
type Outcome struct {
	Ratio       domain.RatioType
	Aggregation *Aggregation
	LCR         *domain.LCRFigures
	NSFR        *domain.NSFRFigures

	// Value is nil when the ratio is undefined.
	Value     *float64
	Compliant bool

	// Exact stage totals keyed by metric name.
	Totals map[string]decimal.Decimal
}

// Ratio divides numerator by denominator.
func Ratio(numerator, denominator decimal.Decimal) (decimal.Decimal, error) {
	if !denominator.IsPositive() {
		return decimal.Zero, ErrZeroDenominator
	}
	return numerator.Div(denominator), nil
}

// Calculate runs caps and the ratio over an aggregation. On ErrZeroDenominator
// the returned outcome is still populated, with a nil Value.
func Calculate(ratio domain.RatioType, agg *Aggregation, cfg domain.CalculationConfig) (*Outcome, error) {
	out := &Outcome{
		Ratio:       ratio,
		Aggregation: agg,
		Totals:      make(map[string]decimal.Decimal),
	}

	var numerator, denominator decimal.Decimal

	switch ratio {
	case domain.RatioLCR:
		capped := EnforceCaps(LCRTotalsFrom(agg), cfg.Caps)
		out.LCR = capped.Figures()

		out.Totals[domain.MetricLevel1] = capped.Level1
		out.Totals[domain.MetricLevel2A] = capped.Level2A.Result
		out.Totals[domain.MetricLevel2B] = capped.Level2B.Result
		out.Totals[domain.MetricTotalHQLA] = capped.TotalHQLA
		out.Totals[domain.MetricTotalOutflows] = capped.Outflows
		out.Totals[domain.MetricTotalInflows] = capped.Inflows.Result
		out.Totals[domain.MetricNetCashOutflows] = capped.NetCashOutflows

		numerator, denominator = capped.TotalHQLA, capped.NetCashOutflows

	case domain.RatioNSFR:
		asf := agg.FamilyTotal(domain.FamilyASF)
		rsf := agg.FamilyTotal(domain.FamilyRSF)
		out.NSFR = &domain.NSFRFigures{
			TotalASF: asf.InexactFloat64(),
			TotalRSF: rsf.InexactFloat64(),
		}

		out.Totals[domain.MetricTotalASF] = asf
		out.Totals[domain.MetricTotalRSF] = rsf

		numerator, denominator = asf, rsf

	default:
		return nil, fmt.Errorf("unknown ratio %q", ratio)
	}

	value, err := Ratio(numerator, denominator)
	if err != nil {
		return out, err
	}

	v := value.InexactFloat64()
	out.Value = &v
	out.Compliant = IsCompliant(v, cfg.MinimumRatio)
	out.Totals[domain.MetricRatio] = value
	return out, nil
}

// IsCompliant reports whether ratio meets the minimum.
func IsCompliant(ratio, minimum float64) bool {
	return ratio >= minimum
}
