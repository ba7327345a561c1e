// Package validation compares calculated figures against expected values and
// decides the verdict of a run.
package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/liquidity/internal/calc"
	"github.com/opensource-finance/liquidity/internal/domain"
)

// NoteInformational marks metrics without an expected value.
const NoteInformational = "informational"

// Validator produces per-metric verdicts and the overall status.
type Validator struct {
	Tolerance    domain.TolerancePolicy
	Unclassified domain.UnclassifiedPolicy
	MinimumRatio float64
	Currency     string
}

// NewValidator creates a validator from the calculation policy.
func NewValidator(cfg domain.CalculationConfig) *Validator {
	currency := cfg.ReportingCurrency
	if currency == "" {
		currency = "USD"
	}
	return &Validator{
		Tolerance:    cfg.Tolerance,
		Unclassified: cfg.Unclassified,
		MinimumRatio: cfg.MinimumRatio,
		Currency:     currency,
	}
}

// Input contains all data needed for a verdict.
type Input struct {
	Ratio    domain.RatioType
	Outcome  *calc.Outcome // nil when the run failed before calculation
	Expected *domain.ExpectedFigures

	// Issues raised by earlier stages (unclassified and excluded items).
	Issues []domain.Issue

	UnclassifiedAmount float64
	TotalAmount        float64

	// FailureReason is set when an earlier stage failed the run.
	FailureReason  string
	FailureMessage string
}

// Verdict is the validation outcome of a run.
type Verdict struct {
	Metrics    []domain.MetricValidation
	Status     domain.Status
	ReasonCode string
	Issues     []domain.Issue
}

// Validate checks every metric and derives the overall status.
func (v *Validator) Validate(in *Input) *Verdict {
	verdict := &Verdict{
		Issues: append([]domain.Issue(nil), in.Issues...),
	}

	if in.FailureReason != "" && !hasIssue(in.Issues, in.FailureReason) {
		verdict.Issues = append(verdict.Issues, domain.Issue{
			Code:     in.FailureReason,
			Severity: domain.SeverityError,
			Message:  in.FailureMessage,
		})
	}

	if issue, rejected := v.checkUnclassified(in); rejected {
		verdict.Issues = append(verdict.Issues, issue)
	}

	if in.Outcome != nil {
		verdict.Metrics = v.checkMetrics(in)
		for _, m := range verdict.Metrics {
			if m.Status == domain.StatusPassed {
				continue
			}
			severity := domain.SeverityWarning
			if m.Status == domain.StatusFailed {
				severity = domain.SeverityError
			}
			code := m.Reason
			if code == "" {
				code = domain.ReasonVarianceOutOfTolerance
			}
			verdict.Issues = append(verdict.Issues, domain.Issue{
				Code:     code,
				Severity: severity,
				Message:  fmt.Sprintf("%s: %s", m.Metric, m.Note),
				Family:   m.Family,
			})
		}
	}

	verdict.Status, verdict.ReasonCode = overall(verdict, in.FailureReason)
	return verdict
}

// checkMetrics builds one row per category, one per stage total and one for
// the ratio, plus rows for expected metrics the run did not produce.
func (v *Validator) checkMetrics(in *Input) []domain.MetricValidation {
	out := in.Outcome
	seen := make(map[string]bool)
	var rows []domain.MetricValidation

	totals := out.Aggregation.CategoryTotals()
	families := make(map[string][]string)
	for _, ct := range totals {
		families[ct.Category] = append(families[ct.Category], string(ct.Family))
	}

	for _, ct := range totals {
		qualified := CategoryMetric(ct.Family, ct.Category)
		seen[qualified] = true
		name, exp, ok := qualified, 0.0, false
		if len(families[ct.Category]) == 1 {
			// A category name used by one family only may be reported bare.
			name = ct.Category
			seen[ct.Category] = true
			exp, ok = in.Expected.Lookup(ct.Category)
		}
		if e, found := in.Expected.Lookup(qualified); found {
			exp, ok = e, true
		}
		rows = append(rows, v.compareAmount(name, ct.Family, ct.Calculated.InexactFloat64(), exp, ok))
	}

	for _, metric := range stageMetrics(in.Ratio) {
		seen[metric] = true
		total, ok := out.Totals[metric]
		if !ok {
			continue
		}
		rows = append(rows, v.checkAmount(metric, "", total.InexactFloat64(), in.Expected))
	}

	seen[domain.MetricRatio] = true
	rows = append(rows, v.checkRatio(out.Value, in.Expected))

	if in.Expected != nil {
		var missing []string
		for metric := range in.Expected.Values {
			if !seen[metric] {
				missing = append(missing, metric)
			}
		}
		sort.Strings(missing)
		for _, metric := range missing {
			if fams := families[metric]; len(fams) > 1 {
				rows = append(rows, ambiguousCategory(metric, fams, in.Expected))
				continue
			}
			rows = append(rows, v.checkAmount(metric, "", 0, in.Expected))
		}
	}

	return rows
}

func stageMetrics(ratio domain.RatioType) []string {
	switch ratio {
	case domain.RatioLCR:
		return []string{
			domain.MetricLevel1, domain.MetricLevel2A, domain.MetricLevel2B, domain.MetricTotalHQLA,
			domain.MetricTotalOutflows, domain.MetricTotalInflows, domain.MetricNetCashOutflows,
		}
	case domain.RatioNSFR:
		return []string{domain.MetricTotalASF, domain.MetricTotalRSF}
	}
	return nil
}

// CategoryMetric is the family-qualified metric name of a category, such
// as "OUTFLOW/derivatives". It is required in expected figures when a
// category name is produced by more than one family.
func CategoryMetric(family domain.Family, category string) string {
	return string(family) + "/" + category
}

// ambiguousCategory reports an expected value keyed by a bare category name
// that several families produced. It cannot be compared to either row.
func ambiguousCategory(metric string, families []string, expected *domain.ExpectedFigures) domain.MetricValidation {
	exp, _ := expected.Lookup(metric)
	note := fmt.Sprintf("category %s is produced by %s; report it per family, e.g. %s",
		metric, strings.Join(families, ", "), CategoryMetric(domain.Family(families[0]), metric))
	return domain.MetricValidation{
		Metric:   metric,
		Expected: &exp,
		Status:   domain.StatusWarning,
		Reason:   domain.ReasonAmbiguousCategory,
		Note:     note,
	}
}

func (v *Validator) checkAmount(metric string, family domain.Family, calculated float64, expected *domain.ExpectedFigures) domain.MetricValidation {
	exp, ok := expected.Lookup(metric)
	return v.compareAmount(metric, family, calculated, exp, ok)
}

func (v *Validator) compareAmount(metric string, family domain.Family, calculated, exp float64, ok bool) domain.MetricValidation {
	row := domain.MetricValidation{Metric: metric, Family: family, Calculated: calculated}
	if !ok {
		row.Status = domain.StatusPassed
		row.Note = NoteInformational
		return row
	}

	variance := calculated - exp
	tolerance := Tolerance(v.Tolerance.Amount, exp)
	row.Expected, row.Variance, row.Tolerance = &exp, &variance, tolerance
	row.Status = v.classify(variance, tolerance, false)
	row.Note = fmt.Sprintf("calculated %s vs expected %s, variance %s (tolerance %s)",
		FormatAmount(calculated, v.Currency), FormatAmount(exp, v.Currency),
		FormatSignedAmount(variance, v.Currency), FormatAmount(tolerance, v.Currency))
	return row
}

func (v *Validator) checkRatio(value *float64, expected *domain.ExpectedFigures) domain.MetricValidation {
	row := domain.MetricValidation{Metric: domain.MetricRatio}

	if value == nil {
		row.Status = domain.StatusFailed
		row.Note = "ratio undefined"
		if exp, ok := expected.Lookup(domain.MetricRatio); ok {
			row.Expected = &exp
		}
		return row
	}
	row.Calculated = *value

	exp, ok := expected.Lookup(domain.MetricRatio)
	if !ok {
		row.Status = domain.StatusPassed
		row.Note = NoteInformational
		return row
	}

	variance := *value - exp
	tolerance := Tolerance(v.Tolerance.Ratio, exp)
	flipped := calc.IsCompliant(*value, v.MinimumRatio) != calc.IsCompliant(exp, v.MinimumRatio)

	row.Expected, row.Variance, row.Tolerance = &exp, &variance, tolerance
	row.Status = v.classify(variance, tolerance, flipped)
	row.Note = fmt.Sprintf("calculated %.4f vs expected %.4f, variance %+.4f (tolerance %.4f)", *value, exp, variance, tolerance)
	if flipped && row.Status == domain.StatusFailed {
		row.Note += ", compliance differs"
	}
	return row
}

// classify returns passed inside tolerance, failed when the variance is
// beyond the failure band or flips compliance, warning otherwise.
func (v *Validator) classify(variance, tolerance float64, complianceFlipped bool) domain.Status {
	abs := math.Abs(variance)
	if abs <= tolerance {
		return domain.StatusPassed
	}

	multiplier := v.Tolerance.FailureMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	if complianceFlipped || abs > tolerance*multiplier {
		return domain.StatusFailed
	}
	return domain.StatusWarning
}

// Tolerance returns min(absolute, relative × |expected|), or the absolute
// band alone when expected is zero.
func Tolerance(band domain.ToleranceBand, expected float64) float64 {
	if expected == 0 {
		return band.Absolute
	}
	return math.Min(band.Absolute, band.Relative*math.Abs(expected))
}

// checkUnclassified applies the reject policy to the unclassified amount.
func (v *Validator) checkUnclassified(in *Input) (domain.Issue, bool) {
	if v.Unclassified.Mode != domain.UnclassifiedReject || in.UnclassifiedAmount <= 0 {
		return domain.Issue{}, false
	}

	share := 0.0
	if in.TotalAmount > 0 {
		share = in.UnclassifiedAmount / in.TotalAmount
	}

	p := v.Unclassified
	rejected := (p.MaxAmount == 0 && p.MaxShare == 0) ||
		(p.MaxAmount > 0 && in.UnclassifiedAmount > p.MaxAmount) ||
		(p.MaxShare > 0 && share > p.MaxShare)
	if !rejected {
		return domain.Issue{}, false
	}

	return domain.Issue{
		Code:     domain.ReasonUnclassifiedThreshold,
		Severity: domain.SeverityError,
		Message: fmt.Sprintf("unclassified amount %s (%.2f%% of total) exceeds policy",
			FormatAmount(in.UnclassifiedAmount, v.Currency), share*100),
		Amount: in.UnclassifiedAmount,
	}, true
}

func hasIssue(issues []domain.Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// overall derives the run status and its primary reason code.
func overall(verdict *Verdict, failureReason string) (domain.Status, string) {
	var failed, warned bool
	for _, m := range verdict.Metrics {
		switch m.Status {
		case domain.StatusFailed:
			failed = true
		case domain.StatusWarning:
			warned = true
		}
	}

	firstError, firstWarning := "", ""
	for _, issue := range verdict.Issues {
		switch issue.Severity {
		case domain.SeverityError:
			failed = true
			if firstError == "" {
				firstError = issue.Code
			}
		case domain.SeverityWarning:
			warned = true
			if firstWarning == "" {
				firstWarning = issue.Code
			}
		}
	}

	switch {
	case failureReason != "":
		return domain.StatusFailed, failureReason
	case failed:
		if firstError == "" {
			firstError = domain.ReasonVarianceOutOfTolerance
		}
		return domain.StatusFailed, firstError
	case warned:
		if firstWarning == "" {
			firstWarning = domain.ReasonVarianceOutOfTolerance
		}
		return domain.StatusWarning, firstWarning
	}
	return domain.StatusPassed, ""
}
