// Package pipeline runs one calculation: categorize, aggregate, cap, compute
// the ratio and validate, producing a run ready to persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/liquidity/internal/calc"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/opensource-finance/liquidity/internal/validation"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// EngineVersion is recorded in the metadata of every run.
const EngineVersion = "liquidity-1.0"

var tracer = otel.Tracer("liquidity-pipeline")

// ErrInvalidInput is returned when a run request cannot be processed.
var ErrInvalidInput = errors.New("invalid run input")

// Processor executes calculation runs against the rules loaded in a registry.
// It holds no per-run state and may be shared by concurrent runs.
type Processor struct {
	registry  *rules.Registry
	validator *validation.Validator
	cfg       domain.CalculationConfig
}

// NewProcessor creates a processor with the given calculation policy.
func NewProcessor(registry *rules.Registry, cfg domain.CalculationConfig) *Processor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.PartitionSize <= 0 {
		cfg.PartitionSize = domain.DefaultCalculationConfig().PartitionSize
	}
	return &Processor{
		registry:  registry,
		validator: validation.NewValidator(cfg),
		cfg:       cfg,
	}
}

// Config returns the calculation policy of the processor.
func (p *Processor) Config() domain.CalculationConfig {
	return p.cfg
}

// Input contains everything one run needs.
type Input struct {
	TenantID      string
	SubmissionID  string
	ReportingDate time.Time
	Ratio         domain.RatioType
	LineItems     []*domain.LineItem
	Expected      *domain.ExpectedFigures // optional
	TraceID       string
	Supersedes    string // previous run for the same key, if any
}

// Run executes the pipeline. Calculation problems (ambiguous rules, a zero
// denominator, variances) are attached to the returned run; an error is
// returned only for invalid input or a cancelled context, in which case
// nothing should be persisted.
func (p *Processor) Run(ctx context.Context, in *Input) (*domain.Run, error) {
	if !in.Ratio.Valid() {
		return nil, fmt.Errorf("%w: unknown ratio %q", ErrInvalidInput, in.Ratio)
	}
	if in.TenantID == "" || in.SubmissionID == "" {
		return nil, fmt.Errorf("%w: tenant and submission are required", ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.String("submission.id", in.SubmissionID),
		attribute.String("ratio", string(in.Ratio)),
		attribute.Int("line_items", len(in.LineItems)),
	)

	start := time.Now()
	ruleSet := p.registry.Snapshot()

	// 1. Categorize
	stageStart := time.Now()
	cat, err := p.categorize(ctx, ruleSet, in.Ratio, in.LineItems)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	categorizeMs := time.Since(stageStart).Milliseconds()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vin := &validation.Input{
		Ratio:              in.Ratio,
		Expected:           in.Expected,
		UnclassifiedAmount: cat.unclassifiedAmount().InexactFloat64(),
		TotalAmount:        cat.total.InexactFloat64(),
	}
	vin.Issues = append(vin.Issues, cat.unclassifiedIssues()...)

	// 2. Calculate
	stageStart = time.Now()
	var (
		outcome    *calc.Outcome
		exclusions []*calc.Exclusion
	)
	if cat.ambiguous != nil {
		vin.FailureReason = domain.ReasonAmbiguousRule
		vin.FailureMessage = cat.ambiguous.Error()
		vin.Issues = append(vin.Issues, domain.Issue{
			Code:        domain.ReasonAmbiguousRule,
			Severity:    domain.SeverityError,
			Message:     cat.ambiguous.Error(),
			Family:      cat.ambiguous.Family,
			RuleCodes:   cat.ambiguous.RuleCodes,
			LineItemIDs: []string{cat.ambiguous.LineItemID},
		})
	} else {
		outcome, exclusions, err = p.calculate(ctx, in.Ratio, cat.categorized)
		switch {
		case errors.Is(err, calc.ErrZeroDenominator):
			vin.FailureReason = domain.ReasonZeroDenominator
			vin.FailureMessage = zeroDenominatorMessage(in.Ratio)
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		vin.Outcome = outcome
		vin.Issues = append(vin.Issues, exclusionIssues(exclusions)...)
	}
	calculateMs := time.Since(stageStart).Milliseconds()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. Validate
	stageStart = time.Now()
	_, validateSpan := tracer.Start(ctx, "pipeline.validate")
	verdict := p.validator.Validate(vin)
	validateSpan.SetAttributes(
		attribute.String("status", string(verdict.Status)),
		attribute.Int("metrics", len(verdict.Metrics)),
	)
	validateSpan.End()
	validateMs := time.Since(stageStart).Milliseconds()

	result := &domain.ValidationResult{
		RunID:              uuid.New().String(),
		TenantID:           in.TenantID,
		SubmissionID:       in.SubmissionID,
		ReportingDate:      in.ReportingDate,
		Ratio:              in.Ratio,
		UnclassifiedAmount: vin.UnclassifiedAmount,
		UnclassifiedCount:  len(cat.unclassified),
		Metrics:            verdict.Metrics,
		Status:             verdict.Status,
		ReasonCode:         verdict.ReasonCode,
		Issues:             verdict.Issues,
		Supersedes:         in.Supersedes,
		CreatedAt:          time.Now().UTC(),
	}
	for _, ex := range exclusions {
		result.ExcludedAmount += ex.Amount.InexactFloat64()
		result.ExcludedCount++
	}

	var breakdowns []domain.ComponentBreakdown
	if outcome != nil {
		result.LCR = outcome.LCR
		result.NSFR = outcome.NSFR
		result.RatioValue = outcome.Value
		result.Compliant = outcome.Compliant

		breakdowns = outcome.Aggregation.Breakdowns()
		for i := range breakdowns {
			breakdowns[i].RunID = result.RunID
			breakdowns[i].TenantID = in.TenantID
			breakdowns[i].SubmissionID = in.SubmissionID
			breakdowns[i].ReportingDate = in.ReportingDate
		}
	}

	result.Metadata = domain.RunMetadata{
		TraceID:       in.TraceID,
		CategorizeMs:  categorizeMs,
		CalculateMs:   calculateMs,
		ValidateMs:    validateMs,
		TotalMs:       time.Since(start).Milliseconds(),
		LineItems:     len(in.LineItems),
		RulesLoaded:   ruleSet.Len(),
		BreakdownRows: len(breakdowns),
		EngineVersion: EngineVersion,
	}

	span.SetAttributes(
		attribute.String("run.id", result.RunID),
		attribute.String("status", string(result.Status)),
	)

	return &domain.Run{Result: result, Breakdowns: breakdowns}, nil
}

// calculate applies factors, aggregates and computes the capped ratio.
func (p *Processor) calculate(ctx context.Context, ratio domain.RatioType, items []calc.Categorized) (*calc.Outcome, []*calc.Exclusion, error) {
	_, span := tracer.Start(ctx, "pipeline.calculate")
	defer span.End()

	contributions := make([]calc.Contribution, 0, len(items))
	var exclusions []*calc.Exclusion
	for _, c := range items {
		contrib, excl := calc.ApplyFactor(c)
		if excl != nil {
			exclusions = append(exclusions, excl)
			continue
		}
		contributions = append(contributions, contrib)
	}

	agg := calc.Aggregate(contributions)
	outcome, err := calc.Calculate(ratio, agg, p.cfg)
	span.SetAttributes(
		attribute.Int("groups", len(agg.Groups)),
		attribute.Int("excluded", len(exclusions)),
	)
	if err != nil {
		span.RecordError(err)
	}
	return outcome, exclusions, err
}

func zeroDenominatorMessage(ratio domain.RatioType) string {
	if ratio == domain.RatioLCR {
		return "net cash outflows are zero, LCR is undefined"
	}
	return "required stable funding is zero, NSFR is undefined"
}

// exclusionIssues groups excluded items into one warning per reason.
func exclusionIssues(exclusions []*calc.Exclusion) []domain.Issue {
	if len(exclusions) == 0 {
		return nil
	}

	type bucket struct {
		ids    []string
		codes  map[string]bool
		amount decimal.Decimal
	}
	byReason := make(map[string]*bucket)
	var reasons []string
	for _, ex := range exclusions {
		b, ok := byReason[ex.Reason]
		if !ok {
			b = &bucket{codes: make(map[string]bool)}
			byReason[ex.Reason] = b
			reasons = append(reasons, ex.Reason)
		}
		b.ids = append(b.ids, ex.LineItemID)
		b.codes[ex.RuleCode] = true
		b.amount = b.amount.Add(ex.Amount)
	}
	sort.Strings(reasons)

	issues := make([]domain.Issue, 0, len(reasons))
	for _, reason := range reasons {
		b := byReason[reason]
		codes := make([]string, 0, len(b.codes))
		for code := range b.codes {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		issues = append(issues, domain.Issue{
			Code:        reason,
			Severity:    domain.SeverityWarning,
			Message:     fmt.Sprintf("%d line item(s) excluded: %s", len(b.ids), reason),
			RuleCodes:   codes,
			LineItemIDs: b.ids,
			Amount:      b.amount.InexactFloat64(),
		})
	}
	return issues
}
