package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/metrics"
	"github.com/opensource-finance/liquidity/internal/pipeline"
	"github.com/opensource-finance/liquidity/internal/repository"
)

// Request identifies one run to execute.
type Request struct {
	TenantID      string
	SubmissionID  string
	ReportingDate time.Time
	Ratio         domain.RatioType
	TraceID       string

	// Inline inputs replace the stored ones when set. They are used for
	// this run only and are not persisted.
	LineItems []*domain.LineItem
	Expected  *domain.ExpectedFigures
}

// Runner loads run inputs, executes the pipeline and records the result.
// It is shared by the HTTP API and the async worker.
type Runner struct {
	repo      domain.Repository
	processor *pipeline.Processor
	history   *history.Service
}

// NewRunner creates a runner.
func NewRunner(repo domain.Repository, processor *pipeline.Processor, hist *history.Service) *Runner {
	return &Runner{
		repo:      repo,
		processor: processor,
		history:   hist,
	}
}

// Execute runs one calculation and persists it. The returned error is
// non-nil only when nothing was persisted.
func (r *Runner) Execute(ctx context.Context, req Request) (*domain.Run, error) {
	start := time.Now()

	items := req.LineItems
	if items == nil {
		var err error
		items, err = r.repo.ListLineItems(ctx, req.TenantID, req.SubmissionID, req.ReportingDate)
		if err != nil {
			return nil, fmt.Errorf("failed to load line items: %w", err)
		}
	}

	expected := req.Expected
	if expected == nil {
		var err error
		expected, err = r.repo.GetExpected(ctx, req.TenantID, req.SubmissionID, req.ReportingDate, req.Ratio)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load expected figures: %w", err)
		}
	}

	supersedes, err := r.history.Supersedes(ctx, req.TenantID, req.SubmissionID, req.ReportingDate, req.Ratio)
	if err != nil {
		return nil, err
	}

	run, err := r.processor.Run(ctx, &pipeline.Input{
		TenantID:      req.TenantID,
		SubmissionID:  req.SubmissionID,
		ReportingDate: req.ReportingDate,
		Ratio:         req.Ratio,
		LineItems:     items,
		Expected:      expected,
		TraceID:       req.TraceID,
		Supersedes:    supersedes,
	})
	if err != nil {
		return nil, err
	}

	if err := r.history.Record(ctx, req.TenantID, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	res := run.Result
	metrics.ObserveRun(string(res.Ratio), string(res.Status), time.Since(start), len(items), res.UnclassifiedAmount)

	slog.Info("run completed",
		"run_id", res.RunID,
		"tenant_id", req.TenantID,
		"submission_id", req.SubmissionID,
		"ratio", res.Ratio,
		"status", res.Status,
		"reason_code", res.ReasonCode,
		"supersedes", supersedes,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return run, nil
}
