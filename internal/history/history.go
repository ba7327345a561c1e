// Package history provides access to the append-only run history.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/metrics"
	"github.com/opensource-finance/liquidity/internal/repository"
)

// Service resolves prior runs and serves run lookups through the cache.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache // optional
	runTTL time.Duration
}

// NewService creates a new history service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache, runTTL time.Duration) *Service {
	if runTTL <= 0 {
		runTTL = 24 * time.Hour
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		runTTL: runTTL,
	}
}

// LatestRun returns the newest run for a submission, reporting date and
// ratio, or nil when the key has never been run.
func (s *Service) LatestRun(ctx context.Context, tenantID, submissionID string, reportingDate time.Time, ratio domain.RatioType) (*domain.ValidationResult, error) {
	if tenantID == "" || submissionID == "" {
		return nil, fmt.Errorf("%w: tenantID and submissionID are required", repository.ErrInvalidInput)
	}

	runs, err := s.repo.ListRuns(ctx, tenantID, submissionID, reportingDate, ratio)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// Supersedes returns the id a new run for the key should record as
// superseded, or "" for the first run.
func (s *Service) Supersedes(ctx context.Context, tenantID, submissionID string, reportingDate time.Time, ratio domain.RatioType) (string, error) {
	latest, err := s.LatestRun(ctx, tenantID, submissionID, reportingDate, ratio)
	if err != nil || latest == nil {
		return "", err
	}
	return latest.RunID, nil
}

// Record persists a run and caches its result and breakdowns.
func (s *Service) Record(ctx context.Context, tenantID string, run *domain.Run) error {
	if err := s.repo.SaveRun(ctx, tenantID, run); err != nil {
		return err
	}
	s.cacheRun(ctx, tenantID, run.Result)
	if run.Result != nil {
		s.cacheBreakdowns(ctx, tenantID, run.Result.RunID, run.Breakdowns)
	}
	return nil
}

// GetRun returns a run result, checking the cache before the repository.
func (s *Service) GetRun(ctx context.Context, tenantID, runID string) (*domain.ValidationResult, error) {
	if s.cache != nil {
		cached, err := s.cache.GetRun(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("run cache lookup failed",
				"tenant_id", tenantID,
				"run_id", runID,
				"error", err,
			)
		}
		if cached != nil {
			metrics.ObserveCacheLookup(metrics.CacheHit)
			return cached, nil
		}
		metrics.ObserveCacheLookup(metrics.CacheMiss)
	}

	result, err := s.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	s.cacheRun(ctx, tenantID, result)
	return result, nil
}

// ListRuns returns the run history of a submission, newest first.
func (s *Service) ListRuns(ctx context.Context, tenantID, submissionID string, reportingDate time.Time, ratio domain.RatioType) ([]*domain.ValidationResult, error) {
	return s.repo.ListRuns(ctx, tenantID, submissionID, reportingDate, ratio)
}

// Breakdowns returns the breakdown rows of a run, checking the cache before
// the repository. A run without rows still has to exist.
func (s *Service) Breakdowns(ctx context.Context, tenantID, runID string) ([]domain.ComponentBreakdown, error) {
	if s.cache != nil {
		rows, found, err := s.cache.GetBreakdowns(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("breakdown cache lookup failed",
				"tenant_id", tenantID,
				"run_id", runID,
				"error", err,
			)
		}
		if found {
			metrics.ObserveCacheLookup(metrics.CacheHit)
			return rows, nil
		}
		metrics.ObserveCacheLookup(metrics.CacheMiss)
	}

	rows, err := s.repo.ListBreakdowns(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if _, err := s.GetRun(ctx, tenantID, runID); err != nil {
			return nil, err
		}
	}
	s.cacheBreakdowns(ctx, tenantID, runID, rows)
	return rows, nil
}

func (s *Service) cacheRun(ctx context.Context, tenantID string, result *domain.ValidationResult) {
	if s.cache == nil || result == nil {
		return
	}
	if err := s.cache.SetRun(ctx, tenantID, result, s.runTTL); err != nil {
		slog.Warn("failed to cache run",
			"tenant_id", tenantID,
			"run_id", result.RunID,
			"error", err,
		)
	}
}

func (s *Service) cacheBreakdowns(ctx context.Context, tenantID, runID string, rows []domain.ComponentBreakdown) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetBreakdowns(ctx, tenantID, runID, rows, s.runTTL); err != nil {
		slog.Warn("failed to cache breakdowns",
			"tenant_id", tenantID,
			"run_id", runID,
			"error", err,
		)
	}
}

// IsNotFound reports whether err means the run does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
