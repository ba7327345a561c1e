package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
)

// SaveRun writes a run result and all of its breakdown rows in one
// transaction. Runs are never updated; a second save of the same run id
// returns ErrConflict.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.Result == nil || run.Result.RunID == "" {
		return fmt.Errorf("%w: run result with an id is required", ErrInvalidInput)
	}
	res := run.Result

	body, err := json.Marshal(res)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (
			id, tenant_id, submission_id, reporting_date, ratio, status, reason_code,
			ratio_value, compliant, supersedes, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var ratioValue sql.NullFloat64
	if res.RatioValue != nil {
		ratioValue = sql.NullFloat64{Float64: *res.RatioValue, Valid: true}
	}

	_, err = tx.ExecContext(ctx, r.rebind(query),
		res.RunID, tenantID, res.SubmissionID, formatDate(res.ReportingDate), res.Ratio,
		res.Status, res.ReasonCode, ratioValue, boolToInt(res.Compliant), res.Supersedes,
		string(body), res.CreatedAt.UTC(),
	)
	if err != nil {
		if r.isUniqueViolation(err) {
			return fmt.Errorf("%w: run %s", ErrConflict, res.RunID)
		}
		return err
	}

	breakdownQuery := r.rebind(`
		INSERT INTO component_breakdowns (
			run_id, seq, tenant_id, submission_id, reporting_date, family, category, sub_type,
			rule_code, total_amount, adjusted_amount, factor, calculated_amount, record_count, line_item_ids
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for i, b := range run.Breakdowns {
		ids, _ := json.Marshal(b.LineItemIDs)
		_, err := tx.ExecContext(ctx, breakdownQuery,
			res.RunID, i, tenantID, res.SubmissionID, formatDate(res.ReportingDate),
			b.Family, b.Category, b.SubType, b.RuleCode,
			b.TotalAmount, b.AdjustedAmount, b.Factor, b.CalculatedAmount, b.RecordCount, string(ids),
		)
		if err != nil {
			return fmt.Errorf("failed to save breakdown %d of run %s: %w", i, res.RunID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run result by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.ValidationResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT result
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var res domain.ValidationResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", runID, err)
	}
	return &res, nil
}

// ListRuns retrieves the run history of a submission, newest first.
// A zero reporting date or an empty ratio matches every value.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time, ratio domain.RatioType) ([]*domain.ValidationResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT result
		FROM runs
		WHERE tenant_id = ? AND submission_id = ?`)
	args := []any{tenantID, submissionID}

	if !reportingDate.IsZero() {
		sb.WriteString(" AND reporting_date = ?")
		args = append(args, formatDate(reportingDate))
	}
	if ratio != "" {
		sb.WriteString(" AND ratio = ?")
		args = append(args, ratio)
	}
	sb.WriteString(" ORDER BY created_at DESC, id")

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ValidationResult
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}

		var res domain.ValidationResult
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, fmt.Errorf("failed to parse run: %w", err)
		}
		results = append(results, &res)
	}

	return results, rows.Err()
}

// ListBreakdowns retrieves the breakdown rows of a run in calculation order.
func (r *SQLRepository) ListBreakdowns(ctx context.Context, tenantID string, runID string) ([]domain.ComponentBreakdown, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT run_id, tenant_id, submission_id, reporting_date, family, category, sub_type,
			   rule_code, total_amount, adjusted_amount, factor, calculated_amount, record_count, line_item_ids
		FROM component_breakdowns
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakdowns []domain.ComponentBreakdown
	for rows.Next() {
		var b domain.ComponentBreakdown
		var date, ids string

		if err := rows.Scan(
			&b.RunID, &b.TenantID, &b.SubmissionID, &date, &b.Family, &b.Category, &b.SubType,
			&b.RuleCode, &b.TotalAmount, &b.AdjustedAmount, &b.Factor, &b.CalculatedAmount, &b.RecordCount, &ids,
		); err != nil {
			return nil, err
		}

		if b.ReportingDate, err = domain.ParseReportingDate(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &b.LineItemIDs); err != nil {
			return nil, fmt.Errorf("failed to parse breakdown line items: %w", err)
		}
		breakdowns = append(breakdowns, b)
	}

	return breakdowns, rows.Err()
}
