// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/liquidity/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// lineItemDetail holds the optional amounts of a line item.
type lineItemDetail struct {
	CashFlowAmount              *float64 `json:"cashFlowAmount,omitempty"`
	EncumberedAmount            *float64 `json:"encumberedAmount,omitempty"`
	HaircutOverride             *float64 `json:"haircutOverride,omitempty"`
	RunoffRateOverride          *float64 `json:"runoffRateOverride,omitempty"`
	InflowRateOverride          *float64 `json:"inflowRateOverride,omitempty"`
	StableFundingFactorOverride *float64 `json:"stableFundingFactorOverride,omitempty"`
	CollateralValue             *float64 `json:"collateralValue,omitempty"`
	CollateralHaircut           *float64 `json:"collateralHaircut,omitempty"`
}

// SaveLineItems appends a batch of line items in one transaction.
// A line item already stored for the same submission and date fails the
// whole batch with ErrConflict.
func (r *SQLRepository) SaveLineItems(ctx context.Context, tenantID string, items []*domain.LineItem) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO line_items (
			tenant_id, submission_id, reporting_date, id, side, family,
			product_category, sub_product, counterparty_type, maturity_bucket, currency,
			outstanding_balance, is_hqla, hqla_level, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	now := time.Now().UTC()
	for _, li := range items {
		if li.SubmissionID == "" || li.ReportingDate.IsZero() {
			return fmt.Errorf("%w: line item %s: submission and reporting date are required", ErrInvalidInput, li.ID)
		}

		detail, _ := json.Marshal(lineItemDetail{
			CashFlowAmount:              li.CashFlowAmount,
			EncumberedAmount:            li.EncumberedAmount,
			HaircutOverride:             li.HaircutOverride,
			RunoffRateOverride:          li.RunoffRateOverride,
			InflowRateOverride:          li.InflowRateOverride,
			StableFundingFactorOverride: li.StableFundingFactorOverride,
			CollateralValue:             li.CollateralValue,
			CollateralHaircut:           li.CollateralHaircut,
		})

		createdAt := li.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		_, err := tx.ExecContext(ctx, query,
			tenantID, li.SubmissionID, formatDate(li.ReportingDate), li.ID, li.Side, li.Family,
			li.ProductCategory, li.SubProduct, li.CounterpartyType, li.MaturityBucket, li.Currency,
			li.OutstandingBalance, boolToInt(li.IsHQLA), li.HQLALevel, string(detail), createdAt,
		)
		if err != nil {
			if r.isUniqueViolation(err) {
				return fmt.Errorf("%w: line item %s", ErrConflict, li.ID)
			}
			return err
		}
	}

	return tx.Commit()
}

// ListLineItems retrieves the line items of a submission and reporting date.
func (r *SQLRepository) ListLineItems(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time) ([]*domain.LineItem, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, submission_id, reporting_date, id, side, family,
			   product_category, sub_product, counterparty_type, maturity_bucket, currency,
			   outstanding_balance, is_hqla, hqla_level, detail, created_at
		FROM line_items
		WHERE tenant_id = ? AND submission_id = ? AND reporting_date = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, submissionID, formatDate(reportingDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		var date, detail string
		var isHQLA int

		if err := rows.Scan(
			&li.TenantID, &li.SubmissionID, &date, &li.ID, &li.Side, &li.Family,
			&li.ProductCategory, &li.SubProduct, &li.CounterpartyType, &li.MaturityBucket, &li.Currency,
			&li.OutstandingBalance, &isHQLA, &li.HQLALevel, &detail, &li.CreatedAt,
		); err != nil {
			return nil, err
		}

		if li.ReportingDate, err = domain.ParseReportingDate(date); err != nil {
			return nil, fmt.Errorf("line item %s: %w", li.ID, err)
		}
		li.IsHQLA = isHQLA == 1

		var d lineItemDetail
		if err := json.Unmarshal([]byte(detail), &d); err != nil {
			return nil, fmt.Errorf("failed to parse line item %s: %w", li.ID, err)
		}
		li.CashFlowAmount = d.CashFlowAmount
		li.EncumberedAmount = d.EncumberedAmount
		li.HaircutOverride = d.HaircutOverride
		li.RunoffRateOverride = d.RunoffRateOverride
		li.InflowRateOverride = d.InflowRateOverride
		li.StableFundingFactorOverride = d.StableFundingFactorOverride
		li.CollateralValue = d.CollateralValue
		li.CollateralHaircut = d.CollateralHaircut

		items = append(items, &li)
	}

	return items, rows.Err()
}

// SaveRule stores a calculation rule with tenant isolation, replacing the
// previous definition of the same code.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.CalculationRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.Code == "" {
		return fmt.Errorf("%w: rule code is required", ErrInvalidInput)
	}

	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO calculation_rules (
			tenant_id, code, version, family, category, body, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, code) DO UPDATE SET
			version = excluded.version,
			family = excluded.family,
			category = excluded.category,
			body = excluded.body,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rule.Code, rule.Version, rule.Family, rule.Category,
		string(body), boolToInt(rule.Enabled), now, now,
	)
	return err
}

// GetRule retrieves a calculation rule by code with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, code string) (*domain.CalculationRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, body, enabled
		FROM calculation_rules
		WHERE tenant_id = ? AND code = ?
	`

	var tenant, body string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, code).Scan(&tenant, &body, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeRule(tenant, body, enabled)
}

// ListRules retrieves every calculation rule of a tenant, enabled or not.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.CalculationRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, body, enabled
		FROM calculation_rules
		WHERE tenant_id = ?
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CalculationRule
	for rows.Next() {
		var tenant, body string
		var enabled int

		if err := rows.Scan(&tenant, &body, &enabled); err != nil {
			return nil, err
		}

		rule, err := decodeRule(tenant, body, enabled)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func decodeRule(tenantID, body string, enabled int) (*domain.CalculationRule, error) {
	var rule domain.CalculationRule
	if err := json.Unmarshal([]byte(body), &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	rule.TenantID = tenantID
	rule.Enabled = enabled == 1
	return &rule, nil
}

// SaveExpected appends expected figures; the latest set for a key wins.
func (r *SQLRepository) SaveExpected(ctx context.Context, tenantID string, expected *domain.ExpectedFigures) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if expected.SubmissionID == "" || expected.ReportingDate.IsZero() || !expected.Ratio.Valid() {
		return fmt.Errorf("%w: submission, reporting date and ratio are required", ErrInvalidInput)
	}

	figures, err := json.Marshal(expected.Values)
	if err != nil {
		return err
	}

	createdAt := expected.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO expected_figures (
			id, tenant_id, submission_id, reporting_date, ratio, figures, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), tenantID, expected.SubmissionID, formatDate(expected.ReportingDate),
		expected.Ratio, string(figures), createdAt,
	)
	return err
}

// GetExpected retrieves the most recent expected figures for a key.
func (r *SQLRepository) GetExpected(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time, ratio domain.RatioType) (*domain.ExpectedFigures, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, submission_id, reporting_date, ratio, figures, created_at
		FROM expected_figures
		WHERE tenant_id = ? AND submission_id = ? AND reporting_date = ? AND ratio = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var e domain.ExpectedFigures
	var date, figures string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, submissionID, formatDate(reportingDate), ratio).Scan(
		&e.TenantID, &e.SubmissionID, &date, &e.Ratio, &figures, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if e.ReportingDate, err = domain.ParseReportingDate(date); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(figures), &e.Values); err != nil {
		return nil, fmt.Errorf("failed to parse expected figures: %w", err)
	}

	return &e, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func (r *SQLRepository) isUniqueViolation(err error) bool {
	if r.driver == "postgres" {
		return isPostgresUniqueViolation(err)
	}
	return isSQLiteUniqueViolation(err)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
