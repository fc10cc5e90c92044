// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-telco/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with the SQLite, PostgreSQL and MySQL drivers.
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
	case "mysql":
		db, err = openMySQL(cfg)
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
	for _, stmt := range Schemas(r.driver) {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCustomers upserts a batch of customer records with tenant isolation.
func (r *SQLRepository) SaveCustomers(ctx context.Context, tenantID string, records []*domain.CustomerRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO customers (
			id, tenant_id, tenure_months, contract, monthly_charge,
			total_revenue, total_refunds, payment_method, referrals,
			services, premium_support, age, gender, married, state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + r.upsert("id, tenant_id",
		"tenure_months", "contract", "monthly_charge", "total_revenue",
		"total_refunds", "payment_method", "referrals", "services",
		"premium_support", "age", "gender", "married", "state")

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx,
			rec.ID, tenantID, rec.TenureMonths, string(rec.Contract),
			rec.MonthlyCharge.String(), rec.TotalRevenue.String(), rec.TotalRefunds.String(),
			string(rec.PaymentMethod), rec.Referrals, rec.Services,
			boolToInt(rec.PremiumSupport), rec.Age, string(rec.Gender),
			boolToInt(rec.Married), rec.State, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save customer %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// GetCustomer retrieves a customer record by ID with tenant isolation.
func (r *SQLRepository) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.CustomerRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenure_months, contract, monthly_charge, total_revenue,
			   total_refunds, payment_method, referrals, services,
			   premium_support, age, gender, married, state, created_at
		FROM customers
		WHERE tenant_id = ? AND id = ?
	`

	var rec domain.CustomerRecord
	var contract, payment, gender string
	var monthlyCharge, totalRevenue, totalRefunds string
	var premiumSupport, married int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID).Scan(
		&rec.ID, &rec.TenureMonths, &contract, &monthlyCharge, &totalRevenue,
		&totalRefunds, &payment, &rec.Referrals, &rec.Services,
		&premiumSupport, &rec.Age, &gender, &married, &rec.State, &rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Contract = domain.ContractType(contract)
	rec.PaymentMethod = domain.PaymentMethod(payment)
	rec.Gender = domain.Gender(gender)
	rec.PremiumSupport = premiumSupport == 1
	rec.Married = married == 1

	if rec.MonthlyCharge, err = decimal.NewFromString(monthlyCharge); err != nil {
		return nil, fmt.Errorf("corrupt monthly_charge for %s: %w", customerID, err)
	}
	if rec.TotalRevenue, err = decimal.NewFromString(totalRevenue); err != nil {
		return nil, fmt.Errorf("corrupt total_revenue for %s: %w", customerID, err)
	}
	if rec.TotalRefunds, err = decimal.NewFromString(totalRefunds); err != nil {
		return nil, fmt.Errorf("corrupt total_refunds for %s: %w", customerID, err)
	}

	return &rec, nil
}

// SaveFactorRule upserts a factor rule with tenant isolation.
func (r *SQLRepository) SaveFactorRule(ctx context.Context, tenantID string, rule *domain.FactorRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO factor_rules (
			id, tenant_id, name, description, expression, weight, rule_order, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + r.upsert("id, tenant_id",
		"name", "description", "expression", "weight", "rule_order",
		"enabled", "updated_at")

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Weight, rule.Order, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetFactorRule retrieves a factor rule with tenant isolation.
func (r *SQLRepository) GetFactorRule(ctx context.Context, tenantID string, ruleID string) (*domain.FactorRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, weight, rule_order, enabled
		FROM factor_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.FactorRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Expression, &rule.Weight, &rule.Order, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListFactorRules retrieves all active factor rules for a tenant in
// catalogue order.
func (r *SQLRepository) ListFactorRules(ctx context.Context, tenantID string) ([]*domain.FactorRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, weight, rule_order, enabled
		FROM factor_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY rule_order, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FactorRule
	for rows.Next() {
		var rule domain.FactorRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Expression, &rule.Weight, &rule.Order, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveTierBands replaces the tenant's tier band set.
func (r *SQLRepository) SaveTierBands(ctx context.Context, tenantID string, bands []domain.TierBand) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM tier_bands WHERE tenant_id = ?`), tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO tier_bands (tenant_id, tier, lower_bound, updated_at) VALUES (?, ?, ?, ?)`
	for _, band := range bands {
		if _, err := tx.ExecContext(ctx, r.rebind(query), tenantID, band.Tier.String(), band.Lower, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetTierBands retrieves the tenant's tier band set in ascending tier
// order. Returns ErrNotFound when the tenant has none configured.
func (r *SQLRepository) GetTierBands(ctx context.Context, tenantID string) ([]domain.TierBand, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT tier, lower_bound FROM tier_bands WHERE tenant_id = ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTier := make(map[domain.RiskTier]domain.TierBand)
	for rows.Next() {
		var tierName string
		var lower float64
		if err := rows.Scan(&tierName, &lower); err != nil {
			return nil, err
		}
		tier, err := domain.ParseTier(tierName)
		if err != nil {
			return nil, err
		}
		byTier[tier] = domain.TierBand{Tier: tier, Lower: lower}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(byTier) == 0 {
		return nil, ErrNotFound
	}

	bands := make([]domain.TierBand, 0, len(byTier))
	for _, tier := range domain.AllTiers() {
		band, ok := byTier[tier]
		if !ok {
			return nil, fmt.Errorf("stored tier bands missing %s", tier)
		}
		bands = append(bands, band)
	}
	return bands, nil
}

// SaveRun stores a scoring pass summary with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.ScoreRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rejections, _ := json.Marshal(run.Rejections)

	query := `
		INSERT INTO score_runs (
			id, tenant_id, received, scored, rejected, rejections,
			started_at, completed_at, duration_ms, engine_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.Received, run.Scored, run.Rejected,
		string(rejections), run.StartedAt, run.CompletedAt,
		run.DurationMs, run.EngineVersion,
	)
	return err
}

// GetRun retrieves a scoring pass summary by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.ScoreRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, received, scored, rejected, rejections,
			   started_at, completed_at, duration_ms, engine_version
		FROM score_runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.ScoreRun
	var rejections string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.Received, &run.Scored, &run.Rejected,
		&rejections, &run.StartedAt, &run.CompletedAt, &run.DurationMs,
		&run.EngineVersion,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rejections != "" {
		json.Unmarshal([]byte(rejections), &run.Rejections)
	}

	return &run, nil
}

// SaveScoredCustomers stores a run's scored customers.
func (r *SQLRepository) SaveScoredCustomers(ctx context.Context, tenantID string, scored []domain.ScoredCustomer) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(scored) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO scored_customers (
			run_id, tenant_id, customer_id, probability, tier, payload, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range scored {
		sc := &scored[i]
		payload, err := json.Marshal(sc)
		if err != nil {
			return fmt.Errorf("failed to encode scored customer %s: %w", sc.Customer.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			sc.RunID, tenantID, sc.Customer.ID, sc.Probability,
			sc.Tier.String(), string(payload), sc.ScoredAt,
		); err != nil {
			return fmt.Errorf("failed to save scored customer %s: %w", sc.Customer.ID, err)
		}
	}

	return tx.Commit()
}

// ListScoredCustomers retrieves a run's scored customers ordered by
// probability descending, ties broken by customer ID ascending.
func (r *SQLRepository) ListScoredCustomers(ctx context.Context, tenantID string, runID string, limit int) ([]domain.ScoredCustomer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT payload
		FROM scored_customers
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY probability DESC, customer_id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []domain.ScoredCustomer
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sc domain.ScoredCustomer
		if err := json.Unmarshal([]byte(payload), &sc); err != nil {
			return nil, fmt.Errorf("corrupt scored customer payload: %w", err)
		}
		scored = append(scored, sc)
	}

	return scored, rows.Err()
}

// SaveReport stores an aggregate report with tenant isolation.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.AggregateReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT INTO reports (run_id, tenant_id, input_digest, payload, generated_at)
		VALUES (?, ?, ?, ?, ?)
	` + r.upsert("run_id, tenant_id", "input_digest", "payload", "generated_at")

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.RunID, tenantID, report.InputDigest, string(payload), report.GeneratedAt,
	)
	return err
}

// GetReport retrieves a run's aggregate report with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, runID string) (*domain.AggregateReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT payload FROM reports WHERE tenant_id = ? AND run_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.AggregateReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("corrupt report payload: %w", err)
	}
	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// upsert renders a dialect-specific conflict clause updating the given
// columns. MySQL ignores the conflict column list and keys off the
// primary key.
func (r *SQLRepository) upsert(conflictCols string, updateCols ...string) string {
	var sb []byte
	if r.driver == "mysql" {
		sb = append(sb, "ON DUPLICATE KEY UPDATE "...)
		for i, col := range updateCols {
			if i > 0 {
				sb = append(sb, ", "...)
			}
			sb = append(sb, fmt.Sprintf("%s = VALUES(%s)", col, col)...)
		}
		return string(sb)
	}
	sb = append(sb, fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET ", conflictCols)...)
	for i, col := range updateCols {
		if i > 0 {
			sb = append(sb, ", "...)
		}
		sb = append(sb, fmt.Sprintf("%s = excluded.%s", col, col)...)
	}
	return string(sb)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
