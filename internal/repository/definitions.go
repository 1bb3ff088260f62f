package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/shopspring/decimal"
)

const definitionColumns = `
	id, user_id, kind, name, frequency, day_of_month, day_of_week,
	amount_type, amount, amount_max, start_date, next_occurrence, last_occurrence,
	is_active, requires_confirmation, is_primary_salary, last_received,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.RecurringDefinition, error) {
	var (
		def            models.RecurringDefinition
		dayOfMonth     sql.NullInt32
		dayOfWeek      sql.NullInt32
		amountMax      decimal.NullDecimal
		lastOccurrence sql.NullTime
		lastReceived   sql.NullTime
	)
	err := row.Scan(
		&def.ID, &def.OwnerID, &def.Kind, &def.Name, &def.Frequency, &dayOfMonth, &dayOfWeek,
		&def.AmountType, &def.Amount, &amountMax, &def.StartDate, &def.NextOccurrence, &lastOccurrence,
		&def.IsActive, &def.RequiresConfirmation, &def.IsPrimarySalary, &lastReceived,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.DayOfMonth = intPtr(dayOfMonth)
	def.DayOfWeek = intPtr(dayOfWeek)
	if amountMax.Valid {
		def.AmountMax = &amountMax.Decimal
	}
	def.StartDate = def.StartDate.UTC()
	def.NextOccurrence = def.NextOccurrence.UTC()
	def.LastOccurrence = timePtr(lastOccurrence)
	def.LastReceived = timePtr(lastReceived)
	return &def, nil
}

// CreateDefinition inserts a recurring definition
func (r *Repository) CreateDefinition(ctx context.Context, def *models.RecurringDefinition) error {
	var amountMax decimal.NullDecimal
	if def.AmountMax != nil {
		amountMax = decimal.NewNullDecimal(*def.AmountMax)
	}
	query := `
		INSERT INTO bank.recurring_definitions (
			user_id, kind, name, frequency, day_of_month, day_of_week,
			amount_type, amount, amount_max, start_date, next_occurrence, last_occurrence,
			is_active, requires_confirmation, is_primary_salary, last_received,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		def.OwnerID, def.Kind, def.Name, def.Frequency, nullInt(def.DayOfMonth), nullInt(def.DayOfWeek),
		def.AmountType, def.Amount, amountMax, def.StartDate, def.NextOccurrence, nullTime(def.LastOccurrence),
		def.IsActive, def.RequiresConfirmation, def.IsPrimarySalary, nullTime(def.LastReceived),
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create recurring definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves one of the owner's definitions
func (r *Repository) GetDefinition(ctx context.Context, ownerID, id int64) (*models.RecurringDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM bank.recurring_definitions
		WHERE id = $1 AND user_id = $2`
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring definition: %w", err)
	}
	return def, nil
}

// ListActiveDefinitions returns the owner's active definitions
func (r *Repository) ListActiveDefinitions(ctx context.Context, ownerID int64) ([]models.RecurringDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM bank.recurring_definitions
		WHERE user_id = $1 AND is_active
		ORDER BY id`
	return r.listDefinitions(ctx, query, ownerID)
}

// ListDueDefinitions returns active definitions whose next occurrence is on or before asOf
func (r *Repository) ListDueDefinitions(ctx context.Context, ownerID int64, asOf time.Time) ([]models.RecurringDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM bank.recurring_definitions
		WHERE user_id = $1 AND is_active AND next_occurrence <= $2
		ORDER BY next_occurrence, id`
	return r.listDefinitions(ctx, query, ownerID, asOf)
}

func (r *Repository) listDefinitions(ctx context.Context, query string, args ...any) ([]models.RecurringDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring definitions: %w", err)
	}
	defer rows.Close()

	var defs []models.RecurringDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring definition: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recurring definitions: %w", err)
	}
	return defs, nil
}

// SetDefinitionActive toggles a definition
func (r *Repository) SetDefinitionActive(ctx context.Context, ownerID, id int64, active bool) error {
	query := `
		UPDATE bank.recurring_definitions
		SET is_active = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, ownerID, active)
	if err != nil {
		return fmt.Errorf("failed to update recurring definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update recurring definition: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceIfCurrent moves the schedule only if next_occurrence still equals
// adv.ExpectedNext. When nothing matched, the row is inspected to tell a
// missing or inactive definition apart from a concurrent advance.
func (r *Repository) AdvanceIfCurrent(ctx context.Context, ownerID, id int64, adv models.ScheduleAdvance) error {
	query := `
		UPDATE bank.recurring_definitions
		SET next_occurrence = $4, last_occurrence = $5, last_received = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2 AND next_occurrence = $3 AND (is_active OR NOT $7)`
	res, err := r.db.ExecContext(ctx, query,
		id, ownerID, adv.ExpectedNext, adv.NextOccurrence,
		nullTime(adv.LastOccurrence), nullTime(adv.LastReceived), adv.RequireActive)
	if err != nil {
		return fmt.Errorf("failed to advance recurring definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance recurring definition: %w", err)
	}
	if n == 1 {
		return nil
	}

	var (
		next   time.Time
		active bool
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT next_occurrence, is_active FROM bank.recurring_definitions WHERE id = $1 AND user_id = $2`,
		id, ownerID).Scan(&next, &active)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect recurring definition: %w", err)
	}
	if adv.RequireActive && !active {
		return ErrInactive
	}
	return ErrStaleOccurrence
}

// ListOwnersWithActiveDefinitions returns every user with at least one active definition
func (r *Repository) ListOwnersWithActiveDefinitions(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM bank.recurring_definitions
		WHERE is_active
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
