package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ReplaceForecastDays upserts the computed days in one transaction
func (r *Repository) ReplaceForecastDays(ctx context.Context, ownerID int64, days []models.ForecastDay) error {
	if len(days) == 0 {
		return nil
	}
	query := `
		INSERT INTO bank.forecast_days (
			user_id, forecast_date, expected_income, expected_expenses, expected_debt_payments,
			predicted_spend, manual_override, is_actual, actual_net, running_balance,
			is_payday, has_alerts, alerts, income_details, expense_details, debt_details, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id, forecast_date) DO UPDATE SET
			expected_income = EXCLUDED.expected_income,
			expected_expenses = EXCLUDED.expected_expenses,
			expected_debt_payments = EXCLUDED.expected_debt_payments,
			predicted_spend = EXCLUDED.predicted_spend,
			manual_override = EXCLUDED.manual_override,
			is_actual = EXCLUDED.is_actual,
			actual_net = EXCLUDED.actual_net,
			running_balance = EXCLUDED.running_balance,
			is_payday = EXCLUDED.is_payday,
			has_alerts = EXCLUDED.has_alerts,
			alerts = EXCLUDED.alerts,
			income_details = EXCLUDED.income_details,
			expense_details = EXCLUDED.expense_details,
			debt_details = EXCLUDED.debt_details,
			calculated_at = EXCLUDED.calculated_at`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare forecast upsert: %w", err)
		}
		defer stmt.Close()

		for _, d := range days {
			alerts, err := json.Marshal(d.Alerts)
			if err != nil {
				return fmt.Errorf("failed to encode alerts: %w", err)
			}
			income, err := json.Marshal(d.IncomeDetails)
			if err != nil {
				return fmt.Errorf("failed to encode income details: %w", err)
			}
			expense, err := json.Marshal(d.ExpenseDetails)
			if err != nil {
				return fmt.Errorf("failed to encode expense details: %w", err)
			}
			debt, err := json.Marshal(d.DebtDetails)
			if err != nil {
				return fmt.Errorf("failed to encode debt details: %w", err)
			}

			_, err = stmt.ExecContext(ctx,
				ownerID, d.Date, d.ExpectedIncome, d.ExpectedExpenses, d.ExpectedDebtPayments,
				d.PredictedSpend, nullDecimal(d.ManualOverride), d.IsActual, nullDecimal(d.ActualNet), d.RunningBalance,
				d.IsPayday, d.HasAlerts, string(alerts), string(income), string(expense), string(debt), d.CalculatedAt)
			if err != nil {
				return fmt.Errorf("failed to store forecast for %s: %w", models.DateKey(d.Date), err)
			}
		}
		return nil
	})
}

// DeleteForecastRange removes cached forecast days within [from, to]
func (r *Repository) DeleteForecastRange(ctx context.Context, ownerID int64, from, to time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM bank.forecast_days WHERE user_id = $1 AND forecast_date BETWEEN $2 AND $3`,
		ownerID, from, to)
	if err != nil {
		return fmt.Errorf("failed to delete forecast days: %w", err)
	}
	return nil
}

// ListManualOverrides returns overrides within [from, to] keyed by date
func (r *Repository) ListManualOverrides(ctx context.Context, ownerID int64, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT override_date, amount
		FROM bank.forecast_overrides
		WHERE user_id = $1 AND override_date BETWEEN $2 AND $3`,
		ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			date   time.Time
			amount decimal.Decimal
		)
		if err := rows.Scan(&date, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides[models.DateKey(date)] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate overrides: %w", err)
	}
	return overrides, nil
}

// SetManualOverride stores or replaces the override for a date
func (r *Repository) SetManualOverride(ctx context.Context, ownerID int64, date time.Time, amount decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bank.forecast_overrides (user_id, override_date, amount, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, override_date) DO UPDATE SET amount = EXCLUDED.amount, updated_at = CURRENT_TIMESTAMP`,
		ownerID, date, amount)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// DeleteManualOverride removes the override for a date
func (r *Repository) DeleteManualOverride(ctx context.Context, ownerID int64, date time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM bank.forecast_overrides WHERE user_id = $1 AND override_date = $2`,
		ownerID, date)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
