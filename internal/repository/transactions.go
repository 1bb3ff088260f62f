package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/shopspring/decimal"
)

// InsertTransaction writes a ledger record
func (r *Repository) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	var source sql.NullInt64
	if t.SourceRecurringID != nil {
		source = sql.NullInt64{Int64: *t.SourceRecurringID, Valid: true}
	}
	query := `
		INSERT INTO bank.transactions (
			user_id, transaction_date, amount, type, description,
			source_recurring_id, is_provisional, is_confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		t.OwnerID, t.Date, t.Amount, t.Type, t.Description,
		source, t.IsProvisional, t.IsConfirmed,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindProvisionalTransaction returns the oldest provisional record generated
// from a definition that has not been confirmed yet
func (r *Repository) FindProvisionalTransaction(ctx context.Context, ownerID, definitionID int64) (*models.Transaction, error) {
	query := `
		SELECT id, user_id, transaction_date, amount, type, description,
		       source_recurring_id, is_provisional, is_confirmed, created_at
		FROM bank.transactions
		WHERE user_id = $1 AND source_recurring_id = $2 AND is_provisional AND NOT is_confirmed
		ORDER BY transaction_date, id
		LIMIT 1`
	var (
		t      models.Transaction
		source sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, ownerID, definitionID).Scan(
		&t.ID, &t.OwnerID, &t.Date, &t.Amount, &t.Type, &t.Description,
		&source, &t.IsProvisional, &t.IsConfirmed, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provisional transaction: %w", err)
	}
	if source.Valid {
		id := source.Int64
		t.SourceRecurringID = &id
	}
	t.Date = t.Date.UTC()
	return &t, nil
}

// ConfirmTransaction promotes a provisional record to a confirmed one dated
// on the actual receipt. ErrNotFound means the record no longer exists or
// was confirmed by another writer.
func (r *Repository) ConfirmTransaction(ctx context.Context, ownerID, id int64, date time.Time, amount decimal.Decimal) error {
	query := `
		UPDATE bank.transactions
		SET transaction_date = $3, amount = $4, is_provisional = FALSE, is_confirmed = TRUE
		WHERE id = $1 AND user_id = $2 AND is_provisional`
	res, err := r.db.ExecContext(ctx, query, id, ownerID, date, amount)
	if err != nil {
		return fmt.Errorf("failed to confirm transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm transaction: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransactions returns the owner's transactions dated within [from, to]
func (r *Repository) ListTransactions(ctx context.Context, ownerID int64, from, to time.Time) ([]models.Transaction, error) {
	query := `
		SELECT id, user_id, transaction_date, amount, type, description,
		       source_recurring_id, is_provisional, is_confirmed, created_at
		FROM bank.transactions
		WHERE user_id = $1 AND transaction_date BETWEEN $2 AND $3
		ORDER BY transaction_date, id`
	rows, err := r.db.QueryContext(ctx, query, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			t      models.Transaction
			source sql.NullInt64
		)
		err := rows.Scan(&t.ID, &t.OwnerID, &t.Date, &t.Amount, &t.Type, &t.Description,
			&source, &t.IsProvisional, &t.IsConfirmed, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if source.Valid {
			id := source.Int64
			t.SourceRecurringID = &id
		}
		t.Date = t.Date.UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// ListActiveSpendingAccounts returns the accounts that fund day-to-day spending
func (r *Repository) ListActiveSpendingAccounts(ctx context.Context, ownerID int64) ([]models.Account, error) {
	query := `
		SELECT id, user_id, name, balance
		FROM bank.accounts
		WHERE user_id = $1 AND is_active AND is_spending
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.CurrentBalance); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}
