package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeIncome      = "income"
	TransactionTypeExpense     = "expense"
	TransactionTypeDebtPayment = "debt_payment"
)

// Transaction represents a posted ledger entry
type Transaction struct {
	ID                int64           `json:"id"`
	OwnerID           int64           `json:"owner_id"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"` // always positive, direction comes from Type
	Type              string          `json:"type"`
	Description       string          `json:"description"`
	SourceRecurringID *int64          `json:"source_recurring_id,omitempty"`
	IsProvisional     bool            `json:"is_provisional"`
	IsConfirmed       bool            `json:"is_confirmed"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Signed returns the amount with incomes positive and outflows negative
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TransactionTypeIncome {
		return t.Amount
	}
	return t.Amount.Neg()
}
