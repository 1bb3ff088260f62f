package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the obligation a recurring definition describes
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
	KindDebt    Kind = "debt"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindDebt:
		return true
	}
	return false
}

// TransactionType maps a kind to the ledger type of its generated records
func (k Kind) TransactionType() string {
	switch k {
	case KindIncome:
		return TransactionTypeIncome
	case KindDebt:
		return TransactionTypeDebtPayment
	default:
		return TransactionTypeExpense
	}
}

// Frequency is the step between two occurrences
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// AmountType tells whether an occurrence amount is known up front
type AmountType string

const (
	AmountFixed    AmountType = "fixed"
	AmountVariable AmountType = "variable"
)

// RecurringDefinition is a template for a periodically repeating income,
// expense or debt payment.
type RecurringDefinition struct {
	ID                   int64            `json:"id"`
	OwnerID              int64            `json:"owner_id"`
	Kind                 Kind             `json:"kind"`
	Name                 string           `json:"name"`
	Frequency            Frequency        `json:"frequency"`
	DayOfMonth           *int             `json:"day_of_month,omitempty"` // 1-31, monthly and yearly
	DayOfWeek            *int             `json:"day_of_week,omitempty"`  // 0-6 (Sunday=0), weekly
	AmountType           AmountType       `json:"amount_type"`
	Amount               decimal.Decimal  `json:"amount"`               // fixed value or variable minimum
	AmountMax            *decimal.Decimal `json:"amount_max,omitempty"` // variable ceiling
	StartDate            time.Time        `json:"start_date"`
	NextOccurrence       time.Time        `json:"next_occurrence"`
	LastOccurrence       *time.Time       `json:"last_occurrence,omitempty"`
	IsActive             bool             `json:"is_active"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	IsPrimarySalary      bool             `json:"is_primary_salary"`
	LastReceived         *time.Time       `json:"last_received,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// ExpectedAmount is the amount used when no actual amount is known:
// the fixed amount, or the midpoint of a variable range rounded to cents.
func (d *RecurringDefinition) ExpectedAmount() decimal.Decimal {
	if d.AmountType == AmountVariable && d.AmountMax != nil {
		return d.Amount.Add(*d.AmountMax).Div(decimal.NewFromInt(2)).Round(2)
	}
	return d.Amount
}

// ScheduleAdvance describes one conditional move of a definition's schedule.
// It only applies while the stored next occurrence still equals ExpectedNext;
// the remaining fields are written as given, nil included.
type ScheduleAdvance struct {
	ExpectedNext   time.Time
	NextOccurrence time.Time
	LastOccurrence *time.Time
	LastReceived   *time.Time
	RequireActive  bool
}
