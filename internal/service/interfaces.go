package service

import (
	"context"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/shopspring/decimal"
)

// DefinitionStore holds recurring definitions and their schedule state.
//
// AdvanceIfCurrent is the only way schedule state changes. It must fail with
// repository.ErrStaleOccurrence when the stored next occurrence differs from
// adv.ExpectedNext, repository.ErrInactive when adv.RequireActive is set and
// the definition is inactive, and repository.ErrNotFound when the definition
// does not exist for the owner.
type DefinitionStore interface {
	CreateDefinition(ctx context.Context, def *models.RecurringDefinition) error
	GetDefinition(ctx context.Context, ownerID, id int64) (*models.RecurringDefinition, error)
	ListActiveDefinitions(ctx context.Context, ownerID int64) ([]models.RecurringDefinition, error)
	ListDueDefinitions(ctx context.Context, ownerID int64, asOf time.Time) ([]models.RecurringDefinition, error)
	SetDefinitionActive(ctx context.Context, ownerID, id int64, active bool) error
	AdvanceIfCurrent(ctx context.Context, ownerID, id int64, adv models.ScheduleAdvance) error
}

// Ledger writes concrete transactions. FindProvisionalTransaction and
// ConfirmTransaction fail with repository.ErrNotFound when there is no
// unconfirmed provisional record to act on.
type Ledger interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	FindProvisionalTransaction(ctx context.Context, ownerID, definitionID int64) (*models.Transaction, error)
	ConfirmTransaction(ctx context.Context, ownerID, id int64, date time.Time, amount decimal.Decimal) error
}

// AccountReader provides opening balances.
type AccountReader interface {
	ListActiveSpendingAccounts(ctx context.Context, ownerID int64) ([]models.Account, error)
}

// TransactionReader lists posted transactions with from <= date <= to.
type TransactionReader interface {
	ListTransactions(ctx context.Context, ownerID int64, from, to time.Time) ([]models.Transaction, error)
}

// ForecastStore persists computed forecast days and the manual overrides
// that survive recomputation. Overrides are keyed by models.DateKey.
type ForecastStore interface {
	ReplaceForecastDays(ctx context.Context, ownerID int64, days []models.ForecastDay) error
	ListManualOverrides(ctx context.Context, ownerID int64, from, to time.Time) (map[string]decimal.Decimal, error)
	SetManualOverride(ctx context.Context, ownerID int64, date time.Time, amount decimal.Decimal) error
	DeleteManualOverride(ctx context.Context, ownerID int64, date time.Time) error
	DeleteForecastRange(ctx context.Context, ownerID int64, from, to time.Time) error
}

// Store is everything the service consumes from persistence.
type Store interface {
	DefinitionStore
	Ledger
	AccountReader
	TransactionReader
	ForecastStore
}
