package service

import (
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/shopspring/decimal"
)

// History is the posted activity a spend estimate may look at. It never
// extends past the day before the forecast is computed.
type History struct {
	From         time.Time
	To           time.Time
	Transactions []models.Transaction
}

// Days is the inclusive length of the window
func (h History) Days() int {
	if h.From.IsZero() || h.To.Before(h.From) {
		return 0
	}
	return int(h.To.Sub(h.From).Hours()/24) + 1
}

// SpendEstimator predicts daily discretionary spend from history
type SpendEstimator interface {
	Estimate(h History) decimal.Decimal
}

// EstimatorFunc adapts a function to SpendEstimator
type EstimatorFunc func(h History) decimal.Decimal

// Estimate calls f(h)
func (f EstimatorFunc) Estimate(h History) decimal.Decimal {
	return f(h)
}

// TrailingAverage averages non-recurring expenses per day over the window
type TrailingAverage struct{}

// Estimate returns the average daily discretionary spend, rounded to cents
func (TrailingAverage) Estimate(h History) decimal.Decimal {
	days := h.Days()
	if days == 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, tx := range h.Transactions {
		if tx.SourceRecurringID != nil || tx.Type != models.TransactionTypeExpense {
			continue
		}
		if tx.Date.Before(h.From) || tx.Date.After(h.To) {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total.Div(decimal.NewFromInt(int64(days))).Round(2)
}
