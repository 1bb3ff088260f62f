package service

import (
	"testing"

	"github.com/Dan9191/cashflow-service/internal/models"
)

func TestTrailingAverage(t *testing.T) {
	recurring := int64(3)
	h := History{
		From: date(2025, 3, 1),
		To:   date(2025, 3, 10),
		Transactions: []models.Transaction{
			{Date: date(2025, 3, 2), Amount: dec("30"), Type: models.TransactionTypeExpense},
			{Date: date(2025, 3, 9), Amount: dec("70"), Type: models.TransactionTypeExpense},
			{Date: date(2025, 3, 1), Amount: dec("500"), Type: models.TransactionTypeExpense, SourceRecurringID: &recurring},
			{Date: date(2025, 3, 5), Amount: dec("2000"), Type: models.TransactionTypeIncome},
			{Date: date(2025, 3, 6), Amount: dec("80"), Type: models.TransactionTypeDebtPayment},
			{Date: date(2025, 3, 11), Amount: dec("999"), Type: models.TransactionTypeExpense},
		},
	}

	if got := h.Days(); got != 10 {
		t.Fatalf("Expected a 10 day window, got %d", got)
	}
	assertDecimal(t, "estimate", TrailingAverage{}.Estimate(h), "10")
}

func TestTrailingAverageRoundsToCents(t *testing.T) {
	h := History{
		From: date(2025, 3, 1),
		To:   date(2025, 3, 3),
		Transactions: []models.Transaction{
			{Date: date(2025, 3, 2), Amount: dec("10"), Type: models.TransactionTypeExpense},
		},
	}
	assertDecimal(t, "estimate", TrailingAverage{}.Estimate(h), "3.33")
}

func TestTrailingAverageEmptyWindow(t *testing.T) {
	tests := []struct {
		name string
		h    History
	}{
		{"zero window", History{}},
		{"inverted window", History{From: date(2025, 3, 10), To: date(2025, 3, 1)}},
		{"no transactions", History{From: date(2025, 3, 1), To: date(2025, 3, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (TrailingAverage{}).Estimate(tt.h); !got.IsZero() {
				t.Errorf("Expected zero, got %s", got)
			}
		})
	}
}
