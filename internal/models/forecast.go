package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlertLowBalance           = "low_balance"
	AlertNegativeBeforePayday = "negative_before_payday"
)

// Alert flags a projected problem on a forecast day
type Alert struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Balance decimal.Decimal `json:"balance"`
}

// LineItem is one recurring occurrence contributing to a forecast day
type LineItem struct {
	DefinitionID    int64           `json:"definition_id"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	IsPrimarySalary bool            `json:"is_primary_salary,omitempty"`
}

// ForecastDay represents the projection for one calendar date
type ForecastDay struct {
	Date                 time.Time        `json:"date"`
	OwnerID              int64            `json:"owner_id"`
	ExpectedIncome       decimal.Decimal  `json:"expected_income"`
	ExpectedExpenses     decimal.Decimal  `json:"expected_expenses"`
	ExpectedDebtPayments decimal.Decimal  `json:"expected_debt_payments"`
	PredictedSpend       decimal.Decimal  `json:"predicted_spend"`
	ManualOverride       *decimal.Decimal `json:"manual_override,omitempty"`
	IsActual             bool             `json:"is_actual"`
	ActualNet            *decimal.Decimal `json:"actual_net,omitempty"`
	RunningBalance       decimal.Decimal  `json:"running_balance"`
	IsPayday             bool             `json:"is_payday"`
	HasAlerts            bool             `json:"has_alerts"`
	Alerts               []Alert          `json:"alerts"`
	IncomeDetails        []LineItem       `json:"income_details"`
	ExpenseDetails       []LineItem       `json:"expense_details"`
	DebtDetails          []LineItem       `json:"debt_details"`
	CalculatedAt         time.Time        `json:"calculated_at"`
}

// HasAlert reports whether the day carries an alert of the given type
func (f *ForecastDay) HasAlert(alertType string) bool {
	for _, a := range f.Alerts {
		if a.Type == alertType {
			return true
		}
	}
	return false
}

// DateKey formats a calendar day the way forecast maps are keyed
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
