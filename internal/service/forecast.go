package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/schedule"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// paydayHorizon bounds how far past the range the next payday is looked up.
const paydayHorizon = 366

type dayItems struct {
	income, expense, debt []models.LineItem
}

// GetForecast projects one ForecastDay per date in [start, end], ascending.
// Stored definitions are read but never advanced.
func (s *Service) GetForecast(ctx context.Context, ownerID int64, start, end time.Time) ([]models.ForecastDay, error) {
	if ownerID <= 0 {
		return nil, &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if start.IsZero() || end.IsZero() {
		return nil, &ValidationError{Field: "date_range", Reason: "start and end dates are required"}
	}
	start, end = clock.Day(start), clock.Day(end)
	if end.Before(start) {
		return nil, &ValidationError{Field: "date_range", Reason: "end date is before start date"}
	}

	today := clock.Today(s.clock)
	key := forecastKey(ownerID, today, start, end)
	gen := s.forecastGeneration(ownerID)
	if s.forecasts != nil {
		if cached, ok := s.forecasts.Get(key); ok {
			days := cached.([]models.ForecastDay)
			return append([]models.ForecastDay(nil), days...), nil
		}
	}

	days, err := s.project(ctx, ownerID, today, start, end)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplaceForecastDays(ctx, ownerID, days); err != nil {
		return nil, fmt.Errorf("failed to store forecast: %w", err)
	}
	if s.forecasts != nil {
		s.cacheForecast(ownerID, gen, key, days)
	}
	return days, nil
}

// SetManualOverride replaces the predicted discretionary spend for one date
func (s *Service) SetManualOverride(ctx context.Context, ownerID int64, date time.Time, amount decimal.Decimal) error {
	if ownerID <= 0 {
		return &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if date.IsZero() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	if amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	if err := s.store.SetManualOverride(ctx, ownerID, clock.Day(date), amount); err != nil {
		return fmt.Errorf("failed to set manual override: %w", err)
	}
	s.invalidateForecasts(ownerID)
	return nil
}

// ClearManualOverride drops the override for a date, if any
func (s *Service) ClearManualOverride(ctx context.Context, ownerID int64, date time.Time) error {
	if ownerID <= 0 {
		return &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if date.IsZero() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	if err := s.store.DeleteManualOverride(ctx, ownerID, clock.Day(date)); err != nil {
		return fmt.Errorf("failed to clear manual override: %w", err)
	}
	s.invalidateForecasts(ownerID)
	return nil
}

// DeleteForecast drops stored forecast days within [start, end]
func (s *Service) DeleteForecast(ctx context.Context, ownerID int64, start, end time.Time) error {
	if ownerID <= 0 {
		return &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return &ValidationError{Field: "date_range", Reason: "a start date on or before the end date is required"}
	}
	if err := s.store.DeleteForecastRange(ctx, ownerID, clock.Day(start), clock.Day(end)); err != nil {
		return err
	}
	s.invalidateForecasts(ownerID)
	return nil
}

func (s *Service) project(ctx context.Context, ownerID int64, today, start, end time.Time) ([]models.ForecastDay, error) {
	now := s.clock.Now()

	accounts, err := s.store.ListActiveSpendingAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	balance := decimal.Zero
	for _, a := range accounts {
		balance = balance.Add(a.CurrentBalance)
	}

	defs, err := s.store.ListActiveDefinitions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	items, paydays := lookahead(defs, start, end)

	overrides, err := s.store.ListManualOverrides(ctx, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	baseline, err := s.baseline(ctx, ownerID, today)
	if err != nil {
		return nil, err
	}

	// Account balances already include everything posted up to today, so a
	// range reaching back into the past opens at the balance before start.
	actuals := map[string]decimal.Decimal{}
	if !start.After(today) {
		posted, err := s.store.ListTransactions(ctx, ownerID, start, today)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}
		for _, tx := range posted {
			k := models.DateKey(tx.Date)
			actuals[k] = actuals[k].Add(tx.Signed())
			balance = balance.Sub(tx.Signed())
		}
	}

	floor := s.config.LowBalanceFloor
	days := make([]models.ForecastDay, 0, int(end.Sub(start).Hours()/24)+1)
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		k := models.DateKey(date)
		day := models.ForecastDay{
			Date:                 date,
			OwnerID:              ownerID,
			ExpectedIncome:       sumItems(items[k].income),
			ExpectedExpenses:     sumItems(items[k].expense),
			ExpectedDebtPayments: sumItems(items[k].debt),
			PredictedSpend:       baseline,
			Alerts:               []models.Alert{},
			IncomeDetails:        nonNil(items[k].income),
			ExpenseDetails:       nonNil(items[k].expense),
			DebtDetails:          nonNil(items[k].debt),
			CalculatedAt:         now,
		}
		for _, item := range day.IncomeDetails {
			if item.IsPrimarySalary {
				day.IsPayday = true
			}
		}
		if override, ok := overrides[k]; ok {
			o := override
			day.ManualOverride = &o
			day.PredictedSpend = o
		}

		net := day.ExpectedIncome.Sub(day.ExpectedExpenses).Sub(day.ExpectedDebtPayments).Sub(day.PredictedSpend)
		if actual, ok := actuals[k]; ok && !date.After(today) {
			a := actual
			day.IsActual = true
			day.ActualNet = &a
			net = a
		}

		balance = balance.Add(net)
		day.RunningBalance = balance

		if balance.LessThan(floor) {
			day.Alerts = append(day.Alerts, models.Alert{
				Type:    models.AlertLowBalance,
				Message: fmt.Sprintf("Projected balance %s is below %s", balance.StringFixed(2), floor.StringFixed(2)),
				Balance: balance,
			})
		}
		if balance.IsNegative() {
			if payday, ok := nextPayday(paydays, date); ok {
				day.Alerts = append(day.Alerts, models.Alert{
					Type:    models.AlertNegativeBeforePayday,
					Message: fmt.Sprintf("Balance goes negative before the next payday on %s", payday.Format(time.DateOnly)),
					Balance: balance,
				})
			}
		}
		day.HasAlerts = len(day.Alerts) > 0

		days = append(days, day)
	}

	s.log.WithFields(logrus.Fields{
		"owner_id":    ownerID,
		"start":       start.Format(time.DateOnly),
		"end":         end.Format(time.DateOnly),
		"definitions": len(defs),
		"baseline":    baseline.StringFixed(2),
	}).Debug("Forecast computed")
	return days, nil
}

// baseline estimates daily discretionary spend from the trailing window
// that ends the day before today.
func (s *Service) baseline(ctx context.Context, ownerID int64, today time.Time) (decimal.Decimal, error) {
	window := s.config.BaselineWindowDays
	if window <= 0 {
		return decimal.Zero, nil
	}
	h := History{
		From: today.AddDate(0, 0, -window),
		To:   today.AddDate(0, 0, -1),
	}
	txs, err := s.store.ListTransactions(ctx, ownerID, h.From, h.To)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list spending history: %w", err)
	}
	h.Transactions = txs
	return s.estimator.Estimate(h), nil
}

// lookahead simulates every active definition across [start, end] and
// collects paydays up to paydayHorizon days past end.
func lookahead(defs []models.RecurringDefinition, start, end time.Time) (map[string]dayItems, []time.Time) {
	items := make(map[string]dayItems)
	paydaySet := make(map[time.Time]struct{})

	for i := range defs {
		def := &defs[i]
		if !def.IsActive {
			continue
		}
		item := models.LineItem{
			DefinitionID:    def.ID,
			Name:            def.Name,
			Amount:          def.ExpectedAmount(),
			IsPrimarySalary: def.Kind == models.KindIncome && def.IsPrimarySalary,
		}
		for _, date := range schedule.Occurrences(def, def.NextOccurrence, start, end) {
			k := models.DateKey(date)
			bucket := items[k]
			switch def.Kind {
			case models.KindIncome:
				bucket.income = append(bucket.income, item)
			case models.KindExpense:
				bucket.expense = append(bucket.expense, item)
			case models.KindDebt:
				bucket.debt = append(bucket.debt, item)
			}
			items[k] = bucket
		}
		if item.IsPrimarySalary {
			for _, date := range schedule.Occurrences(def, def.NextOccurrence, start, end.AddDate(0, 0, paydayHorizon)) {
				paydaySet[date] = struct{}{}
			}
		}
	}

	paydays := make([]time.Time, 0, len(paydaySet))
	for d := range paydaySet {
		paydays = append(paydays, d)
	}
	sort.Slice(paydays, func(i, j int) bool { return paydays[i].Before(paydays[j]) })
	return items, paydays
}

func nextPayday(paydays []time.Time, date time.Time) (time.Time, bool) {
	i := sort.Search(len(paydays), func(i int) bool { return paydays[i].After(date) })
	if i == len(paydays) {
		return time.Time{}, false
	}
	return paydays[i], true
}

func sumItems(items []models.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

func nonNil(items []models.LineItem) []models.LineItem {
	if items == nil {
		return []models.LineItem{}
	}
	return items
}
