package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/testutil"
	"github.com/shopspring/decimal"
)

func constantSpend(amount string) Option {
	v := dec(amount)
	return WithEstimator(EstimatorFunc(func(History) decimal.Decimal { return v }))
}

func salary(dom int, next time.Time, amount string) models.RecurringDefinition {
	return models.RecurringDefinition{
		OwnerID:         ownerID,
		Kind:            models.KindIncome,
		Name:            "Salary",
		Frequency:       models.FrequencyMonthly,
		DayOfMonth:      intPtr(dom),
		AmountType:      models.AmountFixed,
		Amount:          dec(amount),
		StartDate:       date(2024, 1, dom),
		NextOccurrence:  next,
		IsActive:        true,
		IsPrimarySalary: true,
	}
}

func alertTypes(day models.ForecastDay) []string {
	var types []string
	for _, a := range day.Alerts {
		types = append(types, a.Type)
	}
	return types
}

func TestGetForecastConservation(t *testing.T) {
	svc, store := setupServiceTest(testConfig(), constantSpend("12.50"))
	store.AddAccount(models.Account{OwnerID: ownerID, Name: "Current", CurrentBalance: dec("1500")})
	store.AddAccount(models.Account{OwnerID: ownerID, Name: "Wallet", CurrentBalance: dec("40.25")})
	store.AddDefinition(salary(25, date(2025, 3, 25), "2800"))
	store.AddDefinition(monthlyExpense("Rent", 1, date(2025, 4, 1), "950"))
	store.AddDefinition(models.RecurringDefinition{
		OwnerID:        ownerID,
		Kind:           models.KindDebt,
		Name:           "Card repayment",
		Frequency:      models.FrequencyWeekly,
		DayOfWeek:      intPtr(5),
		AmountType:     models.AmountFixed,
		Amount:         dec("45"),
		StartDate:      date(2025, 1, 3),
		NextOccurrence: date(2025, 3, 21),
		IsActive:       true,
	})

	start, end := date(2025, 3, 20), date(2025, 5, 31)
	days, err := svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(days) != 73 {
		t.Fatalf("Expected 73 days, got %d", len(days))
	}

	prev := dec("1540.25")
	for i, d := range days {
		if want := start.AddDate(0, 0, i); !d.Date.Equal(want) {
			t.Fatalf("day %d: expected %s, got %s", i, want, d.Date)
		}
		want := prev.Add(d.ExpectedIncome).Sub(d.ExpectedExpenses).Sub(d.ExpectedDebtPayments).Sub(d.PredictedSpend)
		if !d.RunningBalance.Equal(want) {
			t.Fatalf("day %s: expected balance %s, got %s", models.DateKey(d.Date), want, d.RunningBalance)
		}
		prev = d.RunningBalance
	}

	paydays := 0
	for _, d := range days {
		if d.IsPayday {
			paydays++
			assertDecimal(t, "payday income", d.ExpectedIncome, "2800")
		}
	}
	if paydays != 3 {
		t.Errorf("Expected 3 paydays, got %d", paydays)
	}
}

func TestGetForecastWithoutActivityKeepsBalance(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("250")})

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 10))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(days) != 10 {
		t.Fatalf("Expected 10 days, got %d", len(days))
	}
	for _, d := range days {
		if !d.ExpectedIncome.IsZero() || !d.ExpectedExpenses.IsZero() || !d.ExpectedDebtPayments.IsZero() {
			t.Errorf("Expected zero aggregates on %s", models.DateKey(d.Date))
		}
		assertDecimal(t, "balance on "+models.DateKey(d.Date), d.RunningBalance, "250")
		if d.HasAlerts || d.IsPayday {
			t.Errorf("Expected a quiet day on %s", models.DateKey(d.Date))
		}
	}
}

func TestGetForecastLowBalanceAlert(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})
	store.AddDefinition(monthlyExpense("Repair", 2, date(2025, 4, 2), "150"))

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if days[0].HasAlerts {
		t.Errorf("Expected no alert on day 1, got %v", alertTypes(days[0]))
	}
	for _, d := range days[1:] {
		assertDecimal(t, "running balance", d.RunningBalance, "-50")
		if !d.HasAlerts || !d.HasAlert(models.AlertLowBalance) {
			t.Errorf("Expected low balance alert on %s, got %v", models.DateKey(d.Date), alertTypes(d))
		}
		if d.HasAlert(models.AlertNegativeBeforePayday) {
			t.Errorf("Expected no payday alert without a salary on %s", models.DateKey(d.Date))
		}
	}
	if len(days[1].ExpenseDetails) != 1 || days[1].ExpenseDetails[0].Name != "Repair" {
		t.Errorf("Expected the repair in day 2 expense details, got %+v", days[1].ExpenseDetails)
	}
}

func TestGetForecastConfigurableFloor(t *testing.T) {
	cfg := testConfig()
	cfg.LowBalanceFloor = dec("500")
	svc, store := setupServiceTest(cfg)
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("499.99")})

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 1))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !days[0].HasAlert(models.AlertLowBalance) {
		t.Errorf("Expected low balance alert below the floor, got %v", alertTypes(days[0]))
	}
}

func TestGetForecastNegativeBeforePayday(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})
	store.AddDefinition(monthlyExpense("Repair", 2, date(2025, 4, 2), "150"))
	store.AddDefinition(salary(5, date(2025, 4, 5), "3000"))

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 6))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, d := range days[1:4] {
		if !d.HasAlert(models.AlertNegativeBeforePayday) || !d.HasAlert(models.AlertLowBalance) {
			t.Errorf("Expected both alerts on %s, got %v", models.DateKey(d.Date), alertTypes(d))
		}
	}
	payday := days[4]
	if !payday.IsPayday {
		t.Fatal("Expected 2025-04-05 to be a payday")
	}
	if payday.HasAlerts {
		t.Errorf("Expected no alerts on payday, got %v", alertTypes(payday))
	}
	assertDecimal(t, "payday balance", payday.RunningBalance, "2950")
}

func TestGetForecastPaydayBeyondRange(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("10")})
	store.AddDefinition(monthlyExpense("Repair", 2, date(2025, 4, 2), "150"))
	store.AddDefinition(salary(25, date(2025, 4, 25), "3000"))

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !days[1].HasAlert(models.AlertNegativeBeforePayday) {
		t.Errorf("Expected payday alert when the payday is after the range, got %v", alertTypes(days[1]))
	}
}

func TestGetForecastManualOverride(t *testing.T) {
	svc, store := setupServiceTest(testConfig(), constantSpend("40"))

	if err := svc.SetManualOverride(context.Background(), ownerID, date(2025, 4, 2), dec("5")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	assertDecimal(t, "day 1 spend", days[0].PredictedSpend, "40")
	assertDecimal(t, "day 2 spend", days[1].PredictedSpend, "5")
	assertDecimal(t, "day 3 spend", days[2].PredictedSpend, "40")
	if days[1].ManualOverride == nil || days[0].ManualOverride != nil {
		t.Error("Expected only day 2 to carry a manual override")
	}
	assertDecimal(t, "final balance", days[2].RunningBalance, "-85")

	if err := svc.ClearManualOverride(context.Background(), ownerID, date(2025, 4, 2)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	days, err = svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "day 2 spend after clearing", days[1].PredictedSpend, "40")
	if len(store.StoredForecast(ownerID)) != 3 {
		t.Errorf("Expected 3 stored forecast days")
	}
}

func TestSetManualOverrideValidation(t *testing.T) {
	svc, _ := setupServiceTest(testConfig())

	err := svc.SetManualOverride(context.Background(), ownerID, date(2025, 4, 2), dec("-1"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if err := svc.SetManualOverride(context.Background(), ownerID, date(2025, 4, 2), decimal.Zero); err != nil {
		t.Fatalf("Expected a zero override to be accepted, got %v", err)
	}
}

func TestGetForecastSubstitutesActuals(t *testing.T) {
	svc, store := setupServiceTest(testConfig(), constantSpend("20"))
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("500")})
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: date(2025, 3, 14), Amount: dec("10"), Type: models.TransactionTypeIncome})
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: date(2025, 3, 14), Amount: dec("50"), Type: models.TransactionTypeExpense})

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 3, 13), date(2025, 3, 17))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// The account balance already reflects the -40 posted on 2025-03-14.
	want := []string{"520", "480", "460", "440", "420"}
	for i, d := range days {
		assertDecimal(t, "balance on "+models.DateKey(d.Date), d.RunningBalance, want[i])
	}
	if !days[1].IsActual || days[1].ActualNet == nil {
		t.Fatal("Expected 2025-03-14 to use posted activity")
	}
	assertDecimal(t, "actual net", *days[1].ActualNet, "-40")
	for _, i := range []int{0, 2, 3, 4} {
		if days[i].IsActual {
			t.Errorf("Expected %s to be projected", models.DateKey(days[i].Date))
		}
	}
}

func TestGetForecastOpensBeforePostedActivity(t *testing.T) {
	svc, store := setupServiceTest(testConfig(), constantSpend("0"))
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: today, Amount: dec("50"), Type: models.TransactionTypeExpense})

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 3, 14), date(2025, 3, 16))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []string{"150", "100", "100"}
	for i, d := range days {
		assertDecimal(t, "balance on "+models.DateKey(d.Date), d.RunningBalance, want[i])
	}
	if !days[1].IsActual {
		t.Error("Expected today to use posted activity")
	}
}

func TestGetForecastPastRangeExcludesLaterActivity(t *testing.T) {
	svc, store := setupServiceTest(testConfig(), constantSpend("0"))
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("500")})
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: date(2025, 3, 11), Amount: dec("10"), Type: models.TransactionTypeExpense})
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: date(2025, 3, 14), Amount: dec("40"), Type: models.TransactionTypeDebtPayment})

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 3, 10), date(2025, 3, 12))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []string{"550", "540", "540"}
	for i, d := range days {
		assertDecimal(t, "balance on "+models.DateKey(d.Date), d.RunningBalance, want[i])
	}
}

func TestGetForecastDoesNotAdvanceDefinitions(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	def := store.AddDefinition(monthlyExpense("Rent", 1, date(2025, 4, 1), "950"))

	if _, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 12, 31)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	stored, _ := store.Definition(def.ID)
	if !stored.NextOccurrence.Equal(date(2025, 4, 1)) {
		t.Errorf("Expected stored next occurrence unchanged, got %s", stored.NextOccurrence)
	}
	if store.AdvanceCalls != 0 {
		t.Errorf("Expected no schedule writes, got %d", store.AdvanceCalls)
	}
	if got := len(store.Transactions()); got != 0 {
		t.Errorf("Expected no ledger records, got %d", got)
	}
}

func TestGetForecastVariableAmountUsesMidpoint(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	d := monthlyExpense("Groceries", 3, date(2025, 4, 3), "200")
	d.AmountType = models.AmountVariable
	d.AmountMax = decPtr("300")
	store.AddDefinition(d)

	days, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 3), date(2025, 4, 3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "expected expenses", days[0].ExpectedExpenses, "250")
}

func TestGetForecastValidation(t *testing.T) {
	svc, _ := setupServiceTest(testConfig())

	tests := []struct {
		name       string
		owner      int64
		start, end time.Time
	}{
		{"end before start", ownerID, date(2025, 4, 10), date(2025, 4, 1)},
		{"missing owner", 0, date(2025, 4, 1), date(2025, 4, 10)},
		{"missing start", ownerID, time.Time{}, date(2025, 4, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetForecast(context.Background(), tt.owner, tt.start, tt.end)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGetForecastCancelled(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetForecast(ctx, ownerID, date(2025, 4, 1), date(2025, 4, 30))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := len(store.StoredForecast(ownerID)); got != 0 {
		t.Errorf("Expected nothing persisted, got %d days", got)
	}
}

func TestGetForecastCacheInvalidation(t *testing.T) {
	cfg := testConfig()
	cfg.ForecastCacheTTL = time.Minute
	svc, store := setupServiceTest(cfg)
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})

	start, end := date(2025, 4, 1), date(2025, 4, 2)
	if _, err := svc.GetForecast(context.Background(), ownerID, start, end); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("50")})
	days, err := svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "cached balance", days[0].RunningBalance, "100")

	if err := svc.SetManualOverride(context.Background(), ownerID, date(2025, 6, 1), decimal.Zero); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	days, err = svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "recomputed balance", days[0].RunningBalance, "150")
}

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestGetForecastCacheFollowsToday(t *testing.T) {
	cfg := testConfig()
	cfg.ForecastCacheTTL = time.Minute
	c := &movableClock{now: today.Add(23 * time.Hour)}
	svc, store := setupServiceTest(cfg, WithClock(c), constantSpend("0"))
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})

	start, end := date(2025, 3, 14), date(2025, 3, 16)
	days, err := svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if days[2].IsActual {
		t.Fatal("Expected tomorrow to be projected")
	}

	// After midnight the new day's posted activity is picked up.
	store.AddTransaction(models.Transaction{OwnerID: ownerID, Date: date(2025, 3, 16), Amount: dec("30"), Type: models.TransactionTypeExpense})
	c.Set(date(2025, 3, 16).Add(time.Hour))

	days, err = svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !days[2].IsActual {
		t.Fatal("Expected 2025-03-16 to use posted activity after the day changed")
	}
	want := []string{"130", "130", "100"}
	for i, d := range days {
		assertDecimal(t, "balance on "+models.DateKey(d.Date), d.RunningBalance, want[i])
	}
}

func TestGetForecastDoesNotCacheRacedProjection(t *testing.T) {
	cfg := testConfig()
	cfg.ForecastCacheTTL = time.Minute
	var svc *Service
	raced := false
	estimator := EstimatorFunc(func(History) decimal.Decimal {
		if !raced {
			raced = true
			// A write lands after accounts were read but before the result is cached.
			store := svc.store.(*testutil.MemoryStore)
			store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("50")})
			if err := svc.SetManualOverride(context.Background(), ownerID, date(2025, 6, 1), decimal.Zero); err != nil {
				t.Errorf("failed to set override: %v", err)
			}
		}
		return decimal.Zero
	})
	svc, store := setupServiceTest(cfg, WithEstimator(estimator))
	store.AddAccount(models.Account{OwnerID: ownerID, CurrentBalance: dec("100")})

	start, end := date(2025, 4, 1), date(2025, 4, 2)
	days, err := svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "raced balance", days[0].RunningBalance, "100")

	days, err = svc.GetForecast(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertDecimal(t, "recomputed balance", days[0].RunningBalance, "150")
}

func TestDeleteForecast(t *testing.T) {
	svc, store := setupServiceTest(testConfig())
	if _, err := svc.GetForecast(context.Background(), ownerID, date(2025, 4, 1), date(2025, 4, 10)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := svc.DeleteForecast(context.Background(), ownerID, date(2025, 4, 6), date(2025, 4, 10)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := len(store.StoredForecast(ownerID)); got != 5 {
		t.Errorf("Expected 5 stored days left, got %d", got)
	}

	err := svc.DeleteForecast(context.Background(), ownerID, date(2025, 4, 10), date(2025, 4, 1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}
