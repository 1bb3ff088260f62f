package jobs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/config"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/notify"
	"github.com/Dan9191/cashflow-service/internal/service"
	"github.com/Dan9191/cashflow-service/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type sentAlert struct {
	to, username string
	days         int
}

type recordingNotifier struct {
	sent []sentAlert
	err  error
}

func (n *recordingNotifier) SendForecastAlert(to, username string, days []models.ForecastDay) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentAlert{to: to, username: username, days: len(days)})
	return nil
}

var now = time.Date(2025, 3, 15, 5, 0, 0, 0, time.UTC)

func rent(ownerID int64, next time.Time, amount string) models.RecurringDefinition {
	dom := next.Day()
	return models.RecurringDefinition{
		OwnerID:        ownerID,
		Kind:           models.KindExpense,
		Name:           "Rent",
		Frequency:      models.FrequencyMonthly,
		DayOfMonth:     &dom,
		AmountType:     models.AmountFixed,
		Amount:         decimal.RequireFromString(amount),
		StartDate:      next.AddDate(-1, 0, 0),
		NextOccurrence: next,
		IsActive:       true,
	}
}

func setupScheduler(n Notifier) (*Scheduler, *testutil.MemoryStore) {
	cfg := config.Default()
	cfg.ForecastCacheTTL = 0
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := testutil.NewMemoryStore()
	fixed := clock.Fixed{T: now}
	svc := service.NewService(store, log, cfg, service.WithClock(fixed))
	return NewScheduler(cfg, log, svc, store, n, fixed), store
}

func TestRunOnce(t *testing.T) {
	n := &recordingNotifier{}
	s, store := setupScheduler(n)

	// Owner 1 is behind on rent and runs out of money within the lookahead.
	store.AddUser(models.User{ID: 1, Email: "one@example.com", Username: "one"})
	store.AddAccount(models.Account{OwnerID: 1, CurrentBalance: decimal.RequireFromString("500")})
	store.AddDefinition(rent(1, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), "400"))
	store.AddDefinition(rent(1, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), "900"))

	// Owner 2 is up to date and comfortably funded.
	store.AddUser(models.User{ID: 2, Email: "two@example.com", Username: "two"})
	store.AddAccount(models.Account{OwnerID: 2, CurrentBalance: decimal.RequireFromString("5000")})
	store.AddDefinition(rent(2, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), "900"))

	summary := s.RunOnce(context.Background())

	if summary.Owners != 2 {
		t.Errorf("Expected 2 owners, got %d", summary.Owners)
	}
	if summary.Generated != 2 {
		t.Errorf("Expected 2 generated records, got %d", summary.Generated)
	}
	if summary.Failures != 0 {
		t.Errorf("Expected no failures, got %d", summary.Failures)
	}
	if summary.Alerted != 1 || len(n.sent) != 1 {
		t.Fatalf("Expected one alert, got %d (%+v)", summary.Alerted, n.sent)
	}
	if n.sent[0].to != "one@example.com" {
		t.Errorf("Expected alert for one@example.com, got %s", n.sent[0].to)
	}
	if n.sent[0].days != config.Default().AlertLookaheadDays {
		t.Errorf("Expected %d forecast days, got %d", config.Default().AlertLookaheadDays, n.sent[0].days)
	}

	again := s.RunOnce(context.Background())
	if again.Generated != 0 {
		t.Errorf("Expected a second sweep to generate nothing, got %d", again.Generated)
	}
}

func TestRunOnceWithoutContactDetails(t *testing.T) {
	n := &recordingNotifier{}
	s, store := setupScheduler(n)
	store.AddDefinition(rent(3, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), "900"))

	summary := s.RunOnce(context.Background())
	if summary.Owners != 1 || summary.Alerted != 0 {
		t.Fatalf("Expected the owner to be swept but not alerted, got %+v", summary)
	}
}

func TestRunOnceSMTPNotConfigured(t *testing.T) {
	n := &recordingNotifier{err: notify.ErrNotConfigured}
	s, store := setupScheduler(n)
	store.AddUser(models.User{ID: 1, Email: "one@example.com", Username: "one"})
	store.AddDefinition(rent(1, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), "900"))

	if summary := s.RunOnce(context.Background()); summary.Alerted != 0 {
		t.Errorf("Expected no alert, got %d", summary.Alerted)
	}
}

func TestRunOnceWithoutNotifier(t *testing.T) {
	s, store := setupScheduler(nil)
	store.AddDefinition(rent(1, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), "900"))

	summary := s.RunOnce(context.Background())
	if summary.Generated != 1 || summary.Alerted != 0 {
		t.Errorf("Expected generation without alerts, got %+v", summary)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s, _ := setupScheduler(nil)
	s.cfg.AutoGenerateSchedule = "every morning"
	if err := s.Start(); err == nil {
		t.Fatal("Expected an invalid schedule to be rejected")
	}

	s, _ = setupScheduler(nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Expected the default schedule to be accepted, got %v", err)
	}
	<-s.Stop().Done()
}
