// Package jobs runs the periodic auto-generation sweep and forecast alerts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/config"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/notify"
	"github.com/Dan9191/cashflow-service/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CashFlow is the part of service.Service the sweep drives
type CashFlow interface {
	AutoGenerate(ctx context.Context, ownerID int64, asOf time.Time) (*service.AutoGenerateResult, error)
	GetForecast(ctx context.Context, ownerID int64, start, end time.Time) ([]models.ForecastDay, error)
}

// Owners lists who to sweep and how to reach them
type Owners interface {
	ListOwnersWithActiveDefinitions(ctx context.Context) ([]int64, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Notifier delivers forecast alerts
type Notifier interface {
	SendForecastAlert(to, username string, days []models.ForecastDay) error
}

// Summary describes one sweep
type Summary struct {
	Owners    int
	Generated int
	Failures  int
	Alerted   int
}

// Scheduler runs the sweep on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	cashFlow CashFlow
	owners   Owners
	notifier Notifier
	clock    clock.Clock
	cfg      *config.Config
	log      *logrus.Logger
}

// NewScheduler builds a scheduler; notifier may be nil to disable alerts
func NewScheduler(cfg *config.Config, log *logrus.Logger, cashFlow CashFlow, owners Owners, notifier Notifier, c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	cronLog := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		cashFlow: cashFlow,
		owners:   owners,
		notifier: notifier,
		clock:    c,
		cfg:      cfg,
		log:      log,
	}
}

// Start registers the sweep and starts the cron loop
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.AutoGenerateSchedule, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid auto-generate schedule %q: %w", s.cfg.AutoGenerateSchedule, err)
	}
	s.cron.Start()
	s.log.Infof("Auto-generation scheduled with %q", s.cfg.AutoGenerateSchedule)
	return nil
}

// Stop stops the cron loop; the returned context is done once a running
// sweep has finished
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce sweeps every owner with active definitions. Per-owner failures are
// logged and do not stop the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var summary Summary
	owners, err := s.owners.ListOwnersWithActiveDefinitions(ctx)
	if err != nil {
		s.log.Errorf("Failed to list owners for auto-generation: %v", err)
		return summary
	}

	today := clock.Today(s.clock)
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			break
		}
		summary.Owners++
		log := s.log.WithField("owner_id", ownerID)

		result, err := s.cashFlow.AutoGenerate(ctx, ownerID, today)
		if err != nil {
			log.Errorf("Auto-generation failed: %v", err)
			summary.Failures++
			continue
		}
		summary.Generated += len(result.Generated)
		summary.Failures += len(result.Failures)

		if s.alertOwner(ctx, log, ownerID, today) {
			summary.Alerted++
		}
	}

	s.log.WithFields(logrus.Fields{
		"owners":    summary.Owners,
		"generated": summary.Generated,
		"failures":  summary.Failures,
		"alerted":   summary.Alerted,
	}).Info("Scheduled sweep finished")
	return summary
}

func (s *Scheduler) alertOwner(ctx context.Context, log *logrus.Entry, ownerID int64, today time.Time) bool {
	if s.notifier == nil || s.cfg.AlertLookaheadDays <= 0 {
		return false
	}

	days, err := s.cashFlow.GetForecast(ctx, ownerID, today, today.AddDate(0, 0, s.cfg.AlertLookaheadDays-1))
	if err != nil {
		log.Errorf("Failed to compute forecast for alerts: %v", err)
		return false
	}
	flagged := false
	for _, d := range days {
		if d.HasAlerts {
			flagged = true
			break
		}
	}
	if !flagged {
		return false
	}

	user, err := s.owners.FindUserByID(ctx, ownerID)
	if err != nil {
		log.Warnf("Cannot alert owner without contact details: %v", err)
		return false
	}
	if err := s.notifier.SendForecastAlert(user.Email, user.Username, days); err != nil {
		if errors.Is(err, notify.ErrNotConfigured) {
			log.Debug("Skipping forecast alert, SMTP is not configured")
		} else {
			log.Errorf("Failed to send forecast alert: %v", err)
		}
		return false
	}
	return true
}
