package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/config"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/repository"
	"github.com/Dan9191/cashflow-service/internal/schedule"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service drives recurring definitions and projects cash flow
type Service struct {
	store     Store
	log       *logrus.Logger
	config    *config.Config
	clock     clock.Clock
	estimator SpendEstimator
	forecasts *cache.Cache
	locks     *keyedLocks

	// forecastGen counts invalidations per owner so a projection that raced
	// one is not cached.
	genMu       sync.Mutex
	forecastGen map[int64]uint64
}

// Option customises a Service
type Option func(*Service)

// WithClock replaces the system clock
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithEstimator replaces the discretionary spend estimator
func WithEstimator(e SpendEstimator) Option {
	return func(s *Service) { s.estimator = e }
}

// NewService initializes a new service
func NewService(store Store, log *logrus.Logger, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		log:       log,
		config:    cfg,
		clock:     clock.Real{},
		estimator: TrailingAverage{},
		locks:       newKeyedLocks(),
		forecastGen: make(map[int64]uint64),
	}
	if cfg.ForecastCacheTTL > 0 {
		s.forecasts = cache.New(cfg.ForecastCacheTTL, 2*cfg.ForecastCacheTTL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleAdvance returns the occurrence following fromDate for def
func (s *Service) ScheduleAdvance(def *models.RecurringDefinition, fromDate time.Time) (time.Time, error) {
	if err := schedule.Validate(def); err != nil {
		return time.Time{}, &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	if fromDate.IsZero() {
		return time.Time{}, &ValidationError{Field: "from_date", Reason: "is required"}
	}
	return schedule.Advance(def, fromDate), nil
}

// CreateDefinition validates def, initialises its schedule state and stores it
func (s *Service) CreateDefinition(ctx context.Context, def *models.RecurringDefinition) (*models.RecurringDefinition, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	def.StartDate = clock.Day(def.StartDate)
	def.NextOccurrence = schedule.First(def)
	def.LastOccurrence = nil
	def.LastReceived = nil
	def.IsActive = true

	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}

	s.invalidateForecasts(def.OwnerID)
	s.log.WithFields(logrus.Fields{
		"owner_id":        def.OwnerID,
		"definition_id":   def.ID,
		"kind":            def.Kind,
		"next_occurrence": def.NextOccurrence.Format(time.DateOnly),
	}).Info("Recurring definition created")
	return def, nil
}

// GetDefinition returns one of the owner's definitions
func (s *Service) GetDefinition(ctx context.Context, ownerID, definitionID int64) (*models.RecurringDefinition, error) {
	return s.loadDefinition(ctx, ownerID, definitionID)
}

// ListDefinitions returns the owner's active definitions
func (s *Service) ListDefinitions(ctx context.Context, ownerID int64) ([]models.RecurringDefinition, error) {
	if ownerID <= 0 {
		return nil, &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	defs, err := s.store.ListActiveDefinitions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	if defs == nil {
		defs = []models.RecurringDefinition{}
	}
	return defs, nil
}

// SetDefinitionActive activates or deactivates a definition
func (s *Service) SetDefinitionActive(ctx context.Context, ownerID, definitionID int64, active bool) error {
	unlock := s.locks.Lock(definitionID)
	defer unlock()

	if err := s.store.SetDefinitionActive(ctx, ownerID, definitionID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Resource: "recurring definition", ID: definitionID}
		}
		return err
	}
	s.invalidateForecasts(ownerID)
	s.log.WithFields(logrus.Fields{"owner_id": ownerID, "definition_id": definitionID, "active": active}).
		Info("Recurring definition state changed")
	return nil
}

func (s *Service) loadDefinition(ctx context.Context, ownerID, definitionID int64) (*models.RecurringDefinition, error) {
	def, err := s.store.GetDefinition(ctx, ownerID, definitionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "recurring definition", ID: definitionID}
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func validateDefinition(def *models.RecurringDefinition) error {
	if def.OwnerID <= 0 {
		return &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if !def.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", def.Kind)}
	}
	if strings.TrimSpace(def.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if err := schedule.Validate(def); err != nil {
		return &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	if !def.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	switch def.AmountType {
	case models.AmountFixed:
		if def.AmountMax != nil {
			return &ValidationError{Field: "amount_max", Reason: "only variable amounts have a maximum"}
		}
	case models.AmountVariable:
		if def.AmountMax == nil || def.AmountMax.LessThan(def.Amount) {
			return &ValidationError{Field: "amount_max", Reason: "variable amounts need a maximum not below the minimum"}
		}
	default:
		return &ValidationError{Field: "amount_type", Reason: fmt.Sprintf("unsupported amount type %q", def.AmountType)}
	}

	if def.Kind != models.KindIncome && (def.RequiresConfirmation || def.IsPrimarySalary) {
		return &ValidationError{Field: "kind", Reason: "confirmation and primary salary apply to incomes only"}
	}
	return nil
}

// resolveAmount picks the occurrence amount for def. A fixed definition only
// accepts its stored amount.
func resolveAmount(def *models.RecurringDefinition, supplied *decimal.Decimal) (decimal.Decimal, error) {
	if def.AmountType == models.AmountFixed {
		if supplied != nil && !supplied.Equal(def.Amount) {
			return decimal.Zero, &ValidationError{
				Field:  "amount",
				Reason: fmt.Sprintf("definition has a fixed amount of %s", def.Amount.StringFixed(2)),
			}
		}
		return def.Amount, nil
	}
	if supplied == nil {
		return def.ExpectedAmount(), nil
	}
	if !supplied.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return *supplied, nil
}

// forecastKey includes today because the split between actual and
// projected days moves at midnight.
func forecastKey(ownerID int64, today, start, end time.Time) string {
	return strconv.FormatInt(ownerID, 10) + ":" + models.DateKey(today) + ":" +
		models.DateKey(start) + ":" + models.DateKey(end)
}

func (s *Service) forecastGeneration(ownerID int64) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.forecastGen[ownerID]
}

// cacheForecast stores days unless the owner's forecasts were invalidated
// since gen was read.
func (s *Service) cacheForecast(ownerID int64, gen uint64, key string, days []models.ForecastDay) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.forecastGen[ownerID] != gen {
		return
	}
	s.forecasts.SetDefault(key, append([]models.ForecastDay(nil), days...))
}

func (s *Service) invalidateForecasts(ownerID int64) {
	if s.forecasts == nil {
		return
	}
	s.genMu.Lock()
	s.forecastGen[ownerID]++
	s.genMu.Unlock()
	prefix := strconv.FormatInt(ownerID, 10) + ":"
	for key := range s.forecasts.Items() {
		if strings.HasPrefix(key, prefix) {
			s.forecasts.Delete(key)
		}
	}
}
