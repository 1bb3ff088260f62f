package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/repository"
	"github.com/Dan9191/cashflow-service/internal/schedule"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GenerateOccurrence records the definition's current due occurrence in the
// ledger and advances its schedule. amount may be nil; see resolveAmount.
func (s *Service) GenerateOccurrence(ctx context.Context, ownerID, definitionID int64, amount *decimal.Decimal) (*models.Transaction, error) {
	unlock := s.locks.Lock(definitionID)
	defer unlock()

	def, err := s.loadDefinition(ctx, ownerID, definitionID)
	if err != nil {
		return nil, err
	}

	record, err := s.generateInstance(ctx, def, amount)
	if err != nil {
		return nil, err
	}
	s.invalidateForecasts(ownerID)
	return record, nil
}

// SkipOccurrence moves the schedule one step without writing to the ledger
func (s *Service) SkipOccurrence(ctx context.Context, ownerID, definitionID int64) (time.Time, error) {
	unlock := s.locks.Lock(definitionID)
	defer unlock()

	def, err := s.loadDefinition(ctx, ownerID, definitionID)
	if err != nil {
		return time.Time{}, err
	}

	skipped := def.NextOccurrence
	adv := models.ScheduleAdvance{
		ExpectedNext:   def.NextOccurrence,
		NextOccurrence: schedule.Advance(def, def.NextOccurrence),
		LastOccurrence: def.LastOccurrence,
		LastReceived:   def.LastReceived,
	}
	if err := s.store.AdvanceIfCurrent(ctx, def.OwnerID, def.ID, adv); err != nil {
		return time.Time{}, translateAdvanceError(def, err)
	}
	def.NextOccurrence = adv.NextOccurrence

	s.invalidateForecasts(ownerID)
	s.log.WithFields(logrus.Fields{
		"owner_id":        ownerID,
		"definition_id":   definitionID,
		"skipped":         skipped.Format(time.DateOnly),
		"next_occurrence": def.NextOccurrence.Format(time.DateOnly),
	}).Info("Occurrence skipped")
	return def.NextOccurrence, nil
}

// ConfirmIncome records the receipt of an income that requires confirmation.
// The oldest provisional record left by generation is promoted when one is
// pending; otherwise the due occurrence is generated as confirmed. actualDate
// must be within the configured tolerance of the scheduled date unless force
// is set.
func (s *Service) ConfirmIncome(ctx context.Context, ownerID, definitionID int64, actualDate time.Time, amount *decimal.Decimal, force bool) (*models.Transaction, error) {
	if actualDate.IsZero() {
		return nil, &ValidationError{Field: "actual_date", Reason: "is required"}
	}

	unlock := s.locks.Lock(definitionID)
	defer unlock()

	def, err := s.loadDefinition(ctx, ownerID, definitionID)
	if err != nil {
		return nil, err
	}
	if def.Kind != models.KindIncome || !def.RequiresConfirmation {
		return nil, &ValidationError{Field: "definition", Reason: "only incomes requiring confirmation can be confirmed"}
	}
	if !def.IsActive {
		return nil, &InactiveDefinitionError{DefinitionID: def.ID}
	}
	actual := clock.Day(actualDate)

	pending, err := s.store.FindProvisionalTransaction(ctx, ownerID, def.ID)
	switch {
	case err == nil:
		if err := s.checkTolerance(def, pending.Date, actual, force); err != nil {
			return nil, err
		}
		if err := s.confirmProvisional(ctx, def, pending, actual, amount); err != nil {
			return nil, err
		}
		s.invalidateForecasts(ownerID)
		return pending, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to look up provisional income: %w", err)
	}

	if err := s.checkTolerance(def, def.NextOccurrence, actual, force); err != nil {
		return nil, err
	}
	value, err := resolveAmount(def, amount)
	if err != nil {
		return nil, err
	}

	record := newRecord(def, actual, value)
	record.IsConfirmed = true
	record.IsProvisional = false
	if err := s.commitOccurrence(ctx, def, record, &actual); err != nil {
		return nil, err
	}

	s.invalidateForecasts(ownerID)
	return record, nil
}

func (s *Service) checkTolerance(def *models.RecurringDefinition, expected, actual time.Time, force bool) error {
	tolerance := s.config.ConfirmationToleranceDays
	if dayDistance(actual, expected) <= tolerance {
		return nil
	}
	if !force {
		return &ConfirmationMismatchError{
			DefinitionID:  def.ID,
			Expected:      expected,
			Actual:        actual,
			ToleranceDays: tolerance,
		}
	}
	s.log.WithFields(logrus.Fields{
		"definition_id": def.ID,
		"expected":      expected.Format(time.DateOnly),
		"actual":        actual.Format(time.DateOnly),
	}).Warn("Forcing income confirmation outside tolerance")
	return nil
}

// confirmProvisional promotes pending in place. The schedule is not moved:
// the occurrence was already claimed when pending was generated. lastReceived
// is written first and reverted if the promotion fails.
func (s *Service) confirmProvisional(ctx context.Context, def *models.RecurringDefinition, pending *models.Transaction, actual time.Time, amount *decimal.Decimal) error {
	value := pending.Amount
	if amount != nil {
		v, err := resolveAmount(def, amount)
		if err != nil {
			return err
		}
		value = v
	}

	adv := models.ScheduleAdvance{
		ExpectedNext:   def.NextOccurrence,
		NextOccurrence: def.NextOccurrence,
		LastOccurrence: def.LastOccurrence,
		LastReceived:   &actual,
		RequireActive:  true,
	}
	if err := s.store.AdvanceIfCurrent(ctx, def.OwnerID, def.ID, adv); err != nil {
		return translateAdvanceError(def, err)
	}

	if err := s.store.ConfirmTransaction(ctx, def.OwnerID, pending.ID, actual, value); err != nil {
		revert := adv
		revert.LastReceived = def.LastReceived
		revert.RequireActive = false
		if rerr := s.store.AdvanceIfCurrent(ctx, def.OwnerID, def.ID, revert); rerr != nil {
			s.log.WithFields(logrus.Fields{
				"definition_id": def.ID,
				"error":         rerr,
			}).Error("Failed to revert last received date after confirmation failure")
		}
		if errors.Is(err, repository.ErrNotFound) {
			return &ConcurrentAdvanceError{DefinitionID: def.ID, Expected: def.NextOccurrence}
		}
		return fmt.Errorf("failed to confirm income record %d: %w", pending.ID, err)
	}

	scheduled := pending.Date
	pending.Date = actual
	pending.Amount = value
	pending.IsProvisional = false
	pending.IsConfirmed = true
	def.LastReceived = &actual

	s.log.WithFields(logrus.Fields{
		"owner_id":       def.OwnerID,
		"definition_id":  def.ID,
		"transaction_id": pending.ID,
		"scheduled":      scheduled.Format(time.DateOnly),
		"received":       actual.Format(time.DateOnly),
	}).Info("Provisional income confirmed")
	return nil
}

// generateInstance writes the occurrence at def.NextOccurrence. def must be
// locked by the caller and is updated in place on success.
func (s *Service) generateInstance(ctx context.Context, def *models.RecurringDefinition, amount *decimal.Decimal) (*models.Transaction, error) {
	if !def.IsActive {
		return nil, &InactiveDefinitionError{DefinitionID: def.ID}
	}
	value, err := resolveAmount(def, amount)
	if err != nil {
		return nil, err
	}

	record := newRecord(def, def.NextOccurrence, value)
	if err := s.commitOccurrence(ctx, def, record, def.LastReceived); err != nil {
		return nil, err
	}
	return record, nil
}

// commitOccurrence claims the due occurrence with a conditional update and
// then writes the ledger record. A failed write reverts the claim.
func (s *Service) commitOccurrence(ctx context.Context, def *models.RecurringDefinition, record *models.Transaction, lastReceived *time.Time) error {
	occurrence := def.NextOccurrence
	adv := models.ScheduleAdvance{
		ExpectedNext:   occurrence,
		NextOccurrence: schedule.Advance(def, occurrence),
		LastOccurrence: &occurrence,
		LastReceived:   lastReceived,
		RequireActive:  true,
	}
	if err := s.store.AdvanceIfCurrent(ctx, def.OwnerID, def.ID, adv); err != nil {
		return translateAdvanceError(def, err)
	}

	if err := s.store.InsertTransaction(ctx, record); err != nil {
		revert := models.ScheduleAdvance{
			ExpectedNext:   adv.NextOccurrence,
			NextOccurrence: occurrence,
			LastOccurrence: def.LastOccurrence,
			LastReceived:   def.LastReceived,
		}
		if rerr := s.store.AdvanceIfCurrent(ctx, def.OwnerID, def.ID, revert); rerr != nil {
			s.log.WithFields(logrus.Fields{
				"definition_id": def.ID,
				"occurrence":    occurrence.Format(time.DateOnly),
				"error":         rerr,
			}).Error("Failed to revert schedule after ledger write failure")
		}
		return fmt.Errorf("failed to record occurrence of definition %d: %w", def.ID, err)
	}

	def.NextOccurrence = adv.NextOccurrence
	def.LastOccurrence = adv.LastOccurrence
	def.LastReceived = adv.LastReceived

	s.log.WithFields(logrus.Fields{
		"owner_id":        def.OwnerID,
		"definition_id":   def.ID,
		"transaction_id":  record.ID,
		"occurrence":      occurrence.Format(time.DateOnly),
		"next_occurrence": def.NextOccurrence.Format(time.DateOnly),
	}).Debug("Occurrence generated")
	return nil
}

func newRecord(def *models.RecurringDefinition, date time.Time, amount decimal.Decimal) *models.Transaction {
	id := def.ID
	return &models.Transaction{
		OwnerID:           def.OwnerID,
		Date:              date,
		Amount:            amount,
		Type:              def.Kind.TransactionType(),
		Description:       def.Name,
		SourceRecurringID: &id,
		IsProvisional:     def.RequiresConfirmation,
		IsConfirmed:       !def.RequiresConfirmation,
	}
}

func translateAdvanceError(def *models.RecurringDefinition, err error) error {
	switch {
	case errors.Is(err, repository.ErrStaleOccurrence):
		return &ConcurrentAdvanceError{DefinitionID: def.ID, Expected: def.NextOccurrence}
	case errors.Is(err, repository.ErrInactive):
		return &InactiveDefinitionError{DefinitionID: def.ID}
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Resource: "recurring definition", ID: def.ID}
	}
	return fmt.Errorf("failed to advance definition %d: %w", def.ID, err)
}

func dayDistance(a, b time.Time) int {
	days := int(clock.Day(a).Sub(clock.Day(b)).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
