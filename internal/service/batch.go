package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/sirupsen/logrus"
)

// GenerationFailure is one definition the batch could not bring up to date
type GenerationFailure struct {
	DefinitionID int64     `json:"definition_id"`
	Occurrence   time.Time `json:"occurrence"`
	Error        string    `json:"error"`
	Err          error     `json:"-"`
}

// AutoGenerateResult is the partial-success outcome of a batch run
type AutoGenerateResult struct {
	Generated []models.Transaction `json:"generated"`
	Failures  []GenerationFailure  `json:"failures"`
}

// AutoGenerate generates every occurrence due on or before asOf for the
// owner's active definitions, catching up missed periods one at a time.
// Failures are collected per definition and do not stop the batch.
func (s *Service) AutoGenerate(ctx context.Context, ownerID int64, asOf time.Time) (*AutoGenerateResult, error) {
	if ownerID <= 0 {
		return nil, &ValidationError{Field: "owner_id", Reason: "must be positive"}
	}
	if asOf.IsZero() {
		return nil, &ValidationError{Field: "as_of", Reason: "is required"}
	}
	asOf = clock.Day(asOf)

	due, err := s.store.ListDueDefinitions(ctx, ownerID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due definitions: %w", err)
	}

	result := &AutoGenerateResult{
		Generated: []models.Transaction{},
		Failures:  []GenerationFailure{},
	}
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			s.invalidateIfGenerated(ownerID, result)
			return result, err
		}
		s.advanceDefinition(ctx, ownerID, candidate.ID, asOf, result)
	}

	s.invalidateIfGenerated(ownerID, result)
	s.log.WithFields(logrus.Fields{
		"owner_id":  ownerID,
		"as_of":     asOf.Format(time.DateOnly),
		"due":       len(due),
		"generated": len(result.Generated),
		"failures":  len(result.Failures),
	}).Info("Auto-generation finished")
	return result, nil
}

// advanceDefinition catches a single definition up to asOf under its lock.
// The definition is reloaded so a snapshot made stale by another writer
// does not produce a conflict.
func (s *Service) advanceDefinition(ctx context.Context, ownerID, definitionID int64, asOf time.Time, result *AutoGenerateResult) {
	unlock := s.locks.Lock(definitionID)
	defer unlock()

	def, err := s.loadDefinition(ctx, ownerID, definitionID)
	if err != nil {
		result.Failures = append(result.Failures, failure(definitionID, time.Time{}, err))
		return
	}

	for n := 0; !def.NextOccurrence.After(asOf); n++ {
		if n >= s.config.MaxCatchUp {
			err := fmt.Errorf("catch-up limit of %d occurrences reached", s.config.MaxCatchUp)
			result.Failures = append(result.Failures, failure(def.ID, def.NextOccurrence, err))
			return
		}
		occurrence := def.NextOccurrence
		record, err := s.generateInstance(ctx, def, nil)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"owner_id":      ownerID,
				"definition_id": def.ID,
				"occurrence":    occurrence.Format(time.DateOnly),
				"error":         err,
			}).Warn("Auto-generation failed for definition")
			result.Failures = append(result.Failures, failure(def.ID, occurrence, err))
			return
		}
		result.Generated = append(result.Generated, *record)
	}
}

func (s *Service) invalidateIfGenerated(ownerID int64, result *AutoGenerateResult) {
	if len(result.Generated) > 0 {
		s.invalidateForecasts(ownerID)
	}
}

func failure(definitionID int64, occurrence time.Time, err error) GenerationFailure {
	return GenerationFailure{
		DefinitionID: definitionID,
		Occurrence:   occurrence,
		Error:        err.Error(),
		Err:          err,
	}
}
