package service

import (
	"fmt"
	"time"
)

// ValidationError reports malformed input; nothing has been changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing resource or one owned by another user.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// InactiveDefinitionError is returned when generating against a deactivated definition.
type InactiveDefinitionError struct {
	DefinitionID int64
}

func (e *InactiveDefinitionError) Error() string {
	return fmt.Sprintf("recurring definition %d is inactive", e.DefinitionID)
}

// ConfirmationMismatchError is returned when a confirmed receipt date is
// outside the tolerance window. Retrying with force succeeds.
type ConfirmationMismatchError struct {
	DefinitionID  int64
	Expected      time.Time
	Actual        time.Time
	ToleranceDays int
}

func (e *ConfirmationMismatchError) Error() string {
	return fmt.Sprintf("recurring definition %d: received on %s but expected %s (±%d days)",
		e.DefinitionID, e.Actual.Format(time.DateOnly), e.Expected.Format(time.DateOnly), e.ToleranceDays)
}

// ConcurrentAdvanceError is returned when another writer advanced the
// definition first. The whole operation can be retried.
type ConcurrentAdvanceError struct {
	DefinitionID int64
	Expected     time.Time
}

func (e *ConcurrentAdvanceError) Error() string {
	return fmt.Sprintf("recurring definition %d was advanced concurrently (expected next occurrence %s)",
		e.DefinitionID, e.Expected.Format(time.DateOnly))
}
