/*
errors.go - Centralized error types for the booking engine

ERROR CATEGORIES:
  1. Client errors - bad input, unknown entities, business rule violations
  2. Internal errors - storage or transaction failures

USAGE:
  Callers match with errors.Is / errors.As:

    var funds *booking.InsufficientFundsError
    if errors.As(err, &funds) {
        fmt.Println(funds.Required, funds.Available)
    }

  Every structured error unwraps to one of the sentinels below, so
  errors.Is(err, booking.ErrInsufficientFunds) also works.
*/
package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest is returned for malformed or past-dated input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is the parent of every lookup failure.
	ErrNotFound = errors.New("not found")

	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	// ErrDoctorUnavailable is returned when the doctor does not take bookings.
	ErrDoctorUnavailable = errors.New("doctor is not available for appointments")

	// ErrSlotConflict is returned when the doctor already holds a
	// non-cancelled appointment at the requested instant.
	ErrSlotConflict = errors.New("doctor already has an appointment at this time")

	// ErrInsufficientFunds is returned when the wallet cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrInvalidTransition is returned for appointment status changes other
	// than scheduled -> completed and scheduled -> cancelled.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInternal marks storage and transaction failures.
	ErrInternal = errors.New("internal failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// InsufficientFundsError reports the shortfall of a debit.
type InsufficientFundsError struct {
	PatientID PatientID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: required %s, available %s",
		e.Required.String(), e.Available.String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// SlotConflictError identifies the taken slot. Busy is set when another
// booking for the same slot was in flight and the slot lock could not be taken.
type SlotConflictError struct {
	DoctorID DoctorID
	At       time.Time
	Busy     bool
}

func (e *SlotConflictError) Error() string {
	if e.Busy {
		return fmt.Sprintf("slot %s for doctor %s is currently being booked, retry shortly",
			e.At.UTC().Format(time.RFC3339), e.DoctorID)
	}
	return fmt.Sprintf("doctor %s already has an appointment at %s",
		e.DoctorID, e.At.UTC().Format(time.RFC3339))
}

func (e *SlotConflictError) Unwrap() error { return ErrSlotConflict }

// InternalError wraps a storage failure with the operation that hit it.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal failure: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error { return []error{ErrInternal, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's to fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDoctorUnavailable) ||
		errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// internal wraps anything that is not already a client error.
func internal(op string, err error) error {
	if err == nil || IsClientError(err) || errors.Is(err, ErrInternal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}
