package booking

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input-shape error. Validation errors are
// not retryable and never reach the Store.
var ErrValidation = errors.New("validation failed")

// Validation errors. Each one matches ErrValidation under errors.Is.
var (
	ErrInvalidDate          = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrPastDate             = fmt.Errorf("%w: date is in the past", ErrValidation)
	ErrInvalidDateRange     = fmt.Errorf("%w: invalid date range", ErrValidation)
	ErrInvalidCustomerName  = fmt.Errorf("%w: invalid customer name", ErrValidation)
	ErrInvalidPartySize     = fmt.Errorf("%w: invalid people count", ErrValidation)
	ErrInvalidPhone         = fmt.Errorf("%w: invalid phone", ErrValidation)
	ErrInvalidAllergies     = fmt.Errorf("%w: invalid allergies", ErrValidation)
	ErrInvalidSearchQuery   = fmt.Errorf("%w: invalid search query", ErrValidation)
	ErrInvalidRequestID     = fmt.Errorf("%w: invalid request id", ErrValidation)
	ErrInvalidReservationID = fmt.Errorf("%w: invalid reservation id", ErrValidation)
	ErrInvalidSource        = fmt.Errorf("%w: invalid source", ErrValidation)
	ErrIdempotencyKeyReused = fmt.Errorf("%w: request id reused with a different booking", ErrValidation)
)

// Domain-level error values returned by the booking service and its stores.
var (
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrUnknownReservation      = errors.New("unknown reservation")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// CapacityError reports a rejected admission together with what is still free
// on the requested date.
type CapacityError struct {
	Date      Date
	Requested PartySize
	Occupancy int
	Remaining int
}

// NewCapacityError builds a CapacityError for the given occupancy snapshot.
func NewCapacityError(date Date, requested PartySize, occupancy int) *CapacityError {
	remaining := Capacity - occupancy
	if remaining < 0 {
		remaining = 0
	}
	return &CapacityError{
		Date:      date,
		Requested: requested,
		Occupancy: occupancy,
		Remaining: remaining,
	}
}

// Error returns the formatted error message.
func (capacityError *CapacityError) Error() string {
	return fmt.Sprintf("%v: %s has %d of %d places left, %d requested",
		ErrCapacityExceeded, capacityError.Date, capacityError.Remaining, Capacity, capacityError.Requested.Int())
}

// Unwrap returns ErrCapacityExceeded.
func (capacityError *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// MarkUnavailable tags an infrastructure failure as retryable.
func MarkUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// contextFailure turns an expired or cancelled context into ErrStoreUnavailable:
// the outcome of an interrupted write is unknown, never "failed" or "succeeded".
func contextFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return MarkUnavailable(err)
	}
	return err
}
