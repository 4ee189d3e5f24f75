package booking

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes an admission attempt.
type OperationLog struct {
	Operation     string
	Date          Date
	PartySize     PartySize
	RequestID     RequestID
	ReservationID ReservationID
	Source        Source
	Status        string
	Error         error
}

// AdmissionListener is told about every reservation after it is committed.
type AdmissionListener interface {
	ReservationAdmitted(ctx context.Context, reservation Reservation)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithAdmissionListener adds a listener notified after each committed admission.
func WithAdmissionListener(listener AdmissionListener) ServiceOption {
	return func(service *Service) {
		if listener != nil {
			service.listeners = append(service.listeners, listener)
		}
	}
}

// WithDateLocker replaces the in-process per-date lock.
func WithDateLocker(locker DateLocker) ServiceOption {
	return func(service *Service) {
		if locker != nil {
			service.locker = locker
		}
	}
}

// WithAdmitTimeout bounds each admission. Non-positive values are ignored.
func WithAdmitTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.admitTimeout = timeout
		}
	}
}

// WithLocation sets the event time zone used to decide what "today" is.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		if location != nil {
			service.location = location
		}
	}
}
