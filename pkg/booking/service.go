package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service is the admission controller over a Store.
type Service struct {
	store        Store
	nowFn        func() time.Time
	locker       DateLocker
	logger       OperationLogger
	listeners    []AdmissionListener
	admitTimeout time.Duration
	location     *time.Location
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		locker:       NewLocalDateLocker(),
		admitTimeout: DefaultAdmitTimeout,
		location:     time.UTC,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// SubmitBooking admits a guest booking. Dates before today are rejected.
func (service *Service) SubmitBooking(ctx context.Context, request BookingRequest) (Reservation, error) {
	return service.admit(ctx, operationSubmit, SourceGuest, request)
}

// AdminAddBooking admits a staff booking. Any date is accepted; the capacity
// rule is the same as for guests.
func (service *Service) AdminAddBooking(ctx context.Context, request BookingRequest) (Reservation, error) {
	return service.admit(ctx, operationAdmin, SourceStaff, request)
}

// Today returns the current date in the event time zone.
func (service *Service) Today() Date {
	return DateOf(service.nowFn().In(service.location))
}

func (service *Service) admit(requestContext context.Context, operation string, source Source, request BookingRequest) (Reservation, error) {
	draft, err := service.newDraft(request, source)
	if err != nil {
		service.logOperation(requestContext, OperationLog{
			Operation: operation,
			Source:    source,
			Error:     err,
		})
		return Reservation{}, err
	}

	admitContext, cancel := context.WithTimeout(requestContext, service.admitTimeout)
	defer cancel()
	reservation, replayed, err := service.admitDraft(admitContext, draft)
	err = contextFailure(err)

	entry := OperationLog{
		Operation:     operation,
		Date:          draft.Date,
		PartySize:     draft.PartySize,
		RequestID:     draft.RequestID,
		ReservationID: reservation.ID,
		Source:        source,
		Error:         err,
	}
	if replayed {
		entry.Status = operationStatusReplayed
	}
	service.logOperation(requestContext, entry)
	if err != nil {
		return Reservation{}, err
	}
	if !replayed {
		service.notifyAdmitted(requestContext, reservation)
	}
	return reservation, nil
}

// admitDraft runs the read-check-write sequence while holding the date lock.
func (service *Service) admitDraft(ctx context.Context, draft ReservationDraft) (Reservation, bool, error) {
	unlock, err := service.locker.Lock(ctx, draft.Date)
	if err != nil {
		return Reservation{}, false, MarkUnavailable(fmt.Errorf("lock %s: %w", draft.Date, err))
	}
	defer unlock()

	if draft.RequestID.IsSet() {
		existing, found, err := service.findReplay(ctx, draft)
		if err != nil || found {
			return existing, found, err
		}
	}

	occupancy, err := service.store.Occupancy(ctx, draft.Date)
	if err != nil {
		return Reservation{}, false, err
	}
	if occupancy+draft.PartySize.Int() > Capacity {
		return Reservation{}, false, NewCapacityError(draft.Date, draft.PartySize, occupancy)
	}

	reservation, err := service.store.InsertWithinCapacity(ctx, draft, Capacity)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Another process committed the same request id between our lookup and insert.
		existing, found, findErr := service.findReplay(ctx, draft)
		if findErr != nil {
			return Reservation{}, false, findErr
		}
		if found {
			return existing, true, nil
		}
	}
	if err != nil {
		return Reservation{}, false, err
	}
	return reservation, false, nil
}

func (service *Service) findReplay(ctx context.Context, draft ReservationDraft) (Reservation, bool, error) {
	existing, err := service.store.FindByRequestID(ctx, draft.RequestID)
	if errors.Is(err, ErrUnknownReservation) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	if !sameBooking(existing, draft) {
		return Reservation{}, false, fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, draft.RequestID)
	}
	return existing, true, nil
}

func (service *Service) newDraft(request BookingRequest, source Source) (ReservationDraft, error) {
	date, err := NewDate(request.Date)
	if err != nil {
		return ReservationDraft{}, err
	}
	if source == SourceGuest {
		if today := service.Today(); date.Before(today) {
			return ReservationDraft{}, fmt.Errorf("%w: %s is before %s", ErrPastDate, date, today)
		}
	}
	name, err := NewCustomerName(request.CustomerName)
	if err != nil {
		return ReservationDraft{}, err
	}
	partySize, err := NewPartySize(request.PeopleCount)
	if err != nil {
		return ReservationDraft{}, err
	}
	phone, err := NewPhone(request.Phone)
	if err != nil {
		return ReservationDraft{}, err
	}
	allergies, err := NewAllergies(request.Allergies)
	if err != nil {
		return ReservationDraft{}, err
	}
	requestID, err := NewRequestID(request.RequestID)
	if err != nil {
		return ReservationDraft{}, err
	}
	return ReservationDraft{
		Date:         date,
		CustomerName: name,
		PartySize:    partySize,
		Phone:        phone,
		Allergies:    allergies,
		RequestID:    requestID,
		Source:       source,
	}, nil
}

func (service *Service) notifyAdmitted(ctx context.Context, reservation Reservation) {
	for _, listener := range service.listeners {
		listener.ReservationAdmitted(ctx, reservation)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func sameBooking(existing Reservation, draft ReservationDraft) bool {
	return existing.Date == draft.Date &&
		existing.CustomerName == draft.CustomerName &&
		existing.PartySize == draft.PartySize &&
		existing.Phone == draft.Phone &&
		existing.Allergies == draft.Allergies &&
		existing.Source == draft.Source
}
