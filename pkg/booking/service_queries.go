package booking

import (
	"context"
	"fmt"
)

// Occupancy returns the number of guests booked on date.
func (service *Service) Occupancy(ctx context.Context, date Date) (int, error) {
	occupancy, err := service.store.Occupancy(ctx, date)
	if err != nil {
		return 0, contextFailure(err)
	}
	return occupancy, nil
}

// DateAvailability reports occupancy, remaining places and whether date is full.
// The answer is advisory: a concurrent admission may change it immediately.
func (service *Service) DateAvailability(ctx context.Context, date Date) (Availability, error) {
	occupancy, err := service.Occupancy(ctx, date)
	if err != nil {
		return Availability{}, err
	}
	remaining := Capacity - occupancy
	if remaining < 0 {
		remaining = 0
	}
	return Availability{
		Date:      date,
		Occupancy: occupancy,
		Remaining: remaining,
		Full:      occupancy >= Capacity,
	}, nil
}

// FullDates lists every date whose occupancy reached capacity, ascending.
func (service *Service) FullDates(ctx context.Context) ([]Date, error) {
	dates, err := service.store.ListFullDates(ctx, Capacity)
	if err != nil {
		return nil, contextFailure(err)
	}
	return dates, nil
}

// ListBookings returns the reservations of one date in creation order.
func (service *Service) ListBookings(ctx context.Context, date Date) ([]Reservation, error) {
	reservations, err := service.store.ListByDate(ctx, date)
	if err != nil {
		return nil, contextFailure(err)
	}
	return reservations, nil
}

// SearchBookings matches name or phone across all dates, ordered by date.
func (service *Service) SearchBookings(ctx context.Context, query SearchQuery) ([]Reservation, error) {
	reservations, err := service.store.Search(ctx, query)
	if err != nil {
		return nil, contextFailure(err)
	}
	return reservations, nil
}

// ExportRange returns every reservation within the inclusive range in a
// deterministic order (date, creation time, id).
func (service *Service) ExportRange(ctx context.Context, dateRange DateRange) ([]Reservation, error) {
	reservations, err := service.store.ListInRange(ctx, dateRange)
	if err != nil {
		return nil, contextFailure(err)
	}
	return reservations, nil
}

// FindBooking returns the reservation admitted under requestID.
func (service *Service) FindBooking(ctx context.Context, requestID RequestID) (Reservation, error) {
	if !requestID.IsSet() {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	reservation, err := service.store.FindByRequestID(ctx, requestID)
	if err != nil {
		return Reservation{}, contextFailure(err)
	}
	return reservation, nil
}
