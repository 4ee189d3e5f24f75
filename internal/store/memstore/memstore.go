// Package memstore keeps reservations in process memory. It suits a single
// replica and tests; data is lost on restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/google/uuid"
)

// Store implements booking.Store.
type Store struct {
	mutex        sync.RWMutex
	reservations []booking.Reservation
	occupancy    map[booking.Date]int
	byRequestID  map[booking.RequestID]int
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		if now != nil {
			store.now = now
		}
	}
}

// New returns an empty Store.
func New(options ...Option) *Store {
	store := &Store{
		occupancy:   make(map[booking.Date]int),
		byRequestID: make(map[booking.RequestID]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// InsertWithinCapacity stores draft when the date still has room.
func (store *Store) InsertWithinCapacity(ctx context.Context, draft booking.ReservationDraft, capacity int) (booking.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return booking.Reservation{}, booking.MarkUnavailable(err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if draft.RequestID.IsSet() {
		if _, exists := store.byRequestID[draft.RequestID]; exists {
			return booking.Reservation{}, booking.ErrDuplicateIdempotencyKey
		}
	}
	occupancy := store.occupancy[draft.Date]
	if occupancy+draft.PartySize.Int() > capacity {
		return booking.Reservation{}, booking.NewCapacityError(draft.Date, draft.PartySize, occupancy)
	}
	id, err := booking.NewReservationID(uuid.NewString())
	if err != nil {
		return booking.Reservation{}, err
	}
	reservation := booking.Reservation{
		ID:           id,
		Date:         draft.Date,
		CustomerName: draft.CustomerName,
		PartySize:    draft.PartySize,
		Phone:        draft.Phone,
		Allergies:    draft.Allergies,
		RequestID:    draft.RequestID,
		Source:       draft.Source,
		CreatedAt:    store.now().UTC(),
	}
	store.reservations = append(store.reservations, reservation)
	store.occupancy[draft.Date] = occupancy + draft.PartySize.Int()
	if draft.RequestID.IsSet() {
		store.byRequestID[draft.RequestID] = len(store.reservations) - 1
	}
	return reservation, nil
}

// FindByRequestID returns the reservation stored under requestID.
func (store *Store) FindByRequestID(ctx context.Context, requestID booking.RequestID) (booking.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return booking.Reservation{}, booking.MarkUnavailable(err)
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	index, ok := store.byRequestID[requestID]
	if !ok {
		return booking.Reservation{}, booking.ErrUnknownReservation
	}
	return store.reservations[index], nil
}

// Occupancy returns the guests booked on date.
func (store *Store) Occupancy(ctx context.Context, date booking.Date) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, booking.MarkUnavailable(err)
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.occupancy[date], nil
}

// ListFullDates returns dates at or above capacity, ascending.
func (store *Store) ListFullDates(ctx context.Context, capacity int) ([]booking.Date, error) {
	if err := ctx.Err(); err != nil {
		return nil, booking.MarkUnavailable(err)
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	dates := make([]booking.Date, 0)
	for date, occupancy := range store.occupancy {
		if occupancy >= capacity {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(left, right int) bool { return dates[left].Before(dates[right]) })
	return dates, nil
}

// ListByDate returns date's reservations in creation order.
func (store *Store) ListByDate(ctx context.Context, date booking.Date) ([]booking.Reservation, error) {
	return store.filter(ctx, func(reservation booking.Reservation) bool { return reservation.Date == date })
}

// Search matches name or phone case-insensitively.
func (store *Store) Search(ctx context.Context, query booking.SearchQuery) ([]booking.Reservation, error) {
	return store.filter(ctx, query.Matches)
}

// ListInRange returns reservations within the inclusive range.
func (store *Store) ListInRange(ctx context.Context, dateRange booking.DateRange) ([]booking.Reservation, error) {
	return store.filter(ctx, func(reservation booking.Reservation) bool { return dateRange.Contains(reservation.Date) })
}

func (store *Store) filter(ctx context.Context, keep func(booking.Reservation) bool) ([]booking.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, booking.MarkUnavailable(err)
	}
	store.mutex.RLock()
	matches := make([]booking.Reservation, 0)
	for _, reservation := range store.reservations {
		if keep(reservation) {
			matches = append(matches, reservation)
		}
	}
	store.mutex.RUnlock()
	sort.SliceStable(matches, func(left, right int) bool {
		a, b := matches[left], matches[right]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return matches, nil
}
