package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// stubStore keeps reservations in memory. With enforceCapacity unset it inserts
// blindly, so only the Service's own locking protects the invariant.
type stubStore struct {
	mutex           sync.Mutex
	reservations    []Reservation
	nextID          int
	enforceCapacity bool
	occupancyDelay  time.Duration
	occupancyCalls  int
	insertCalls     int
	failWith        error
	blockUntilDone  bool
	clock           time.Time
}

func newStubStore() *stubStore {
	return &stubStore{clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (store *stubStore) InsertWithinCapacity(ctx context.Context, draft ReservationDraft, capacity int) (Reservation, error) {
	if err := store.failure(ctx); err != nil {
		return Reservation{}, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.insertCalls++
	if draft.RequestID.IsSet() {
		for _, reservation := range store.reservations {
			if reservation.RequestID == draft.RequestID {
				return Reservation{}, ErrDuplicateIdempotencyKey
			}
		}
	}
	if store.enforceCapacity {
		occupancy := store.occupancyLocked(draft.Date)
		if occupancy+draft.PartySize.Int() > capacity {
			return Reservation{}, NewCapacityError(draft.Date, draft.PartySize, occupancy)
		}
	}
	store.nextID++
	store.clock = store.clock.Add(time.Second)
	reservation := Reservation{
		ID:           ReservationID{value: fmt.Sprintf("res-%03d", store.nextID)},
		Date:         draft.Date,
		CustomerName: draft.CustomerName,
		PartySize:    draft.PartySize,
		Phone:        draft.Phone,
		Allergies:    draft.Allergies,
		RequestID:    draft.RequestID,
		Source:       draft.Source,
		CreatedAt:    store.clock,
	}
	store.reservations = append(store.reservations, reservation)
	return reservation, nil
}

func (store *stubStore) FindByRequestID(ctx context.Context, requestID RequestID) (Reservation, error) {
	if err := store.failure(ctx); err != nil {
		return Reservation{}, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, reservation := range store.reservations {
		if reservation.RequestID == requestID {
			return reservation, nil
		}
	}
	return Reservation{}, ErrUnknownReservation
}

func (store *stubStore) Occupancy(ctx context.Context, date Date) (int, error) {
	if err := store.failure(ctx); err != nil {
		return 0, err
	}
	store.mutex.Lock()
	store.occupancyCalls++
	occupancy := store.occupancyLocked(date)
	delay := store.occupancyDelay
	store.mutex.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return occupancy, nil
}

func (store *stubStore) ListFullDates(ctx context.Context, capacity int) ([]Date, error) {
	if err := store.failure(ctx); err != nil {
		return nil, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	totals := make(map[Date]int)
	for _, reservation := range store.reservations {
		totals[reservation.Date] += reservation.PartySize.Int()
	}
	dates := make([]Date, 0)
	for date, total := range totals {
		if total >= capacity {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(left, right int) bool { return dates[left].Before(dates[right]) })
	return dates, nil
}

func (store *stubStore) ListByDate(ctx context.Context, date Date) ([]Reservation, error) {
	return store.filter(ctx, func(reservation Reservation) bool { return reservation.Date == date })
}

func (store *stubStore) Search(ctx context.Context, query SearchQuery) ([]Reservation, error) {
	return store.filter(ctx, query.Matches)
}

func (store *stubStore) ListInRange(ctx context.Context, dateRange DateRange) ([]Reservation, error) {
	return store.filter(ctx, func(reservation Reservation) bool { return dateRange.Contains(reservation.Date) })
}

func (store *stubStore) filter(ctx context.Context, keep func(Reservation) bool) ([]Reservation, error) {
	if err := store.failure(ctx); err != nil {
		return nil, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	out := make([]Reservation, 0)
	for _, reservation := range store.reservations {
		if keep(reservation) {
			out = append(out, reservation)
		}
	}
	sort.SliceStable(out, func(left, right int) bool {
		if out[left].Date != out[right].Date {
			return out[left].Date.Before(out[right].Date)
		}
		return out[left].CreatedAt.Before(out[right].CreatedAt)
	})
	return out, nil
}

func (store *stubStore) failure(ctx context.Context) error {
	store.mutex.Lock()
	failWith := store.failWith
	block := store.blockUntilDone
	store.mutex.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return failWith
}

func (store *stubStore) occupancyLocked(date Date) int {
	total := 0
	for _, reservation := range store.reservations {
		if reservation.Date == date {
			total += reservation.PartySize.Int()
		}
	}
	return total
}

func (store *stubStore) count() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.reservations)
}

func (store *stubStore) calls() (occupancy int, insert int) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.occupancyCalls, store.insertCalls
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

type recorderListener struct {
	mutex    sync.Mutex
	admitted []Reservation
}

func (listener *recorderListener) ReservationAdmitted(_ context.Context, reservation Reservation) {
	listener.mutex.Lock()
	defer listener.mutex.Unlock()
	listener.admitted = append(listener.admitted, reservation)
}

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustDate(test *testing.T, raw string) Date {
	test.Helper()
	value, err := NewDate(raw)
	if err != nil {
		test.Fatalf("date: %v", err)
	}
	return value
}

func mustSearchQuery(test *testing.T, raw string) SearchQuery {
	test.Helper()
	value, err := NewSearchQuery(raw)
	if err != nil {
		test.Fatalf("search query: %v", err)
	}
	return value
}

func mustDateRange(test *testing.T, start string, end string) DateRange {
	test.Helper()
	value, err := ParseDateRange(start, end)
	if err != nil {
		test.Fatalf("date range: %v", err)
	}
	return value
}

func mustSubmit(test *testing.T, service *Service, request BookingRequest) Reservation {
	test.Helper()
	reservation, err := service.SubmitBooking(context.Background(), request)
	if err != nil {
		test.Fatalf("submit %+v: %v", request, err)
	}
	return reservation
}

func mustOccupancy(test *testing.T, service *Service, raw string) int {
	test.Helper()
	occupancy, err := service.Occupancy(context.Background(), mustDate(test, raw))
	if err != nil {
		test.Fatalf("occupancy: %v", err)
	}
	return occupancy
}

func guestRequest(date string, name string, people int) BookingRequest {
	return BookingRequest{Date: date, CustomerName: name, PeopleCount: people}
}

func expectCapacityError(test *testing.T, err error, wantRemaining int) {
	test.Helper()
	if !errors.Is(err, ErrCapacityExceeded) {
		test.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	var capacityError *CapacityError
	if !errors.As(err, &capacityError) {
		test.Fatalf("expected *CapacityError, got %T", err)
	}
	if capacityError.Remaining != wantRemaining {
		test.Fatalf("expected %d remaining, got %d", wantRemaining, capacityError.Remaining)
	}
}
