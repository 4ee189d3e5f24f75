package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitBookingOnEmptyDate(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)

	reservation := mustSubmit(test, service, BookingRequest{
		Date:         "2025-03-10",
		CustomerName: "  Amina Haddad ",
		PeopleCount:  50,
		Phone:        "+971 50 123 4567",
		Allergies:    "gluten",
	})

	if reservation.ID.String() == "" {
		test.Fatalf("expected store-assigned id")
	}
	if reservation.CustomerName.String() != "Amina Haddad" {
		test.Fatalf("expected trimmed name, got %q", reservation.CustomerName.String())
	}
	if reservation.Source != SourceGuest {
		test.Fatalf("expected guest source, got %s", reservation.Source)
	}
	if got := mustOccupancy(test, service, "2025-03-10"); got != 50 {
		test.Fatalf("expected occupancy 50, got %d", got)
	}
}

func TestSubmitBookingRejectsWhenCapacityWouldBeExceeded(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	mustSubmit(test, service, guestRequest("2025-03-10", "Big Family", 280))

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Late Group", 10))
	expectCapacityError(test, err, 8)

	if got := mustOccupancy(test, service, "2025-03-10"); got != 280 {
		test.Fatalf("expected occupancy unchanged at 280, got %d", got)
	}
	if store.count() != 1 {
		test.Fatalf("expected no write on rejection, got %d reservations", store.count())
	}
}

func TestSubmitBookingCapacityBoundary(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	mustSubmit(test, service, guestRequest("2025-03-12", "First", 200))

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-03-12", "One Too Many", Capacity-200+1))
	expectCapacityError(test, err, Capacity-200)

	mustSubmit(test, service, guestRequest("2025-03-12", "Exact Fit", Capacity-200))
	if got := mustOccupancy(test, service, "2025-03-12"); got != Capacity {
		test.Fatalf("expected full date at %d, got %d", Capacity, got)
	}

	_, err = service.SubmitBooking(context.Background(), guestRequest("2025-03-12", "Anyone", 1))
	expectCapacityError(test, err, 0)
}

func TestOccupancyEqualsSumOfSequentialAdmissions(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	sizes := []int{1, 12, 40, 7, 99, 3}
	expected := 0
	for index, size := range sizes {
		mustSubmit(test, service, guestRequest("2025-03-15", "Guest", size))
		expected += size
		if got := mustOccupancy(test, service, "2025-03-15"); got != expected {
			test.Fatalf("after admission %d expected %d, got %d", index, expected, got)
		}
	}
	if got := mustOccupancy(test, service, "2025-03-16"); got != 0 {
		test.Fatalf("expected untouched date to be empty, got %d", got)
	}
}

func TestConcurrentAdmissionsOfTwoLargePartiesAdmitExactlyOne(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.occupancyDelay = 20 * time.Millisecond
	service := mustNewService(test, store)

	var waitGroup sync.WaitGroup
	errs := make([]error, 2)
	for index := range errs {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, errs[slot] = service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Party", 150))
		}(index)
	}
	waitGroup.Wait()

	admitted, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrCapacityExceeded):
			rejected++
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 1 || rejected != 1 {
		test.Fatalf("expected one admitted and one rejected, got %d/%d", admitted, rejected)
	}
	if got := mustOccupancy(test, service, "2025-03-10"); got != 150 {
		test.Fatalf("expected occupancy 150, got %d", got)
	}
}

func TestConcurrentAdmissionsNeverExceedCapacity(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.occupancyDelay = time.Millisecond
	service := mustNewService(test, store)
	sizes := []int{37, 12, 80, 5, 64, 23, 90, 18, 41, 7, 55, 30, 2, 77, 16, 48}

	var waitGroup sync.WaitGroup
	for round := 0; round < 3; round++ {
		for _, size := range sizes {
			waitGroup.Add(1)
			go func(people int) {
				defer waitGroup.Done()
				_, err := service.AdminAddBooking(context.Background(), guestRequest("2025-03-20", "Walk-in", people))
				if err != nil && !errors.Is(err, ErrCapacityExceeded) {
					test.Errorf("unexpected error: %v", err)
				}
			}(size)
		}
	}
	waitGroup.Wait()

	if got := mustOccupancy(test, service, "2025-03-20"); got > Capacity {
		test.Fatalf("occupancy %d exceeds capacity %d", got, Capacity)
	}
}

func TestAdminAddBookingAppliesSameHardCap(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	mustSubmit(test, service, guestRequest("2025-03-10", "Guests", 280))

	_, err := service.AdminAddBooking(context.Background(), guestRequest("2025-03-10", "Staff Entry", 10))
	expectCapacityError(test, err, 8)
}

func TestPastDatePolicyDiffersByPath(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-02-28", "Yesterday", 2))
	if !errors.Is(err, ErrPastDate) || !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrPastDate, got %v", err)
	}

	mustSubmit(test, service, guestRequest("2025-03-01", "Today", 2))

	reservation, err := service.AdminAddBooking(context.Background(), guestRequest("2025-02-28", "Correction", 2))
	if err != nil {
		test.Fatalf("staff past-date booking: %v", err)
	}
	if reservation.Source != SourceStaff {
		test.Fatalf("expected staff source, got %s", reservation.Source)
	}
}

func TestGuestTodayFollowsEventLocation(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	lateEvening := time.Date(2025, 3, 1, 21, 30, 0, 0, time.UTC)
	service, err := NewService(store, func() time.Time { return lateEvening }, WithLocation(time.FixedZone("GST", 4*60*60)))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	if today := service.Today().String(); today != "2025-03-02" {
		test.Fatalf("expected local today 2025-03-02, got %s", today)
	}
	_, err = service.SubmitBooking(context.Background(), guestRequest("2025-03-01", "Too Late", 2))
	if !errors.Is(err, ErrPastDate) {
		test.Fatalf("expected ErrPastDate, got %v", err)
	}
}

func TestValidationRejectionsNeverReachTheStore(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		request BookingRequest
		wantErr error
	}{
		{name: "zero people", request: guestRequest("2025-03-10", "Guest", 0), wantErr: ErrInvalidPartySize},
		{name: "negative people", request: guestRequest("2025-03-10", "Guest", -3), wantErr: ErrInvalidPartySize},
		{name: "over capacity", request: guestRequest("2025-03-10", "Guest", Capacity+1), wantErr: ErrInvalidPartySize},
		{name: "blank name", request: guestRequest("2025-03-10", "   ", 2), wantErr: ErrInvalidCustomerName},
		{name: "bad date", request: guestRequest("10/03/2025", "Guest", 2), wantErr: ErrInvalidDate},
		{name: "impossible date", request: guestRequest("2025-02-30", "Guest", 2), wantErr: ErrInvalidDate},
		{name: "empty date", request: guestRequest("", "Guest", 2), wantErr: ErrInvalidDate},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			service := mustNewService(test, store)
			_, err := service.SubmitBooking(context.Background(), testCase.request)
			if !errors.Is(err, testCase.wantErr) || !errors.Is(err, ErrValidation) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			occupancyCalls, insertCalls := store.calls()
			if occupancyCalls != 0 || insertCalls != 0 {
				test.Fatalf("store touched on invalid input: occupancy=%d insert=%d", occupancyCalls, insertCalls)
			}
		})
	}
}

func TestRetriedAdmissionWithRequestIDIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	listener := &recorderListener{}
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithAdmissionListener(listener), WithOperationLogger(logger))
	request := BookingRequest{Date: "2025-03-10", CustomerName: "Omar", PeopleCount: 6, RequestID: "req-42"}

	first := mustSubmit(test, service, request)
	second := mustSubmit(test, service, request)

	if first.ID != second.ID {
		test.Fatalf("expected replay to return %s, got %s", first.ID, second.ID)
	}
	if store.count() != 1 {
		test.Fatalf("expected a single committed reservation, got %d", store.count())
	}
	if got := mustOccupancy(test, service, "2025-03-10"); got != 6 {
		test.Fatalf("expected occupancy 6, got %d", got)
	}
	if len(listener.admitted) != 1 {
		test.Fatalf("expected one admission notification, got %d", len(listener.admitted))
	}
	entries := logger.snapshot()
	if len(entries) != 2 || entries[1].Status != operationStatusReplayed {
		test.Fatalf("expected replay to be logged, got %+v", entries)
	}
}

func TestRequestIDReusedForDifferentBookingIsRejected(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	mustSubmit(test, service, BookingRequest{Date: "2025-03-10", CustomerName: "Omar", PeopleCount: 6, RequestID: "req-7"})

	_, err := service.SubmitBooking(context.Background(), BookingRequest{Date: "2025-03-11", CustomerName: "Omar", PeopleCount: 6, RequestID: "req-7"})
	if !errors.Is(err, ErrIdempotencyKeyReused) {
		test.Fatalf("expected ErrIdempotencyKeyReused, got %v", err)
	}
	if store.count() != 1 {
		test.Fatalf("expected no second reservation, got %d", store.count())
	}
}

func TestRequestIDReusedAcrossGuestAndStaffIsRejected(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	request := BookingRequest{Date: "2025-03-10", CustomerName: "Omar", PeopleCount: 6, RequestID: "req-8"}
	guest := mustSubmit(test, service, request)

	_, err := service.AdminAddBooking(context.Background(), request)
	if !errors.Is(err, ErrIdempotencyKeyReused) {
		test.Fatalf("expected ErrIdempotencyKeyReused, got %v", err)
	}
	if store.count() != 1 {
		test.Fatalf("expected no second reservation, got %d", store.count())
	}
	replay := mustSubmit(test, service, request)
	if replay.ID != guest.ID || replay.Source != SourceGuest {
		test.Fatalf("expected guest replay of %s, got %+v", guest.ID, replay)
	}
}

type racingStore struct {
	*stubStore
	findCalls int
}

func (store *racingStore) FindByRequestID(ctx context.Context, requestID RequestID) (Reservation, error) {
	store.findCalls++
	if store.findCalls == 1 {
		return Reservation{}, ErrUnknownReservation
	}
	return store.stubStore.FindByRequestID(ctx, requestID)
}

func TestDuplicateRequestIDFromAnotherProcessReplays(test *testing.T) {
	test.Parallel()
	inner := newStubStore()
	service := mustNewService(test, inner)
	committed := mustSubmit(test, service, BookingRequest{Date: "2025-03-10", CustomerName: "Lina", PeopleCount: 4, RequestID: "req-race"})

	racing := &racingStore{stubStore: inner}
	racingService := mustNewService(test, racing)
	replayed, err := racingService.SubmitBooking(context.Background(), BookingRequest{Date: "2025-03-10", CustomerName: "Lina", PeopleCount: 4, RequestID: "req-race"})
	if err != nil {
		test.Fatalf("expected replay after duplicate key, got %v", err)
	}
	if replayed.ID != committed.ID {
		test.Fatalf("expected %s, got %s", committed.ID, replayed.ID)
	}
	if inner.count() != 1 {
		test.Fatalf("expected one reservation, got %d", inner.count())
	}
}

func TestAdmissionTimeoutReportsStoreUnavailable(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.blockUntilDone = true
	listener := &recorderListener{}
	service := mustNewService(test, store, WithAdmitTimeout(20*time.Millisecond), WithAdmissionListener(listener))

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Slow", 2))
	if !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected deadline cause to be kept, got %v", err)
	}
	if len(listener.admitted) != 0 {
		test.Fatalf("expected no admission notification")
	}
}

func TestAdmissionLockWaitHonoursTimeout(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	locker := NewLocalDateLocker()
	service := mustNewService(test, store, WithDateLocker(locker), WithAdmitTimeout(20*time.Millisecond))
	unlock, err := locker.Lock(context.Background(), mustDate(test, "2025-03-10"))
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	defer unlock()

	_, err = service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Blocked", 2))
	if !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable while the date is locked, got %v", err)
	}
	if store.count() != 0 {
		test.Fatalf("expected nothing committed")
	}
}

func TestStoreFailureIsNotSwallowed(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.failWith = MarkUnavailable(errors.New("connection refused"))
	service := mustNewService(test, store)

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Guest", 2))
	if !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStoreLevelCapacityGuardIsReported(test *testing.T) {
	test.Parallel()
	store := &staleOccupancyStore{stubStore: newStubStore()}
	store.enforceCapacity = true
	service := mustNewService(test, store)
	mustSubmit(test, service, guestRequest("2025-03-10", "Seen By Store Only", 200))

	_, err := service.SubmitBooking(context.Background(), guestRequest("2025-03-10", "Second", 100))
	expectCapacityError(test, err, 88)
}

// staleOccupancyStore always reports an empty date, as if another process had
// written after the read.
type staleOccupancyStore struct {
	*stubStore
}

func (store *staleOccupancyStore) Occupancy(context.Context, Date) (int, error) {
	return 0, nil
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	_, err := NewService(nil, time.Now)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	_, err = NewService(newStubStore(), nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}
