package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/Crotoconlaptop/bqt-booking/internal/store/migrations"
	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const envTestDatabaseURL = "BQT_TEST_DATABASE_URL"

func TestEscapeLike(test *testing.T) {
	test.Parallel()
	cases := map[string]string{
		"plain": "plain",
		"100%":  "100!%",
		"a_b":   "a!_b",
		"wow!":  "wow!!",
		"!%_":   "!!!%!_",
		"":      "",
	}
	for input, want := range cases {
		if got := escapeLike(input); got != want {
			test.Fatalf("escapeLike(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestIsRequestIDConflict(test *testing.T) {
	test.Parallel()
	requestConflict := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintRequestID}
	if !isRequestIDConflict(fmt.Errorf("insert: %w", requestConflict)) {
		test.Fatalf("expected wrapped request id violation to be detected")
	}
	otherConstraint := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "reservations_pkey"}
	if isRequestIDConflict(otherConstraint) {
		test.Fatalf("expected other constraints to be ignored")
	}
	if isRequestIDConflict(errors.New("boom")) || isRequestIDConflict(nil) {
		test.Fatalf("expected plain errors to be ignored")
	}
}

func TestClassifySeparatesCorruptRowsFromOutages(test *testing.T) {
	test.Parallel()
	if err := classify(errorSubjectReservation, errorCodeList, booking.ErrInvalidSource); errors.Is(err, booking.ErrStoreUnavailable) {
		test.Fatalf("expected invalid rows not to be retryable, got %v", err)
	}
	if err := classify(errorSubjectReservation, errorCodeList, errors.New("conn reset")); !errors.Is(err, booking.ErrStoreUnavailable) {
		test.Fatalf("expected outage to be retryable, got %v", err)
	}
}

// TestStoreAgainstPostgres runs only when a disposable database is configured.
func TestStoreAgainstPostgres(test *testing.T) {
	databaseURL := os.Getenv(envTestDatabaseURL)
	if databaseURL == "" {
		test.Skipf("%s not set", envTestDatabaseURL)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrations.Up(ctx, db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, "truncate reservations, booking_dates"); err != nil {
		test.Fatalf("truncate: %v", err)
	}

	store := New(pool)
	date, _ := booking.NewDate("2030-01-15")
	name, _ := booking.NewCustomerName("Integration")
	size, _ := booking.NewPartySize(200)
	requestID, _ := booking.NewRequestID("pg-req-1")
	draft := booking.ReservationDraft{Date: date, CustomerName: name, PartySize: size, RequestID: requestID, Source: booking.SourceStaff}

	inserted, err := store.InsertWithinCapacity(ctx, draft, booking.Capacity)
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	if _, err := store.InsertWithinCapacity(ctx, draft, booking.Capacity); !errors.Is(err, booking.ErrDuplicateIdempotencyKey) && !errors.Is(err, booking.ErrCapacityExceeded) {
		test.Fatalf("expected duplicate or capacity rejection, got %v", err)
	}
	found, err := store.FindByRequestID(ctx, requestID)
	if err != nil || found.ID != inserted.ID {
		test.Fatalf("find: %+v %v", found, err)
	}

	second := draft
	second.RequestID = booking.RequestID{}
	second.PartySize, _ = booking.NewPartySize(100)
	_, err = store.InsertWithinCapacity(ctx, second, booking.Capacity)
	var capacityError *booking.CapacityError
	if !errors.As(err, &capacityError) || capacityError.Remaining != 88 {
		test.Fatalf("expected capacity error with 88 remaining, got %v", err)
	}
	occupancy, err := store.Occupancy(ctx, date)
	if err != nil || occupancy != 200 {
		test.Fatalf("expected occupancy 200, got %d %v", occupancy, err)
	}
}
