package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintRequestID     = "uniq_reservations_request_id"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectBookingDate = "booking_date"
	errorSubjectOccupancy   = "occupancy"
	errorSubjectReservation = "reservation"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
	errorCodeIncrement      = "increment"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeListFull       = "list_full"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeSearch         = "search"
	errorCodeSum            = "sum"

	sqlEnsureBookingDate = `
		insert into booking_dates(booking_date, occupancy)
		select $1::date, coalesce(sum(people_count),0) from reservations where booking_date = $1::date
		on conflict (booking_date) do nothing
	`

	sqlLockBookingDate = `
		select occupancy from booking_dates where booking_date = $1 for update
	`

	sqlIncrementOccupancy = `
		update booking_dates set occupancy = occupancy + $2
		where booking_date = $1 and occupancy + $2 <= $3
	`

	sqlInsertReservation = `
		insert into reservations(
			booking_date, customer_name, people_count, phone, allergies, request_id, source, created_at
		)
		values($1, $2, $3, $4, $5, nullif($6,''), $7, $8)
		returning reservation_id::text
	`

	reservationColumns = `
		reservation_id::text, booking_date, customer_name, people_count,
		phone, allergies, coalesce(request_id,''), source, created_at
	`

	sqlSelectByRequestID = `select ` + reservationColumns + ` from reservations where request_id = $1`

	sqlSumOccupancy = `
		select coalesce(sum(people_count),0) from reservations where booking_date = $1
	`

	sqlListFullDates = `
		select booking_date from reservations
		group by booking_date
		having sum(people_count) >= $1
		order by booking_date asc
	`

	sqlListByDate = `select ` + reservationColumns + `
		from reservations
		where booking_date = $1
		order by created_at asc, reservation_id asc
	`

	sqlSearch = `select ` + reservationColumns + `
		from reservations
		where lower(customer_name) like $1 escape '!' or lower(phone) like $1 escape '!'
		order by booking_date asc, created_at asc, reservation_id asc
	`

	sqlListInRange = `select ` + reservationColumns + `
		from reservations
		where booking_date between $1 and $2
		order by booking_date asc, created_at asc, reservation_id asc
	`
)

// Store implements booking.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// InsertWithinCapacity locks the date's counter row, bumps it when the party
// fits and inserts the reservation before committing.
func (store *Store) InsertWithinCapacity(ctx context.Context, draft booking.ReservationDraft, capacity int) (booking.Reservation, error) {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectTransaction, errorCodeBegin, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	day := draft.Date.Time()
	people := draft.PartySize.Int()
	if _, err := tx.Exec(ctx, sqlEnsureBookingDate, day); err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectBookingDate, errorCodeEnsure, err)
	}
	var occupancy int
	if err := tx.QueryRow(ctx, sqlLockBookingDate, day).Scan(&occupancy); err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectBookingDate, errorCodeLock, err)
	}
	tag, err := tx.Exec(ctx, sqlIncrementOccupancy, day, people, capacity)
	if err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectBookingDate, errorCodeIncrement, err)
	}
	if tag.RowsAffected() == 0 {
		return booking.Reservation{}, booking.NewCapacityError(draft.Date, draft.PartySize, occupancy)
	}

	createdAt := store.now().UTC()
	var reservationID string
	err = tx.QueryRow(ctx, sqlInsertReservation,
		day,
		draft.CustomerName.String(),
		people,
		draft.Phone.String(),
		draft.Allergies.String(),
		draft.RequestID.String(),
		draft.Source.String(),
		createdAt,
	).Scan(&reservationID)
	if isRequestIDConflict(err) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeDuplicate, booking.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectReservation, errorCodeInsert, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return booking.Reservation{}, wrapUnavailable(errorSubjectTransaction, errorCodeCommit, err)
	}

	id, err := booking.NewReservationID(reservationID)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return booking.Reservation{
		ID:           id,
		Date:         draft.Date,
		CustomerName: draft.CustomerName,
		PartySize:    draft.PartySize,
		Phone:        draft.Phone,
		Allergies:    draft.Allergies,
		RequestID:    draft.RequestID,
		Source:       draft.Source,
		CreatedAt:    createdAt,
	}, nil
}

func (store *Store) FindByRequestID(ctx context.Context, requestID booking.RequestID) (booking.Reservation, error) {
	reservation, err := scanReservation(store.pool.QueryRow(ctx, sqlSelectByRequestID, requestID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeLookup, booking.ErrUnknownReservation)
	}
	if err != nil {
		return booking.Reservation{}, classify(errorSubjectReservation, errorCodeLookup, err)
	}
	return reservation, nil
}

func (store *Store) Occupancy(ctx context.Context, date booking.Date) (int, error) {
	var sum int64
	if err := store.pool.QueryRow(ctx, sqlSumOccupancy, date.Time()).Scan(&sum); err != nil {
		return 0, wrapUnavailable(errorSubjectOccupancy, errorCodeSum, err)
	}
	return int(sum), nil
}

func (store *Store) ListFullDates(ctx context.Context, capacity int) ([]booking.Date, error) {
	rows, err := store.pool.Query(ctx, sqlListFullDates, capacity)
	if err != nil {
		return nil, wrapUnavailable(errorSubjectOccupancy, errorCodeListFull, err)
	}
	defer rows.Close()
	dates := make([]booking.Date, 0)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, wrapUnavailable(errorSubjectOccupancy, errorCodeListFull, err)
		}
		dates = append(dates, booking.DateOf(day.UTC()))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(errorSubjectOccupancy, errorCodeListFull, err)
	}
	return dates, nil
}

func (store *Store) ListByDate(ctx context.Context, date booking.Date) ([]booking.Reservation, error) {
	return store.queryReservations(ctx, errorCodeList, sqlListByDate, date.Time())
}

func (store *Store) Search(ctx context.Context, query booking.SearchQuery) ([]booking.Reservation, error) {
	pattern := "%" + escapeLike(strings.ToLower(query.String())) + "%"
	return store.queryReservations(ctx, errorCodeSearch, sqlSearch, pattern)
}

func (store *Store) ListInRange(ctx context.Context, dateRange booking.DateRange) ([]booking.Reservation, error) {
	return store.queryReservations(ctx, errorCodeList, sqlListInRange, dateRange.Start().Time(), dateRange.End().Time())
}

func (store *Store) queryReservations(ctx context.Context, code string, query string, args ...any) ([]booking.Reservation, error) {
	rows, err := store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable(errorSubjectReservation, code, err)
	}
	defer rows.Close()
	reservations := make([]booking.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, classify(errorSubjectReservation, code, err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(errorSubjectReservation, code, err)
	}
	return reservations, nil
}

func scanReservation(row pgx.Row) (booking.Reservation, error) {
	var (
		reservationID string
		day           time.Time
		customerName  string
		peopleCount   int
		phone         string
		allergies     string
		requestID     string
		source        string
		createdAt     time.Time
	)
	if err := row.Scan(&reservationID, &day, &customerName, &peopleCount, &phone, &allergies, &requestID, &source, &createdAt); err != nil {
		return booking.Reservation{}, err
	}
	id, err := booking.NewReservationID(reservationID)
	if err != nil {
		return booking.Reservation{}, err
	}
	name, err := booking.NewCustomerName(customerName)
	if err != nil {
		return booking.Reservation{}, err
	}
	partySize, err := booking.NewPartySize(peopleCount)
	if err != nil {
		return booking.Reservation{}, err
	}
	parsedPhone, err := booking.NewPhone(phone)
	if err != nil {
		return booking.Reservation{}, err
	}
	parsedAllergies, err := booking.NewAllergies(allergies)
	if err != nil {
		return booking.Reservation{}, err
	}
	parsedRequestID, err := booking.NewRequestID(requestID)
	if err != nil {
		return booking.Reservation{}, err
	}
	parsedSource, err := booking.ParseSource(source)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:           id,
		Date:         booking.DateOf(day.UTC()),
		CustomerName: name,
		PartySize:    partySize,
		Phone:        parsedPhone,
		Allergies:    parsedAllergies,
		RequestID:    parsedRequestID,
		Source:       parsedSource,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

// classify keeps row-mapping failures distinct from connectivity failures.
func classify(subject string, code string, err error) error {
	if errors.Is(err, booking.ErrValidation) {
		return wrapStoreError(subject, errorCodeInvalid, err)
	}
	return wrapUnavailable(subject, code, err)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func wrapUnavailable(subject string, code string, err error) error {
	return wrapStoreError(subject, code, booking.MarkUnavailable(err))
}

func escapeLike(value string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(value)
}

func isRequestIDConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintRequestID
	}
	return false
}
