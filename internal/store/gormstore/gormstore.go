package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintRequestID        = "uniq_reservations_request_id"
	pgUniqueViolationCode      = "23505"
	mysqlDuplicateEntryCode    = 1062
	sqliteConstraintCode       = 19
	likeEscape                 = "!"
	sqliteDialect              = "sqlite"
	sqliteLowerFunction        = "bqt_lower"
	sqlLowerFunction           = "lower"
	errorOperationStore        = "store"
	errorSubjectBookingDate    = "booking_date"
	errorSubjectOccupancy      = "occupancy"
	errorSubjectReservation    = "reservation"
	errorSubjectTransaction    = "transaction"
	errorCodeCommit            = "commit"
	errorCodeDuplicate         = "duplicate"
	errorCodeEnsure            = "ensure"
	errorCodeGet               = "get"
	errorCodeIncrement         = "increment"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeListFull          = "list_full"
	errorCodeLookup            = "lookup"
	errorCodeSearch            = "search"
	errorCodeSum               = "sum"
	orderReservationsByDate    = "booking_date asc, created_at asc, reservation_id asc"
	orderReservationsByCreated = "created_at asc, reservation_id asc"
)

// SQLite's built-in lower() folds ASCII only.
func init() {
	gosqlite.MustRegisterDeterministicScalarFunction(sqliteLowerFunction, 1, foldCase)
}

func foldCase(_ *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch value := args[0].(type) {
	case string:
		return strings.ToLower(value), nil
	case []byte:
		return strings.ToLower(string(value)), nil
	default:
		return value, nil
	}
}

// Store implements booking.Store using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock that stamps created_at.
func WithClock(now func() time.Time) Option {
	return func(store *Store) {
		if now != nil {
			store.now = now
		}
	}
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{db: db, now: time.Now}
	for _, option := range options {
		option(store)
	}
	return store
}

// AutoMigrate creates the booking tables. Used for SQLite and tests; PostgreSQL
// deployments run the goose migrations instead.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&BookingDate{}, &Reservation{})
}

// InsertWithinCapacity bumps the date's running occupancy only when the party
// still fits, then inserts the reservation, in one transaction.
func (store *Store) InsertWithinCapacity(ctx context.Context, draft booking.ReservationDraft, capacity int) (booking.Reservation, error) {
	day := datatypes.Date(draft.Date.Time())
	people := draft.PartySize.Int()
	model := Reservation{
		BookingDate:  day,
		CustomerName: draft.CustomerName.String(),
		PeopleCount:  people,
		Phone:        draft.Phone.String(),
		Allergies:    draft.Allergies.String(),
		RequestID:    optionalString(draft.RequestID.String()),
		Source:       draft.Source.String(),
		CreatedAt:    store.now().UTC(),
	}

	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var current sqlSum
		err := transaction.Model(&Reservation{}).
			Select("coalesce(sum(people_count),0) as total").
			Where("booking_date = ?", day).
			Scan(&current).Error
		if err != nil {
			return wrapUnavailable(errorSubjectOccupancy, errorCodeSum, err)
		}
		counter := BookingDate{BookingDate: day, Occupancy: int(current.Total)}
		err = transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error
		if err != nil {
			return wrapUnavailable(errorSubjectBookingDate, errorCodeEnsure, err)
		}

		result := transaction.Model(&BookingDate{}).
			Where("booking_date = ? AND occupancy + ? <= ?", day, people, capacity).
			UpdateColumn("occupancy", gorm.Expr("occupancy + ?", people))
		if result.Error != nil {
			return wrapUnavailable(errorSubjectBookingDate, errorCodeIncrement, result.Error)
		}
		if result.RowsAffected == 0 {
			var seen BookingDate
			if err := transaction.Where("booking_date = ?", day).Take(&seen).Error; err != nil {
				return wrapUnavailable(errorSubjectBookingDate, errorCodeGet, err)
			}
			return booking.NewCapacityError(draft.Date, draft.PartySize, seen.Occupancy)
		}

		err = transaction.Create(&model).Error
		if isRequestIDConflict(err) {
			return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, booking.ErrDuplicateIdempotencyKey)
		}
		if err != nil {
			return wrapUnavailable(errorSubjectReservation, errorCodeInsert, err)
		}
		return nil
	})
	if err != nil {
		var operationError booking.OperationError
		if errors.Is(err, booking.ErrCapacityExceeded) || errors.As(err, &operationError) {
			return booking.Reservation{}, err
		}
		return booking.Reservation{}, wrapUnavailable(errorSubjectTransaction, errorCodeCommit, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) FindByRequestID(ctx context.Context, requestID booking.RequestID) (booking.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Where("request_id = ?", requestID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeLookup, booking.ErrUnknownReservation)
		}
		return booking.Reservation{}, wrapUnavailable(errorSubjectReservation, errorCodeLookup, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) Occupancy(ctx context.Context, date booking.Date) (int, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Select("coalesce(sum(people_count),0) as total").
		Where("booking_date = ?", datatypes.Date(date.Time())).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapUnavailable(errorSubjectOccupancy, errorCodeSum, err)
	}
	return int(sum.Total), nil
}

func (store *Store) ListFullDates(ctx context.Context, capacity int) ([]booking.Date, error) {
	var rows []dateRow
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Select("booking_date").
		Group("booking_date").
		Having("sum(people_count) >= ?", capacity).
		Order("booking_date asc").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapUnavailable(errorSubjectOccupancy, errorCodeListFull, err)
	}
	dates := make([]booking.Date, 0, len(rows))
	for _, row := range rows {
		dates = append(dates, booking.DateOf(time.Time(row.BookingDate).UTC()))
	}
	return dates, nil
}

func (store *Store) ListByDate(ctx context.Context, date booking.Date) ([]booking.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("booking_date = ?", datatypes.Date(date.Time())).
		Order(orderReservationsByCreated).
		Find(&rows).Error
	if err != nil {
		return nil, wrapUnavailable(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) Search(ctx context.Context, query booking.SearchQuery) ([]booking.Reservation, error) {
	pattern := "%" + escapeLike(strings.ToLower(query.String())) + "%"
	lower := store.lowerFunction()
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where(lower+"(customer_name) like ? escape '"+likeEscape+"' or "+lower+"(phone) like ? escape '"+likeEscape+"'", pattern, pattern).
		Order(orderReservationsByDate).
		Find(&rows).Error
	if err != nil {
		return nil, wrapUnavailable(errorSubjectReservation, errorCodeSearch, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListInRange(ctx context.Context, dateRange booking.DateRange) ([]booking.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("booking_date >= ? AND booking_date <= ?", datatypes.Date(dateRange.Start().Time()), datatypes.Date(dateRange.End().Time())).
		Order(orderReservationsByDate).
		Find(&rows).Error
	if err != nil {
		return nil, wrapUnavailable(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func wrapUnavailable(subject string, code string, err error) error {
	return wrapStoreError(subject, code, booking.MarkUnavailable(err))
}

type sqlSum struct {
	Total int64
}

type dateRow struct {
	BookingDate datatypes.Date
}

func mapReservations(rows []Reservation) ([]booking.Reservation, error) {
	reservations := make([]booking.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func mapReservation(row Reservation) (booking.Reservation, error) {
	reservationID, err := booking.NewReservationID(row.ReservationID)
	if err != nil {
		return booking.Reservation{}, err
	}
	name, err := booking.NewCustomerName(row.CustomerName)
	if err != nil {
		return booking.Reservation{}, err
	}
	partySize, err := booking.NewPartySize(row.PeopleCount)
	if err != nil {
		return booking.Reservation{}, err
	}
	phone, err := booking.NewPhone(row.Phone)
	if err != nil {
		return booking.Reservation{}, err
	}
	allergies, err := booking.NewAllergies(row.Allergies)
	if err != nil {
		return booking.Reservation{}, err
	}
	requestID := booking.RequestID{}
	if row.RequestID != nil {
		requestID, err = booking.NewRequestID(*row.RequestID)
		if err != nil {
			return booking.Reservation{}, err
		}
	}
	source, err := booking.ParseSource(row.Source)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:           reservationID,
		Date:         booking.DateOf(time.Time(row.BookingDate).UTC()),
		CustomerName: name,
		PartySize:    partySize,
		Phone:        phone,
		Allergies:    allergies,
		RequestID:    requestID,
		Source:       source,
		CreatedAt:    row.CreatedAt.UTC(),
	}, nil
}

func (store *Store) lowerFunction() string {
	if store.db.Dialector != nil && store.db.Dialector.Name() == sqliteDialect {
		return sqliteLowerFunction
	}
	return sqlLowerFunction
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return replacer.Replace(value)
}

func isRequestIDConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintRequestID
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
