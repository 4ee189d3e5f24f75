package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Date is a calendar date without a time component. It is the capacity bucket key.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate parses an ISO calendar date (YYYY-MM-DD).
func NewDate(raw string) (Date, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Date{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	parsed, err := time.Parse(DateLayout, trimmed)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q is not %s", ErrInvalidDate, trimmed, DateLayout)
	}
	return DateOf(parsed), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{year: year, month: month, day: day}
}

// String formats the date as YYYY-MM-DD.
func (date Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", date.year, int(date.month), date.day)
}

// IsZero reports whether the date is unset.
func (date Date) IsZero() bool {
	return date.year == 0 && date.month == 0 && date.day == 0
}

// Time returns midnight UTC of the date.
func (date Date) Time() time.Time {
	return time.Date(date.year, date.month, date.day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether date is strictly earlier than other.
func (date Date) Before(other Date) bool {
	return date.Time().Before(other.Time())
}

// After reports whether date is strictly later than other.
func (date Date) After(other Date) bool {
	return date.Time().After(other.Time())
}

// DateRange is an inclusive span of dates.
type DateRange struct {
	start Date
	end   Date
}

// NewDateRange validates that start is not after end.
func NewDateRange(start Date, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, fmt.Errorf("%w: both bounds are required", ErrInvalidDateRange)
	}
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidDateRange, start, end)
	}
	return DateRange{start: start, end: end}, nil
}

// ParseDateRange parses both bounds and validates the range.
func ParseDateRange(rawStart string, rawEnd string) (DateRange, error) {
	start, err := NewDate(rawStart)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start: %w", ErrInvalidDateRange, err)
	}
	end, err := NewDate(rawEnd)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end: %w", ErrInvalidDateRange, err)
	}
	return NewDateRange(start, end)
}

// Start returns the first date of the range.
func (dateRange DateRange) Start() Date {
	return dateRange.start
}

// End returns the last date of the range.
func (dateRange DateRange) End() Date {
	return dateRange.end
}

// Contains reports whether date falls within the inclusive range.
func (dateRange DateRange) Contains(date Date) bool {
	return !date.Before(dateRange.start) && !date.After(dateRange.end)
}

// PartySize is a number of guests, 1..Capacity.
type PartySize int

// NewPartySize validates a people count.
func NewPartySize(raw int) (PartySize, error) {
	if raw < 1 {
		return 0, fmt.Errorf("%w: must be at least 1", ErrInvalidPartySize)
	}
	if raw > Capacity {
		return 0, fmt.Errorf("%w: must not exceed %d", ErrInvalidPartySize, Capacity)
	}
	return PartySize(raw), nil
}

// Int returns the raw count.
func (size PartySize) Int() int {
	return int(size)
}

// CustomerName is the non-empty name a booking is made under.
type CustomerName struct {
	value string
}

// NewCustomerName validates and normalizes a customer name.
func NewCustomerName(raw string) (CustomerName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerName{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerName)
	}
	if utf8.RuneCountInString(trimmed) > maxCustomerNameLength {
		return CustomerName{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidCustomerName, maxCustomerNameLength)
	}
	return CustomerName{value: trimmed}, nil
}

// String returns the normalized name.
func (name CustomerName) String() string {
	return name.value
}

// Phone is an optional contact number, stored as entered.
type Phone struct {
	value string
}

// NewPhone normalizes an optional phone number.
func NewPhone(raw string) (Phone, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxPhoneLength {
		return Phone{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidPhone, maxPhoneLength)
	}
	return Phone{value: trimmed}, nil
}

// String returns the normalized phone.
func (phone Phone) String() string {
	return phone.value
}

// Allergies holds optional free-form dietary notes.
type Allergies struct {
	value string
}

// NewAllergies normalizes optional allergy notes.
func NewAllergies(raw string) (Allergies, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxAllergiesLength {
		return Allergies{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidAllergies, maxAllergiesLength)
	}
	return Allergies{value: trimmed}, nil
}

// String returns the normalized notes.
func (allergies Allergies) String() string {
	return allergies.value
}

// ReservationID identifies a stored reservation.
type ReservationID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// RequestID is an optional client-generated idempotency key. The zero value means
// the request carries none.
type RequestID struct {
	value string
}

// NewRequestID normalizes an optional request id. Blank input yields the zero value.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxRequestIDLength {
		return RequestID{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidRequestID, maxRequestIDLength)
	}
	return RequestID{value: trimmed}, nil
}

// IsSet reports whether a request id was supplied.
func (id RequestID) IsSet() bool {
	return id.value != ""
}

// String returns the normalized key.
func (id RequestID) String() string {
	return id.value
}

// Source records which path admitted a reservation.
type Source string

const (
	SourceGuest Source = "guest"
	SourceStaff Source = "staff"
)

// ParseSource validates a stored source value.
func ParseSource(raw string) (Source, error) {
	switch Source(strings.TrimSpace(raw)) {
	case SourceGuest:
		return SourceGuest, nil
	case SourceStaff:
		return SourceStaff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// String returns the source name.
func (source Source) String() string {
	return string(source)
}

// SearchQuery is a non-empty case-insensitive needle matched against name and phone.
type SearchQuery struct {
	value string
}

// NewSearchQuery validates and normalizes a search query.
func NewSearchQuery(raw string) (SearchQuery, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SearchQuery{}, fmt.Errorf("%w: empty value", ErrInvalidSearchQuery)
	}
	if utf8.RuneCountInString(trimmed) > maxSearchQueryLength {
		return SearchQuery{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidSearchQuery, maxSearchQueryLength)
	}
	return SearchQuery{value: trimmed}, nil
}

// String returns the normalized query.
func (query SearchQuery) String() string {
	return query.value
}

// Matches reports whether the reservation's name or phone contains the query,
// ignoring case.
func (query SearchQuery) Matches(reservation Reservation) bool {
	needle := strings.ToLower(query.value)
	return strings.Contains(strings.ToLower(reservation.CustomerName.String()), needle) ||
		strings.Contains(strings.ToLower(reservation.Phone.String()), needle)
}

// BookingRequest is the raw input of a guest or staff booking.
type BookingRequest struct {
	Date         string
	CustomerName string
	PeopleCount  int
	Phone        string
	Allergies    string
	RequestID    string
}

// ReservationDraft is a validated reservation not yet stored.
type ReservationDraft struct {
	Date         Date
	CustomerName CustomerName
	PartySize    PartySize
	Phone        Phone
	Allergies    Allergies
	RequestID    RequestID
	Source       Source
}

// Reservation is a stored booking.
type Reservation struct {
	ID           ReservationID
	Date         Date
	CustomerName CustomerName
	PartySize    PartySize
	Phone        Phone
	Allergies    Allergies
	RequestID    RequestID
	Source       Source
	CreatedAt    time.Time
}

// Availability is the occupancy view of one date.
type Availability struct {
	Date      Date
	Occupancy int
	Remaining int
	Full      bool
}

// Store is the persistence contract used by Service.
type Store interface {
	// InsertWithinCapacity stores the draft only if the date's occupancy stays
	// within capacity, as one atomic step. It returns a *CapacityError otherwise.
	InsertWithinCapacity(ctx context.Context, draft ReservationDraft, capacity int) (Reservation, error)
	FindByRequestID(ctx context.Context, requestID RequestID) (Reservation, error)
	Occupancy(ctx context.Context, date Date) (int, error)
	ListFullDates(ctx context.Context, capacity int) ([]Date, error)
	ListByDate(ctx context.Context, date Date) ([]Reservation, error)
	Search(ctx context.Context, query SearchQuery) ([]Reservation, error)
	ListInRange(ctx context.Context, dateRange DateRange) ([]Reservation, error)
}
