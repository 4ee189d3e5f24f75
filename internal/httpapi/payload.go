package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidPayload       = "invalid_payload"
	CodeInvalidDate          = "invalid_date"
	CodePastDate             = "past_date"
	CodeInvalidDateRange     = "invalid_date_range"
	CodeInvalidCustomerName  = "invalid_customer_name"
	CodeInvalidPeopleCount   = "invalid_people_count"
	CodeInvalidPhone         = "invalid_phone"
	CodeInvalidAllergies     = "invalid_allergies"
	CodeInvalidSearchQuery   = "invalid_search_query"
	CodeInvalidRequestID     = "invalid_request_id"
	CodeInvalidRequest       = "invalid_request"
	CodeIdempotencyKeyReused = "idempotency_key_reused"
	CodeCapacityExceeded     = "capacity_exceeded"
	CodeNotFound             = "not_found"
	CodeStoreUnavailable     = "store_unavailable"
	CodeInternal             = "internal_error"

	// HeaderIdempotencyKey carries the client request id.
	HeaderIdempotencyKey = "Idempotency-Key"
)

var validationCodes = []struct {
	code string
	err  error
}{
	{code: CodeIdempotencyKeyReused, err: booking.ErrIdempotencyKeyReused},
	{code: CodePastDate, err: booking.ErrPastDate},
	{code: CodeInvalidDateRange, err: booking.ErrInvalidDateRange},
	{code: CodeInvalidDate, err: booking.ErrInvalidDate},
	{code: CodeInvalidCustomerName, err: booking.ErrInvalidCustomerName},
	{code: CodeInvalidPeopleCount, err: booking.ErrInvalidPartySize},
	{code: CodeInvalidPhone, err: booking.ErrInvalidPhone},
	{code: CodeInvalidAllergies, err: booking.ErrInvalidAllergies},
	{code: CodeInvalidSearchQuery, err: booking.ErrInvalidSearchQuery},
	{code: CodeInvalidRequestID, err: booking.ErrInvalidRequestID},
}

// BookingPayload is the body of a booking submission.
type BookingPayload struct {
	Date         string `json:"date"`
	CustomerName string `json:"customer_name"`
	PeopleCount  int    `json:"people_count"`
	Phone        string `json:"phone,omitempty"`
	Allergies    string `json:"allergies,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// ReservationPayload is the wire form of a stored reservation.
type ReservationPayload struct {
	ID           string    `json:"id"`
	Date         string    `json:"date"`
	CustomerName string    `json:"customer_name"`
	PeopleCount  int       `json:"people_count"`
	Phone        string    `json:"phone"`
	Allergies    string    `json:"allergies"`
	RequestID    string    `json:"request_id,omitempty"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReservationEnvelope wraps a single reservation response.
type ReservationEnvelope struct {
	Reservation ReservationPayload `json:"reservation"`
}

// ReservationListEnvelope wraps a reservation list response.
type ReservationListEnvelope struct {
	Reservations []ReservationPayload `json:"reservations"`
}

// AvailabilityPayload is the occupancy view of one date.
type AvailabilityPayload struct {
	Date      string `json:"date"`
	Occupancy int    `json:"occupancy"`
	Remaining int    `json:"remaining"`
	Capacity  int    `json:"capacity"`
	Full      bool   `json:"full"`
}

// FullDatesPayload lists fully booked dates.
type FullDatesPayload struct {
	Dates []string `json:"dates"`
}

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload describes a failure. Remaining and Date are set for capacity errors.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Remaining *int   `json:"remaining,omitempty"`
	Date      string `json:"date,omitempty"`
}

// NewReservationPayload converts a reservation to its wire form.
func NewReservationPayload(reservation booking.Reservation) ReservationPayload {
	return ReservationPayload{
		ID:           reservation.ID.String(),
		Date:         reservation.Date.String(),
		CustomerName: reservation.CustomerName.String(),
		PeopleCount:  reservation.PartySize.Int(),
		Phone:        reservation.Phone.String(),
		Allergies:    reservation.Allergies.String(),
		RequestID:    reservation.RequestID.String(),
		Source:       reservation.Source.String(),
		CreatedAt:    reservation.CreatedAt.UTC(),
	}
}

// NewReservationPayloads converts a list, never returning nil.
func NewReservationPayloads(reservations []booking.Reservation) []ReservationPayload {
	payloads := make([]ReservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, NewReservationPayload(reservation))
	}
	return payloads
}

// Reservation parses the wire form back into a domain reservation.
func (payload ReservationPayload) Reservation() (booking.Reservation, error) {
	id, err := booking.NewReservationID(payload.ID)
	if err != nil {
		return booking.Reservation{}, err
	}
	date, err := booking.NewDate(payload.Date)
	if err != nil {
		return booking.Reservation{}, err
	}
	name, err := booking.NewCustomerName(payload.CustomerName)
	if err != nil {
		return booking.Reservation{}, err
	}
	partySize, err := booking.NewPartySize(payload.PeopleCount)
	if err != nil {
		return booking.Reservation{}, err
	}
	phone, err := booking.NewPhone(payload.Phone)
	if err != nil {
		return booking.Reservation{}, err
	}
	allergies, err := booking.NewAllergies(payload.Allergies)
	if err != nil {
		return booking.Reservation{}, err
	}
	requestID, err := booking.NewRequestID(payload.RequestID)
	if err != nil {
		return booking.Reservation{}, err
	}
	source, err := booking.ParseSource(payload.Source)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:           id,
		Date:         date,
		CustomerName: name,
		PartySize:    partySize,
		Phone:        phone,
		Allergies:    allergies,
		RequestID:    requestID,
		Source:       source,
		CreatedAt:    payload.CreatedAt.UTC(),
	}, nil
}

// NewAvailabilityPayload converts an availability view to its wire form.
func NewAvailabilityPayload(availability booking.Availability) AvailabilityPayload {
	return AvailabilityPayload{
		Date:      availability.Date.String(),
		Occupancy: availability.Occupancy,
		Remaining: availability.Remaining,
		Capacity:  booking.Capacity,
		Full:      availability.Full,
	}
}

// ErrorFor rebuilds a domain error from an error envelope, so that remote
// callers can use errors.Is against the booking sentinels.
func ErrorFor(payload ErrorPayload) error {
	switch payload.Code {
	case CodeCapacityExceeded:
		date, _ := booking.NewDate(payload.Date)
		remaining := 0
		if payload.Remaining != nil {
			remaining = *payload.Remaining
		}
		return booking.NewCapacityError(date, 0, booking.Capacity-remaining)
	case CodeNotFound:
		return fmt.Errorf("%w: %s", booking.ErrUnknownReservation, payload.Message)
	case CodeStoreUnavailable:
		return booking.MarkUnavailable(errors.New(payload.Message))
	case CodeInvalidPayload, CodeInvalidRequest:
		return fmt.Errorf("%w: %s", booking.ErrValidation, payload.Message)
	}
	for _, entry := range validationCodes {
		if entry.code == payload.Code {
			return fmt.Errorf("%w: %s", entry.err, payload.Message)
		}
	}
	return fmt.Errorf("%s: %s", payload.Code, payload.Message)
}

// ValidationCode returns the envelope code of a validation error.
func ValidationCode(err error) string {
	for _, entry := range validationCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInvalidRequest
}
