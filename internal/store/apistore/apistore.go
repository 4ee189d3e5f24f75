// Package apistore implements booking.Store against a remote bqt-booking HTTP
// API, for front ends that must not reach the database directly.
package apistore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/internal/httpapi"
	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
)

const (
	errorOperationStore     = "apistore"
	errorSubjectOccupancy   = "occupancy"
	errorSubjectReservation = "reservation"
	errorCodeDecode         = "decode"
	errorCodeRequest        = "request"
	errorCodeResponse       = "response"
	errorCodeInvalid        = "invalid"

	pathOccupancy        = "/api/occupancy"
	pathFullDates        = "/api/full-dates"
	pathGuestBookings    = "/api/bookings"
	pathAdminBookings    = "/api/admin/bookings"
	pathBookingByRequest = "/api/admin/bookings/request/"
	pathExport           = "/api/admin/export"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 8 << 20
)

// Store is a booking.Store backed by a remote HTTP API.
type Store struct {
	baseURL *url.URL
	client  *http.Client
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(store *Store) {
		if client != nil {
			store.client = client
		}
	}
}

// New parses baseURL and returns a Store.
func New(baseURL string, options ...Option) (*Store, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must use http or https", baseURL)
	}
	store := &Store{baseURL: parsed, client: &http.Client{Timeout: defaultTimeout}}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

// InsertWithinCapacity submits the draft through the guest or staff route
// matching its source. The remote service enforces capacity atomically.
func (store *Store) InsertWithinCapacity(ctx context.Context, draft booking.ReservationDraft, capacity int) (booking.Reservation, error) {
	path := pathGuestBookings
	if draft.Source == booking.SourceStaff {
		path = pathAdminBookings
	}
	body := httpapi.BookingPayload{
		Date:         draft.Date.String(),
		CustomerName: draft.CustomerName.String(),
		PeopleCount:  draft.PartySize.Int(),
		Phone:        draft.Phone.String(),
		Allergies:    draft.Allergies.String(),
		RequestID:    draft.RequestID.String(),
	}
	var envelope httpapi.ReservationEnvelope
	err := store.do(ctx, http.MethodPost, path, nil, body, &envelope)
	var capacityError *booking.CapacityError
	if errors.As(err, &capacityError) {
		return booking.Reservation{}, booking.NewCapacityError(draft.Date, draft.PartySize, capacityError.Occupancy)
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeRequest, err)
	}
	return parseReservation(envelope.Reservation)
}

func (store *Store) FindByRequestID(ctx context.Context, requestID booking.RequestID) (booking.Reservation, error) {
	var envelope httpapi.ReservationEnvelope
	err := store.do(ctx, http.MethodGet, pathBookingByRequest+url.PathEscape(requestID.String()), nil, nil, &envelope)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeRequest, err)
	}
	return parseReservation(envelope.Reservation)
}

func (store *Store) Occupancy(ctx context.Context, date booking.Date) (int, error) {
	var payload httpapi.AvailabilityPayload
	err := store.do(ctx, http.MethodGet, pathOccupancy, url.Values{"date": {date.String()}}, nil, &payload)
	if err != nil {
		return 0, wrapStoreError(errorSubjectOccupancy, errorCodeRequest, err)
	}
	return payload.Occupancy, nil
}

// ListFullDates returns the remote service's full dates; capacity is fixed there.
func (store *Store) ListFullDates(ctx context.Context, _ int) ([]booking.Date, error) {
	var payload httpapi.FullDatesPayload
	if err := store.do(ctx, http.MethodGet, pathFullDates, nil, nil, &payload); err != nil {
		return nil, wrapStoreError(errorSubjectOccupancy, errorCodeRequest, err)
	}
	dates := make([]booking.Date, 0, len(payload.Dates))
	for _, raw := range payload.Dates {
		date, err := booking.NewDate(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeInvalid, err)
		}
		dates = append(dates, date)
	}
	return dates, nil
}

func (store *Store) ListByDate(ctx context.Context, date booking.Date) ([]booking.Reservation, error) {
	return store.list(ctx, pathAdminBookings, url.Values{"date": {date.String()}})
}

func (store *Store) Search(ctx context.Context, query booking.SearchQuery) ([]booking.Reservation, error) {
	return store.list(ctx, pathAdminBookings, url.Values{"q": {query.String()}})
}

func (store *Store) ListInRange(ctx context.Context, dateRange booking.DateRange) ([]booking.Reservation, error) {
	return store.list(ctx, pathExport, url.Values{
		"start": {dateRange.Start().String()},
		"end":   {dateRange.End().String()},
	})
}

func (store *Store) list(ctx context.Context, path string, query url.Values) ([]booking.Reservation, error) {
	var envelope httpapi.ReservationListEnvelope
	if err := store.do(ctx, http.MethodGet, path, query, nil, &envelope); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeRequest, err)
	}
	reservations := make([]booking.Reservation, 0, len(envelope.Reservations))
	for _, payload := range envelope.Reservations {
		reservation, err := parseReservation(payload)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

// do sends one request and decodes a 2xx body into out. Error envelopes become
// booking errors; transport failures and 5xx become ErrStoreUnavailable.
func (store *Store) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	// path arrives escaped so segments such as request ids keep their '%'.
	target := *store.baseURL
	escaped := store.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	target.Path = unescaped
	target.RawPath = escaped
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := store.client.Do(request)
	if err != nil {
		return booking.MarkUnavailable(err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return booking.MarkUnavailable(err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return booking.WrapError(errorOperationStore, errorSubjectReservation, errorCodeDecode, err)
		}
		return nil
	}

	var envelope httpapi.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		remoteErr := fmt.Errorf("%s %s: status %d", method, path, response.StatusCode)
		if response.StatusCode >= http.StatusInternalServerError {
			return booking.MarkUnavailable(remoteErr)
		}
		return booking.WrapError(errorOperationStore, errorSubjectReservation, errorCodeResponse, remoteErr)
	}
	remoteErr := httpapi.ErrorFor(envelope.Error)
	if response.StatusCode >= http.StatusInternalServerError {
		return booking.MarkUnavailable(remoteErr)
	}
	return remoteErr
}

func parseReservation(payload httpapi.ReservationPayload) (booking.Reservation, error) {
	reservation, err := payload.Reservation()
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}
