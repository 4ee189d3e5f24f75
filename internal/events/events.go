// Package events publishes committed reservations to a message broker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"go.uber.org/zap"
)

const (
	// EventReservationAdmitted is the type of every published event.
	EventReservationAdmitted = "reservation.admitted"

	defaultPublishTimeout = 3 * time.Second
)

// Publisher delivers one encoded event. key groups events of the same date.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, key string) error
}

// ReservationAdmittedEvent is the broker message body.
type ReservationAdmittedEvent struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	Date          string    `json:"date"`
	CustomerName  string    `json:"customer_name"`
	PeopleCount   int       `json:"people_count"`
	Source        string    `json:"source"`
	RequestID     string    `json:"request_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewReservationAdmittedEvent describes reservation.
func NewReservationAdmittedEvent(reservation booking.Reservation) ReservationAdmittedEvent {
	return ReservationAdmittedEvent{
		Type:          EventReservationAdmitted,
		ReservationID: reservation.ID.String(),
		Date:          reservation.Date.String(),
		CustomerName:  reservation.CustomerName.String(),
		PeopleCount:   reservation.PartySize.Int(),
		Source:        reservation.Source.String(),
		RequestID:     reservation.RequestID.String(),
		CreatedAt:     reservation.CreatedAt.UTC(),
	}
}

// Notifier implements booking.AdmissionListener. Publish failures are logged
// and never affect the admission that triggered them.
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithPublishTimeout bounds each publish. Non-positive values are ignored.
func WithPublishTimeout(timeout time.Duration) NotifierOption {
	return func(notifier *Notifier) {
		if timeout > 0 {
			notifier.timeout = timeout
		}
	}
}

// NewNotifier wraps publisher.
func NewNotifier(publisher Publisher, logger *zap.Logger, options ...NotifierOption) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := &Notifier{publisher: publisher, logger: logger, timeout: defaultPublishTimeout}
	for _, option := range options {
		if option != nil {
			option(notifier)
		}
	}
	return notifier
}

// ReservationAdmitted publishes the event for reservation.
func (notifier *Notifier) ReservationAdmitted(ctx context.Context, reservation booking.Reservation) {
	payload, err := json.Marshal(NewReservationAdmittedEvent(reservation))
	if err != nil {
		notifier.logger.Error("encode reservation event", zap.Error(err))
		return
	}
	publishContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifier.timeout)
	defer cancel()
	if err := notifier.publisher.Publish(publishContext, EventReservationAdmitted, payload, reservation.Date.String()); err != nil {
		notifier.logger.Warn("publish reservation event",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("date", reservation.Date.String()),
			zap.Error(err))
	}
}
