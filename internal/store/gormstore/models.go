package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reservation mirrors the reservations table.
type Reservation struct {
	ReservationID string         `gorm:"size:36;primaryKey"`
	BookingDate   datatypes.Date `gorm:"not null;index:idx_reservations_date_created,priority:1"`
	CustomerName  string         `gorm:"size:200;not null"`
	PeopleCount   int            `gorm:"not null"`
	Phone         string         `gorm:"size:32;not null"`
	Allergies     string         `gorm:"size:1000;not null"`
	RequestID     *string        `gorm:"size:128;uniqueIndex:uniq_reservations_request_id"`
	Source        string         `gorm:"size:16;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_reservations_date_created,priority:2"`
}

func (Reservation) TableName() string { return "reservations" }

func (reservation *Reservation) BeforeCreate(tx *gorm.DB) error {
	if reservation.ReservationID == "" {
		reservation.ReservationID = uuid.NewString()
	}
	return nil
}

// BookingDate holds the running occupancy of one date. It is only written inside
// the admission transaction and guards capacity across processes.
type BookingDate struct {
	BookingDate datatypes.Date `gorm:"primaryKey"`
	Occupancy   int            `gorm:"not null"`
}

func (BookingDate) TableName() string { return "booking_dates" }
