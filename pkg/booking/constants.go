package booking

import "time"

const (
	// Capacity is the maximum number of guests admitted for a single date.
	Capacity = 288
	// DateLayout is the wire format of a reservation date.
	DateLayout = "2006-01-02"

	// DefaultAdmitTimeout bounds a single admission, lock wait included.
	DefaultAdmitTimeout = 5 * time.Second

	maxCustomerNameLength = 200
	maxPhoneLength        = 32
	maxAllergiesLength    = 1000
	maxSearchQueryLength  = 100
	maxRequestIDLength    = 128

	operationSubmit = "submit_booking"
	operationAdmin  = "admin_add_booking"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"
)
