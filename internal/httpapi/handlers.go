package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	service BookingService
	logger  *zap.Logger
	timeout time.Duration
}

type admitFunc func(ctx context.Context, request booking.BookingRequest) (booking.Reservation, error)

func (handler *httpHandler) handleSubmitBooking(ctx *gin.Context) {
	handler.admit(ctx, handler.service.SubmitBooking)
}

func (handler *httpHandler) handleAdminAddBooking(ctx *gin.Context) {
	handler.admit(ctx, handler.service.AdminAddBooking)
}

func (handler *httpHandler) admit(ctx *gin.Context, admit admitFunc) {
	var payload BookingPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(CodeInvalidPayload, "expected JSON body"))
		return
	}
	requestID := payload.RequestID
	if header := strings.TrimSpace(ctx.GetHeader(HeaderIdempotencyKey)); header != "" {
		requestID = header
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	reservation, err := admit(requestCtx, booking.BookingRequest{
		Date:         payload.Date,
		CustomerName: payload.CustomerName,
		PeopleCount:  payload.PeopleCount,
		Phone:        payload.Phone,
		Allergies:    payload.Allergies,
		RequestID:    requestID,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, ReservationEnvelope{Reservation: NewReservationPayload(reservation)})
}

func (handler *httpHandler) handleOccupancy(ctx *gin.Context) {
	date, err := booking.NewDate(ctx.Query("date"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	availability, err := handler.service.DateAvailability(requestCtx, date)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewAvailabilityPayload(availability))
}

func (handler *httpHandler) handleFullDates(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	dates, err := handler.service.FullDates(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	formatted := make([]string, 0, len(dates))
	for _, date := range dates {
		formatted = append(formatted, date.String())
	}
	ctx.JSON(http.StatusOK, FullDatesPayload{Dates: formatted})
}

// handleListBookings serves the staff panel list. A search query takes
// precedence over the selected date.
func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	var (
		reservations []booking.Reservation
		err          error
	)
	if rawQuery := strings.TrimSpace(ctx.Query("q")); rawQuery != "" {
		query, queryErr := booking.NewSearchQuery(rawQuery)
		if queryErr != nil {
			handler.respondError(ctx, queryErr)
			return
		}
		reservations, err = handler.service.SearchBookings(requestCtx, query)
	} else {
		date, dateErr := booking.NewDate(ctx.Query("date"))
		if dateErr != nil {
			handler.respondError(ctx, dateErr)
			return
		}
		reservations, err = handler.service.ListBookings(requestCtx, date)
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ReservationListEnvelope{Reservations: NewReservationPayloads(reservations)})
}

func (handler *httpHandler) handleFindBooking(ctx *gin.Context) {
	requestID, err := booking.NewRequestID(ctx.Param("request_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	reservation, err := handler.service.FindBooking(requestCtx, requestID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ReservationEnvelope{Reservation: NewReservationPayload(reservation)})
}

func (handler *httpHandler) handleExport(ctx *gin.Context) {
	dateRange, err := booking.ParseDateRange(ctx.Query("start"), ctx.Query("end"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	reservations, err := handler.service.ExportRange(requestCtx, dateRange)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ReservationListEnvelope{Reservations: NewReservationPayloads(reservations)})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	var capacityError *booking.CapacityError
	switch {
	case errors.As(err, &capacityError):
		remaining := capacityError.Remaining
		ctx.JSON(http.StatusConflict, ErrorEnvelope{Error: ErrorPayload{
			Code:      CodeCapacityExceeded,
			Message:   capacityError.Error(),
			Remaining: &remaining,
			Date:      capacityError.Date.String(),
		}})
	case errors.Is(err, booking.ErrIdempotencyKeyReused):
		ctx.JSON(http.StatusConflict, errorResponse(CodeIdempotencyKeyReused, err.Error()))
	case errors.Is(err, booking.ErrValidation):
		ctx.JSON(http.StatusBadRequest, errorResponse(ValidationCode(err), err.Error()))
	case errors.Is(err, booking.ErrUnknownReservation):
		ctx.JSON(http.StatusNotFound, errorResponse(CodeNotFound, "reservation not found"))
	case errors.Is(err, booking.ErrStoreUnavailable):
		handler.logger.Warn("store unavailable", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(CodeStoreUnavailable, "booking store unavailable, retry later"))
	default:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(CodeInternal, "internal error"))
	}
}

func errorResponse(code string, message string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorPayload{Code: code, Message: message}}
}
