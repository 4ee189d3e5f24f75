package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Crotoconlaptop/bqt-booking/internal/httpapi"
	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorCapacityExceeded     = "capacity_exceeded"
	errorIdempotencyKeyReused = "idempotency_key_reused"
	errorUnknownReservation   = "unknown_reservation"
	errorStoreUnavailable     = "store_unavailable"
	errorInvalidPayload       = "invalid_payload"
)

// BookingServiceServer exposes the booking service over gRPC. Messages are
// google.protobuf.Struct values shaped like the HTTP JSON bodies.
type BookingServiceServer struct {
	bookingService *booking.Service
}

// NewBookingServiceServer constructs a gRPC server for the booking service.
func NewBookingServiceServer(bookingService *booking.Service) *BookingServiceServer {
	return &BookingServiceServer{bookingService: bookingService}
}

func (server *BookingServiceServer) SubmitBooking(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return server.admit(ctx, request, server.bookingService.SubmitBooking)
}

func (server *BookingServiceServer) AdminAddBooking(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return server.admit(ctx, request, server.bookingService.AdminAddBooking)
}

func (server *BookingServiceServer) admit(ctx context.Context, request *structpb.Struct, admit func(context.Context, booking.BookingRequest) (booking.Reservation, error)) (*structpb.Struct, error) {
	var payload httpapi.BookingPayload
	if err := decodeStruct(request, &payload); err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidPayload)
	}
	reservation, err := admit(ctx, booking.BookingRequest{
		Date:         payload.Date,
		CustomerName: payload.CustomerName,
		PeopleCount:  payload.PeopleCount,
		Phone:        payload.Phone,
		Allergies:    payload.Allergies,
		RequestID:    payload.RequestID,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeStruct(httpapi.ReservationEnvelope{Reservation: httpapi.NewReservationPayload(reservation)})
}

func (server *BookingServiceServer) GetOccupancy(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	date, err := booking.NewDate(stringField(request, "date"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	availability, err := server.bookingService.DateAvailability(ctx, date)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeStruct(httpapi.NewAvailabilityPayload(availability))
}

func (server *BookingServiceServer) ListFullDates(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	dates, err := server.bookingService.FullDates(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	formatted := make([]string, 0, len(dates))
	for _, date := range dates {
		formatted = append(formatted, date.String())
	}
	return encodeStruct(httpapi.FullDatesPayload{Dates: formatted})
}

func (server *BookingServiceServer) ListBookings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	date, err := booking.NewDate(stringField(request, "date"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservations, err := server.bookingService.ListBookings(ctx, date)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeReservations(reservations)
}

func (server *BookingServiceServer) SearchBookings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	query, err := booking.NewSearchQuery(stringField(request, "q"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservations, err := server.bookingService.SearchBookings(ctx, query)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeReservations(reservations)
}

func (server *BookingServiceServer) ExportRange(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	dateRange, err := booking.ParseDateRange(stringField(request, "start"), stringField(request, "end"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservations, err := server.bookingService.ExportRange(ctx, dateRange)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeReservations(reservations)
}

func (server *BookingServiceServer) FindBooking(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	requestID, err := booking.NewRequestID(stringField(request, "request_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, err := server.bookingService.FindBooking(ctx, requestID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return encodeStruct(httpapi.ReservationEnvelope{Reservation: httpapi.NewReservationPayload(reservation)})
}

func encodeReservations(reservations []booking.Reservation) (*structpb.Struct, error) {
	return encodeStruct(httpapi.ReservationListEnvelope{Reservations: httpapi.NewReservationPayloads(reservations)})
}

func encodeStruct(value any) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	message := &structpb.Struct{}
	if err := message.UnmarshalJSON(raw); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return message, nil
}

func decodeStruct(message *structpb.Struct, target any) error {
	if message == nil {
		return errors.New("empty message")
	}
	raw, err := message.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func stringField(message *structpb.Struct, name string) string {
	return message.GetFields()[name].GetStringValue()
}

func mapToGRPCError(source error) error {
	var capacityError *booking.CapacityError
	if errors.As(source, &capacityError) {
		statusInfo := status.New(codes.FailedPrecondition, errorCapacityExceeded)
		detail, err := structpb.NewStruct(map[string]any{
			"date":      capacityError.Date.String(),
			"remaining": capacityError.Remaining,
			"requested": capacityError.Requested.Int(),
		})
		if err == nil {
			if detailed, detailErr := statusInfo.WithDetails(protoadapt.MessageV1Of(detail)); detailErr == nil {
				statusInfo = detailed
			}
		}
		return statusInfo.Err()
	}
	if errors.Is(source, booking.ErrIdempotencyKeyReused) {
		return status.Error(codes.AlreadyExists, errorIdempotencyKeyReused)
	}
	if errors.Is(source, booking.ErrValidation) {
		return status.Error(codes.InvalidArgument, httpapi.ValidationCode(source))
	}
	if errors.Is(source, booking.ErrUnknownReservation) {
		return status.Error(codes.NotFound, errorUnknownReservation)
	}
	if errors.Is(source, booking.ErrStoreUnavailable) {
		return status.Error(codes.Unavailable, errorStoreUnavailable)
	}
	return status.Error(codes.Internal, fmt.Sprintf("internal: %v", source))
}
