package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bqt.booking.v1.BookingService"

// BookingServiceHandler is the server side of ServiceName.
type BookingServiceHandler interface {
	SubmitBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminAddBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOccupancy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFullDates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBookings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchBookings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(BookingServiceHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		method("SubmitBooking", BookingServiceHandler.SubmitBooking),
		method("AdminAddBooking", BookingServiceHandler.AdminAddBooking),
		method("GetOccupancy", BookingServiceHandler.GetOccupancy),
		method("ListFullDates", BookingServiceHandler.ListFullDates),
		method("ListBookings", BookingServiceHandler.ListBookings),
		method("SearchBookings", BookingServiceHandler.SearchBookings),
		method("ExportRange", BookingServiceHandler.ExportRange),
		method("FindBooking", BookingServiceHandler.FindBooking),
	},
	Streams: []grpc.StreamDesc{},
}

// Register mounts handler on registrar.
func Register(registrar grpc.ServiceRegistrar, handler BookingServiceHandler) {
	registrar.RegisterService(&serviceDesc, handler)
}

// FullMethod returns the wire name of a method of ServiceName.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func method(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			handler := srv.(BookingServiceHandler)
			if interceptor == nil {
				return call(handler, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
				return call(handler, ctx, request.(*structpb.Struct))
			})
		},
	}
}
