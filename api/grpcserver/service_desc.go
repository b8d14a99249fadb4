package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "limitbook.v1.OrderService"

const (
	methodPlaceOrder  = "PlaceOrder"
	methodCancelOrder = "CancelOrder"
	methodOrderStatus = "OrderStatus"
	methodBestPrice   = "BestPrice"
	methodTrades      = "Trades"
)

// OrderServiceServer is implemented by Server. Messages are generic
// protobuf Structs so that no generated code is needed.
type OrderServiceServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BestPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Trades(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type unaryFn func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(methodPlaceOrder, OrderServiceServer.PlaceOrder),
		unaryHandler(methodCancelOrder, OrderServiceServer.CancelOrder),
		unaryHandler(methodOrderStatus, OrderServiceServer.OrderStatus),
		unaryHandler(methodBestPrice, OrderServiceServer.BestPrice),
		unaryHandler(methodTrades, OrderServiceServer.Trades),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "limitbook/v1/order_service.proto",
}
