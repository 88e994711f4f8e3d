package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CoordinatorServer is the single method this service's hand-written
// grpc.ServiceDesc dispatches to, taking the place of the Call/List/Get/...
// methods a protoc-generated service interface would otherwise declare one
// of per RPC.
type CoordinatorServer interface {
	Call(ctx context.Context, req *Envelope) (*Envelope, error)
}

const serviceName = "ingestify.Coordinator"

// ServiceDesc is registered on a grpc.Server in place of the
// protoc-generated _ServiceDesc a normal .proto-defined service would
// produce.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ingestify/coordinator.proto",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServer).Call(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}
