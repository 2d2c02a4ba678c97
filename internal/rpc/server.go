package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// MiddlewareServer is implemented by middleware written in Go.
type MiddlewareServer interface {
	HandleRequest(ctx context.Context, in *RequestRequest) (*VerdictMessage, error)
	HandleResponse(ctx context.Context, in *ResponseRequest) (*VerdictMessage, error)
}

// NewServer returns a gRPC server that speaks the middleware wire format.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)...)
}

// RegisterMiddlewareServer registers srv on s under kubeware.Middleware.
// s must have been created by NewServer (or carry the Codec itself).
func RegisterMiddlewareServer(s grpc.ServiceRegistrar, srv MiddlewareServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MiddlewareServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleRequest", Handler: handleRequest},
		{MethodName: "HandleResponse", Handler: handleResponse},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kubeware/middleware.proto",
}

func handleRequest(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RequestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MiddlewareServer).HandleRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodHandleRequest}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MiddlewareServer).HandleRequest(ctx, req.(*RequestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleResponse(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResponseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MiddlewareServer).HandleResponse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodHandleResponse}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MiddlewareServer).HandleResponse(ctx, req.(*ResponseRequest))
	}
	return interceptor(ctx, in, info, handler)
}
