package federation

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "bindery.federation.v1.RemoteEntry"
	getModuleMethod = "/" + ServiceName + "/GetModule"
)

// RemoteEntryServer serves module descriptors.
//
// Request fields: scope, remote, module, constraint (all strings).
// Response: an encoded Descriptor.
type RemoteEntryServer interface {
	GetModule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var remoteEntryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemoteEntryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetModule",
			Handler:    getModuleHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bindery/federation/v1/remote_entry.proto",
}

// RegisterRemoteEntryServer registers srv on s.
func RegisterRemoteEntryServer(s grpc.ServiceRegistrar, srv RemoteEntryServer) {
	s.RegisterService(&remoteEntryServiceDesc, srv)
}

// NewGRPCServer returns a traced gRPC server with srv registered.
func NewGRPCServer(srv RemoteEntryServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterRemoteEntryServer(s, srv)
	return s
}

func getModuleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteEntryServer).GetModule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getModuleMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteEntryServer).GetModule(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
