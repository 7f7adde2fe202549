// C:/workspace/go/Swarm-Coverage-Go/api/server.go
//
// Package api 定义网格覆盖环境的 gRPC 服务 coverage.CoverageEnvironment。
// 请求和响应都以 google.protobuf.Struct 传输，字段见 messages.go。
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "coverage.CoverageEnvironment"

	ResetMethod = "/" + ServiceName + "/Reset"
	StepMethod  = "/" + ServiceName + "/Step"
)

// CoverageEnvironmentServer 是服务端需要实现的接口。
type CoverageEnvironmentServer interface {
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedCoverageEnvironmentServer 可以嵌入到实现中，未实现的方法返回 Unimplemented。
type UnimplementedCoverageEnvironmentServer struct{}

func (UnimplementedCoverageEnvironmentServer) Reset(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Reset not implemented")
}

func (UnimplementedCoverageEnvironmentServer) Step(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Step not implemented")
}

// RegisterCoverageEnvironmentServer 把实现注册到 gRPC 服务器上。
func RegisterCoverageEnvironmentServer(s grpc.ServiceRegistrar, srv CoverageEnvironmentServer) {
	s.RegisterService(&CoverageEnvironment_ServiceDesc, srv)
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageEnvironmentServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ResetMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoverageEnvironmentServer).Reset(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func stepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageEnvironmentServer).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StepMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoverageEnvironmentServer).Step(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CoverageEnvironment_ServiceDesc 是 coverage.CoverageEnvironment 的服务描述。
var CoverageEnvironment_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoverageEnvironmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reset", Handler: resetHandler},
		{MethodName: "Step", Handler: stepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coverage.proto",
}
