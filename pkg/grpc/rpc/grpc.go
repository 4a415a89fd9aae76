package rpc

import (
	"context"

	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/code-sigs/svcbox/pkg/resolver"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const maxMsgSize = 1024 * 1024 * 100

// NewGRPCServer 创建带有拦截器的 gRPC 服务端，opts 追加在默认配置之后
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.UnaryInterceptor(RPCServerInterceptor()),
		grpc.MaxRecvMsgSize(maxMsgSize),              // 设置最大接收消息大小为 100MB
		grpc.MaxSendMsgSize(maxMsgSize),              // 设置最大发送消息大小为 100MB
		grpc.InitialWindowSize(1024 * 1024 * 10),     // 设置初始窗口大小为 10MB
		grpc.InitialConnWindowSize(1024 * 1024 * 10), // 设置初始连接窗口大小为 10MB
	}
	return grpc.NewServer(append(base, opts...)...)
}

// NewGRPCConn 通过 svcbox:///<service> 解析地址并建立连接
func NewGRPCConn(ctx context.Context, serviceName string, reg registry.Registry, proxyKeys ...string) (*grpc.ClientConn, error) {
	return grpc.NewClient(
		resolver.Scheme+":///"+serviceName,
		grpc.WithResolvers(resolver.NewBuilder(reg)),
		grpc.WithTransportCredentials(insecure.NewCredentials()), // 注意：生产环境中请使用安全连接
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(maxMsgSize), grpc.MaxCallRecvMsgSize(maxMsgSize)),
		grpc.WithUnaryInterceptor(RPCClientInterceptor(proxyKeys...)),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`),
	)
}
