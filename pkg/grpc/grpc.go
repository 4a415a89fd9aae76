package grpc

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/code-sigs/svcbox/pkg/grpc/rpc"
	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/code-sigs/svcbox/pkg/utils"
	"google.golang.org/grpc"
)

type GRPC struct {
	registry registry.Registry
	opts     []grpc.ServerOption
}

// New 创建一个新的 GRPC 实例，opts 作用于创建的服务端
func New(reg registry.Registry, opts ...grpc.ServerOption) *GRPC {
	return &GRPC{registry: reg, opts: opts}
}

// Serve 在 lis 上提供服务，ctx 结束后 GracefulStop
func (g *GRPC) Serve(ctx context.Context, lis net.Listener, register func(*grpc.Server)) error {
	server := rpc.NewGRPCServer(g.opts...)
	if register != nil {
		register(server)
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		server.GracefulStop()
	}()

	logger.Infow(ctx, "grpc server listening", "addr", lis.Addr().String())
	err := server.Serve(lis)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	return err
}

// Listen 监听 address 并提供服务
func (g *GRPC) Listen(ctx context.Context, address string, register func(*grpc.Server)) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return g.Serve(ctx, lis, register)
}

// ListenAndRegister 监听端口并以 grpc://host:port 写入注册中心，退出时注销
func (g *GRPC) ListenAndRegister(ctx context.Context, serviceName, host string, port int, register func(*grpc.Server)) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return err
	}
	// 端口为 0 时取实际端口
	port = lis.Addr().(*net.TCPAddr).Port
	if host == "" || host == "0.0.0.0" {
		if host, err = utils.GetLocalIP(); err != nil {
			host = "127.0.0.1"
		}
	}
	info := &registry.ServiceInfo{
		Name:     serviceName,
		URL:      "grpc://" + net.JoinHostPort(host, strconv.Itoa(port)),
		Metadata: map[string]string{"protocol": "grpc"},
	}
	if err := g.registry.Register(ctx, info); err != nil {
		_ = lis.Close()
		return err
	}
	defer func() {
		if err := g.registry.Unregister(context.Background(), serviceName); err != nil {
			logger.Warnw(ctx, "unregister grpc service failed", "service", serviceName, "err", err)
		}
	}()
	return g.Serve(ctx, lis, register)
}

// Dial 获取到 serviceName 的连接
func (g *GRPC) Dial(ctx context.Context, serviceName string, proxyKeys ...string) (*grpc.ClientConn, error) {
	return rpc.NewGRPCConn(ctx, serviceName, g.registry, proxyKeys...)
}
