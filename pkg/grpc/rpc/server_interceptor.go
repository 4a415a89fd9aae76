package rpc

import (
	"context"
	"strings"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/rpcerror"
	"github.com/code-sigs/svcbox/pkg/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type valuesKey struct{}

// RPCServerInterceptor 从 incoming metadata 恢复 traceID 与 token，其余键值可用 ValueFromContext 读取
// handler 返回的错误转换为携带业务码的 gRPC status
func RPCServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx = incoming(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warnw(ctx, "rpc failed", "method", info.FullMethod, "latency", time.Since(start).String(), "err", errs.Message(err))
			return resp, rpcerror.Wrap(err)
		}
		logger.Debugw(ctx, "rpc handled", "method", info.FullMethod, "latency", time.Since(start).String())
		return resp, nil
	}
}

func incoming(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	values := make(map[string]string, len(md))
	for key, vs := range md {
		if len(vs) > 0 {
			// 以小写 key 保存，值为第一个
			values[strings.ToLower(key)] = vs[0]
		}
	}
	ctx = context.WithValue(ctx, valuesKey{}, values)
	ctx = trace.WithTraceID(ctx, values[MetadataTraceID])
	ctx, _ = trace.Ensure(ctx)
	if token, ok := auth.ParseBearer(values[MetadataAuthorization]); ok {
		ctx = auth.WithToken(ctx, token)
	}
	return ctx
}

// ValueFromContext 读取服务端拦截器保存的 metadata 值
func ValueFromContext(ctx context.Context, key string) string {
	values, _ := ctx.Value(valuesKey{}).(map[string]string)
	return values[strings.ToLower(key)]
}
