package rpc

import (
	"context"
	"strings"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/rpcerror"
	"github.com/code-sigs/svcbox/pkg/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	MetadataAuthorization = "authorization"
	MetadataTraceID       = "x-trace-id"
)

// RPCClientInterceptor 将 token、traceID 以及 ctx 中指定的值写入 outgoing metadata
// 已存在的 key 不覆盖，返回的业务错误还原为带错误码的 error
func RPCClientInterceptor(proxyKeys ...string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		err := invoker(outgoing(ctx, proxyKeys), method, req, reply, cc, opts...)
		return rpcerror.FromStatus(err)
	}
}

func outgoing(ctx context.Context, proxyKeys []string) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.New(nil)
	}
	setIfAbsent := func(key, value string) {
		if value != "" && len(md.Get(key)) == 0 {
			md.Set(key, value)
		}
	}

	ctx, traceID := trace.Ensure(ctx)
	setIfAbsent(MetadataTraceID, traceID)
	if token, ok := auth.TokenFromContext(ctx); ok {
		setIfAbsent(MetadataAuthorization, auth.BearerHeader(token))
	}
	for _, key := range proxyKeys {
		key = strings.ToLower(key)
		setIfAbsent(key, ValueFromContext(ctx, key))
	}
	return metadata.NewOutgoingContext(ctx, md)
}
