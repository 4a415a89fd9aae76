package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderTraceID 服务间透传 traceID 使用的请求头
const HeaderTraceID = "X-Trace-ID"

type traceKey struct{}

func GenerateTraceID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

func WithNewTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, GenerateTraceID())
}

// Ensure 上下文中没有 traceID 时生成一个
func Ensure(ctx context.Context) (context.Context, string) {
	if id := GetTraceID(ctx); id != "" {
		return ctx, id
	}
	id := GenerateTraceID()
	return WithTraceID(ctx, id), id
}

func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceKey{}).(string); ok {
		return id
	}
	return ""
}

// FromRequest 从入站请求头读取 traceID
func FromRequest(r *http.Request) string {
	return r.Header.Get(HeaderTraceID)
}
