package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

type tokenKey struct{}

// WithToken 将入站请求的 bearer token 放入 ctx，只在该请求内有效
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// ParseBearer 解析 "Bearer <token>"，大小写不敏感
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

func FromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	return ParseBearer(r.Header.Get(HeaderAuthorization))
}

// Apply ctx 中有 token 且 header 未显式设置 Authorization 时写入
func Apply(ctx context.Context, header http.Header) bool {
	if header.Get(HeaderAuthorization) != "" {
		return false
	}
	token, ok := TokenFromContext(ctx)
	if !ok {
		return false
	}
	header.Set(HeaderAuthorization, bearerPrefix+token)
	return true
}

func BearerHeader(token string) string {
	return bearerPrefix + token
}
