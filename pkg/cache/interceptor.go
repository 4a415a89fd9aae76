package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/client"
	"github.com/code-sigs/svcbox/pkg/logger"
)

const (
	DefaultTTL  = 300 * time.Second
	HeaderCache = "X-Cache"
)

type options struct {
	ttl    time.Duration
	prefix string
}

type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

type entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

func noCache(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		if strings.Contains(strings.ToLower(v), "no-cache") {
			return true
		}
	}
	return false
}

// Interceptor 缓存 GET 2xx 响应，key 包含 Authorization 摘要，不同用户互不可见
// 缓存读写失败只记日志，不影响调用
func Interceptor(store Store, opts ...Option) client.Interceptor {
	o := &options{ttl: DefaultTTL, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(o)
	}
	return func(ctx context.Context, call *client.Call, next client.Invoker) (*client.Response, error) {
		if call.Method() != http.MethodGet || noCache(call.Header) {
			return next(ctx, call)
		}
		authorization := call.Header.Get(auth.HeaderAuthorization)
		if authorization == "" {
			if token, ok := auth.TokenFromContext(ctx); ok {
				authorization = auth.BearerHeader(token)
			}
		}
		key := responseKey(o.prefix, call.Service(), call.URL, authorization)

		data, err := store.Get(ctx, key)
		switch {
		case err == nil:
			var e entry
			if jsonErr := json.Unmarshal(data, &e); jsonErr == nil {
				logger.Debugw(ctx, "cache hit", "service", call.Service(), "url", call.URL)
				header := e.Header.Clone()
				if header == nil {
					header = http.Header{}
				}
				header.Set(HeaderCache, "HIT")
				return &client.Response{StatusCode: e.StatusCode, Header: header, Body: e.Body}, nil
			}
		case !errors.Is(err, ErrMiss):
			logger.Warnw(ctx, "cache get failed", "key", key, "err", err)
		}

		resp, err := next(ctx, call)
		if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp, err
		}
		data, err = json.Marshal(entry{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body})
		if err == nil {
			err = store.Set(ctx, key, data, o.ttl)
		}
		if err != nil {
			logger.Warnw(ctx, "cache set failed", "key", key, "err", err)
		}
		return resp, nil
	}
}

// Invalidate 按模式删除，返回删除总数
func Invalidate(ctx context.Context, store Store, patterns ...string) (int, error) {
	total := 0
	for _, p := range patterns {
		n, err := store.DeletePattern(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	logger.Debugw(ctx, "cache invalidated", "patterns", patterns, "deleted", total)
	return total, nil
}
