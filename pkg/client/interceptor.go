package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/retry"
	"github.com/code-sigs/svcbox/pkg/trace"
)

// Invoker 执行一次调用
type Invoker func(ctx context.Context, call *Call) (*Response, error)

// Interceptor 包裹 Invoker，形式与 grpc.UnaryClientInterceptor 一致
type Interceptor func(ctx context.Context, call *Call, next Invoker) (*Response, error)

func chain(final Invoker, interceptors ...Interceptor) Invoker {
	invoker := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		in, next := interceptors[i], invoker
		invoker = func(ctx context.Context, call *Call) (*Response, error) {
			return in(ctx, call, next)
		}
	}
	return invoker
}

// TraceInterceptor 透传 traceID，没有时生成
func TraceInterceptor() Interceptor {
	return func(ctx context.Context, call *Call, next Invoker) (*Response, error) {
		ctx, traceID := trace.Ensure(ctx)
		if call.Header.Get(trace.HeaderTraceID) == "" {
			call.Header.Set(trace.HeaderTraceID, traceID)
		}
		return next(ctx, call)
	}
}

// AuthInterceptor 把入站请求的 bearer token 带到下游，显式设置的 Authorization 优先
func AuthInterceptor() Interceptor {
	return func(ctx context.Context, call *Call, next Invoker) (*Response, error) {
		auth.Apply(ctx, call.Header)
		return next(ctx, call)
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// RetryInterceptor 5xx、连接错误、超时按策略重试，4xx 立即返回
func RetryInterceptor(policy retry.Policy, retryNonIdempotent bool) Interceptor {
	return func(ctx context.Context, call *Call, next Invoker) (*Response, error) {
		p := policy
		eligible := idempotent(call.Method()) || retryNonIdempotent || call.Request.Retryable ||
			call.Header.Get(HeaderIdempotencyKey) != ""
		if !eligible {
			p.MaxRetries = 0
		}
		total := p.MaxRetries + 1

		var (
			last     *Response
			lastErr  error
			attempts int
		)
		err := p.Do(ctx, func(attempt int) error {
			attempts = attempt
			call.Attempt = attempt
			logger.Debugw(ctx, "service call", "service", call.Service(), "method", call.Method(),
				"url", call.URL, "attempt", fmt.Sprintf("%d/%d", attempt, total))

			resp, err := next(ctx, call)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Permanent(ctx.Err())
				}
				last, lastErr = nil, err
				return err
			}
			logger.Debugw(ctx, "service response", "service", call.Service(), "status", resp.StatusCode)
			switch {
			case resp.StatusCode >= http.StatusInternalServerError:
				last, lastErr = resp, nil
				return fmt.Errorf("server error %d", resp.StatusCode)
			case resp.StatusCode >= http.StatusBadRequest:
				return retry.Permanent(&errs.ClientRequestError{
					Service:    call.Service(),
					StatusCode: resp.StatusCode,
					Body:       string(resp.Body),
				})
			}
			last, lastErr = resp, nil
			return nil
		}, func(err error, attempt int, wait time.Duration) {
			logger.Warnw(ctx, "service call failed, retrying", "service", call.Service(),
				"attempt", attempt, "wait", wait.String(), "err", err)
		})

		switch {
		case err == nil:
			return last, nil
		case errs.IsClientRequest(err):
			return nil, err
		case ctx.Err() != nil:
			return nil, errs.Wrap(ctx.Err(), fmt.Sprintf("call %s cancelled after %d attempt(s)", call.Service(), attempts))
		}

		unavailable := &errs.ServiceUnavailableError{Service: call.Service(), Attempts: attempts, Err: lastErr}
		if last != nil {
			unavailable.StatusCode = last.StatusCode
			unavailable.Body = string(last.Body)
		}
		logger.Errorw(ctx, "service call failed", "service", call.Service(), "attempts", attempts, "err", unavailable)
		return nil, unavailable
	}
}
