package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/registry/memory"
	"github.com/code-sigs/svcbox/pkg/retry"
	"github.com/code-sigs/svcbox/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

// testServer 记录每次请求，status 决定第 n 次请求的响应码
type testServer struct {
	*httptest.Server
	calls atomic.Int32
	last  atomic.Pointer[recorded]
}

func newTestServer(t *testing.T, status func(n int32) int, body string) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		data, _ := io.ReadAll(r.Body)
		ts.last.Store(&recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   data,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status(n))
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func always(code int) func(int32) int {
	return func(int32) int { return code }
}

func newClient(urls map[string]string, opts ...Option) *Client {
	base := []Option{WithRetryDelay(time.Millisecond), WithMaxDelay(5 * time.Millisecond)}
	return New(memory.FromURLs(urls), append(base, opts...)...)
}

func TestGet_ResolvesAndJoinsURL(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `{"id":123}`)
	c := newClient(map[string]string{"user-service": srv.URL})

	resp, err := c.Get(context.Background(), "user-service", "/api/v1/123", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	last := srv.last.Load()
	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "/api/v1/123", last.path)
	assert.Equal(t, "application/json", last.header.Get("Content-Type"))
	assert.Equal(t, "application/json", last.header.Get("Accept"))
	assert.Equal(t, float64(123), resp.Decode()["id"])

	_, err = c.Get(context.Background(), "user-service", "api/v1/7", nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/7", srv.last.Load().path)
}

func TestDo_UnknownServiceNoRequest(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `{}`)
	c := newClient(map[string]string{"user-service": srv.URL})

	_, err := c.Get(context.Background(), "missing-service", "/x", nil)
	require.Error(t, err)
	assert.True(t, errs.IsServiceNotFound(err))
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestRetry_SucceedsAfterServerErrors(t *testing.T) {
	srv := newTestServer(t, func(n int32) int {
		if n < 3 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}, `{"ok":true}`)
	c := newClient(map[string]string{"order-service": srv.URL}, WithMaxRetries(3))

	resp, err := c.Get(context.Background(), "order-service", "/orders", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestRetry_Exhausted(t *testing.T) {
	srv := newTestServer(t, always(http.StatusInternalServerError), `boom`)
	c := newClient(map[string]string{"order-service": srv.URL}, WithMaxRetries(2))

	_, err := c.Get(context.Background(), "order-service", "/orders", nil)
	require.Error(t, err)

	var unavailable *errs.ServiceUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, http.StatusInternalServerError, unavailable.StatusCode)
	assert.Equal(t, "boom", unavailable.Body)
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestClientError_NotRetried(t *testing.T) {
	srv := newTestServer(t, always(http.StatusNotFound), `{"detail":"not found"}`)
	c := newClient(map[string]string{"user-service": srv.URL}, WithMaxRetries(3))

	_, err := c.Get(context.Background(), "user-service", "/users/9", nil)
	require.Error(t, err)

	var clientErr *errs.ClientRequestError
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, http.StatusNotFound, clientErr.StatusCode)
	assert.Contains(t, clientErr.Body, "not found")
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Equal(t, http.StatusNotFound, errs.HTTPStatus(err))
}

func TestAuthPropagation(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `{}`)
	c := newClient(map[string]string{"user-service": srv.URL})

	ctx := auth.WithToken(context.Background(), "abc123")
	_, err := c.Get(ctx, "user-service", "/me", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", srv.last.Load().header.Get("Authorization"))

	_, err = c.Get(context.Background(), "user-service", "/me", nil)
	require.NoError(t, err)
	assert.Empty(t, srv.last.Load().header.Get("Authorization"))

	explicit := http.Header{}
	explicit.Set("Authorization", "Bearer service-token")
	_, err = c.Get(ctx, "user-service", "/me", explicit)
	require.NoError(t, err)
	assert.Equal(t, "Bearer service-token", srv.last.Load().header.Get("Authorization"))
}

func TestTracePropagation(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `{}`)
	c := newClient(map[string]string{"user-service": srv.URL})

	ctx := trace.WithTraceID(context.Background(), "trace-123")
	_, err := c.Get(ctx, "user-service", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "trace-123", srv.last.Load().header.Get(trace.HeaderTraceID))

	_, err = c.Get(context.Background(), "user-service", "/", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, srv.last.Load().header.Get(trace.HeaderTraceID))
}

func TestPost_RetryEligibility(t *testing.T) {
	cases := []struct {
		name     string
		opts     []Option
		req      func(url string) *Request
		attempts int32
	}{
		{
			name:     "post not retried by default",
			req:      func(string) *Request { return &Request{Service: "svc", Method: http.MethodPost, Path: "/orders"} },
			attempts: 1,
		},
		{
			name:     "retryable request",
			req:      func(string) *Request { return &Request{Service: "svc", Method: http.MethodPost, Path: "/orders", Retryable: true} },
			attempts: 3,
		},
		{
			name: "idempotency key",
			req: func(string) *Request {
				h := http.Header{}
				h.Set(HeaderIdempotencyKey, "k-1")
				return &Request{Service: "svc", Method: http.MethodPost, Path: "/orders", Header: h}
			},
			attempts: 3,
		},
		{
			name:     "client option",
			opts:     []Option{WithRetryNonIdempotent(true)},
			req:      func(string) *Request { return &Request{Service: "svc", Method: http.MethodPatch, Path: "/orders/1"} },
			attempts: 3,
		},
		{
			name:     "put always retried",
			req:      func(string) *Request { return &Request{Service: "svc", Method: http.MethodPut, Path: "/orders/1"} },
			attempts: 3,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, always(http.StatusBadGateway), `bad gateway`)
			c := newClient(map[string]string{"svc": srv.URL}, append([]Option{WithMaxRetries(2)}, tc.opts...)...)

			_, err := c.Do(context.Background(), tc.req(srv.URL))
			assert.True(t, errs.IsServiceUnavailable(err))
			assert.Equal(t, tc.attempts, srv.calls.Load())
		})
	}
}

func TestPost_EncodesJSONBody(t *testing.T) {
	srv := newTestServer(t, always(http.StatusCreated), `{"id":1}`)
	c := newClient(map[string]string{"order-service": srv.URL})

	type order struct {
		Item string `json:"item"`
		Qty  int    `json:"qty"`
	}
	resp, err := c.Post(context.Background(), "order-service", "/orders", order{Item: "book", Qty: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	last := srv.last.Load()
	assert.Equal(t, http.MethodPost, last.method)
	assert.JSONEq(t, `{"item":"book","qty":2}`, string(last.body))
}

func TestDo_QueryAndHeaders(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `[]`)
	c := newClient(map[string]string{"search": srv.URL}, WithHeader("X-Caller", "svcbox"))

	h := http.Header{}
	h.Set("Accept", "text/plain")
	_, err := c.Do(context.Background(), &Request{
		Service: "search",
		Path:    "/items",
		Query:   url.Values{"q": {"go lang"}, "page": {"2"}},
		Header:  h,
	})
	require.NoError(t, err)

	last := srv.last.Load()
	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "page=2&q=go+lang", last.query)
	assert.Equal(t, "text/plain", last.header.Get("Accept"))
	assert.Equal(t, "svcbox", last.header.Get("X-Caller"))
}

func slowServer(t *testing.T, slowFirst int32, delay time.Duration) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if slowFirst < 0 || n <= slowFirst {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestTimeout_PerAttemptThenSuccess(t *testing.T) {
	srv := slowServer(t, 1, time.Second)
	c := newClient(map[string]string{"slow": srv.URL}, WithTimeout(50*time.Millisecond), WithMaxRetries(2))

	resp, err := c.Get(context.Background(), "slow", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestTimeout_Exhausted(t *testing.T) {
	srv := slowServer(t, -1, time.Second)
	c := newClient(map[string]string{"slow": srv.URL}, WithTimeout(30*time.Millisecond), WithMaxRetries(1))

	_, err := c.Get(context.Background(), "slow", "/", nil)
	require.Error(t, err)
	assert.True(t, errs.IsServiceUnavailable(err))
	assert.True(t, errs.IsTimeout(err))
	assert.Equal(t, http.StatusGatewayTimeout, errs.HTTPStatus(err))
}

func TestConnectionError_Retried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := newClient(map[string]string{"gone": addr}, WithMaxRetries(2))
	_, err := c.Get(context.Background(), "gone", "/", nil)
	require.Error(t, err)

	var unavailable *errs.ServiceUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Zero(t, unavailable.StatusCode)
	assert.Error(t, unavailable.Err)
}

func TestCancelledContext_StopsRetrying(t *testing.T) {
	srv := newTestServer(t, always(http.StatusServiceUnavailable), `down`)
	c := New(memory.FromURLs(map[string]string{"svc": srv.URL}), WithMaxRetries(5), WithRetryDelay(time.Hour), WithMaxDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Get(ctx, "svc", "/", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errs.IsServiceUnavailable(err))
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUserInterceptor_OncePerCall(t *testing.T) {
	srv := newTestServer(t, func(n int32) int {
		if n == 1 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}, `{}`)
	var seen atomic.Int32
	var attempts int
	c := newClient(map[string]string{"svc": srv.URL}, WithMaxRetries(2), WithInterceptors(
		func(ctx context.Context, call *Call, next Invoker) (*Response, error) {
			seen.Add(1)
			resp, err := next(ctx, call)
			attempts = call.Attempt
			return resp, err
		},
	))

	_, err := c.Get(context.Background(), "svc", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, 2, attempts)
}

func TestDoJSON(t *testing.T) {
	srv := newTestServer(t, always(http.StatusOK), `{"id":5,"username":"ana"}`)
	c := newClient(map[string]string{"user-service": srv.URL})

	type user struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	}
	u, err := DoJSON[user](context.Background(), c, &Request{Service: "user-service", Path: "/users/5"})
	require.NoError(t, err)
	assert.Equal(t, 5, u.ID)
	assert.Equal(t, "ana", u.Username)
}

func TestResponseDecode(t *testing.T) {
	obj := &Response{Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"a":1}`)}
	assert.Equal(t, float64(1), obj.Decode()["a"])

	arr := &Response{Body: []byte(`[1,2]`)}
	assert.Equal(t, []any{float64(1), float64(2)}, arr.Decode()["data"])

	text := &Response{Header: http.Header{"Content-Type": {"text/plain"}}, Body: []byte(`hello`)}
	assert.Equal(t, "hello", text.Decode()["data"])

	var v map[string]any
	assert.Error(t, (&Response{}).JSON(&v))
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestServer(t, always(http.StatusOK), `{"status":"healthy"}`)
	degraded := newTestServer(t, always(http.StatusOK), `{"status":"degraded"}`)
	c := newClient(map[string]string{"a": healthy.URL, "b": degraded.URL})

	assert.True(t, c.HealthCheck(context.Background(), "a"))
	assert.False(t, c.HealthCheck(context.Background(), "b"))
	assert.False(t, c.HealthCheck(context.Background(), "missing"))
	assert.Equal(t, "/health", healthy.last.Load().path)
}

func TestHealthCheck_SingleAttempt(t *testing.T) {
	srv := newTestServer(t, always(http.StatusInternalServerError), `{"status":"healthy"}`)
	var intercepted atomic.Int32
	c := newClient(map[string]string{"svc": srv.URL}, WithMaxRetries(3),
		WithInterceptors(func(ctx context.Context, call *Call, next Invoker) (*Response, error) {
			intercepted.Add(1)
			return next(ctx, call)
		}))

	assert.False(t, c.HealthCheck(context.Background(), "svc"))
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Zero(t, intercepted.Load())
}

func TestRetry_ExponentialWaits(t *testing.T) {
	srv := newTestServer(t, always(http.StatusBadGateway), `{}`)
	c := New(memory.FromURLs(map[string]string{"svc": srv.URL}),
		WithMaxRetries(2), WithRetryDelay(40*time.Millisecond))

	start := time.Now()
	_, err := c.Get(context.Background(), "svc", "/", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), srv.calls.Load())
	// 40ms + 80ms，固定间隔只有 80ms
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRetryDelay_DefaultCapDoesNotFlatten(t *testing.T) {
	c := New(memory.NewMemoryRegistry(), WithRetryDelay(time.Minute))
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}, c.opts.policy.Delays())

	c = New(memory.NewMemoryRegistry(), WithRetryPolicy(retry.Policy{MaxRetries: 3, Delay: time.Second}))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, c.opts.policy.Delays())

	// 显式上限仍然生效
	c = New(memory.NewMemoryRegistry(), WithRetryDelay(time.Second), WithMaxDelay(time.Second))
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, c.opts.policy.Delays())
}

func TestOptionsFromConfig(t *testing.T) {
	c := New(memory.NewMemoryRegistry())
	assert.Equal(t, DefaultTimeout, c.Timeout())

	c = New(memory.NewMemoryRegistry(), OptionsFromConfig(config.ClientConfig{
		Timeout:            1.5,
		MaxRetries:         4,
		RetryDelay:         0.25,
		MaxDelay:           2,
		RetryNonIdempotent: true,
	})...)
	assert.Equal(t, 1500*time.Millisecond, c.Timeout())
	assert.Equal(t, 4, c.opts.policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, c.opts.policy.Delay)
	assert.Equal(t, 2*time.Second, c.opts.policy.MaxDelay)
	assert.True(t, c.opts.retryNonIdempotent)

	c = New(memory.NewMemoryRegistry(), OptionsFromConfig(config.ClientConfig{
		Timeout:    5,
		MaxRetries: 3,
		RetryDelay: 1,
	})...)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, c.opts.policy.Delays())
}
