package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
)

// Client 服务间 HTTP 客户端，进程内共享一个实例，并发安全
type Client struct {
	registry registry.Registry
	opts     *options
	http     *http.Client
	invoker  Invoker
	// probe 只发一次，不经过用户拦截器与重试
	probe Invoker
}

func New(reg registry.Registry, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	o.finish()
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{registry: reg, opts: o, http: hc}

	interceptors := append([]Interceptor{}, o.interceptors...)
	interceptors = append(interceptors,
		TraceInterceptor(),
		AuthInterceptor(),
		RetryInterceptor(o.policy, o.retryNonIdempotent),
	)
	c.invoker = chain(c.transport, interceptors...)
	c.probe = chain(c.transport, TraceInterceptor(), AuthInterceptor())
	return c
}

func (c *Client) Registry() registry.Registry {
	return c.registry
}

func (c *Client) Timeout() time.Duration {
	return c.opts.timeout
}

func (c *Client) Get(ctx context.Context, service, path string, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Service: service, Method: http.MethodGet, Path: path, Header: header})
}

func (c *Client) Post(ctx context.Context, service, path string, body any, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Service: service, Method: http.MethodPost, Path: path, Body: body, Header: header})
}

func (c *Client) Put(ctx context.Context, service, path string, body any, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Service: service, Method: http.MethodPut, Path: path, Body: body, Header: header})
}

func (c *Client) Patch(ctx context.Context, service, path string, body any, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Service: service, Method: http.MethodPatch, Path: path, Body: body, Header: header})
}

func (c *Client) Delete(ctx context.Context, service, path string, header http.Header) (*Response, error) {
	return c.Do(ctx, &Request{Service: service, Method: http.MethodDelete, Path: path, Header: header})
}

// Do 解析服务地址后经过拦截器链发送请求
// 服务未找到时不发起任何网络请求
func (c *Client) Do(ctx context.Context, in *Request) (*Response, error) {
	call, err := c.newCall(ctx, in)
	if err != nil {
		return nil, err
	}
	return c.invoker(ctx, call)
}

func (c *Client) newCall(ctx context.Context, in *Request) (*Call, error) {
	req := *in
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	ep, err := c.registry.Resolve(ctx, req.Service)
	if err != nil {
		logger.Warnw(ctx, "resolve service failed", "service", req.Service, "err", err)
		return nil, err
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, errs.WithCode(errs.Wrap(err, "encode request body"), errs.ErrorArgs)
	}

	header := c.opts.header.Clone()
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	for k, vs := range req.Header {
		header.Del(k)
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.timeout
	}
	return &Call{
		Request:  &req,
		Endpoint: ep,
		URL:      buildURL(ep, req.Path, req.Query),
		Header:   header,
		Body:     body,
		Timeout:  timeout,
	}, nil
}

// DoJSON 发送请求并把响应体解析为 T
func DoJSON[T any](ctx context.Context, c *Client, req *Request) (*T, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := resp.JSON(out); err != nil {
		return nil, errs.Wrap(err, "decode response from "+req.Service)
	}
	return out, nil
}

// transport 执行一次 HTTP 请求，超时只作用于本次尝试（含读取响应体）
func (c *Client) transport(ctx context.Context, call *Call) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, call.Method(), call.URL, body)
	if err != nil {
		return nil, errs.Wrap(err, "build request")
	}
	req.Header = call.Header.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.attemptError(ctx, attemptCtx, call, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.attemptError(ctx, attemptCtx, call, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) attemptError(ctx, attemptCtx context.Context, call *Call, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &errs.TimeoutError{Service: call.Service(), Timeout: call.Timeout, Err: err}
	}
	return errs.Wrap(err, "connection error to "+call.Service())
}

// HealthCheck 单次 GET /health，不重试也不经过缓存等用户拦截器
// 2xx 且 status 为 healthy 时返回 true
func (c *Client) HealthCheck(ctx context.Context, service string) bool {
	call, err := c.newCall(ctx, &Request{
		Service: service,
		Method:  http.MethodGet,
		Path:    "/health",
		Timeout: min(c.opts.timeout, HealthTimeout),
	})
	if err != nil {
		return false
	}
	call.Attempt = 1
	resp, err := c.probe(ctx, call)
	if err != nil {
		logger.Debugw(ctx, "health check failed", "service", service, "err", err)
		return false
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		logger.Debugw(ctx, "health check failed", "service", service, "status", resp.StatusCode)
		return false
	}
	status, _ := resp.Decode()["status"].(string)
	return status == "healthy"
}
