package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPath        = "/health"
	DefaultTimeout     = 2 * time.Second
	DefaultConcurrency = 8

	StatusHealthy = "healthy"
)

// Status 一次探测的结果
type Status struct {
	Service string        `json:"service"`
	URL     string        `json:"url,omitempty"`
	Healthy bool          `json:"healthy"`
	Reason  string        `json:"reason,omitempty"`
	Latency time.Duration `json:"latency"`
}

type Option func(*Checker)

func WithPath(path string) Option {
	return func(c *Checker) {
		if path != "" {
			c.path = path
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Checker) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Checker 探测下游服务健康状态，不重试
type Checker struct {
	registry    registry.Registry
	path        string
	timeout     time.Duration
	concurrency int
	http        *http.Client
}

func NewChecker(reg registry.Registry, opts ...Option) *Checker {
	c := &Checker{
		registry:    reg,
		path:        DefaultPath,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		http:        &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check 单次 GET 健康路径
// 网络错误、超时、非 2xx、body 中 status 存在且不为 healthy 都视为不健康
func (c *Checker) Check(ctx context.Context, service string) (st Status) {
	st.Service = service
	ep, err := c.registry.Resolve(ctx, service)
	if err != nil {
		st.Reason = err.Error()
		return st
	}
	st.URL = ep.URL(c.path)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	defer func() { st.Latency = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.URL, nil)
	if err != nil {
		st.Reason = err.Error()
		return st
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			st.Reason = fmt.Sprintf("timeout after %s", c.timeout)
		} else {
			st.Reason = fmt.Sprintf("connection error: %v", err)
		}
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		st.Reason = fmt.Sprintf("status code %d", resp.StatusCode)
		return st
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		st.Reason = fmt.Sprintf("read body: %v", err)
		return st
	}
	var body struct {
		Status *string `json:"status"`
	}
	if json.Unmarshal(data, &body) == nil && body.Status != nil && *body.Status != StatusHealthy {
		st.Reason = fmt.Sprintf("reported status %q", *body.Status)
		return st
	}
	st.Healthy = true
	return st
}

// CheckAll 并发探测 registry 中除 exclude 外的所有服务
func (c *Checker) CheckAll(ctx context.Context, exclude ...string) (map[string]Status, error) {
	all, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	names := make([]string, 0, len(all))
	for name := range all {
		if _, ok := skip[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([]Status, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i] = c.Check(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Status, len(results))
	for _, st := range results {
		if !st.Healthy {
			logger.Warnw(ctx, "service unhealthy", "service", st.Service, "reason", st.Reason)
		}
		out[st.Service] = st
	}
	return out, nil
}

// Dial TCP 探测服务端口是否可连接
func (c *Checker) Dial(ctx context.Context, service string) error {
	ep, err := c.registry.Resolve(ctx, service)
	if err != nil {
		return err
	}
	addr, err := ep.HostPort()
	if err != nil {
		return err
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
