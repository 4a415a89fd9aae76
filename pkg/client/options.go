package client

import (
	"net/http"
	"time"

	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/retry"
)

const (
	DefaultTimeout       = 5 * time.Second
	HealthTimeout        = 2 * time.Second
	HeaderIdempotencyKey = "Idempotency-Key"
)

type options struct {
	timeout            time.Duration
	policy             retry.Policy
	maxDelaySet        bool
	retryNonIdempotent bool
	httpClient         *http.Client
	interceptors       []Interceptor
	header             http.Header
}

type Option func(*options)

// finish 未显式设置上限且默认上限小于 Delay 时去掉上限，保持指数增长
func (o *options) finish() {
	if !o.maxDelaySet && o.policy.MaxDelay > 0 && o.policy.MaxDelay < o.policy.Delay {
		o.policy.MaxDelay = 0
	}
}

func defaultOptions() *options {
	return &options{
		timeout: DefaultTimeout,
		policy:  retry.DefaultPolicy(),
		header:  http.Header{},
	}
}

// WithTimeout 单次请求超时，每次重试重新计时
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.policy.MaxRetries = n
		}
	}
}

// WithRetryDelay 第 n 次重试前等待 delay*2^(n-1)
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.policy.Delay = d
		}
	}
}

// WithMaxDelay 单次等待上限，<= 0 不设上限
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.policy.MaxDelay = d
		o.maxDelaySet = true
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = p
		o.maxDelaySet = true
	}
}

// WithRetryNonIdempotent 允许 POST/PATCH 在 5xx、连接错误、超时时重试
func WithRetryNonIdempotent(enable bool) Option {
	return func(o *options) {
		o.retryNonIdempotent = enable
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithInterceptors 按顺序包在内置拦截器外层
func WithInterceptors(in ...Interceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, in...)
	}
}

// WithHeader 每个请求都带的默认请求头
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Set(key, value)
	}
}

// OptionsFromConfig 由 client 配置生成选项
func OptionsFromConfig(cfg config.ClientConfig) []Option {
	return []Option{
		WithTimeout(cfg.TimeoutDuration()),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryDelay(cfg.RetryDelayDuration()),
		WithRetryNonIdempotent(cfg.RetryNonIdempotent),
		WithMaxDelay(cfg.MaxDelayDuration()),
	}
}
