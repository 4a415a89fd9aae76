package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/code-sigs/svcbox/pkg/client"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "svcbox"

// ClientMetrics 出站调用指标
type ClientMetrics struct {
	gatherer prometheus.Gatherer
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.HistogramVec

	serverRequests *prometheus.CounterVec
	serverDuration *prometheus.HistogramVec
}

// NewClientMetrics reg 为 nil 时使用独立的 Registry
func NewClientMetrics(reg prometheus.Registerer) (*ClientMetrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &ClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "outbound service calls by final status code",
		}, []string{"service", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "outbound service call duration including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "attempts",
			Help:      "attempts per outbound service call",
			Buckets:   []float64{1, 2, 3, 4, 6, 11},
		}, []string{"service"}),
		serverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "inbound http requests",
		}, []string{"route", "method", "code"}),
		serverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "inbound http request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.attempts, m.serverRequests, m.serverDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

// code 错误时按 HTTP 状态翻译：4xx 取下游状态码，其余归为 error
func code(resp *client.Response, err error) string {
	if err == nil {
		return strconv.Itoa(resp.StatusCode)
	}
	if st, ok := statusOf(err); ok {
		return strconv.Itoa(st)
	}
	return "error"
}

// Interceptor 放在拦截器链外层，记录一次调用（含全部重试）的结果
func (m *ClientMetrics) Interceptor() client.Interceptor {
	return func(ctx context.Context, call *client.Call, next client.Invoker) (*client.Response, error) {
		start := time.Now()
		resp, err := next(ctx, call)
		m.requests.WithLabelValues(call.Service(), call.Method(), code(resp, err)).Inc()
		m.duration.WithLabelValues(call.Service(), call.Method()).Observe(time.Since(start).Seconds())
		if call.Attempt > 0 {
			m.attempts.WithLabelValues(call.Service()).Observe(float64(call.Attempt))
		}
		return resp, err
	}
}

// Middleware 入站请求指标，route 使用注册的路由模板
func (m *ClientMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.serverRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.serverDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics
func (m *ClientMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
