package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/code-sigs/svcbox/internal/handler"
	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/health"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/trace"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/metadata"
)

const shutdownTimeout = 5 * time.Second

// Info 服务自身信息，/health 与 /info 返回
type Info struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type routeEntry struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

type Router struct {
	info        Info
	proxyHeader []string
	middlewares []gin.HandlerFunc // 用户自定义中间件
	routes      []routeEntry
	group       []*RouterGroup

	healthPath string
	checker    *health.Checker
	metrics    http.Handler
	debug      bool

	once   sync.Once
	engine *gin.Engine
}

type RouterGroup struct {
	name     string
	handlers []gin.HandlerFunc
	routes   []routeEntry
	injector handler.ContextInjector
}

type Option func(*Router)

func WithInfo(info Info) Option {
	return func(r *Router) { r.info = info }
}

// WithHealthChecker 注册 /services，汇总其它服务的健康状态
func WithHealthChecker(c *health.Checker) Option {
	return func(r *Router) { r.checker = c }
}

func WithHealthPath(path string) Option {
	return func(r *Router) {
		if path != "" {
			r.healthPath = path
		}
	}
}

// WithMetricsHandler 注册 /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(r *Router) { r.metrics = h }
}

func WithDebug(debug bool) Option {
	return func(r *Router) { r.debug = debug }
}

func New(opts ...Option) *Router {
	r := &Router{healthPath: health.DefaultPath}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithHeader 设置需要代理到 gRPC metadata 的 header
func (r *Router) WithHeader(header ...string) *Router {
	r.proxyHeader = append(r.proxyHeader, header...)
	return r
}

// Use 添加用户自定义 gin 中间件
func (r *Router) Use(mw ...gin.HandlerFunc) *Router {
	r.middlewares = append(r.middlewares, mw...)
	return r
}

func (r *Router) Info() Info {
	return r.info
}

// Injector handler 上下文：traceID、入站 token、gRPC outgoing metadata
func (r *Router) Injector() handler.ContextInjector {
	return r.injector
}

func (r *Router) injector(c *gin.Context, ctx context.Context) context.Context {
	ctx = handler.DefaultContextInjector(c, ctx)
	token, hasToken := auth.FromRequest(c.Request)
	if hasToken {
		ctx = auth.WithToken(ctx, token)
	}

	md := metadata.New(nil)
	md.Set("clientip", c.ClientIP())
	md.Set(strings.ToLower(trace.HeaderTraceID), trace.GetTraceID(ctx))
	if hasToken {
		md.Set("authorization", auth.BearerHeader(token))
	}
	for _, key := range r.proxyHeader {
		if val := c.GetHeader(key); val != "" {
			md.Append(strings.ToLower(key), val)
		}
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (r *Router) Group(name string, handlers ...gin.HandlerFunc) *RouterGroup {
	group := &RouterGroup{
		name:     name,
		handlers: handlers,
		injector: r.injector,
	}
	r.group = append(r.group, group)
	return group
}

func (r *Router) Handle(method, path string, handlers ...gin.HandlerFunc) {
	r.routes = append(r.routes, routeEntry{method: method, path: path, handlers: handlers})
}

func (r *Router) GET(path string, handlers ...gin.HandlerFunc)    { r.Handle(http.MethodGet, path, handlers...) }
func (r *Router) POST(path string, handlers ...gin.HandlerFunc)   { r.Handle(http.MethodPost, path, handlers...) }
func (r *Router) PUT(path string, handlers ...gin.HandlerFunc)    { r.Handle(http.MethodPut, path, handlers...) }
func (r *Router) PATCH(path string, handlers ...gin.HandlerFunc)  { r.Handle(http.MethodPatch, path, handlers...) }
func (r *Router) DELETE(path string, handlers ...gin.HandlerFunc) { r.Handle(http.MethodDelete, path, handlers...) }

func (g *RouterGroup) Handle(method, path string, handlers ...gin.HandlerFunc) {
	g.routes = append(g.routes, routeEntry{method: method, path: path, handlers: handlers})
}

func (g *RouterGroup) GET(path string, handlers ...gin.HandlerFunc)    { g.Handle(http.MethodGet, path, handlers...) }
func (g *RouterGroup) POST(path string, handlers ...gin.HandlerFunc)   { g.Handle(http.MethodPost, path, handlers...) }
func (g *RouterGroup) PUT(path string, handlers ...gin.HandlerFunc)    { g.Handle(http.MethodPut, path, handlers...) }
func (g *RouterGroup) PATCH(path string, handlers ...gin.HandlerFunc)  { g.Handle(http.MethodPatch, path, handlers...) }
func (g *RouterGroup) DELETE(path string, handlers ...gin.HandlerFunc) { g.Handle(http.MethodDelete, path, handlers...) }

// Injector 与所属 Router 相同
func (g *RouterGroup) Injector() handler.ContextInjector {
	return g.injector
}

// Typed 把 func(ctx, *Req) (*Resp, error) 包装成使用 Router 注入器的 gin handler
func Typed[Req any, Resp any](r interface{ Injector() handler.ContextInjector }, fn func(ctx context.Context, req *Req) (*Resp, error)) gin.HandlerFunc {
	return handler.Typed(fn, r.Injector())
}

// RegisterRPCClient 将 gRPC 客户端方法暴露为 POST 接口，CallOption 等额外参数填零值
// 签名不符合 func(context.Context, *T, ...) (R, error) 时 panic
func (g *RouterGroup) RegisterRPCClient(path string, grpcFunc any, handlers ...gin.HandlerFunc) {
	fnVal := reflect.ValueOf(grpcFunc)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func ||
		fnType.NumIn() < 2 ||
		fnType.NumOut() != 2 ||
		!fnType.In(0).Implements(reflect.TypeOf((*context.Context)(nil)).Elem()) ||
		!fnType.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		panic(fmt.Sprintf("router: %s: grpcFunc must be func(context.Context, *T, ...any) (any, error), got %v", path, fnType))
	}

	// 收窄为两个参数的函数交给 GenericGRPCHandler
	narrowed := reflect.FuncOf(
		[]reflect.Type{fnType.In(0), fnType.In(1)},
		[]reflect.Type{fnType.Out(0), fnType.Out(1)},
		false,
	)
	typed := reflect.MakeFunc(narrowed, func(args []reflect.Value) []reflect.Value {
		if fnType.IsVariadic() {
			last := fnType.NumIn() - 1
			for i := 2; i < last; i++ {
				args = append(args, reflect.Zero(fnType.In(i)))
			}
			return fnVal.Call(args)
		}
		for i := 2; i < fnType.NumIn(); i++ {
			args = append(args, reflect.Zero(fnType.In(i)))
		}
		return fnVal.Call(args)
	})
	g.Handle(http.MethodPost, path, append(handlers, handler.GenericGRPCHandler(typed.Interface(), g.injector))...)
}

// Engine 首次调用时构建 gin.Engine，之后注册的路由不再生效
func (r *Router) Engine() *gin.Engine {
	r.once.Do(r.build)
	return r.engine
}

func (r *Router) Handler() http.Handler {
	return r.Engine()
}

func (r *Router) build() {
	if !r.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		cors.New(cors.Config{
			AllowOrigins:     []string{"*"}, // 如果 AllowCredentials: true，请指定域名
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
			AllowHeaders:     []string{"*"},
			ExposeHeaders:    []string{trace.HeaderTraceID},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
		requestLogger(),
		auth.Middleware(),
	)
	for _, mw := range r.middlewares {
		engine.Use(mw)
	}

	r.registerDefaults(engine)
	for _, route := range r.routes {
		engine.Handle(route.method, route.path, route.handlers...)
	}
	for _, group := range r.group {
		groupEngine := engine.Group(group.name, group.handlers...)
		for _, route := range group.routes {
			groupEngine.Handle(route.method, route.path, route.handlers...)
		}
	}
	r.engine = engine
}

// requestLogger 请求日志，traceID 由 handler 上下文写入响应头
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, traceID := trace.Ensure(trace.WithTraceID(c.Request.Context(), c.GetHeader(trace.HeaderTraceID)))
		if c.GetHeader(trace.HeaderTraceID) == "" {
			c.Request.Header.Set(trace.HeaderTraceID, traceID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		logger.Infow(ctx, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"clientIP", c.ClientIP(),
		)
	}
}

func (r *Router) registerDefaults(engine *gin.Engine) {
	engine.GET(r.healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  health.StatusHealthy,
			"service": r.info.Service,
			"version": r.info.Version,
		})
	})
	engine.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.info)
	})
	if r.checker != nil {
		engine.GET("/services", func(c *gin.Context) {
			statuses, err := r.checker.CheckAll(c.Request.Context(), r.info.Service)
			if err != nil {
				handler.WriteError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"service": r.info.Service, "services": statuses})
		})
	}
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.metrics))
	}
}

// Serve 监听 addr，ctx 结束后在 5s 内优雅关闭
func (r *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: r.Engine(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infow(ctx, "http server listening", "addr", addr, "service", r.info.Service)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Infow(shutdownCtx, "http server shutting down", "addr", addr)
	return srv.Shutdown(shutdownCtx)
}

// Run 启动服务，收到 SIGINT/SIGTERM 后执行 shutdown 并优雅关闭
func (r *Router) Run(addr string, beforeRun func(g *gin.Engine), shutdown func()) error {
	if beforeRun != nil {
		beforeRun(r.Engine())
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err := r.Serve(ctx, addr)
	if shutdown != nil {
		shutdown()
	}
	return err
}
