package box

import (
	"context"
	"io"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/cache"
	"github.com/code-sigs/svcbox/pkg/client"
	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/errs"
	boxgrpc "github.com/code-sigs/svcbox/pkg/grpc"
	"github.com/code-sigs/svcbox/pkg/health"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/metrics"
	"github.com/code-sigs/svcbox/pkg/registry"
	"github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/code-sigs/svcbox/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const redisPingTimeout = 3 * time.Second

// Box 启动时构建一次的进程级组件，通过字段暴露，不使用全局变量
type Box struct {
	Config   *config.AppConfig
	Registry registry_interface.Registry
	Client   *client.Client
	Health   *health.Checker
	Metrics  *metrics.ClientMetrics
	// Cache 未配置 redis 且未传入 store 时为 nil
	Cache cache.Store
	// Tokens 未配置 secretKey 时为 nil
	Tokens   *auth.Manager
	Verifier auth.Verifier
	Router   *router.Router
	GRPC     *boxgrpc.GRPC

	grpcServices func(*grpc.Server)
	closers      []func() error
}

type options struct {
	registry     registry_interface.Registry
	store        cache.Store
	registerer   prometheus.Registerer
	interceptors []client.Interceptor
	grpcServices func(*grpc.Server)
}

type Option func(*options)

// WithRegistry 替换按配置创建的注册中心
func WithRegistry(reg registry_interface.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithCacheStore 使用给定的缓存后端，忽略 redis 配置
func WithCacheStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithClientInterceptors(in ...client.Interceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, in...) }
}

// WithGRPCServices grpc.port > 0 时在 Run 中启动 gRPC 服务
func WithGRPCServices(register func(*grpc.Server)) Option {
	return func(o *options) { o.grpcServices = register }
}

func New(cfg *config.AppConfig, opts ...Option) (*Box, error) {
	if cfg == nil {
		return nil, errs.WithCode(errs.New("config is required"), errs.ErrorArgs)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	b := &Box{Config: cfg, grpcServices: o.grpcServices}
	ctx := context.Background()

	if cfg.Log.Dir != "" {
		if err := logger.Init(cfg.Log.Dir,
			logger.WithLogLevel(cfg.Log.Level),
			logger.WithMaxAge(cfg.Log.MaxAge),
			logger.WithStdout(cfg.Log.Stdout),
			logger.WithService(cfg.Service.Name),
		); err != nil {
			return nil, errs.Wrap(err, "init logger")
		}
	}

	b.Registry = o.registry
	if b.Registry == nil {
		reg, err := registry.NewRegistry(registry.OptionFromConfig(cfg.Discovery))
		if err != nil {
			return nil, errs.Wrap(err, "create registry")
		}
		b.Registry = reg
		if c, ok := reg.(io.Closer); ok {
			b.closers = append(b.closers, c.Close)
		}
	}

	registerer := o.registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m, err := metrics.NewClientMetrics(registerer)
	if err != nil {
		b.Close()
		return nil, errs.Wrap(err, "register metrics")
	}
	b.Metrics = m

	interceptors := []client.Interceptor{m.Interceptor()}
	b.Cache = o.store
	if b.Cache == nil && cfg.Redis.Enabled() {
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		store, err := cache.NewRedisStore(pingCtx, cfg.Redis)
		cancel()
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Cache = store
		b.closers = append(b.closers, store.Close)
	}
	if b.Cache != nil {
		interceptors = append(interceptors, cache.Interceptor(b.Cache,
			cache.WithTTL(time.Duration(cfg.Redis.TTL)*time.Second),
			cache.WithPrefix(cfg.Redis.Prefix),
		))
	}
	interceptors = append(interceptors, o.interceptors...)

	clientOpts := append(client.OptionsFromConfig(cfg.Client), client.WithInterceptors(interceptors...))
	b.Client = client.New(b.Registry, clientOpts...)

	if cfg.Auth.SecretKey != "" {
		if cfg.Auth.UsesDefaultSecret() {
			logger.Warnw(ctx, "using the default JWT secret, set JWT_SECRET_KEY in production", "service", cfg.Service.Name)
		}
		b.Tokens = auth.NewManager(auth.JWTConfig{
			SecretKey:  cfg.Auth.SecretKey,
			Issuer:     cfg.Auth.Issuer,
			AccessTTL:  cfg.Auth.AccessTTL(),
			RefreshTTL: cfg.Auth.RefreshTTL(),
		})
		b.Verifier = b.Tokens
	}
	if cfg.Auth.ServiceURL != "" {
		// 配置了认证服务地址时远程校验
		info := &registry_interface.ServiceInfo{Name: client.AuthServiceName, URL: cfg.Auth.ServiceURL}
		if err := b.Registry.Register(ctx, info); err != nil {
			b.Close()
			return nil, errs.Wrap(err, "register auth service")
		}
		b.Verifier = client.NewAuthClient(b.Client, client.AuthServiceName)
	}

	b.Health = health.NewChecker(b.Registry,
		health.WithPath(cfg.Health.Path),
		health.WithTimeout(cfg.Health.TimeoutDuration()),
		health.WithConcurrency(cfg.Health.Concurrency),
	)

	b.Router = router.New(
		router.WithInfo(router.Info{
			Service:     cfg.Service.Name,
			Version:     cfg.Service.Version,
			Description: cfg.Service.Description,
		}),
		router.WithHealthChecker(b.Health),
		router.WithHealthPath(cfg.Health.Path),
		router.WithMetricsHandler(m.Handler()),
		router.WithDebug(cfg.Log.Level == "debug"),
	).Use(m.Middleware())

	b.GRPC = boxgrpc.New(b.Registry)

	logger.Infow(ctx, "svcbox ready",
		"service", cfg.Service.Name,
		"registry", b.Registry.Name(),
		"cache", b.Cache != nil,
		"remoteAuth", cfg.Auth.ServiceURL != "",
	)
	return b, nil
}

func (b *Box) HTTPAddr() string {
	return net.JoinHostPort(b.Config.Http.Host, strconv.Itoa(int(b.Config.Http.Port)))
}

func (b *Box) GRPCAddr() string {
	return net.JoinHostPort(b.Config.Grpc.Host, strconv.Itoa(int(b.Config.Grpc.Port)))
}

// Serve 启动 HTTP 服务，grpc.port > 0 时同时启动 gRPC，ctx 结束后优雅关闭
func (b *Box) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Router.Serve(gctx, b.HTTPAddr())
	})
	if grpcCfg := b.Config.Grpc; grpcCfg.Port > 0 {
		g.Go(func() error {
			if grpcCfg.Register != "" {
				return b.GRPC.ListenAndRegister(gctx, grpcCfg.Register, grpcCfg.Host, int(grpcCfg.Port), b.grpcServices)
			}
			return b.GRPC.Listen(gctx, b.GRPCAddr(), b.grpcServices)
		})
	}
	return g.Wait()
}

// Run 监听 SIGINT/SIGTERM，退出前释放资源
func (b *Box) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer b.Close()
	return b.Serve(ctx)
}

// Close 按创建的逆序释放资源，可重复调用
func (b *Box) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	_ = logger.Sync()
	return first
}
