package static

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
)

const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

type Config struct {
	// Mode local 使用 localhost + 宿主机端口，docker 使用服务名 + 容器端口
	Mode        string
	ComposeFile string
	// WorkDir 查找 docker-compose.yml 的起始目录，默认当前目录
	WorkDir  string
	BasePort int
	// Services 按顺序分配端口 BasePort+1, BasePort+2 ...
	Services []string
	URLs     map[string]string
	Ports    map[string]int
	// Getenv 默认 os.Getenv
	Getenv func(string) string
}

// Registry 基于静态配置的服务解析，解析结果进程内缓存
type Registry struct {
	cfg       Config
	compose   map[string]servicePorts
	mu        sync.RWMutex
	cache     map[string]*registry.Endpoint
	overrides map[string]*registry.Endpoint
}

func New(cfg Config) *Registry {
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = strings.ToLower(cfg.Getenv("ENVIRONMENT"))
	}
	if cfg.Mode != ModeLocal {
		cfg.Mode = ModeDocker
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.ComposeFile == "" {
		cfg.ComposeFile = cfg.Getenv("COMPOSE_FILE")
	}

	r := &Registry{
		cfg:       cfg,
		compose:   map[string]servicePorts{},
		cache:     map[string]*registry.Endpoint{},
		overrides: map[string]*registry.Endpoint{},
	}
	ctx := context.Background()
	if path := FindComposeFile(cfg.ComposeFile, cfg.WorkDir); path != "" {
		compose, err := loadCompose(path)
		if err != nil {
			logger.Errorw(ctx, "load services from compose file failed", "file", path, "err", err)
		} else {
			r.compose = compose
			logger.Infow(ctx, "loaded services from compose file", "file", path, "count", len(compose))
		}
	} else {
		logger.Warnw(ctx, "docker-compose.yml not found, using configured services only")
	}
	logger.Infow(ctx, "static registry initialized", "mode", cfg.Mode)
	return r
}

func (r *Registry) Name() string {
	return "static"
}

func (r *Registry) Mode() string {
	return r.cfg.Mode
}

// Resolve 首次解析后缓存，之后同名解析结果不变
func (r *Registry) Resolve(ctx context.Context, serviceName string) (*registry.Endpoint, error) {
	r.mu.RLock()
	if ep, ok := r.overrides[serviceName]; ok {
		r.mu.RUnlock()
		return ep, nil
	}
	if ep, ok := r.cache[serviceName]; ok {
		r.mu.RUnlock()
		return ep, nil
	}
	r.mu.RUnlock()

	ep, ok := r.build(serviceName)
	if !ok {
		logger.Warnw(ctx, "could not resolve service", "service", serviceName)
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[serviceName]; ok {
		return cached, nil
	}
	r.cache[serviceName] = ep
	logger.Debugw(ctx, "resolved service", "service", serviceName, "url", ep.BaseURL)
	return ep, nil
}

// Register 手动覆盖某个服务的地址
func (r *Registry) Register(ctx context.Context, info *registry.ServiceInfo) error {
	if info == nil || info.Name == "" || info.URL == "" {
		return errs.WithCode(errs.New("service name and url are required"), errs.ErrorArgs)
	}
	r.mu.Lock()
	r.overrides[info.Name] = info.Endpoint()
	r.mu.Unlock()
	logger.Infow(ctx, "registered service", "service", info.Name, "url", info.URL)
	return nil
}

func (r *Registry) Unregister(ctx context.Context, serviceName string) error {
	r.mu.Lock()
	_, ok := r.overrides[serviceName]
	delete(r.overrides, serviceName)
	delete(r.cache, serviceName)
	r.mu.Unlock()
	if ok {
		logger.Infow(ctx, "unregistered service", "service", serviceName)
	}
	return nil
}

// List 合并手动注册与配置中已知的所有服务
func (r *Registry) List(ctx context.Context) (map[string]*registry.Endpoint, error) {
	out := map[string]*registry.Endpoint{}
	for _, name := range r.knownServices() {
		if ep, err := r.Resolve(ctx, name); err == nil {
			out[name] = ep
		}
	}
	r.mu.RLock()
	for name, ep := range r.overrides {
		out[name] = ep
	}
	r.mu.RUnlock()
	return out, nil
}

// ClearCache 清空解析缓存，下次 Resolve 重新计算
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.cache = map[string]*registry.Endpoint{}
	r.mu.Unlock()
	logger.Infow(context.Background(), "service cache cleared")
}

func (r *Registry) knownServices() []string {
	set := map[string]struct{}{}
	for name := range r.compose {
		set[name] = struct{}{}
	}
	for name := range r.cfg.URLs {
		set[name] = struct{}{}
	}
	for name := range r.cfg.Ports {
		set[name] = struct{}{}
	}
	for _, name := range r.cfg.Services {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) build(serviceName string) (*registry.Endpoint, bool) {
	if serviceName == "" {
		return nil, false
	}
	envName := EnvName(serviceName)
	if u := r.cfg.Getenv(envName + "_URL"); u != "" {
		return r.explicit(serviceName, u), true
	}
	if u, ok := r.cfg.URLs[serviceName]; ok && u != "" {
		return r.explicit(serviceName, u), true
	}
	port, ok := r.port(serviceName, envName)
	if !ok {
		return nil, false
	}
	host := serviceName
	if r.cfg.Mode == ModeLocal {
		host = "localhost"
	}
	return &registry.Endpoint{
		Service:  serviceName,
		BaseURL:  fmt.Sprintf("http://%s:%d", host, port),
		IsLocal:  r.cfg.Mode == ModeLocal,
		Metadata: map[string]string{"mode": r.cfg.Mode},
	}, true
}

func (r *Registry) explicit(serviceName, u string) *registry.Endpoint {
	return &registry.Endpoint{
		Service:  serviceName,
		BaseURL:  strings.TrimRight(u, "/"),
		IsLocal:  r.cfg.Mode == ModeLocal || registry.IsLocalURL(u),
		Metadata: map[string]string{"mode": r.cfg.Mode},
	}
}

func (r *Registry) port(serviceName, envName string) (int, bool) {
	if raw := r.cfg.Getenv(envName + "_PORT"); raw != "" {
		if p, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && p > 0 {
			return p, true
		}
		logger.Warnw(context.Background(), "invalid port in env", "env", envName+"_PORT", "value", raw)
	}
	if p, ok := r.compose[serviceName]; ok {
		if r.cfg.Mode == ModeLocal {
			return p.Host, true
		}
		return p.Container, true
	}
	if p, ok := r.cfg.Ports[serviceName]; ok && p > 0 {
		return p, true
	}
	for i, name := range r.cfg.Services {
		if name == serviceName {
			return r.cfg.BasePort + i + 1, true
		}
	}
	return 0, false
}

// EnvName user-service -> USER_SERVICE
func EnvName(serviceName string) string {
	return strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_"))
}
