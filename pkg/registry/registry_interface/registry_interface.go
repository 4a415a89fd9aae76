package registry_interface

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// Registry 将服务名解析为可访问的 base URL
// 未知服务返回 *errs.ServiceNotFoundError
type Registry interface {
	Resolve(ctx context.Context, serviceName string) (*Endpoint, error)
	Register(ctx context.Context, info *ServiceInfo) error
	Unregister(ctx context.Context, serviceName string) error
	List(ctx context.Context) (map[string]*Endpoint, error)
	Name() string
}

// Watcher 可选能力，注册信息变化时推送最新 Endpoint，服务被注销时推送 nil
type Watcher interface {
	Watch(ctx context.Context, serviceName string) (<-chan *Endpoint, error)
}

type ServiceInfo struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Endpoint 一次解析的结果
type Endpoint struct {
	Service  string
	BaseURL  string
	IsLocal  bool
	Metadata map[string]string
}

func (s *ServiceInfo) Endpoint() *Endpoint {
	md := make(map[string]string, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		md[k] = v
	}
	if s.Version != "" {
		md["version"] = s.Version
	}
	return &Endpoint{
		Service:  s.Name,
		BaseURL:  strings.TrimRight(s.URL, "/"),
		IsLocal:  IsLocalURL(s.URL),
		Metadata: md,
	}
}

// URL 拼接 base URL 与请求路径
func (e *Endpoint) URL(path string) string {
	base := strings.TrimRight(e.BaseURL, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// HostPort 返回 host:port，未写端口时按 scheme 补默认端口
func (e *Endpoint) HostPort() (string, error) {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func IsLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
