package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/code-sigs/svcbox/pkg/errs"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
)

type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]*registry.ServiceInfo
	watchers map[string][]chan *registry.Endpoint
}

func NewMemoryRegistry(infos ...*registry.ServiceInfo) *MemoryRegistry {
	m := &MemoryRegistry{
		services: make(map[string]*registry.ServiceInfo),
		watchers: make(map[string][]chan *registry.Endpoint),
	}
	for _, info := range infos {
		m.services[info.Name] = info
	}
	return m
}

// FromURLs 以 服务名 -> URL 构造
func FromURLs(urls map[string]string) *MemoryRegistry {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	infos := make([]*registry.ServiceInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, &registry.ServiceInfo{Name: name, URL: urls[name]})
	}
	return NewMemoryRegistry(infos...)
}

func (m *MemoryRegistry) Resolve(ctx context.Context, serviceName string) (*registry.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.services[serviceName]
	if !ok {
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}
	return info.Endpoint(), nil
}

func (m *MemoryRegistry) Register(ctx context.Context, info *registry.ServiceInfo) error {
	if info == nil || info.Name == "" || info.URL == "" {
		return errs.WithCode(errs.New("service name and url are required"), errs.ErrorArgs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[info.Name] = info
	m.notifyWatchers(info.Name)
	return nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, serviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[serviceName]; !ok {
		return nil
	}
	delete(m.services, serviceName)
	m.notifyWatchers(serviceName)
	return nil
}

func (m *MemoryRegistry) List(ctx context.Context) (map[string]*registry.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*registry.Endpoint, len(m.services))
	for name, info := range m.services {
		out[name] = info.Endpoint()
	}
	return out, nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, serviceName string) (<-chan *registry.Endpoint, error) {
	ch := make(chan *registry.Endpoint, 1)
	m.mu.Lock()
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	current := m.endpoint(serviceName)
	m.mu.Unlock()

	// 首次推送当前状态
	ch <- current

	// 监听 context 关闭，自动移除 watcher
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[serviceName]
		for i, w := range watchers {
			if w == ch {
				m.watchers[serviceName] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryRegistry) Name() string {
	return "memory"
}

func (m *MemoryRegistry) endpoint(serviceName string) *registry.Endpoint {
	if info, ok := m.services[serviceName]; ok {
		return info.Endpoint()
	}
	return nil
}

func (m *MemoryRegistry) notifyWatchers(serviceName string) {
	ep := m.endpoint(serviceName)
	for _, ch := range m.watchers[serviceName] {
		// 丢弃旧值，保证 watcher 拿到最新状态
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ep:
		default:
		}
	}
}
