package zk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/code-sigs/svcbox/pkg/errs"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/go-zookeeper/zk"
)

const DefaultRoot = "/svcbox/services"

// conn zk.Conn 中用到的方法
type conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Delete(path string, version int32) error
	Children(path string) ([]string, *zk.Stat, error)
	Close()
}

// ZkRegistry 以持久节点保存服务配置 <root>/<service>，数据为 ServiceInfo JSON
type ZkRegistry struct {
	conn     conn
	rootPath string
	mu       sync.Mutex
	cache    map[string]*registry.Endpoint
	cacheMu  sync.RWMutex
}

func NewZkRegistry(servers []string, rootPath string, timeout time.Duration) (*ZkRegistry, error) {
	c, _, err := zk.Connect(servers, timeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}
	reg, err := newWithConn(c, rootPath)
	if err != nil {
		c.Close()
		return nil, err
	}
	return reg, nil
}

func newWithConn(c conn, rootPath string) (*ZkRegistry, error) {
	if rootPath == "" {
		rootPath = DefaultRoot
	}
	reg := &ZkRegistry{
		conn:     c,
		rootPath: "/" + strings.Trim(rootPath, "/"),
		cache:    make(map[string]*registry.Endpoint),
	}
	// 初始化根路径（逐级创建）
	if err := reg.ensurePath(reg.rootPath); err != nil {
		return nil, err
	}
	return reg, nil
}

func (z *ZkRegistry) Name() string {
	return "zookeeper"
}

func (z *ZkRegistry) ensurePath(path string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		cur += "/" + part
		exists, _, err := z.conn.Exists(cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := z.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func (z *ZkRegistry) servicePath(service string) string {
	return fmt.Sprintf("%s/%s", z.rootPath, strings.Trim(service, "/"))
}

func (z *ZkRegistry) Resolve(ctx context.Context, serviceName string) (*registry.Endpoint, error) {
	z.cacheMu.RLock()
	ep, ok := z.cache[serviceName]
	z.cacheMu.RUnlock()
	if ok {
		return ep, nil
	}

	data, _, err := z.conn.Get(z.servicePath(serviceName))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}
	if err != nil {
		return nil, errs.Wrap(err, "zk get "+serviceName)
	}
	var info registry.ServiceInfo
	if err := json.Unmarshal(data, &info); err != nil || info.URL == "" {
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}
	info.Name = serviceName
	ep = info.Endpoint()

	z.cacheMu.Lock()
	if cached, ok := z.cache[serviceName]; ok {
		ep = cached
	} else {
		z.cache[serviceName] = ep
	}
	z.cacheMu.Unlock()
	return ep, nil
}

func (z *ZkRegistry) Register(ctx context.Context, info *registry.ServiceInfo) error {
	if info == nil || info.Name == "" || info.URL == "" {
		return errs.WithCode(errs.New("service name and url are required"), errs.ErrorArgs)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	path := z.servicePath(info.Name)

	z.mu.Lock()
	defer z.mu.Unlock()
	exists, _, err := z.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		_, err = z.conn.Set(path, data, -1)
	} else {
		_, err = z.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll))
	}
	if err != nil {
		return errs.Wrap(err, "zk register "+info.Name)
	}

	z.cacheMu.Lock()
	z.cache[info.Name] = info.Endpoint()
	z.cacheMu.Unlock()
	return nil
}

func (z *ZkRegistry) Unregister(ctx context.Context, serviceName string) error {
	z.cacheMu.Lock()
	delete(z.cache, serviceName)
	z.cacheMu.Unlock()
	err := z.conn.Delete(z.servicePath(serviceName), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errs.Wrap(err, "zk unregister "+serviceName)
	}
	return nil
}

func (z *ZkRegistry) List(ctx context.Context) (map[string]*registry.Endpoint, error) {
	children, _, err := z.conn.Children(z.rootPath)
	if err != nil {
		return nil, errs.Wrap(err, "zk list")
	}
	out := make(map[string]*registry.Endpoint, len(children))
	for _, child := range children {
		data, _, err := z.conn.Get(z.servicePath(child))
		if err != nil {
			continue
		}
		var info registry.ServiceInfo
		if err := json.Unmarshal(data, &info); err != nil || info.URL == "" {
			continue
		}
		info.Name = child
		out[child] = info.Endpoint()
	}
	return out, nil
}

func (z *ZkRegistry) Close() error {
	z.conn.Close()
	return nil
}
