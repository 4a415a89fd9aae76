package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/code-sigs/svcbox/pkg/retry"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultRoot = "/svcbox/services"

var watchRetry = retry.Policy{Delay: time.Second, MaxDelay: 30 * time.Second}

type Option struct {
	Endpoints     []string
	DialTimeout   time.Duration
	Username      string
	Password      string
	RootDirectory string
}

// EtcdRegistry 将 etcd 作为静态服务配置存储，不使用租约与心跳
// key: <root>/<service>，value: ServiceInfo JSON
type EtcdRegistry struct {
	cli     *clientv3.Client
	kv      clientv3.KV
	watcher clientv3.Watcher
	root    string
	cache   map[string]*registry.Endpoint
	cacheMu sync.RWMutex
	// watchRetry watch 断开后的重连间隔
	watchRetry retry.Policy
}

func NewEtcdRegistry(opt Option) (*EtcdRegistry, error) {
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opt.Endpoints,
		DialTimeout: opt.DialTimeout,
		Username:    opt.Username,
		Password:    opt.Password,
	})
	if err != nil {
		return nil, err
	}
	r := newWithKV(cli, cli, opt.RootDirectory)
	r.cli = cli
	return r, nil
}

func newWithKV(kv clientv3.KV, watcher clientv3.Watcher, root string) *EtcdRegistry {
	if root == "" {
		root = DefaultRoot
	}
	return &EtcdRegistry{
		kv:         kv,
		watcher:    watcher,
		root:       strings.TrimRight(root, "/"),
		cache:      make(map[string]*registry.Endpoint),
		watchRetry: watchRetry,
	}
}

func (e *EtcdRegistry) key(serviceName string) string {
	return e.root + "/" + serviceName
}

func (e *EtcdRegistry) Name() string {
	return "etcd"
}

// Resolve 首次从 etcd 读取，之后读本地缓存
func (e *EtcdRegistry) Resolve(ctx context.Context, serviceName string) (*registry.Endpoint, error) {
	e.cacheMu.RLock()
	ep, ok := e.cache[serviceName]
	e.cacheMu.RUnlock()
	if ok {
		return ep, nil
	}

	resp, err := e.kv.Get(ctx, e.key(serviceName))
	if err != nil {
		return nil, errs.Wrap(err, "etcd get "+serviceName)
	}
	if len(resp.Kvs) == 0 {
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}
	var info registry.ServiceInfo
	if err := json.Unmarshal(resp.Kvs[0].Value, &info); err != nil || info.URL == "" {
		logger.Warnw(ctx, "bad service info in etcd", "key", string(resp.Kvs[0].Key), "err", err)
		return nil, &errs.ServiceNotFoundError{Service: serviceName}
	}
	info.Name = serviceName
	ep = info.Endpoint()

	e.cacheMu.Lock()
	if cached, ok := e.cache[serviceName]; ok {
		ep = cached
	} else {
		e.cache[serviceName] = ep
	}
	e.cacheMu.Unlock()
	return ep, nil
}

func (e *EtcdRegistry) Register(ctx context.Context, info *registry.ServiceInfo) error {
	if info == nil || info.Name == "" || info.URL == "" {
		return errs.WithCode(errs.New("service name and url are required"), errs.ErrorArgs)
	}
	valBytes, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := e.kv.Put(ctx, e.key(info.Name), string(valBytes)); err != nil {
		return errs.Wrap(err, "etcd put "+info.Name)
	}
	e.cacheMu.Lock()
	e.cache[info.Name] = info.Endpoint()
	e.cacheMu.Unlock()
	return nil
}

func (e *EtcdRegistry) Unregister(ctx context.Context, serviceName string) error {
	e.cacheMu.Lock()
	delete(e.cache, serviceName)
	e.cacheMu.Unlock()
	if _, err := e.kv.Delete(ctx, e.key(serviceName)); err != nil {
		return errs.Wrap(err, "etcd delete "+serviceName)
	}
	return nil
}

func (e *EtcdRegistry) List(ctx context.Context) (map[string]*registry.Endpoint, error) {
	resp, err := e.kv.Get(ctx, e.root+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(err, "etcd list")
	}
	out := make(map[string]*registry.Endpoint, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info registry.ServiceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil || info.URL == "" {
			continue // ignore bad data
		}
		info.Name = strings.TrimPrefix(string(kv.Key), e.root+"/")
		out[info.Name] = info.Endpoint()
	}
	return out, nil
}

// Watch 监听单个服务配置变化，同时刷新本地缓存
func (e *EtcdRegistry) Watch(ctx context.Context, serviceName string) (<-chan *registry.Endpoint, error) {
	out := make(chan *registry.Endpoint, 1)
	key := e.key(serviceName)

	send := func(ep *registry.Endpoint) {
		e.cacheMu.Lock()
		if ep == nil {
			delete(e.cache, serviceName)
		} else {
			e.cache[serviceName] = ep
		}
		e.cacheMu.Unlock()
		select {
		case out <- ep:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)

		if ep, err := e.Resolve(ctx, serviceName); err == nil {
			send(ep)
		} else {
			send(nil)
		}

		b := e.watchRetry.NewBackOff()
		for {
			if ctx.Err() != nil {
				return
			}
			for watchResp := range e.watcher.Watch(ctx, key) {
				if err := watchResp.Err(); err != nil {
					logger.Warnw(ctx, "etcd watch interrupted", "key", key, "err", err)
					break
				}
				b.Reset()
				for _, ev := range watchResp.Events {
					if ev.Type == clientv3.EventTypeDelete {
						send(nil)
						continue
					}
					var info registry.ServiceInfo
					if err := json.Unmarshal(ev.Kv.Value, &info); err != nil || info.URL == "" {
						continue
					}
					info.Name = serviceName
					send(info.Endpoint())
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.NextBackOff()):
			}
		}
	}()

	return out, nil
}

func (e *EtcdRegistry) Close() error {
	if e.cli != nil {
		return e.cli.Close()
	}
	return nil
}
