package resolver

import (
	"context"
	"sync"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"google.golang.org/grpc/resolver"
)

// Scheme 目标形如 svcbox:///user-service
const Scheme = "svcbox"

type ServiceResolverBuilder struct {
	Registry registry.Registry
}

func NewBuilder(reg registry.Registry) resolver.Builder {
	return &ServiceResolverBuilder{Registry: reg}
}

func (b *ServiceResolverBuilder) Scheme() string {
	return Scheme
}

// Build 立即解析一次；registry 支持 Watch 时跟随变化
func (b *ServiceResolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &serviceResolver{
		cc:       cc,
		registry: b.Registry,
		service:  target.Endpoint(),
		ctx:      ctx,
		cancel:   cancel,
	}

	if w, ok := b.Registry.(registry.Watcher); ok {
		ch, err := w.Watch(ctx, r.service)
		if err == nil {
			r.wg.Add(1)
			go r.watch(ch)
			return r, nil
		}
		logger.Warnw(ctx, "watch service failed, fallback to resolve", "service", r.service, "err", err)
	}
	r.resolve()
	return r, nil
}

type serviceResolver struct {
	cc       resolver.ClientConn
	registry registry.Registry
	service  string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (r *serviceResolver) update(ep *registry.Endpoint) {
	if ep == nil {
		r.cc.ReportError(&errs.ServiceNotFoundError{Service: r.service})
		return
	}
	addr, err := ep.HostPort()
	if err != nil {
		r.cc.ReportError(err)
		return
	}
	if err := r.cc.UpdateState(resolver.State{Addresses: []resolver.Address{{Addr: addr, ServerName: r.service}}}); err != nil {
		logger.Debugw(r.ctx, "resolver update state", "service", r.service, "err", err)
	}
}

func (r *serviceResolver) resolve() {
	ep, err := r.registry.Resolve(r.ctx, r.service)
	if err != nil {
		r.cc.ReportError(err)
		return
	}
	r.update(ep)
}

func (r *serviceResolver) watch(ch <-chan *registry.Endpoint) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ep, ok := <-ch:
			if !ok {
				return
			}
			r.update(ep)
		}
	}
}

// ResolveNow 没有 Watch 时重新解析
func (r *serviceResolver) ResolveNow(resolver.ResolveNowOptions) {
	if _, ok := r.registry.(registry.Watcher); ok {
		return
	}
	r.resolve()
}

func (r *serviceResolver) Close() {
	r.cancel()
	r.wg.Wait()
}
