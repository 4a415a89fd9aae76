package resolver

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/registry/memory"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/resolver"
)

type fakeClientConn struct {
	resolver.ClientConn
	mu     sync.Mutex
	states []resolver.State
	errs   []error
}

func (f *fakeClientConn) UpdateState(s resolver.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func (f *fakeClientConn) ReportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeClientConn) lastAddr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return ""
	}
	return f.states[len(f.states)-1].Addresses[0].Addr
}

func (f *fakeClientConn) errCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func target(service string) resolver.Target {
	return resolver.Target{URL: url.URL{Scheme: Scheme, Path: "/" + service}}
}

// staticOnly 屏蔽 Watch，走 Resolve 路径
type staticOnly struct {
	registry.Registry
}

func TestResolver_Static(t *testing.T) {
	reg := memory.FromURLs(map[string]string{"user-rpc": "grpc://10.0.0.1:9000"})
	b := NewBuilder(staticOnly{reg})
	assert.Equal(t, "svcbox", b.Scheme())

	cc := &fakeClientConn{}
	r, err := b.Build(target("user-rpc"), cc, resolver.BuildOptions{})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "10.0.0.1:9000", cc.lastAddr())

	require.NoError(t, reg.Register(context.Background(), &registry.ServiceInfo{Name: "user-rpc", URL: "grpc://10.0.0.2:9000"}))
	r.ResolveNow(resolver.ResolveNowOptions{})
	assert.Equal(t, "10.0.0.2:9000", cc.lastAddr())

	missing := &fakeClientConn{}
	r2, err := b.Build(target("missing"), missing, resolver.BuildOptions{})
	require.NoError(t, err)
	defer r2.Close()
	require.Equal(t, 1, missing.errCount())
	assert.True(t, errs.IsServiceNotFound(missing.errs[0]))
}

func TestResolver_Watch(t *testing.T) {
	reg := memory.FromURLs(map[string]string{"user-rpc": "http://user-rpc"})
	cc := &fakeClientConn{}
	r, err := NewBuilder(reg).Build(target("user-rpc"), cc, resolver.BuildOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return cc.lastAddr() == "user-rpc:80" }, time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Register(context.Background(), &registry.ServiceInfo{Name: "user-rpc", URL: "http://user-rpc:9001"}))
	assert.Eventually(t, func() bool { return cc.lastAddr() == "user-rpc:9001" }, time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Unregister(context.Background(), "user-rpc"))
	assert.Eventually(t, func() bool { return cc.errCount() == 1 }, time.Second, 10*time.Millisecond)

	r.Close()
}
