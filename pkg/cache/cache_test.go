package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/client"
	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/registry/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("store down")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func newCachedClient(t *testing.T, store Store, status int) (*client.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"user":"`+r.Header.Get("Authorization")+`"}`)
	}))
	t.Cleanup(srv.Close)
	c := client.New(memory.FromURLs(map[string]string{"user-service": srv.URL}),
		client.WithMaxRetries(0),
		client.WithInterceptors(Interceptor(store, WithTTL(time.Minute), WithPrefix("test"))),
	)
	return c, &calls
}

func TestInterceptor_CachesGet(t *testing.T) {
	store := newMemStore()
	c, calls := newCachedClient(t, store, http.StatusOK)
	ctx := context.Background()

	first, err := c.Get(ctx, "user-service", "/users/1", nil)
	require.NoError(t, err)
	second, err := c.Get(ctx, "user-service", "/users/1", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, "HIT", second.Header.Get(HeaderCache))
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Minute, ttl)
	}

	_, err = c.Get(ctx, "user-service", "/users/2", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInterceptor_HealthCheckNotCached(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	}))
	t.Cleanup(srv.Close)
	store := newMemStore()
	c := client.New(memory.FromURLs(map[string]string{"order-service": srv.URL}),
		client.WithInterceptors(Interceptor(store)),
	)
	ctx := context.Background()

	assert.True(t, c.HealthCheck(ctx, "order-service"))
	status.Store(http.StatusInternalServerError)
	assert.False(t, c.HealthCheck(ctx, "order-service"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, store.len())
}

func TestInterceptor_PerUserIsolation(t *testing.T) {
	store := newMemStore()
	c, calls := newCachedClient(t, store, http.StatusOK)

	alice, err := c.Get(auth.WithToken(context.Background(), "alice"), "user-service", "/me", nil)
	require.NoError(t, err)
	bob, err := c.Get(auth.WithToken(context.Background(), "bob"), "user-service", "/me", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, alice.String(), "alice")
	assert.Contains(t, bob.String(), "bob")
}

func TestInterceptor_Bypass(t *testing.T) {
	store := newMemStore()
	c, calls := newCachedClient(t, store, http.StatusOK)
	ctx := context.Background()

	h := http.Header{}
	h.Set("Cache-Control", "no-cache")
	_, err := c.Get(ctx, "user-service", "/users/1", h)
	require.NoError(t, err)
	_, err = c.Get(ctx, "user-service", "/users/1", h)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, store.len())

	_, err = c.Post(ctx, "user-service", "/users", map[string]string{"name": "x"}, nil)
	require.NoError(t, err)
	assert.Zero(t, store.len())
}

func TestInterceptor_SkipsErrors(t *testing.T) {
	store := newMemStore()
	c, calls := newCachedClient(t, store, http.StatusNotFound)

	_, err := c.Get(context.Background(), "user-service", "/users/404", nil)
	assert.True(t, errs.IsClientRequest(err))
	_, _ = c.Get(context.Background(), "user-service", "/users/404", nil)
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, store.len())
}

func TestInterceptor_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.fail = true
	c, calls := newCachedClient(t, store, http.StatusOK)

	resp, err := c.Get(context.Background(), "user-service", "/users/1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c, calls := newCachedClient(t, store, http.StatusOK)
	ctx := context.Background()

	_, _ = c.Get(ctx, "user-service", "/users/1", nil)
	_, _ = c.Get(ctx, "user-service", "/users/2", nil)
	require.NoError(t, store.Set(ctx, "test:other", []byte("x"), 0))

	n, err := Invalidate(ctx, store, ServicePattern("test", "user-service"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.len())

	_, _ = c.Get(ctx, "user-service", "/users/1", nil)
	assert.Equal(t, int32(3), calls.Load())
}

type profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestRemember(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	var loads atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (*profile, error) {
		loads.Add(1)
		<-release
		return &profile{ID: 1, Name: "ana"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*profile, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := Remember(ctx, store, "profile:1", time.Minute, loader)
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, "ana", p.Name)
	}

	p, err := Remember(ctx, store, "profile:1", time.Minute, func(ctx context.Context) (*profile, error) {
		t.Fatal("loader should not run on hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)
}

func TestRemember_NilAndError(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	p, err := Remember(ctx, store, "profile:missing", time.Minute, func(ctx context.Context) (*profile, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, store.len())

	_, err = Remember(ctx, store, "profile:err", time.Minute, func(ctx context.Context) (*profile, error) {
		return nil, errors.New("db down")
	})
	assert.EqualError(t, err, "db down")
	assert.Zero(t, store.len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "svcbox:user:1", Key("svcbox", "user", "", "1"))
	assert.Equal(t, "user", Key("", "user"))
	assert.Equal(t, "svcbox:http:user-service:*", ServicePattern("svcbox", "user-service"))

	a := ParamsKey("svcbox", "search", map[string]any{"q": "go", "page": 2})
	b := ParamsKey("svcbox", "search", map[string]any{"page": 2, "q": "go"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, responseKey("p", "s", "u", "Bearer a"), responseKey("p", "s", "u", "Bearer b"))
}

func TestNewRedisStore_BadConfig(t *testing.T) {
	_, err := NewRedisStore(context.Background(), config.RedisConfig{})
	assert.Equal(t, errs.ErrorArgs, errs.Code(err))

	_, err = NewRedisStore(context.Background(), config.RedisConfig{URL: "://bad"})
	assert.Equal(t, errs.ErrorArgs, errs.Code(err))
}
