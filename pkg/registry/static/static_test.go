package static

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/code-sigs/svcbox/pkg/errs"
	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const composeYAML = `
services:
  user-service:
    ports:
      - "8001:8000"
  order-service:
    environment:
      PORT: "8002"
  payment-service:
    environment:
      - DEBUG=1
      - PORT=8003
  gateway:
    ports:
      - "127.0.0.1:9080:80/tcp"
  notification-service:
    ports:
      - target: 7000
        published: 7001
  postgres:
    image: postgres:16
`

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeCompose(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(composeYAML), 0o644))
	return dir
}

func TestResolve_ComposeLocal(t *testing.T) {
	dir := writeCompose(t)
	reg := New(Config{Mode: "LOCAL", WorkDir: dir, Getenv: envFrom(nil)})
	ctx := context.Background()

	cases := map[string]string{
		"user-service":         "http://localhost:8001",
		"order-service":        "http://localhost:8002",
		"payment-service":      "http://localhost:8003",
		"gateway":              "http://localhost:9080",
		"notification-service": "http://localhost:7001",
	}
	for name, want := range cases {
		ep, err := reg.Resolve(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, ep.BaseURL, name)
		assert.True(t, ep.IsLocal)
	}

	_, err := reg.Resolve(ctx, "postgres")
	assert.True(t, errs.IsServiceNotFound(err))
}

func TestResolve_ComposeDocker(t *testing.T) {
	dir := writeCompose(t)
	reg := New(Config{WorkDir: dir, Getenv: envFrom(nil)})
	assert.Equal(t, ModeDocker, reg.Mode())

	ep, err := reg.Resolve(context.Background(), "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://user-service:8000", ep.BaseURL)
	assert.False(t, ep.IsLocal)
}

func TestResolve_ComposeFromSubdirectory(t *testing.T) {
	dir := writeCompose(t)
	sub := filepath.Join(dir, "services", "user")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	reg := New(Config{Mode: ModeLocal, WorkDir: sub, Getenv: envFrom(nil)})
	ep, err := reg.Resolve(context.Background(), "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", ep.BaseURL)
}

func TestResolve_EnvOverrides(t *testing.T) {
	dir := writeCompose(t)
	env := map[string]string{
		"ENVIRONMENT":        "local",
		"USER_SERVICE_URL":   "http://users.internal:9000/",
		"ORDER_SERVICE_PORT": "9500",
		"BAD_SERVICE_PORT":   "abc",
	}
	reg := New(Config{WorkDir: dir, Getenv: envFrom(env)})
	ctx := context.Background()

	ep, err := reg.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://users.internal:9000", ep.BaseURL)
	assert.True(t, ep.IsLocal)

	ep, err = reg.Resolve(ctx, "order-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9500", ep.BaseURL)

	_, err = reg.Resolve(ctx, "bad-service")
	assert.True(t, errs.IsServiceNotFound(err))
}

func TestResolve_ConfigSources(t *testing.T) {
	reg := New(Config{
		Mode:     ModeDocker,
		WorkDir:  t.TempDir(),
		BasePort: 8000,
		Services: []string{"auth-service", "user-service"},
		URLs:     map[string]string{"billing": "http://127.0.0.1:7000"},
		Ports:    map[string]int{"search-service": 9200},
		Getenv:   envFrom(nil),
	})
	ctx := context.Background()

	ep, err := reg.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://user-service:8002", ep.BaseURL)

	ep, err = reg.Resolve(ctx, "search-service")
	require.NoError(t, err)
	assert.Equal(t, "http://search-service:9200", ep.BaseURL)

	ep, err = reg.Resolve(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7000", ep.BaseURL)
	assert.True(t, ep.IsLocal)

	// 服务名不做归一化
	_, err = reg.Resolve(ctx, "user_service")
	assert.True(t, errs.IsServiceNotFound(err))

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestResolve_Deterministic(t *testing.T) {
	env := map[string]string{"USER_SERVICE_PORT": "8001"}
	var mu sync.Mutex
	getenv := func(k string) string {
		mu.Lock()
		defer mu.Unlock()
		return env[k]
	}
	reg := New(Config{Mode: ModeLocal, WorkDir: t.TempDir(), Getenv: getenv})
	ctx := context.Background()

	first, err := reg.Resolve(ctx, "user-service")
	require.NoError(t, err)

	// 首次解析后环境变化不影响结果
	mu.Lock()
	env["USER_SERVICE_PORT"] = "9999"
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep, err := reg.Resolve(ctx, "user-service")
			assert.NoError(t, err)
			assert.Equal(t, first.BaseURL, ep.BaseURL)
		}()
	}
	wg.Wait()

	reg.ClearCache()
	ep, err := reg.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", ep.BaseURL)
}

func TestRegisterUnregister(t *testing.T) {
	reg := New(Config{Mode: ModeLocal, WorkDir: t.TempDir(), Getenv: envFrom(nil)})
	ctx := context.Background()

	_, err := reg.Resolve(ctx, "user-service")
	require.True(t, errs.IsServiceNotFound(err))

	require.NoError(t, reg.Register(ctx, &registry.ServiceInfo{Name: "user-service", URL: "http://localhost:8001"}))
	ep, err := reg.Resolve(ctx, "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", ep.BaseURL)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "user-service")

	require.NoError(t, reg.Unregister(ctx, "user-service"))
	_, err = reg.Resolve(ctx, "user-service")
	assert.True(t, errs.IsServiceNotFound(err))

	assert.Error(t, reg.Register(ctx, &registry.ServiceInfo{Name: "x"}))
}

func TestParsePortString(t *testing.T) {
	p, ok := parsePortString("8001:8000")
	require.True(t, ok)
	assert.Equal(t, servicePorts{Host: 8001, Container: 8000}, p)

	p, ok = parsePortString("'5432'")
	require.True(t, ok)
	assert.Equal(t, servicePorts{Host: 5432, Container: 5432}, p)

	_, ok = parsePortString("abc")
	assert.False(t, ok)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "USER_SERVICE", EnvName("user-service"))
}

func TestComposeFileExplicit(t *testing.T) {
	dir := writeCompose(t)
	file := filepath.Join(dir, "docker-compose.yml")
	reg := New(Config{Mode: ModeLocal, WorkDir: t.TempDir(), Getenv: envFrom(map[string]string{"COMPOSE_FILE": file})})

	ep, err := reg.Resolve(context.Background(), "user-service")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", ep.BaseURL)
}
