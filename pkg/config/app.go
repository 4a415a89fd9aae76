package config

import (
	"strings"
	"time"
)

type GrpcConfig struct {
	Host string `mapstructure:"host"`
	Port int32  `mapstructure:"port"`
	// Register 非空时以该名称把 grpc 地址写入注册中心
	Register string `mapstructure:"register"`
}

type HttpConfig struct {
	Host string `mapstructure:"host"`
	Port int32  `mapstructure:"port"`
}

// AppConfig 一个服务进程的全部配置，启动时读取一次
type AppConfig struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Http      HttpConfig      `mapstructure:"http"`
	Grpc      GrpcConfig      `mapstructure:"grpc"`
	Client    ClientConfig    `mapstructure:"client"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Health    HealthConfig    `mapstructure:"health"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Description string `mapstructure:"description"`
}

// ClientConfig 时间单位均为秒，兼容 SERVICE_CLIENT_TIMEOUT=5 这类写法
type ClientConfig struct {
	Timeout            float64 `mapstructure:"timeout"`
	MaxRetries         int     `mapstructure:"maxRetries"`
	RetryDelay         float64 `mapstructure:"retryDelay"`
	MaxDelay           float64 `mapstructure:"maxDelay"`
	RetryNonIdempotent bool    `mapstructure:"retryNonIdempotent"`
}

func (c ClientConfig) TimeoutDuration() time.Duration    { return seconds(c.Timeout) }
func (c ClientConfig) RetryDelayDuration() time.Duration { return seconds(c.RetryDelay) }
func (c ClientConfig) MaxDelayDuration() time.Duration   { return seconds(c.MaxDelay) }

type DiscoveryConfig struct {
	Type        string            `mapstructure:"type"`        // static | memory | etcd | zookeeper
	Environment string            `mapstructure:"environment"` // local | docker
	ComposeFile string            `mapstructure:"composeFile"`
	BasePort    int               `mapstructure:"basePort"`
	Services    []string          `mapstructure:"services"`
	URLs        map[string]string `mapstructure:"urls"`
	Ports       map[string]int    `mapstructure:"ports"`
	Etcd        EtcdConfig        `mapstructure:"etcd"`
	Zookeeper   ZkConfig          `mapstructure:"zookeeper"`
}

type EtcdConfig struct {
	RootDirectory string   `mapstructure:"rootDirectory"`
	Address       []string `mapstructure:"address"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	DialTimeout   float64  `mapstructure:"dialTimeout"`
}

type ZkConfig struct {
	Servers  []string `mapstructure:"servers"`
	RootPath string   `mapstructure:"rootPath"`
	Timeout  float64  `mapstructure:"timeout"`
}

type AuthConfig struct {
	SecretKey                string `mapstructure:"secretKey"`
	Algorithm                string `mapstructure:"algorithm"`
	Issuer                   string `mapstructure:"issuer"`
	AccessTokenExpireMinutes int    `mapstructure:"accessTokenExpireMinutes"`
	RefreshTokenExpireDays   int    `mapstructure:"refreshTokenExpireDays"`
	// ServiceURL 非空时通过 auth-service 校验 token，否则本地校验 JWT
	ServiceURL string `mapstructure:"serviceUrl"`
}

// DefaultSecretKey 未设置 JWT_SECRET_KEY 时的默认密钥，仅用于开发环境
const DefaultSecretKey = "your-super-secret-jwt-key-change-in-production"

// UsesDefaultSecret 是否仍在使用公开的默认密钥
func (c AuthConfig) UsesDefaultSecret() bool {
	return c.SecretKey == DefaultSecretKey
}

func (c AuthConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

func (c AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// RedisConfig 为空表示不启用缓存
type RedisConfig struct {
	URL          string   `mapstructure:"url"`
	Address      []string `mapstructure:"address"` // 多个地址时使用集群模式
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"poolSize"`
	MinIdleConns int      `mapstructure:"minIdleConns"`
	ReadTimeout  int64    `mapstructure:"readTimeout"`
	WriteTimeout int64    `mapstructure:"writeTimeout"`
	TTL          int      `mapstructure:"ttl"` // 默认缓存时间(秒)
	Prefix       string   `mapstructure:"prefix"`
}

func (c RedisConfig) Enabled() bool {
	return c.URL != "" || len(c.Address) > 0
}

type LogConfig struct {
	Dir    string `mapstructure:"dir"`
	Level  string `mapstructure:"level"`
	MaxAge int    `mapstructure:"maxAge"`
	Stdout bool   `mapstructure:"stdout"`
}

type HealthConfig struct {
	Path        string  `mapstructure:"path"`
	Timeout     float64 `mapstructure:"timeout"`
	Concurrency int     `mapstructure:"concurrency"`
}

func (c HealthConfig) TimeoutDuration() time.Duration { return seconds(c.Timeout) }

// Defaults 与原有环境变量默认值保持一致
func Defaults() map[string]any {
	return map[string]any{
		"service.name":        "svcbox-service",
		"service.version":     "1.0.0",
		"service.description": "",
		"http.host":           "0.0.0.0",
		"http.port":           8000,
		"grpc.host":           "0.0.0.0",
		"grpc.port":           0,
		"grpc.register":       "",

		"client.timeout":            5.0,
		"client.maxRetries":         3,
		"client.retryDelay":         1.0,
		"client.maxDelay":           0.0,
		"client.retryNonIdempotent": false,

		"discovery.type":                  "static",
		"discovery.environment":           "docker",
		"discovery.composeFile":           "",
		"discovery.basePort":              8000,
		"discovery.etcd.rootDirectory":    "/svcbox/services",
		"discovery.etcd.dialTimeout":      5.0,
		"discovery.zookeeper.rootPath":    "/svcbox/services",
		"discovery.zookeeper.timeout":     5.0,
		"auth.secretKey":                  DefaultSecretKey,
		"auth.algorithm":                  "HS256",
		"auth.issuer":                     "auth-service",
		"auth.accessTokenExpireMinutes":   15,
		"auth.refreshTokenExpireDays":     7,
		"auth.serviceUrl":                 "",
		"redis.url":                       "",
		"redis.db":                        0,
		"redis.poolSize":                  10,
		"redis.ttl":                       300,
		"redis.prefix":                    "svcbox",
		"log.dir":                         "",
		"log.level":                       "info",
		"log.maxAge":                      7,
		"log.stdout":                      true,
		"health.path":                     "/health",
		"health.timeout":                  2.0,
		"health.concurrency":              8,
	}
}

// LegacyEnv 兼容不带前缀的环境变量
func LegacyEnv() map[string][]string {
	return map[string][]string{
		"service.name":                  {"SERVICE_NAME"},
		"http.port":                     {"PORT"},
		"client.timeout":                {"SERVICE_CLIENT_TIMEOUT"},
		"client.maxRetries":             {"SERVICE_CLIENT_MAX_RETRIES"},
		"client.retryDelay":             {"SERVICE_CLIENT_RETRY_DELAY"},
		"discovery.environment":         {"ENVIRONMENT"},
		"discovery.composeFile":         {"COMPOSE_FILE"},
		"auth.secretKey":                {"JWT_SECRET_KEY"},
		"auth.algorithm":                {"JWT_ALGORITHM"},
		"auth.issuer":                   {"JWT_ISSUER"},
		"auth.accessTokenExpireMinutes": {"JWT_ACCESS_TOKEN_EXPIRE_MINUTES"},
		"auth.refreshTokenExpireDays":   {"JWT_REFRESH_TOKEN_EXPIRE_DAYS"},
		"auth.serviceUrl":               {"AUTH_SERVICE_URL"},
		"redis.url":                     {"REDIS_URL"},
		"log.level":                     {"LOG_LEVEL"},
	}
}

func (c *AppConfig) normalize() {
	c.Discovery.Environment = strings.ToLower(strings.TrimSpace(c.Discovery.Environment))
	if c.Discovery.Environment != "local" {
		c.Discovery.Environment = "docker"
	}
	c.Discovery.Type = strings.ToLower(strings.TrimSpace(c.Discovery.Type))
	if c.Client.MaxRetries < 0 {
		c.Client.MaxRetries = 0
	}
	// maxDelay <= 0 不设上限，显式设置且小于 retryDelay 时由 retry.Policy 按 retryDelay 处理
	if c.Client.MaxDelay < 0 {
		c.Client.MaxDelay = 0
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
