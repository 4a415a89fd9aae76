// config.go
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix 环境变量前缀，如 SVCBOX_CLIENT_TIMEOUT
const DefaultEnvPrefix = "svcbox"

type LoadOption func(*loadOptions)

type loadOptions struct {
	defaults    map[string]any
	envBindings map[string][]string
}

// WithDefaults 设置默认值，key 为 viper 路径，如 client.timeout
func WithDefaults(defaults map[string]any) LoadOption {
	return func(o *loadOptions) {
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// WithEnvBindings 为 key 额外绑定不带前缀的环境变量名，按顺序优先
func WithEnvBindings(bindings map[string][]string) LoadOption {
	return func(o *loadOptions) {
		for k, v := range bindings {
			o.envBindings[k] = append(o.envBindings[k], v...)
		}
	}
}

// LoadConfig 是一个泛型函数，用于加载指定 key 下的配置到任意结构体中
// configKey 为空时解析整个配置文件
func LoadConfig[T any](configPath string, fileName string, envPrefix string, configKey string, opts ...LoadOption) (*T, error) {
	lo := &loadOptions{defaults: map[string]any{}, envBindings: map[string][]string{}}
	for _, opt := range opts {
		opt(lo)
	}

	v := viper.New()
	for k, val := range lo.defaults {
		v.SetDefault(k, val)
	}

	// 自动读取环境变量（支持 SVCBOX_HTTP_PORT=8000）
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range lo.envBindings {
		prefixed := strings.ToUpper(envPrefix + "_" + strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env for '%s': %w", key, err)
		}
	}

	// 加载配置文件
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
	}
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Infof(context.Background(), "config file '%s' not found, using defaults and environment variables", fileName)
	} else {
		logger.Infof(context.Background(), "loaded config from %s", v.ConfigFileUsed())
	}

	// 解析指定路径下的配置到泛型结构体 T 中
	cfg := new(T)
	if configKey == "" {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unable to decode config into struct: %w", err)
		}
		return cfg, nil
	}
	if err := v.UnmarshalKey(configKey, cfg); err != nil {
		return nil, fmt.Errorf("unable to decode '%s' into struct: %w", configKey, err)
	}
	return cfg, nil
}

// Load 读取 svcbox 应用配置，path 可以是目录或 yaml 文件路径，空表示当前目录下的 config.yaml
func Load(path string) (*AppConfig, error) {
	dir, name := ".", "config"
	if path != "" {
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			dir = filepath.Dir(path)
			name = strings.TrimSuffix(filepath.Base(path), ext)
		} else {
			dir = path
		}
	}
	cfg, err := LoadConfig[AppConfig](dir, name, DefaultEnvPrefix, "",
		WithDefaults(Defaults()),
		WithEnvBindings(LegacyEnv()),
	)
	if err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}
