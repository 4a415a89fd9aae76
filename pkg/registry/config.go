package registry

import (
	"time"

	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/registry/etcd"
	"github.com/code-sigs/svcbox/pkg/registry/static"
)

// OptionFromConfig 将 discovery 配置转换为 RegistryOption
func OptionFromConfig(cfg config.DiscoveryConfig) *RegistryOption {
	opt := &RegistryOption{
		Type: RegistryType(cfg.Type),
		Static: &static.Config{
			Mode:        cfg.Environment,
			ComposeFile: cfg.ComposeFile,
			BasePort:    cfg.BasePort,
			Services:    cfg.Services,
			URLs:        cfg.URLs,
			Ports:       cfg.Ports,
		},
		Memory: cfg.URLs,
	}
	if len(cfg.Etcd.Address) > 0 {
		opt.Etcd = &etcd.Option{
			Endpoints:     cfg.Etcd.Address,
			DialTimeout:   time.Duration(cfg.Etcd.DialTimeout * float64(time.Second)),
			Username:      cfg.Etcd.Username,
			Password:      cfg.Etcd.Password,
			RootDirectory: cfg.Etcd.RootDirectory,
		}
	}
	if len(cfg.Zookeeper.Servers) > 0 {
		opt.Zookeeper = &ZkOption{
			Servers:  cfg.Zookeeper.Servers,
			RootPath: cfg.Zookeeper.RootPath,
			Timeout:  time.Duration(cfg.Zookeeper.Timeout * float64(time.Second)),
		}
	}
	return opt
}
