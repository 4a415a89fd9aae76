package registry

import (
	"fmt"
	"time"

	"github.com/code-sigs/svcbox/pkg/registry/etcd"
	"github.com/code-sigs/svcbox/pkg/registry/memory"
	"github.com/code-sigs/svcbox/pkg/registry/registry_interface"
	"github.com/code-sigs/svcbox/pkg/registry/static"
	"github.com/code-sigs/svcbox/pkg/registry/zk"
)

// RegistryType 定义注册中心类型
type RegistryType string

const (
	StaticType RegistryType = "static"
	MemoryType RegistryType = "memory"
	EtcdType   RegistryType = "etcd"
	ZkType     RegistryType = "zookeeper"
)

// RegistryOption 配置参数
type RegistryOption struct {
	Type      RegistryType
	Static    *static.Config
	Memory    map[string]string
	Etcd      *etcd.Option
	Zookeeper *ZkOption
}

type ZkOption struct {
	Servers  []string
	RootPath string
	Timeout  time.Duration
}

// NewRegistry 根据 opt 创建注册中心，默认 static
func NewRegistry(opt *RegistryOption) (registry_interface.Registry, error) {
	if opt == nil {
		return static.New(static.Config{}), nil
	}
	switch opt.Type {
	case "", StaticType:
		cfg := static.Config{}
		if opt.Static != nil {
			cfg = *opt.Static
		}
		return static.New(cfg), nil
	case MemoryType:
		return memory.FromURLs(opt.Memory), nil
	case EtcdType:
		if opt.Etcd == nil {
			return nil, fmt.Errorf("registry type %s requires etcd endpoints", opt.Type)
		}
		return etcd.NewEtcdRegistry(*opt.Etcd)
	case ZkType:
		if opt.Zookeeper == nil {
			return nil, fmt.Errorf("registry type %s requires zookeeper servers", opt.Type)
		}
		return zk.NewZkRegistry(opt.Zookeeper.Servers, opt.Zookeeper.RootPath, opt.Zookeeper.Timeout)
	default:
		return nil, fmt.Errorf("unknown registry type: %s", opt.Type)
	}
}
