package static

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/code-sigs/svcbox/pkg/utils"
	"gopkg.in/yaml.v3"
)

// servicePorts 一个 compose 服务的端口：宿主机端口用于 local，容器端口用于 docker
type servicePorts struct {
	Host      int
	Container int
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Ports       []yaml.Node `yaml:"ports"`
	Environment yaml.Node   `yaml:"environment"`
}

// FindComposeFile 依次查找 COMPOSE_FILE、当前目录及其所有父目录下的 docker-compose.yml
func FindComposeFile(explicit, workDir string) string {
	if explicit != "" && utils.FileExists(explicit) {
		return explicit
	}
	dir, err := filepath.Abs(workDir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range []string{"docker-compose.yml", "docker-compose.yaml"} {
			candidate := filepath.Join(dir, name)
			if utils.FileExists(candidate) {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadCompose(path string) (map[string]servicePorts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make(map[string]servicePorts, len(cf.Services))
	for name, svc := range cf.Services {
		if p, ok := svc.ports(); ok {
			out[name] = p
		}
	}
	return out, nil
}

// ports 取第一个端口映射，没有时回退到 environment 中的 PORT
func (s composeService) ports() (servicePorts, bool) {
	if len(s.Ports) > 0 {
		if p, ok := parsePortNode(&s.Ports[0]); ok {
			return p, true
		}
	}
	if port, ok := envPort(&s.Environment); ok {
		return servicePorts{Host: port, Container: port}, true
	}
	return servicePorts{}, false
}

func parsePortNode(n *yaml.Node) (servicePorts, bool) {
	switch n.Kind {
	case yaml.ScalarNode:
		return parsePortString(n.Value)
	case yaml.MappingNode:
		// 长格式 {target: 8000, published: 8001}
		var long struct {
			Target    string `yaml:"target"`
			Published string `yaml:"published"`
		}
		if err := n.Decode(&long); err != nil {
			return servicePorts{}, false
		}
		target, err := strconv.Atoi(long.Target)
		if err != nil {
			return servicePorts{}, false
		}
		published, err := strconv.Atoi(long.Published)
		if err != nil {
			published = target
		}
		return servicePorts{Host: published, Container: target}, true
	}
	return servicePorts{}, false
}

// parsePortString 支持 "8001:8000"、"127.0.0.1:8001:8000"、"8000"、"8001:8000/tcp"
func parsePortString(s string) (servicePorts, bool) {
	s = strings.Trim(strings.TrimSpace(s), `'"`)
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ":")
	var hostPart, containerPart string
	switch len(parts) {
	case 1:
		hostPart, containerPart = parts[0], parts[0]
	case 2:
		hostPart, containerPart = parts[0], parts[1]
	default:
		hostPart, containerPart = parts[len(parts)-2], parts[len(parts)-1]
	}
	container, err := strconv.Atoi(containerPart)
	if err != nil {
		return servicePorts{}, false
	}
	host, err := strconv.Atoi(hostPart)
	if err != nil {
		host = container
	}
	return servicePorts{Host: host, Container: container}, true
}

// envPort 支持 map 形式 PORT: 8000 与列表形式 - PORT=8000
func envPort(n *yaml.Node) (int, bool) {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == "PORT" {
				return atoiQuoted(n.Content[i+1].Value)
			}
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if v, ok := strings.CutPrefix(item.Value, "PORT="); ok {
				return atoiQuoted(v)
			}
		}
	}
	return 0, false
}

func atoiQuoted(s string) (int, bool) {
	v, err := strconv.Atoi(strings.Trim(strings.TrimSpace(s), `'"`))
	return v, err == nil
}
