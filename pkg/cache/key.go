package cache

import (
	"strings"

	"github.com/code-sigs/svcbox/pkg/utils"
)

const DefaultPrefix = "svcbox"

// Key 以 : 拼接非空片段
func Key(prefix string, parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	for _, p := range append([]string{prefix}, parts...) {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}

// ParamsKey 查询参数无序，按 MapKey 生成固定长度后缀
func ParamsKey[T any](prefix, name string, params map[string]T) string {
	return Key(prefix, name, utils.MapKey(params))
}

// responseKey <prefix>:http:<service>:<md5(url|authorization)>
func responseKey(prefix, service, url, authorization string) string {
	return Key(prefix, "http", service, utils.MD5Hash(url+"|"+authorization))
}

// ServicePattern 匹配某服务全部响应缓存
func ServicePattern(prefix, service string) string {
	return Key(prefix, "http", service, "*")
}
