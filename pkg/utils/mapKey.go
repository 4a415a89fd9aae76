package utils

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// MapKey 按参数生成固定长度的缓存 key 后缀（64 位 FNV-1a，16 位十六进制）
// key 排序后拼接，与 map 遍历顺序无关
func MapKey[T any](m map[string]T) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = appendValue(buf, any(m[k]))
		buf = append(buf, '&')
	}
	h := fnv.New64a()
	_, _ = h.Write(buf)
	return fmt.Sprintf("%016x", h.Sum64())
}

func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return buf
	case string:
		return append(buf, x...)
	case bool:
		return strconv.AppendBool(buf, x)
	case int:
		return strconv.AppendInt(buf, int64(x), 10)
	case int32:
		return strconv.AppendInt(buf, int64(x), 10)
	case int64:
		return strconv.AppendInt(buf, x, 10)
	case uint:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(buf, x, 10)
	case float32:
		return strconv.AppendFloat(buf, float64(x), 'g', -1, 32)
	case float64:
		return strconv.AppendFloat(buf, x, 'g', -1, 64)
	case time.Time:
		if x.IsZero() {
			return buf
		}
		return append(buf, x.UTC().Format(time.RFC3339Nano)...)
	case fmt.Stringer:
		return append(buf, x.String()...)
	default:
		// 其他类型按 %v 输出，map 的 %v 按 key 排序
		return fmt.Appendf(buf, "%v", x)
	}
}
