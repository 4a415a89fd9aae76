package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	registry "github.com/code-sigs/svcbox/pkg/registry/registry_interface"
)

// Request 一次服务间调用的描述，Do 开始后不再修改
type Request struct {
	Service string
	Method  string
	Path    string
	Query   url.Values
	// Body 编码为 JSON；[]byte 与 json.RawMessage 原样发送
	Body   any
	Header http.Header
	// Timeout 为 0 时使用客户端默认值
	Timeout time.Duration
	// Retryable 显式声明 POST/PATCH 可安全重试
	Retryable bool
}

// Call 拦截器看到的调用视图，Header 为副本，可在拦截器中修改
type Call struct {
	Request  *Request
	Endpoint *registry.Endpoint
	URL      string
	Header   http.Header
	Body     []byte
	Timeout  time.Duration
	// Attempt 当前第几次尝试，从 1 开始
	Attempt int
}

func (c *Call) Service() string { return c.Request.Service }

func (c *Call) Method() string { return c.Request.Method }

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON 将响应体解析到 v
func (r *Response) JSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Decode JSON 对象直接返回，其他内容放在 data 字段中
func (r *Response) Decode() map[string]any {
	var v any
	if isJSON(r.Header) || json.Valid(r.Body) {
		if err := json.Unmarshal(r.Body, &v); err == nil {
			if m, ok := v.(map[string]any); ok {
				return m
			}
			return map[string]any{"data": v}
		}
	}
	return map[string]any{"data": string(r.Body)}
}

func (r *Response) String() string {
	return string(r.Body)
}

func isJSON(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "application/json")
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func buildURL(ep *registry.Endpoint, path string, query url.Values) string {
	u := ep.URL(path)
	if len(query) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + query.Encode()
}
