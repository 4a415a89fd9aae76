package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss key 不存在
var ErrMiss = errors.New("cache miss")

// Store 缓存后端
type Store interface {
	// Get 不存在时返回 ErrMiss
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern 按 glob 删除，返回删除数量
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
