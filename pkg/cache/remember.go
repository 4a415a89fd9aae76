package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/code-sigs/svcbox/pkg/logger"
	"golang.org/x/sync/singleflight"
)

var group singleflight.Group

// Remember 先读缓存，未命中时调用 loader 并写回
// 同一 key 的并发加载只执行一次，loader 返回 nil 时不缓存
func Remember[T any](ctx context.Context, store Store, key string, ttl time.Duration, loader func(ctx context.Context) (*T, error)) (*T, error) {
	if data, err := store.Get(ctx, key); err == nil {
		out := new(T)
		if err := json.Unmarshal(data, out); err == nil {
			return out, nil
		}
	} else if !errors.Is(err, ErrMiss) {
		logger.Warnw(ctx, "cache get failed", "key", key, "err", err)
	}

	v, err, _ := group.Do(key, func() (any, error) {
		val, err := loader(ctx)
		if err != nil || val == nil {
			return val, err
		}
		data, err := json.Marshal(val)
		if err == nil {
			err = store.Set(ctx, key, data, ttl)
		}
		if err != nil {
			logger.Warnw(ctx, "cache set failed", "key", key, "err", err)
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	out, _ := v.(*T)
	return out, nil
}
