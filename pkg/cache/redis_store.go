package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/redis/go-redis/v9"
)

const scanCount = 200

// RedisStore 基于 go-redis UniversalClient，单机与集群通用
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 优先使用 URL，其次 Address，多个地址时为集群模式
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client, err := newUniversalClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(err, "connect to redis failed")
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func newUniversalClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	readTimeout := time.Duration(cfg.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second

	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errs.WithCode(errs.Wrap(err, "parse redis url"), errs.ErrorArgs)
		}
		if cfg.PoolSize > 0 {
			opt.PoolSize = cfg.PoolSize
		}
		if cfg.MinIdleConns > 0 {
			opt.MinIdleConns = cfg.MinIdleConns
		}
		if readTimeout > 0 {
			opt.ReadTimeout = readTimeout
		}
		if writeTimeout > 0 {
			opt.WriteTimeout = writeTimeout
		}
		return redis.NewClient(opt), nil
	}

	switch len(cfg.Address) {
	case 0:
		return nil, errs.WithCode(errs.New("redis url or address is required"), errs.ErrorArgs)
	case 1:
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Address[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}), nil
	default:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Address,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}), nil
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeletePattern 用 SCAN 遍历，避免 KEYS 阻塞；集群模式逐个 master 执行
func (r *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		var total atomic.Int64
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := scanDelete(ctx, node, pattern, true)
			total.Add(int64(n))
			return err
		})
		return int(total.Load()), err
	}
	return scanDelete(ctx, r.client, pattern, false)
}

// perKey 集群下同一节点的 key 也可能跨 slot，需要逐个删除
func scanDelete(ctx context.Context, c redis.Cmdable, pattern string, perKey bool) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return deleted, err
		}
		if perKey {
			for _, key := range keys {
				n, err := c.Del(ctx, key).Result()
				if err != nil {
					return deleted, err
				}
				deleted += int(n)
			}
		} else if len(keys) > 0 {
			n, err := c.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (r *RedisStore) Client() redis.UniversalClient {
	return r.client
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
