package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 實現了 ICache 介面，從 Redis string 讀取 JSON 快照
type Store struct {
	client  *redis.Client // Redis 客戶端連線
	options StoreOptions  // Store 的配置選項
}

// StoreOptions 定義了 Store 的配置選項
type StoreOptions struct {
	Prefix string
}

type StoreOption func(*StoreOptions)

// WithPrefix 設定 Store 的 key 前綴
func WithPrefix(prefix string) StoreOption {
	return func(o *StoreOptions) {
		o.Prefix = prefix
	}
}

// NewStore 建立一個新的 Store 實例
func NewStore(client *redis.Client, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &Store{
		client:  client,
		options: *options,
	}, nil
}

// Get 從 Redis 中讀取指定鍵值的快照
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.Store.Get"

	result, err := s.client.Get(ctx, s.options.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: failed to get %q: %w", op, key, err)
	}
	return result, nil
}

// Set 寫入快照，僅供外部填充程序與測試使用
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "cache.Store.Set"

	if err := s.client.Set(ctx, s.options.Prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%s: failed to set %q: %w", op, key, err)
	}
	return nil
}
