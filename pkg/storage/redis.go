package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the snapshot in a Redis string and the most recent saves
// in a capped list
type RedisStore struct {
	client       *redis.Client
	prefix       string
	historyLimit int64
}

// RedisConfig configures RedisStore
type RedisConfig struct {
	URL          string
	Prefix       string // default "caseboard"
	HistoryLimit int64  // default 20
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "caseboard"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &RedisStore{
		client:       client,
		prefix:       cfg.Prefix,
		historyLimit: cfg.HistoryLimit,
	}
}

func (s *RedisStore) currentKey() string {
	return s.prefix + ":snapshot:current"
}

func (s *RedisStore) historyKey() string {
	return s.prefix + ":snapshot:history"
}

func (s *RedisStore) archiveKey(name string) string {
	return s.prefix + ":snapshot:archive:" + name
}

// Save sets the current snapshot and pushes it onto the history list
func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.currentKey(), data, 0)
		pipe.LPush(ctx, s.historyKey(), data)
		pipe.LTrim(ctx, s.historyKey(), 0, s.historyLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save failed: %w", err)
	}
	return nil
}

// Load returns the current snapshot
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.currentKey()).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// History returns up to historyLimit previous saves, newest first
func (s *RedisStore) History(ctx context.Context) ([][]byte, error) {
	items, err := s.client.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Archive stores a named copy
func (s *RedisStore) Archive(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.archiveKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis archive failed: %w", err)
	}
	return nil
}
