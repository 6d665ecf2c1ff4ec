package cache

import (
	"context"
	"errors"
	"time"

	"CapIot.telemetry/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisOptions configures NewRedisStore. Zero timeouts fall back to short
// defaults so that a slow Redis cannot stall the request path.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store for opts.Addr and checks the connection with
// PING. A failed PING is only logged: the client reconnects on later calls
// and the Adapter treats errors until then as misses.
func NewRedisStore(ctx context.Context, opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  orDefault(opts.DialTimeout, time.Second),
		ReadTimeout:  orDefault(opts.ReadTimeout, 500*time.Millisecond),
		WriteTimeout: orDefault(opts.WriteTimeout, 500*time.Millisecond),
	})

	log := logging.Component("cache")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, continuing without cache until it recovers", "addr", opts.Addr, "error", err)
	} else {
		log.Info("connected to Redis", "addr", opts.Addr)
	}
	return &RedisStore{client: client}
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

var _ Store = (*RedisStore)(nil)
