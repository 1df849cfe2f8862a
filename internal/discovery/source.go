package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

// Source lists candidate backend base URLs.
type Source interface {
	Endpoints(ctx context.Context) ([]string, error)
}

// StaticSource is a fixed list, normally the configured backends.urls.
type StaticSource []string

func (s StaticSource) Endpoints(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// NewRedisClient creates a universal client from a redis:// URL.
func NewRedisClient(redisURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{opts.Addr},
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		TLSConfig:    opts.TLSConfig,
	}), nil
}

// RedisSource reads backend URLs from a Redis set. Backends announce
// themselves with Register and leave with Deregister.
type RedisSource struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSource creates a source over the set at key.
func NewRedisSource(client redis.UniversalClient, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Endpoints returns the set members, sorted.
func (r *RedisSource) Endpoints(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read backend set %s: %w", r.key, err)
	}
	sort.Strings(members)
	return members, nil
}

// Register adds url to the set.
func (r *RedisSource) Register(ctx context.Context, url string) error {
	if err := r.client.SAdd(ctx, r.key, url).Err(); err != nil {
		return fmt.Errorf("register %s: %w", url, err)
	}
	return nil
}

// Deregister removes url from the set.
func (r *RedisSource) Deregister(ctx context.Context, url string) error {
	if err := r.client.SRem(ctx, r.key, url).Err(); err != nil {
		return fmt.Errorf("deregister %s: %w", url, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisSource) Close() error {
	return r.client.Close()
}
