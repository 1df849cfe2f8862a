package discovery

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

// redisTestURL points at a throwaway Redis; tests skip when it is unreachable.
func redisTestURL() string {
	if u := os.Getenv("CURSORSYNC_TEST_REDIS_URL"); u != "" {
		return u
	}
	return "redis://localhost:6379/0"
}

func setupRedisSource(t *testing.T) *RedisSource {
	t.Helper()
	client, err := NewRedisClient(redisTestURL())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable: %v", err)
	}

	key := "cursorsync:test:" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), key)
		client.Close()
	})
	return NewRedisSource(client, key)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient("http://not-redis"); err == nil {
		t.Error("expected error for non-redis scheme")
	}
}

func TestRedisSource_RegisterDeregister(t *testing.T) {
	src := setupRedisSource(t)
	ctx := context.Background()

	for _, u := range []string{"http://b:8080", "http://a:8080"} {
		if err := src.Register(ctx, u); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	got, err := src.Endpoints(ctx)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if want := []string{"http://a:8080", "http://b:8080"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Endpoints = %v, want %v", got, want)
	}

	if err := src.Deregister(ctx, "http://a:8080"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	got, _ = src.Endpoints(ctx)
	if want := []string{"http://b:8080"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Endpoints = %v, want %v", got, want)
	}
}

func TestRedisSource_SyncsRegistry(t *testing.T) {
	src := setupRedisSource(t)
	ctx := context.Background()
	src.Register(ctx, "http://dynamic:8080")

	reg := &memRegistry{urls: []string{"http://static:8080"}}
	s := NewSyncer(reg, nil, StaticSource{"http://static:8080"}, src)

	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if want := []string{"http://static:8080", "http://dynamic:8080"}; !reflect.DeepEqual(reg.urls, want) {
		t.Errorf("registry = %v, want %v", reg.urls, want)
	}
}
