//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a real Redis and returns a client factory,
// so tests can act as several processes sharing one server.
func setupRedisContainer(t *testing.T) func() *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", uri, err)
	}

	return func() *redis.Client {
		client := redis.NewClient(opts)
		t.Cleanup(func() { client.Close() })
		return client
	}
}

func TestRedisStore_Integration(t *testing.T) {
	newClient := setupRedisContainer(t)
	store := NewRedisStore(newClient(), time.Second)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	key := Key{Namespace: "pages", ID: "pricing", Currency: "KES", Version: "v1"}.String()
	require.NoError(t, store.Set(ctx, key, []byte(`{"currency":"KES"}`), time.Second))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"currency":"KES"}`, string(data))

	// Real expiry, not simulated
	time.Sleep(1500 * time.Millisecond)
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, store.Delete(ctx, "a", "b", "never-set"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSharedVersion_Integration(t *testing.T) {
	newClient := setupRedisContainer(t)
	ctx := context.Background()

	first := NewSharedVersion(newClient(), "pages", "v1", time.Second, zerolog.Nop())
	second := NewSharedVersion(newClient(), "pages", "v9", time.Second, zerolog.Nop())

	assert.Equal(t, "v1", first.Current(ctx))
	assert.Equal(t, "v1", second.Current(ctx), "the first seed wins")

	next, err := second.Bump(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, first.Current(ctx), "a bump is visible to every process")
}
