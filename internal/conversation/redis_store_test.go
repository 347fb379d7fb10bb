package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store := NewRedisStore(client, time.Minute)
	store.prefix = "conversation-test:"
	const user = int64(424242)
	defer store.Delete(ctx, user)

	_, ok, err := store.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	want := State{Flow: "add_product", Step: 2, Fields: Fields{"name": "Widget", "price": "60.00"}}
	require.NoError(t, store.Put(ctx, user, want))

	got, ok, err := store.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Flow, got.Flow)
	assert.Equal(t, want.Step, got.Step)
	assert.Equal(t, want.Fields, got.Fields)

	ttl, err := client.TTL(ctx, store.key(user)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, user))
	_, ok, err = store.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)
}
