package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/switchboard/pkg/adapters/redis"
	"github.com/aretw0/switchboard/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewFromClient(client), mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newStore(t)
	ports.RunDefinitionStoreContract(t, store)
}

func TestRedisStore_KeysAndPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, redis.WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "ivr_demo", []byte(`{"initial":"a"}`)))

	assert.True(t, mr.Exists("test:def:ivr_demo"))
	members, err := mr.ZMembers("test:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"ivr_demo"}, members)
}

func TestRedisStore_Watch(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "ivr_demo", []byte("{}")))
	select {
	case id := <-changes:
		assert.Equal(t, "ivr_demo", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no change announced")
	}

	_, err = store.Delete(ctx, "ivr_demo")
	require.NoError(t, err)
	select {
	case id := <-changes:
		assert.Equal(t, "ivr_demo", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no deletion announced")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-changes
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
