package shellcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStorePutGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	e := Entry{Status: 200, ContentType: "text/html", Body: []byte("<html>")}
	require.NoError(t, s.Put(ctx, "care-hq-v1", "/index.html", e))

	got, err := s.Get(ctx, "care-hq-v1", "/index.html")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e, *got)

	miss, err := s.Get(ctx, "care-hq-v1", "/other")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestRedisStoreGenerations(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "care-hq-v0", "/", Entry{Status: 200}))
	require.NoError(t, s.Put(ctx, "care-hq-v1", "/", Entry{Status: 200}))

	gens, err := s.Generations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"care-hq-v0", "care-hq-v1"}, gens)
}

func TestRedisStoreDeleteGeneration(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "care-hq-v0", "/", Entry{Status: 200}))
	require.NoError(t, s.Put(ctx, "care-hq-v0", "/index.html", Entry{Status: 200}))
	require.NoError(t, s.Put(ctx, "care-hq-v1", "/", Entry{Status: 200}))

	require.NoError(t, s.DeleteGeneration(ctx, "care-hq-v0"))

	gens, err := s.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"care-hq-v1"}, gens)

	gone, err := s.Get(ctx, "care-hq-v0", "/")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := s.Get(ctx, "care-hq-v1", "/")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestCacheOverRedisStore(t *testing.T) {
	s := newTestRedisStore(t)
	origin := newStubOrigin()
	c := New(s, origin, "care-hq-v1", "app.example", &testLogger)
	ctx := context.Background()

	require.NoError(t, c.Install(ctx, shellAssets))
	require.NoError(t, c.Activate(ctx))

	e, err := c.Fetch(ctx, getReq(t, "/manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), e.Body)
}
