package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregister/openregister/internal/db/models"
)

// newRedisCache returns a cache on an in-process Redis server
func newRedisCache(t *testing.T) (*RedisSchemaCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSchemaCache(client, time.Minute), mr
}

func TestRedisSchemaCache(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	sch := &models.Schema{
		UUID:       uuid.NewString(),
		Slug:       "address",
		Title:      "Address",
		Version:    "0.0.4",
		Required:   models.StringList{"city"},
		Properties: models.JSONMap{"city": map[string]any{"type": "string"}},
	}

	miss, err := c.Get(ctx, sch.UUID)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.Set(ctx, sch))
	for _, ref := range []string{sch.UUID, sch.Slug} {
		got, err := c.Get(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, got, ref)
		assert.Equal(t, sch.Version, got.Version)
		assert.Equal(t, sch.Required, got.Required)
	}

	assert.True(t, mr.Exists("openregister:schema:"+sch.UUID))
	assert.True(t, mr.Exists("openregister:schema:address"))
	assert.Equal(t, time.Minute, mr.TTL("openregister:schema:address"))

	require.NoError(t, c.Invalidate(ctx, sch))
	for _, ref := range []string{sch.UUID, sch.Slug} {
		got, err := c.Get(ctx, ref)
		require.NoError(t, err)
		assert.Nil(t, got, ref)
	}

	require.NoError(t, c.Set(ctx, sch))
	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, sch.UUID)
	require.NoError(t, err)
	assert.Nil(t, got, "entries expire after the ttl")
}

func TestRedisSchemaCache_ServerErrorIsReported(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.SetError("LOADING")

	_, err := c.Get(context.Background(), "address")
	assert.Error(t, err)
	assert.Error(t, c.Set(context.Background(), &models.Schema{UUID: uuid.NewString(), Slug: "address"}))
}

func TestResolveSchema_RedisCacheDropsRenamedSlug(t *testing.T) {
	f := newFixture(t)
	cache, mr := newRedisCache(t)
	f.svc.cache = cache
	ctx := context.Background()

	sch := mustSchema(t, f, addressSchema())
	resolved, err := f.svc.ResolveSchema(ctx, "address")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.True(t, mr.Exists("openregister:schema:address"))

	in := addressSchema()
	in.Slug = "location"
	_, err = f.svc.UpdateSchema(ctx, sch.UUID, in, alice)
	require.NoError(t, err)

	assert.False(t, mr.Exists("openregister:schema:address"), "old slug is invalidated")
	assert.False(t, mr.Exists("openregister:schema:"+sch.UUID))

	gone, err := f.svc.ResolveSchema(ctx, "address")
	require.NoError(t, err)
	assert.Nil(t, gone)

	renamed, err := f.svc.ResolveSchema(ctx, "location")
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.Equal(t, sch.UUID, renamed.UUID)
	assert.True(t, mr.Exists("openregister:schema:location"))
}

func TestRedisSchemaCache_UndecodableValueIsMiss(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, c.client.Set(ctx, c.key("broken"), "not json", time.Minute).Err())

	got, err := c.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewRedisSchemaCache_DefaultTTL(t *testing.T) {
	c := NewRedisSchemaCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	assert.Equal(t, defaultSchemaCacheTTL, c.ttl)
}
