package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

func newRedisCache(t *testing.T) (*RedisPageCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPageCache(rdb), mr
}

func samplePage() *domain.CachedPage {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	return &domain.CachedPage{
		HasMore: true,
		Posts: []*domain.Post{
			{ID: "p1", AuthorID: "a", Content: "hello", CreatedAt: at, UpdatedAt: at,
				Media: []domain.Media{{ID: "m1", URL: "https://cdn/m1.jpg", Type: domain.MediaTypeImage}}},
			{ID: "p2", AuthorID: "b", Content: "world", CreatedAt: at.Add(-time.Minute), UpdatedAt: at},
		},
	}
}

func TestRedisPageCacheRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	key := domain.PageKey{OwnerID: "bob", Offset: 0, Limit: 20}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, samplePage(), 2*time.Minute))
	assert.True(t, mr.Exists("feedpage:bob:0:20"))
	members, err := mr.SMembers("feedpages:bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"feedpage:bob:0:20"}, members)

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePage(), got)

	mr.FastForward(2*time.Minute + time.Second)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPageCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	for _, k := range []domain.PageKey{
		{OwnerID: "bob", Offset: 0, Limit: 20},
		{OwnerID: "bob", Offset: 20, Limit: 20},
		{OwnerID: "alice", Offset: 0, Limit: 20},
	} {
		require.NoError(t, c.Set(ctx, k, samplePage(), time.Minute))
	}

	require.NoError(t, c.Invalidate(ctx, "bob"))
	assert.False(t, mr.Exists("feedpage:bob:0:20"))
	assert.False(t, mr.Exists("feedpage:bob:20:20"))
	assert.False(t, mr.Exists("feedpages:bob"))
	assert.True(t, mr.Exists("feedpage:alice:0:20"))

	// rien à invalider : pas d'erreur
	require.NoError(t, c.Invalidate(ctx, "nobody"))
}

func TestRedisPageCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	require.NoError(t, mr.Set("feedpage:bob:0:20", "{not json"))

	_, ok, err := c.Get(ctx, domain.PageKey{OwnerID: "bob", Offset: 0, Limit: 20})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPageCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	mr.Close()

	_, _, err := c.Get(ctx, domain.PageKey{OwnerID: "bob", Limit: 20})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestMemoryPageCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryPageCache(100, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	bob0 := domain.PageKey{OwnerID: "bob", Offset: 0, Limit: 20}
	bob20 := domain.PageKey{OwnerID: "bob", Offset: 20, Limit: 20}
	bobby := domain.PageKey{OwnerID: "bobby", Offset: 0, Limit: 20}
	for _, k := range []domain.PageKey{bob0, bob20, bobby} {
		require.NoError(t, c.Set(ctx, k, samplePage(), time.Minute))
	}

	got, ok, err := c.Get(ctx, bob0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Posts, 2)

	require.NoError(t, c.Invalidate(ctx, "bob"))
	_, ok, _ = c.Get(ctx, bob0)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, bob20)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, bobby)
	assert.True(t, ok, "invalidating bob must not touch bobby")

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, bobby)
	assert.False(t, ok)
}

func TestMemoryPageCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryPageCache(100, time.Hour)
	key := domain.PageKey{OwnerID: "bob", Offset: 0, Limit: 20}

	page := samplePage()
	require.NoError(t, c.Set(ctx, key, page, time.Minute))
	page.HasMore = false
	page.Posts = page.Posts[:1]

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.HasMore, "caller's page mutated after Set")
	require.Len(t, got.Posts, 2)

	got.HasMore = false
	got.Posts[0] = &domain.Post{ID: "intruder"}
	got.Posts = append(got.Posts, &domain.Post{ID: "extra"})

	again, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, again.HasMore)
	require.Len(t, again.Posts, 2)
	assert.Equal(t, "p1", again.Posts[0].ID)
	assert.Equal(t, samplePage(), again)
}
