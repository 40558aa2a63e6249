package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

func TestHandleErrorClassification(t *testing.T) {
	err := handleError("op", &pgconn.PgError{Code: "23505", Message: "duplicate"})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)

	err = handleError("op", &pgconn.PgError{Code: "57P01", Message: "admin shutdown"})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	err = handleError("op", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

// --- Intégration (TEST_DB_URL / TEST_NEO4J_URI) ---

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		t.Skip("TEST_DB_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, url, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgresFeedStore(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := NewPostgresFeedStore(pool)
	owner := uniqueID("owner")
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		e := domain.FeedEntry{OwnerID: owner, CreatedAt: base.Add(time.Duration(i) * time.Second), PostID: fmt.Sprintf("p%d", i), AuthorID: "a"}
		require.NoError(t, s.Upsert(ctx, e))
		require.NoError(t, s.Upsert(ctx, e))
	}

	n, err := s.Count(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	removed, err := s.Trim(ctx, owner, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	head, err := s.Head(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, head, 4)
	assert.Equal(t, "p5", head[0].PostID)
	assert.True(t, head[0].CreatedAt.Equal(base.Add(5*time.Second)))
}

func TestPostgresEdgeIndex(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	x := NewPostgresEdgeIndex(pool)
	owner := uniqueID("b")

	applied, err := x.Put(ctx, domain.DirectionFollowers, owner, "a", 10, true)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = x.Put(ctx, domain.DirectionFollowers, owner, "a", 4, false)
	require.NoError(t, err)
	assert.False(t, applied)

	peers, err := x.List(ctx, domain.DirectionFollowers, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, peers)

	applied, err = x.Put(ctx, domain.DirectionFollowers, owner, "a", 11, false)
	require.NoError(t, err)
	assert.True(t, applied)

	n, err := x.Count(ctx, domain.DirectionFollowers, owner)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresActivityStore(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	s := NewPostgresActivityStore(pool)
	star := uniqueID("star")

	for i := 0; i < 3; i++ {
		e := domain.NewFollowActivity(domain.FollowEdge{
			FollowerID: fmt.Sprintf("f%d", i), FolloweeID: star,
			At: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		})
		require.NoError(t, s.Record(ctx, e))
		require.NoError(t, s.Record(ctx, e))
	}

	got, err := s.List(ctx, star, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "f2", got[0].ActorID)

	removed, err := s.Trim(ctx, star, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestNeo4jEdgeIndex(t *testing.T) {
	uri := os.Getenv("TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("TEST_NEO4J_URI not set")
	}
	ctx := context.Background()
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(os.Getenv("TEST_NEO4J_USER"), os.Getenv("TEST_NEO4J_PASSWORD"), ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close(ctx) })

	x := NewNeo4jEdgeIndex(driver)
	require.NoError(t, x.EnsureSchema(ctx))
	owner := uniqueID("a")

	applied, err := x.Put(ctx, domain.DirectionFollowing, owner, "b", 3, true)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = x.Put(ctx, domain.DirectionFollowing, owner, "b", 2, false)
	require.NoError(t, err)
	assert.False(t, applied)

	peers, err := x.List(ctx, domain.DirectionFollowing, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, peers)

	n, err := x.Count(ctx, domain.DirectionFollowers, "b")
	require.NoError(t, err)
	assert.Zero(t, n, "followers index is written separately")
}
