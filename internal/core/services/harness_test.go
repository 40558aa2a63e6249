package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/pebblestore"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

var (
	base      = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	quietLogs = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

// --- Post Service factice ---

type fakePosts struct {
	mu      sync.Mutex
	posts   map[string]*domain.Post
	failing map[string]bool
	listErr error
}

func newFakePosts() *fakePosts {
	return &fakePosts{posts: map[string]*domain.Post{}, failing: map[string]bool{}}
}

func (f *fakePosts) add(id, author string, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[id] = &domain.Post{ID: id, AuthorID: author, Content: "content of " + id, CreatedAt: createdAt, UpdatedAt: createdAt}
}

func (f *fakePosts) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.posts, id)
}

func (f *fakePosts) fail(id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[id] = on
}

func (f *fakePosts) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return nil, fmt.Errorf("%w: timeout fetching %s", domain.ErrUpstream, id)
	}
	p, ok := f.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPostNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) ListByAuthor(ctx context.Context, authorID string, limit int) ([]*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.Post
	for _, p := range f.posts {
		if p.AuthorID == authorID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Stores défaillants ---

type flakyFeeds struct {
	ports.FeedStore
	mu   sync.Mutex
	fail map[string]bool
}

func (f *flakyFeeds) failFor(owners ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range owners {
		f.fail[o] = true
	}
}

func (f *flakyFeeds) Upsert(ctx context.Context, e domain.FeedEntry) error {
	f.mu.Lock()
	failing := f.fail[e.OwnerID]
	f.mu.Unlock()
	if failing {
		return fmt.Errorf("%w: write timeout", domain.ErrStorageUnavailable)
	}
	return f.FeedStore.Upsert(ctx, e)
}

type flakyEdges struct {
	ports.EdgeIndex
	putFail  map[domain.Direction]bool
	listFail map[domain.Direction]bool
}

func (f *flakyEdges) Put(ctx context.Context, dir domain.Direction, owner, peer string, version uint64, active bool) (bool, error) {
	if f.putFail[dir] {
		return false, fmt.Errorf("%w: %s index down", domain.ErrStorageUnavailable, dir)
	}
	return f.EdgeIndex.Put(ctx, dir, owner, peer, version, active)
}

func (f *flakyEdges) List(ctx context.Context, dir domain.Direction, owner string) ([]string, error) {
	if f.listFail[dir] {
		return nil, fmt.Errorf("%w: %s index down", domain.ErrStorageUnavailable, dir)
	}
	return f.EdgeIndex.List(ctx, dir, owner)
}

// --- Harness ---

type harness struct {
	feeds    *flakyFeeds
	edges    *flakyEdges
	activity *pebblestore.ActivityStore
	pages    ports.PageCache
	posts    *fakePosts

	graph  *SocialGraph
	mat    *Materializer
	cache  *FeedCache
	reader *Reader

	version uint64
}

type harnessOption func(*MaterializerConfig, *FeedCacheConfig, *ports.PageCache)

func withRetention(n int) harnessOption {
	return func(m *MaterializerConfig, _ *FeedCacheConfig, _ *ports.PageCache) { m.Retention = n }
}

func withPageCache(pc ports.PageCache) harnessOption {
	return func(_ *MaterializerConfig, _ *FeedCacheConfig, p *ports.PageCache) { *p = pc }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mcfg := MaterializerConfig{FanoutConcurrency: 4}
	ccfg := FeedCacheConfig{TTL: time.Minute, HydrateTimeout: time.Second, HydrateConcurrency: 4}
	var pages ports.PageCache = cache.NewMemoryPageCache(1000, time.Hour)
	for _, o := range opts {
		o(&mcfg, &ccfg, &pages)
	}

	h := &harness{
		feeds:    &flakyFeeds{FeedStore: pebblestore.NewFeedStore(db), fail: map[string]bool{}},
		edges:    &flakyEdges{EdgeIndex: pebblestore.NewEdgeIndex(db), putFail: map[domain.Direction]bool{}, listFail: map[domain.Direction]bool{}},
		activity: pebblestore.NewActivityStore(db),
		pages:    pages,
		posts:    newFakePosts(),
	}
	h.graph = NewSocialGraph(h.edges, quietLogs)
	h.mat = NewMaterializer(h.feeds, h.graph, h.posts, h.activity, mcfg, quietLogs)
	h.cache = NewFeedCache(h.pages, h.feeds, h.graph, h.posts, ccfg, quietLogs)
	h.reader = NewReader(h.cache, h.feeds, h.graph, h.activity, quietLogs)
	return h
}

func (h *harness) nextVersion() uint64 {
	h.version++
	return h.version
}

func (h *harness) follow(t *testing.T, follower, followee string) {
	t.Helper()
	require.NoError(t, h.mat.OnEdgeCreated(context.Background(), domain.FollowEdge{
		FollowerID: follower, FolloweeID: followee, Version: h.nextVersion(), At: at(int(h.version)),
	}))
}

func (h *harness) unfollow(t *testing.T, follower, followee string) {
	t.Helper()
	require.NoError(t, h.mat.OnEdgeRemoved(context.Background(), domain.FollowEdge{
		FollowerID: follower, FolloweeID: followee, Version: h.nextVersion(), At: at(int(h.version)),
	}))
}

// publish crée le post côté Post Service puis traite content.published
func (h *harness) publish(t *testing.T, postID, author string, createdAt time.Time) {
	t.Helper()
	h.posts.add(postID, author, createdAt)
	require.NoError(t, h.mat.OnPublished(context.Background(), domain.ContentPublished{
		PostID: postID, AuthorID: author, CreatedAt: createdAt,
	}))
}

func (h *harness) headIDs(t *testing.T, owner string) []string {
	t.Helper()
	entries, err := h.feeds.Head(context.Background(), owner, 10_000)
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.PostID)
	}
	return ids
}

func (h *harness) feed(t *testing.T, owner string, offset, limit int) *domain.FeedPage {
	t.Helper()
	page, err := h.reader.GetFeed(context.Background(), domain.FeedRequest{UserID: owner, Offset: offset, Limit: limit})
	require.NoError(t, err)
	return page
}

func postIDs(posts []*domain.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
