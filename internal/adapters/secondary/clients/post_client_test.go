package clients

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *PostClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewPostClient(srv.URL+"/", time.Second, nil)
}

func TestGetPost(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/posts/p1":
			_, _ = w.Write([]byte(`{"id":"p1","user_id":"alice","content":"hi","media":[{"id":"m","url":"u","type":"video"}],"created_at":"2024-01-02T03:04:05Z"}`))
		case "/posts/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	ctx := context.Background()

	p, err := c.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.AuthorID)
	assert.Equal(t, "hi", p.Content)
	require.Len(t, p.Media, 1)
	assert.Equal(t, domain.MediaTypeVideo, p.Media[0].Type)

	_, err = c.GetPost(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)

	_, err = c.GetPost(ctx, "boom")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotErrorIs(t, err, domain.ErrPostNotFound)
}

func TestGetPostTimeout(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetPost(ctx, "slow")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestListByAuthor(t *testing.T) {
	var gotLimit string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		switch r.URL.Path {
		case "/posts/user/alice":
			// ordre volontairement mélangé
			_, _ = w.Write([]byte(`[
				{"id":"old","author_id":"alice","created_at":"2024-01-01T00:00:00Z"},
				{"id":"new","author_id":"alice","created_at":"2024-01-03T00:00:00Z"},
				{"id":"mid","author_id":"alice","created_at":"2024-01-02T00:00:00Z"}
			]`))
		case "/posts/user/bob":
			_, _ = w.Write([]byte(`{"posts":[{"id":"b1","author_id":"bob","created_at":"2024-01-01T00:00:00Z"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	posts, err := c.ListByAuthor(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, "2", gotLimit)
	require.Len(t, posts, 2)
	assert.Equal(t, "new", posts[0].ID)
	assert.Equal(t, "mid", posts[1].ID)

	posts, err = c.ListByAuthor(ctx, "bob", 20)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "b1", posts[0].ID)

	posts, err = c.ListByAuthor(ctx, "ghost", 20)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestUpstreamErrorsAreLoggedWithInjectedLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewPostClient(srv.URL, time.Second, log)

	_, err := c.GetPost(context.Background(), "p1")
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, buf.String(), "component=post_client")
	assert.Contains(t, buf.String(), "status=503")
	assert.Contains(t, buf.String(), "path=/posts/p1")
}
