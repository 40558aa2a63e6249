package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// DTO du Post Service. Le service historique expose "user_id", le contrat actuel "author_id".
type postDTO struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"author_id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	Media     []mediaDTO `json:"media"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type mediaDTO struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

func (d postDTO) toDomain() *domain.Post {
	author := d.AuthorID
	if author == "" {
		author = d.UserID
	}
	p := &domain.Post{
		ID:        d.ID,
		AuthorID:  author,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, m := range d.Media {
		p.Media = append(p.Media, domain.Media{ID: m.ID, URL: m.URL, Type: domain.MediaType(m.Type)})
	}
	return p
}

// PostClient parle au Post Service en HTTP/JSON (GET /posts/{id}, GET /posts/user/{id}?limit=N)
type PostClient struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewPostClient : le timeout par appel est porté par le context de l'appelant ; timeout sert de plafond.
func NewPostClient(baseURL string, timeout time.Duration, log *slog.Logger) *PostClient {
	if log == nil {
		log = slog.Default()
	}
	return &PostClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With("component", "post_client"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *PostClient) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	body, err := c.get(ctx, "/posts/"+url.PathEscape(postID))
	if err != nil {
		return nil, err
	}
	var dto postDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("%w: decode post %s: %v", domain.ErrUpstream, postID, err)
	}
	return dto.toDomain(), nil
}

// ListByAuthor accepte un tableau nu ou une enveloppe {"posts": [...]}.
func (c *PostClient) ListByAuthor(ctx context.Context, authorID string, limit int) ([]*domain.Post, error) {
	path := "/posts/user/" + url.PathEscape(authorID) + "?limit=" + strconv.Itoa(limit)
	body, err := c.get(ctx, path)
	if errors.Is(err, domain.ErrPostNotFound) {
		// auteur inconnu du Post Service : rien à recopier
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dtos []postDTO
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &dtos)
	} else {
		var env struct {
			Posts []postDTO `json:"posts"`
		}
		err = json.Unmarshal(trimmed, &env)
		dtos = env.Posts
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode posts of %s: %v", domain.ErrUpstream, authorID, err)
	}

	posts := make([]*domain.Post, 0, len(dtos))
	for _, d := range dtos {
		posts = append(posts, d.toDomain())
	}
	// On ne fait pas confiance à l'ordre renvoyé
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *PostClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", domain.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: GET %s", domain.ErrPostNotFound, path)
	case resp.StatusCode >= 300:
		c.log.Debug("Post service answered with an error", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: GET %s: status %d", domain.ErrUpstream, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %v", domain.ErrUpstream, path, err)
	}
	return body, nil
}

var _ ports.PostClient = (*PostClient)(nil)
