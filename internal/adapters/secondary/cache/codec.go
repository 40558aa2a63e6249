package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// Format stocké dans Redis : le JSON de la page hydratée, tel que servi
type pageDTO struct {
	Posts   []postDTO `json:"posts"`
	HasMore bool      `json:"hasMore"`
}

type postDTO struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authorId"`
	Content   string     `json:"content"`
	Media     []mediaDTO `json:"media,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type mediaDTO struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

func encodePage(page *domain.CachedPage) ([]byte, error) {
	dto := pageDTO{Posts: make([]postDTO, 0, len(page.Posts)), HasMore: page.HasMore}
	for _, p := range page.Posts {
		if p == nil {
			continue
		}
		pd := postDTO{ID: p.ID, AuthorID: p.AuthorID, Content: p.Content, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
		for _, m := range p.Media {
			pd.Media = append(pd.Media, mediaDTO{ID: m.ID, URL: m.URL, Type: string(m.Type)})
		}
		dto.Posts = append(dto.Posts, pd)
	}
	return json.Marshal(dto)
}

func decodePage(data []byte) (*domain.CachedPage, error) {
	var dto pageDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("decode cached page: %w", err)
	}
	page := &domain.CachedPage{Posts: make([]*domain.Post, 0, len(dto.Posts)), HasMore: dto.HasMore}
	for _, pd := range dto.Posts {
		p := &domain.Post{ID: pd.ID, AuthorID: pd.AuthorID, Content: pd.Content, CreatedAt: pd.CreatedAt, UpdatedAt: pd.UpdatedAt}
		for _, m := range pd.Media {
			p.Media = append(p.Media, domain.Media{ID: m.ID, URL: m.URL, Type: domain.MediaType(m.Type)})
		}
		page.Posts = append(page.Posts, p)
	}
	return page, nil
}
