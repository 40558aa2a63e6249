package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type Server struct {
	reader ports.FeedReader
	log    *slog.Logger
}

func NewServer(reader ports.FeedReader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{reader: reader, log: log.With("component", "http")}
}

// Handler construit la chaîne : OTEL (racine) -> CORS -> Auth -> routes.
func (s *Server) Handler(verifier *TokenVerifier, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", s.getFeed)
	mux.HandleFunc("GET /feed/stats", s.getStats)
	mux.HandleFunc("POST /feed/refresh", s.refresh)
	mux.HandleFunc("GET /activity", s.getActivity)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	var h http.Handler = mux

	// A. Auth (Injecte UserID)
	h = Middleware(verifier)(h)

	// B. CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Id", "baggage", "traceparent"},
		AllowCredentials: true,
	})
	h = c.Handler(h)

	// C. OTEL HTTP (Racine)
	return otelhttp.NewHandler(h, "timeline-reader", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))
}

// --- DTOs ---

type mediaResponse struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type postResponse struct {
	ID        string          `json:"id"`
	AuthorID  string          `json:"authorId"`
	Content   string          `json:"content"`
	Media     []mediaResponse `json:"media"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type feedResponse struct {
	Posts   []postResponse `json:"posts"`
	HasMore bool           `json:"hasMore"`
	Offset  int            `json:"offset"`
}

type statsResponse struct {
	FeedSize       int64 `json:"feedSize"`
	FollowingCount int64 `json:"followingCount"`
	FollowersCount int64 `json:"followersCount"`
}

type activityResponse struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	ActorID    string            `json:"actorId"`
	TargetID   string            `json:"targetId"`
	TargetType string            `json:"targetType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- HANDLERS ---

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := ForContext(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.reader.GetFeed(r.Context(), domain.FeedRequest{UserID: userID, Offset: offset, Limit: limit})
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := feedResponse{Posts: make([]postResponse, 0, len(page.Posts)), HasMore: page.HasMore, Offset: page.NextOffset}
	for _, p := range page.Posts {
		resp.Posts = append(resp.Posts, toPostResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	userID, err := ForContext(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	stats, err := s.reader.Stats(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		FeedSize:       stats.FeedSize,
		FollowingCount: stats.FollowingCount,
		FollowersCount: stats.FollowersCount,
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	userID, err := ForContext(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.reader.Refresh(r.Context(), userID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	userID, err := ForContext(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.reader.Activity(r.Context(), userID, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse{
			ID:         e.ActivityID.String(),
			Kind:       string(e.Kind),
			ActorID:    e.ActorID,
			TargetID:   e.TargetID,
			TargetType: e.TargetType,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": out})
}

// --- HELPERS ---

func toPostResponse(p *domain.Post) postResponse {
	out := postResponse{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		Media:     make([]mediaResponse, 0, len(p.Media)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, m := range p.Media {
		out.Media = append(out.Media, mediaResponse{ID: m.ID, URL: m.URL, Type: string(m.Type)})
	}
	return out
}

// queryInt : paramètre absent = 0 (le Reader applique ses défauts)
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// mapDomainError traduit les erreurs du Domaine en codes HTTP
func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid identifier"
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrUpstream):
		return http.StatusServiceUnavailable, "timeline temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, msg := mapDomainError(err)
	if status >= 500 {
		s.log.Error("❌ Request failed", "error", err)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
