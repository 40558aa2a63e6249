package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type PostgresFeedStore struct {
	db *pgxpool.Pool
}

func NewPostgresFeedStore(pool *pgxpool.Pool) *PostgresFeedStore {
	return &PostgresFeedStore{db: pool}
}

// Upsert : la clé (owner_id, created_at) rend le rejeu idempotent ; une collision écrase
func (r *PostgresFeedStore) Upsert(ctx context.Context, entry domain.FeedEntry) error {
	q := `
		INSERT INTO feed_entries (owner_id, created_at, post_id, author_id)
		VALUES (@owner_id, @created_at, @post_id, @author_id)
		ON CONFLICT (owner_id, created_at) DO UPDATE
		SET post_id = EXCLUDED.post_id, author_id = EXCLUDED.author_id
	`
	args := pgx.NamedArgs{
		"owner_id":   entry.OwnerID,
		"created_at": domain.NormalizeTime(entry.CreatedAt),
		"post_id":    entry.PostID,
		"author_id":  entry.AuthorID,
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return handleError("upsert feed entry", err)
	}
	return nil
}

func (r *PostgresFeedStore) Trim(ctx context.Context, ownerID string, keep int) (int, error) {
	q := `
		DELETE FROM feed_entries
		WHERE owner_id = $1 AND created_at IN (
			SELECT created_at FROM feed_entries
			WHERE owner_id = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
	`
	tag, err := r.db.Exec(ctx, q, ownerID, max(keep, 0))
	if err != nil {
		return 0, handleError("trim feed", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresFeedStore) Head(ctx context.Context, ownerID string, n int) ([]domain.FeedEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	q := `
		SELECT owner_id, created_at, post_id, author_id
		FROM feed_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, q, ownerID, n)
	if err != nil {
		return nil, handleError("read feed head", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FeedEntry, error) {
		var e domain.FeedEntry
		err := row.Scan(&e.OwnerID, &e.CreatedAt, &e.PostID, &e.AuthorID)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, handleError("scan feed head", err)
	}
	return entries, nil
}

func (r *PostgresFeedStore) Count(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM feed_entries WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, handleError("count feed", err)
	}
	return n, nil
}

var _ ports.FeedStore = (*PostgresFeedStore)(nil)
