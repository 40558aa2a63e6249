package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

type PostgresActivityStore struct {
	db *pgxpool.Pool
}

func NewPostgresActivityStore(pool *pgxpool.Pool) *PostgresActivityStore {
	return &PostgresActivityStore{db: pool}
}

func (r *PostgresActivityStore) Record(ctx context.Context, e domain.ActivityEntry) error {
	q := `
		INSERT INTO activity_entries (owner_id, created_at, activity_id, kind, actor_id, target_id, target_type, metadata)
		VALUES (@owner_id, @created_at, @activity_id, @kind, @actor_id, @target_id, @target_type, @metadata)
		ON CONFLICT (owner_id, created_at, activity_id) DO NOTHING
	`
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	args := pgx.NamedArgs{
		"owner_id":    e.OwnerID,
		"created_at":  domain.NormalizeTime(e.CreatedAt),
		"activity_id": e.ActivityID.String(),
		"kind":        string(e.Kind),
		"actor_id":    e.ActorID,
		"target_id":   e.TargetID,
		"target_type": e.TargetType,
		"metadata":    metadata,
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return handleError("record activity", err)
	}
	return nil
}

func (r *PostgresActivityStore) Trim(ctx context.Context, ownerID string, keep int) (int, error) {
	q := `
		DELETE FROM activity_entries
		WHERE owner_id = $1 AND (created_at, activity_id) IN (
			SELECT created_at, activity_id FROM activity_entries
			WHERE owner_id = $1
			ORDER BY created_at DESC, activity_id DESC
			OFFSET $2
		)
	`
	tag, err := r.db.Exec(ctx, q, ownerID, max(keep, 0))
	if err != nil {
		return 0, handleError("trim activity", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresActivityStore) List(ctx context.Context, ownerID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := `
		SELECT owner_id, created_at, activity_id::text, kind, actor_id, target_id, target_type, metadata
		FROM activity_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, activity_id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, q, ownerID, limit)
	if err != nil {
		return nil, handleError("list activity", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ActivityEntry, error) {
		var (
			e    domain.ActivityEntry
			id   string
			kind string
		)
		if err := row.Scan(&e.OwnerID, &e.CreatedAt, &id, &kind, &e.ActorID, &e.TargetID, &e.TargetType, &e.Metadata); err != nil {
			return e, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.Kind = domain.ActivityKind(kind)
		parsed, err := uuid.Parse(id)
		e.ActivityID = parsed
		return e, err
	})
	if err != nil {
		return nil, handleError("scan activity", err)
	}
	return entries, nil
}

var _ ports.ActivityStore = (*PostgresActivityStore)(nil)
