package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// PostgresEdgeIndex : une table par direction. Une relation retirée reste (active = false)
// pour que sa version écarte les events plus anciens.
type PostgresEdgeIndex struct {
	db *pgxpool.Pool
}

func NewPostgresEdgeIndex(pool *pgxpool.Pool) *PostgresEdgeIndex {
	return &PostgresEdgeIndex{db: pool}
}

func edgeTable(dir domain.Direction) (string, error) {
	switch dir {
	case domain.DirectionFollowing:
		return "follow_following", nil
	case domain.DirectionFollowers:
		return "follow_followers", nil
	default:
		return "", fmt.Errorf("unknown direction %d", dir)
	}
}

func (r *PostgresEdgeIndex) Put(ctx context.Context, dir domain.Direction, ownerID, peerID string, version uint64, active bool) (bool, error) {
	table, err := edgeTable(dir)
	if err != nil {
		return false, err
	}
	// Le WHERE du DO UPDATE ignore l'écriture si la ligne porte déjà une version plus récente
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (owner_id, peer_id, version, active, updated_at)
		VALUES (@owner_id, @peer_id, @version, @active, now())
		ON CONFLICT (owner_id, peer_id) DO UPDATE
		SET version = EXCLUDED.version, active = EXCLUDED.active, updated_at = now()
		WHERE %[1]s.version <= EXCLUDED.version
	`, table)
	args := pgx.NamedArgs{
		"owner_id": ownerID,
		"peer_id":  peerID,
		"version":  int64(version),
		"active":   active,
	}
	tag, err := r.db.Exec(ctx, q, args)
	if err != nil {
		return false, handleError("put edge", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresEdgeIndex) List(ctx context.Context, dir domain.Direction, ownerID string) ([]string, error) {
	table, err := edgeTable(dir)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT peer_id FROM %s WHERE owner_id = $1 AND active`, table), ownerID)
	if err != nil {
		return nil, handleError("list edges", err)
	}
	peers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, handleError("scan edges", err)
	}
	return peers, nil
}

func (r *PostgresEdgeIndex) Count(ctx context.Context, dir domain.Direction, ownerID string) (int64, error) {
	table, err := edgeTable(dir)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE owner_id = $1 AND active`, table), ownerID).Scan(&n)
	if err != nil {
		return 0, handleError("count edges", err)
	}
	return n, nil
}

var _ ports.EdgeIndex = (*PostgresEdgeIndex)(nil)
