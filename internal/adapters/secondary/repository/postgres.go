package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

//go:embed schema.sql
var schemaSQL string

// NewPool construit le pool pgx instrumenté OpenTelemetry et vérifie la connexion.
func NewPool(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	if maxConns > 0 {
		dbConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, handleError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, handleError("ping", err)
	}
	return pool, nil
}

// Migrate applique le schéma (idempotent : CREATE ... IF NOT EXISTS)
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return handleError("migrate", err)
	}
	return nil
}

// handleError traduit les erreurs PostgreSQL en erreurs du Domaine.
// Tout ce qui n'est pas une violation de contrainte est considéré comme transitoire.
func handleError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Classe 22 = donnée invalide, 23 = violation de contrainte : rejouer n'y changera rien
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23") {
			return fmt.Errorf("%w: db: %s: %s", domain.ErrInvalidIdentifier, op, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: db: %s: %v", domain.ErrStorageUnavailable, op, err)
}
