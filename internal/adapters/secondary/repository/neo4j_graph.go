package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// Neo4jEdgeIndex matérialise chaque direction par son propre type de relation :
// (a)-[:FOLLOWING]->(b) appartient à l'index de a, (b)-[:FOLLOWED_BY]->(a) à celui de b.
type Neo4jEdgeIndex struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jEdgeIndex(driver neo4j.DriverWithContext) *Neo4jEdgeIndex {
	return &Neo4jEdgeIndex{driver: driver}
}

func relType(dir domain.Direction) (string, error) {
	switch dir {
	case domain.DirectionFollowing:
		return "FOLLOWING", nil
	case domain.DirectionFollowers:
		return "FOLLOWED_BY", nil
	default:
		return "", fmt.Errorf("unknown direction %d", dir)
	}
}

// EnsureSchema crée les index pour que les lookups par ID soient O(1)
func (r *Neo4jEdgeIndex) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`, nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: neo4j: ensure schema: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *Neo4jEdgeIndex) Put(ctx context.Context, dir domain.Direction, ownerID, peerID string, version uint64, active bool) (bool, error) {
	rel, err := relType(dir)
	if err != nil {
		return false, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	applied, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// MERGE est idempotent ; la comparaison de version est faite avant toute mise à jour
		query := fmt.Sprintf(`
			MERGE (o:User {id: $ownerId})
			MERGE (p:User {id: $peerId})
			MERGE (o)-[r:%s]->(p)
			ON CREATE SET r.version = -1, r.created_at = datetime()
			WITH r, r.version <= $version AS applied
			SET r.version = CASE WHEN applied THEN $version ELSE r.version END,
			    r.active  = CASE WHEN applied THEN $active ELSE r.active END
			RETURN applied
		`, rel)
		res, err := tx.Run(ctx, query, map[string]any{
			"ownerId": ownerID,
			"peerId":  peerID,
			"version": int64(version),
			"active":  active,
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		ok, _, err := neo4j.GetRecordValue[bool](rec, "applied")
		return ok, err
	})
	if err != nil {
		return false, fmt.Errorf("%w: neo4j: put edge: %v", domain.ErrStorageUnavailable, err)
	}
	return applied.(bool), nil
}

func (r *Neo4jEdgeIndex) List(ctx context.Context, dir domain.Direction, ownerID string) ([]string, error) {
	rel, err := relType(dir)
	if err != nil {
		return nil, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	peers, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`MATCH (:User {id: $ownerId})-[r:%s]->(p:User) WHERE r.active RETURN p.id AS peerId`, rel)
		res, err := tx.Run(ctx, query, map[string]any{"ownerId": ownerID})
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			id, _, err := neo4j.GetRecordValue[string](res.Record(), "peerId")
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: neo4j: list edges: %v", domain.ErrStorageUnavailable, err)
	}
	return peers.([]string), nil
}

func (r *Neo4jEdgeIndex) Count(ctx context.Context, dir domain.Direction, ownerID string) (int64, error) {
	rel, err := relType(dir)
	if err != nil {
		return 0, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	n, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`MATCH (:User {id: $ownerId})-[r:%s]->() WHERE r.active RETURN count(r) AS n`, rel)
		res, err := tx.Run(ctx, query, map[string]any{"ownerId": ownerID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _, err := neo4j.GetRecordValue[int64](rec, "n")
		return v, err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: neo4j: count edges: %v", domain.ErrStorageUnavailable, err)
	}
	return n.(int64), nil
}

var _ ports.EdgeIndex = (*Neo4jEdgeIndex)(nil)
