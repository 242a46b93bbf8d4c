package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ritzau/insight-graph/pkg/model"
)

// PGStore keeps the snapshot in PostgreSQL tables.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to databaseURL and creates the tables if needed.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

var nodeColumns = []string{
	"id", "type", "source", "content", "value", "confidence", "tags",
	"metric", "series", "observed_at", "metadata",
}

var edgeColumns = []string{
	"source_id", "target_id", "weight", "relationship_type",
	"semantic_similarity", "correlation", "shared_tags",
}

// Save replaces the stored graph in one transaction.
func (s *PGStore) Save(ctx context.Context, g *model.Graph) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM insight_edges; DELETE FROM insight_nodes;`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	nodeRows := make([][]any, len(g.Nodes))
	for i, n := range g.Nodes {
		nodeRows[i] = []any{
			n.ID, string(n.Type), n.Source, n.Content, n.Value, n.Confidence, n.Tags,
			n.Metric, n.Series, n.Timestamp, n.Metadata,
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"insight_nodes"}, nodeColumns, pgx.CopyFromRows(nodeRows)); err != nil {
		return fmt.Errorf("failed to copy nodes: %w", err)
	}

	edgeRows := make([][]any, len(g.Edges))
	for i, e := range g.Edges {
		edgeRows[i] = []any{
			e.SourceID, e.TargetID, e.Weight, string(e.RelationshipType),
			e.SemanticSimilarity, e.Correlation, e.SharedTags,
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"insight_edges"}, edgeColumns, pgx.CopyFromRows(edgeRows)); err != nil {
		return fmt.Errorf("failed to copy edges: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO insight_snapshots (saved_at, nodes, edges) VALUES ($1, $2, $3)`,
		time.Now().UTC(), len(g.Nodes), len(g.Edges),
	); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored graph.
func (s *PGStore) Load(ctx context.Context) (*model.Graph, error) {
	var savedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT saved_at FROM insight_snapshots ORDER BY id DESC LIMIT 1`).Scan(&savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	g := model.NewGraph()

	rows, err := s.pool.Query(ctx, `
		SELECT id, type, source, content, value, confidence, tags, metric, series, observed_at, metadata
		FROM insight_nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	for rows.Next() {
		n := &model.Node{}
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.Source, &n.Content, &n.Value, &n.Confidence, &n.Tags,
			&n.Metric, &n.Series, &n.Timestamp, &n.Metadata); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Type = model.NodeType(typ)
		if n.Tags == nil {
			n.Tags = []string{}
		}
		g.AddNode(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT source_id, target_id, weight, relationship_type, semantic_similarity, correlation, shared_tags
		FROM insight_edges ORDER BY source_id, target_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	for rows.Next() {
		e := &model.Edge{}
		var rel string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Weight, &rel, &e.SemanticSimilarity, &e.Correlation, &e.SharedTags); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.RelationshipType = model.ParseRelationshipType(rel)
		g.AddEdge(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	return g, nil
}

// Ping checks database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
