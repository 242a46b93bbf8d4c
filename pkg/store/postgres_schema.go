package store

import "context"

// migrate creates the snapshot tables.
func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS insight_nodes (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		value DOUBLE PRECISION,
		confidence DOUBLE PRECISION NOT NULL CHECK (confidence BETWEEN 0 AND 1),
		tags TEXT[],
		metric TEXT NOT NULL DEFAULT '',
		series DOUBLE PRECISION[],
		observed_at TIMESTAMPTZ,
		metadata JSONB
	);

	CREATE TABLE IF NOT EXISTS insight_edges (
		source_id TEXT NOT NULL REFERENCES insight_nodes(id),
		target_id TEXT NOT NULL REFERENCES insight_nodes(id),
		weight DOUBLE PRECISION NOT NULL CHECK (weight BETWEEN 0 AND 1),
		relationship_type TEXT NOT NULL,
		semantic_similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
		correlation DOUBLE PRECISION,
		shared_tags TEXT[],
		PRIMARY KEY (source_id, target_id),
		CHECK (source_id <> target_id)
	);

	CREATE TABLE IF NOT EXISTS insight_snapshots (
		id BIGSERIAL PRIMARY KEY,
		saved_at TIMESTAMPTZ NOT NULL,
		nodes INTEGER NOT NULL,
		edges INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_insight_nodes_source ON insight_nodes(source);
	CREATE INDEX IF NOT EXISTS idx_insight_edges_target ON insight_edges(target_id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
