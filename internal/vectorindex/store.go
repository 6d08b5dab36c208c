package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Row is one persisted ToolEmbedding (spec §3). Primary key is
// (UpstreamName, ToolName); Text/Vector/Dim/UpdatedAt are the remaining
// columns spec §4.C5's storage model names.
type Row struct {
	UpstreamName string
	ToolName     string
	Text         string
	Dim          int
}

// Match is one search(...) result: spec §4.C5's { key, similarity, text }.
type Match struct {
	UpstreamName string
	ToolName     string
	Text         string
	Similarity   float64
}

// store is the pgx/pgvector-backed persistence layer. Index (in index.go)
// layers the upsert-only-if-changed and catalog-filtering rules on top.
type store struct {
	pool *pgxpool.Pool
}

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS tool_embeddings (
	upstream_name TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	text          TEXT NOT NULL,
	embedding     vector NOT NULL,
	dim           INT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (upstream_name, tool_name)
);
`

// newStore connects to Postgres and ensures the pgvector schema exists. The
// dimensionality of the `embedding` column is fixed by the first row written
// (spec §4.C5 "the first row written fixes d for the index"); pgvector's
// untyped `vector` column accepts any dimension, so a dimension mismatch is
// detected and handled at the application layer in index.go rather than by a
// column-width constraint.
func newStore(ctx context.Context, connString string) (*store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring vector schema: %w", err)
	}
	return &store{pool: pool}, nil
}

func (s *store) close() {
	s.pool.Close()
}

// existingText returns the currently stored text for a key, and whether a
// row exists at all, so upsertMany can skip re-embedding unchanged text
// (spec §8 "upserting the same (key, text) twice performs at most one
// Embedder call").
func (s *store) existingText(ctx context.Context, upstreamName, toolName string) (string, bool, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT text FROM tool_embeddings WHERE upstream_name = $1 AND tool_name = $2`,
		upstreamName, toolName,
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading existing embedding: %w", err)
	}
	return text, true, nil
}

func (s *store) upsert(ctx context.Context, upstreamName, toolName, text string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_embeddings (upstream_name, tool_name, text, embedding, dim, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (upstream_name, tool_name)
		DO UPDATE SET text = $3, embedding = $4, dim = $5, updated_at = now()
	`, upstreamName, toolName, text, pgvector.NewVector(vec), len(vec))
	if err != nil {
		return fmt.Errorf("upserting embedding for %s/%s: %w", upstreamName, toolName, err)
	}
	return nil
}

func (s *store) deleteByKey(ctx context.Context, upstreamName, toolName string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tool_embeddings WHERE upstream_name = $1 AND tool_name = $2`,
		upstreamName, toolName,
	)
	if err != nil {
		return fmt.Errorf("deleting embedding for %s/%s: %w", upstreamName, toolName, err)
	}
	return nil
}

func (s *store) deleteByUpstream(ctx context.Context, upstreamName string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tool_embeddings WHERE upstream_name = $1`, upstreamName)
	if err != nil {
		return fmt.Errorf("deleting embeddings for upstream %s: %w", upstreamName, err)
	}
	return nil
}

// rebuild empties the table with TRUNCATE, used when a mismatched embedding
// dimension arrives (spec §4.C5 "subsequent mismatched dimensions cause the
// index to be rebuilt").
func (s *store) rebuild(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE TABLE tool_embeddings`); err != nil {
		return fmt.Errorf("rebuilding vector index: %w", err)
	}
	return nil
}

// search runs pgvector's cosine-distance operator (<=>) to find the k
// nearest rows, then converts distance to similarity (1 - distance) and
// drops anything below threshold. Ties are broken by (upstream_name,
// tool_name) ascending for determinism, per spec §4.C5.
func (s *store) search(ctx context.Context, queryVec []float32, k int, threshold float64) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT upstream_name, tool_name, text, 1 - (embedding <=> $1) AS similarity
		FROM tool_embeddings
		ORDER BY embedding <=> $1 ASC, upstream_name ASC, tool_name ASC
		LIMIT $2
	`, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("searching vector index: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.UpstreamName, &m.ToolName, &m.Text, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].UpstreamName != out[j].UpstreamName {
			return out[i].UpstreamName < out[j].UpstreamName
		}
		return out[i].ToolName < out[j].ToolName
	})
	return out, nil
}
