package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// Metric selects the distance function used for nearest-neighbor search.
type Metric int

const (
	// Cosine is the default metric; similarity is 1 - distance.
	Cosine Metric = iota
	// L2 is Euclidean distance; similarity is the negated distance.
	L2
	// InnerProduct similarity is the negated <#> distance, which pgvector
	// returns already negated for index compatibility.
	InnerProduct
)

// operator returns the pgvector distance operator for the metric.
func (m Metric) operator() string {
	switch m {
	case L2:
		return "<->"
	case InnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// similarity converts a raw distance into a higher-is-better score.
func (m Metric) similarity(distance float64) float64 {
	switch m {
	case Cosine:
		return 1 - distance
	default:
		return -distance
	}
}

type queryConfig struct {
	metric Metric
	exact  bool
}

// QueryOption adjusts a single Query call.
type QueryOption func(*queryConfig)

// WithMetric selects the distance metric. Only Cosine is served by the
// IVFFlat index; other metrics fall back to a sequential scan.
func WithMetric(m Metric) QueryOption {
	return func(c *queryConfig) { c.metric = m }
}

// Exact disables index scans for this query, forcing an exhaustive scan.
// Slower but immune to IVFFlat recall loss; useful for small stores and
// for verifying approximate results.
func Exact() QueryOption {
	return func(c *queryConfig) { c.exact = true }
}

// Query returns up to topK chunks nearest to the given vector, ordered
// by ascending distance. Ties are broken by ascending row id so results
// are deterministic. An empty or unprovisioned store yields an empty
// slice, not an error.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, opts ...QueryOption) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	cfg := queryConfig{metric: Cosine}
	for _, opt := range opts {
		opt(&cfg)
	}

	dim, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []Match{}, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query vector has dimension %d, table expects %d",
			ErrDimensionMismatch, len(vector), dim)
	}

	op := cfg.metric.operator()
	querySQL := fmt.Sprintf(`
		SELECT id, title, summary, chunk, seq, embedding %s $1 AS distance
		FROM %s
		ORDER BY embedding %s $1, id
		LIMIT $2`, op, tableName, op)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning query transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.exact {
		// SET LOCAL scopes the planner override to this transaction.
		if _, err := tx.Exec(ctx, `SET LOCAL enable_indexscan = off`); err != nil {
			return nil, fmt.Errorf("disabling index scan: %w", err)
		}
		if _, err := tx.Exec(ctx, `SET LOCAL enable_bitmapscan = off`); err != nil {
			return nil, fmt.Errorf("disabling bitmap scan: %w", err)
		}
	}

	rows, err := tx.Query(ctx, querySQL, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("querying nearest neighbors: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var (
			m        Match
			distance float64
		)
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.Title, &m.Chunk.Summary,
			&m.Chunk.Text, &m.Chunk.Seq, &distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Similarity = cfg.metric.similarity(distance)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing query transaction: %w", err)
	}
	return matches, nil
}
