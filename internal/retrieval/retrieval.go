// Package retrieval ranks stored chunks against a natural-language query.
//
// The ranker embeds the query with the same model that produced the
// stored vectors, then delegates nearest-neighbor search to the store.
// Similarity scores are higher-is-better (1.0 is an exact cosine match).
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papyr-ai/papyr/internal/store"
)

// ErrEmptyQuery indicates a blank or whitespace-only query string.
var ErrEmptyQuery = errors.New("query must not be empty")

// DefaultTopK is the result count used when the caller does not override it.
const DefaultTopK = 5

// Embedder turns query text into a vector. *embed.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs nearest-neighbor search. *store.Store satisfies it.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int, opts ...store.QueryOption) ([]store.Match, error)
}

// Ranker retrieves the chunks most similar to a query.
//
// Ranker is safe for concurrent use by multiple goroutines.
type Ranker struct {
	embedder Embedder
	searcher Searcher
	topK     int
	exact    bool
	logger   *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithTopK sets the default number of results per query.
func WithTopK(k int) Option {
	return func(r *Ranker) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithExact forces exhaustive scans instead of the approximate index.
func WithExact() Option {
	return func(r *Ranker) { r.exact = true }
}

// NewRanker creates a Ranker over the given embedder and searcher.
func NewRanker(embedder Embedder, searcher Searcher, logger *slog.Logger, opts ...Option) (*Ranker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Ranker{
		embedder: embedder,
		searcher: searcher,
		topK:     DefaultTopK,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve embeds the query and returns up to topK matches ordered by
// descending similarity. A topK of 0 or less uses the ranker's default.
// An empty store yields an empty slice, not an error.
func (r *Ranker) Retrieve(ctx context.Context, query string, topK int) ([]store.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.topK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors for one text", len(vectors))
	}

	var opts []store.QueryOption
	if r.exact {
		opts = append(opts, store.Exact())
	}

	matches, err := r.searcher.Query(ctx, vectors[0], topK, opts...)
	if err != nil {
		return nil, fmt.Errorf("searching store: %w", err)
	}

	r.logger.Debug("retrieved chunks", "query_len", len(query), "top_k", topK, "matches", len(matches))
	return matches, nil
}
