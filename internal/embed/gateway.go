// Package embed provides the embedding gateway: it fans a batch of chunk
// texts out to the configured provider binding and returns one vector per
// input, in input order, regardless of the order provider calls complete.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/papyr-ai/papyr/internal/provider"
)

const (
	defaultBatchSize = 16
	defaultWorkers   = 4

	// probeText is the minimal input used to discover a provider's
	// vector dimension without a full ingestion run.
	probeText = "dimension probe"
)

// Gateway dispatches embedding requests to one provider binding.
//
// Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	embedder  provider.Embedder
	limiter   *rate.Limiter
	batchSize int
	workers   int
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBatchSize sets how many texts go into one provider call.
func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithWorkers bounds how many provider calls run concurrently.
func WithWorkers(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithRateLimit throttles outbound provider calls to rps requests per
// second with the given burst. Zero rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewGateway creates a Gateway around the given embedder binding.
func NewGateway(embedder provider.Embedder, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		embedder:  embedder,
		batchSize: defaultBatchSize,
		workers:   defaultWorkers,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed returns one vector per input text, order preserved. Sub-batches
// are dispatched concurrently; each worker writes its results into the
// slot range matching its input offset, so completion order never leaks
// into output order. All vectors in a batch must share one length; a
// provider that disagrees with itself gets reported as
// provider.ErrUnexpectedResponse.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, provider.ErrEmptyInput
	}

	results := make([][]float32, len(texts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return fmt.Errorf("rate limit wait: %w", err)
				}
			}
			vectors, err := g.embedder.Embed(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("%w: got %d vectors for %d texts",
					provider.ErrUnexpectedResponse, len(vectors), end-start)
			}
			copy(results[start:end], vectors)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dim := len(results[0])
	for i, v := range results {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, expected %d",
				provider.ErrUnexpectedResponse, i, len(v), dim)
		}
	}

	g.logger.Debug("embedded batch", "texts", len(texts), "dimension", dim)
	return results, nil
}

// ProbeDimension issues a single minimal embedding call and returns the
// provider's vector length.
func (g *Gateway) ProbeDimension(ctx context.Context) (int, error) {
	vectors, err := g.embedder.Embed(ctx, []string{probeText})
	if err != nil {
		return 0, fmt.Errorf("probing dimension: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("%w: empty probe vector", provider.ErrUnexpectedResponse)
	}
	return len(vectors[0]), nil
}
