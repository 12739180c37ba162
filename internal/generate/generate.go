// Package generate produces grounded answers: it assembles retrieved
// chunks and the user's question into a single prompt and hands it to a
// text-generation provider.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papyr-ai/papyr/internal/provider"
	"github.com/papyr-ai/papyr/internal/store"
)

// ErrEmptyQuery indicates a blank or whitespace-only question.
var ErrEmptyQuery = errors.New("query must not be empty")

// answerPrompt frames the retrieved context and the question for the
// model. Chunk texts are joined with newlines in retrieval order.
const answerPrompt = `You are a helpful AI assistant. Use the following context to answer the user's question.
Context: %s
Question: %s
Answer:`

// expandPrompt asks the model to enrich a query with synonyms before
// retrieval, to improve recall.
const expandPrompt = `Expand the following query, specifically add relevant synonyms for key topics and phrases.
Your goal is to increase the chances of a relevant retrieval from the knowledge base.

Query: %s`

// Result is a normalized generation outcome. TokensPerSecond is nil when
// the provider does not report token usage.
type Result struct {
	Answer          string
	TokensPerSecond *float64
}

// Overrides replaces individual sampling parameters for a single call.
// Nil fields keep the gateway's configured values.
type Overrides struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// Gateway turns a question plus retrieved context into an answer.
//
// Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	generator provider.Generator
	params    provider.Params
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithParams overrides the sampling parameters sent to the provider.
func WithParams(p provider.Params) Option {
	return func(g *Gateway) { g.params = p }
}

// NewGateway creates a Gateway over the given generator.
func NewGateway(generator provider.Generator, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		generator: generator,
		params:    provider.Params{Temperature: 0.2, TopP: 0.9},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// BuildPrompt assembles the context-grounded prompt for a question.
// Exported so callers can log or display the exact prompt sent.
func BuildPrompt(query string, chunks []store.Match) string {
	texts := make([]string, len(chunks))
	for i, m := range chunks {
		texts[i] = m.Chunk.Text
	}
	return fmt.Sprintf(answerPrompt, strings.Join(texts, "\n"), query)
}

// Answer generates a response to the query grounded in the given chunks.
// With no chunks the model is asked anyway, with an empty context; the
// caller decides whether an empty retrieval is worth answering.
func (g *Gateway) Answer(ctx context.Context, query string, chunks []store.Match, overrides *Overrides) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	prompt := BuildPrompt(query, chunks)
	answer, err := g.generator.Generate(ctx, prompt, g.mergeParams(overrides))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	g.logger.Debug("generated answer",
		"chunks", len(chunks), "answer_len", len(answer.Text))
	return &Result{Answer: answer.Text, TokensPerSecond: answer.TokensPerSecond}, nil
}

// mergeParams applies per-call overrides on top of the configured
// sampling parameters.
func (g *Gateway) mergeParams(o *Overrides) provider.Params {
	p := g.params
	if o == nil {
		return p
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.MaxTokens != nil {
		p.MaxTokens = *o.MaxTokens
	}
	return p
}

// ExpandQuery asks the model to rewrite the query with added synonyms.
// Double quotes are stripped from the expansion so it cannot break
// downstream phrase matching. Expansion is best-effort: on any provider
// error the original query comes back unchanged, with no error.
func (g *Gateway) ExpandQuery(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return query
	}

	answer, err := g.generator.Generate(ctx, fmt.Sprintf(expandPrompt, query), g.params)
	if err != nil {
		g.logger.Warn("query expansion failed, using original query", "error", err)
		return query
	}

	expanded := strings.TrimSpace(strings.ReplaceAll(answer.Text, `"`, ""))
	if expanded == "" {
		return query
	}
	return expanded
}
