package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/papyr-ai/papyr/internal/provider"
)

// StubEmbedder is a deterministic in-process Embedder for tests. The
// vector for a given text depends only on the text, so identical inputs
// always embed identically and nearest-neighbor ordering is stable
// across runs.
type StubEmbedder struct {
	Dim int   // vector dimension, defaults to 8 when zero
	Err error // returned from every call when non-nil

	mu    sync.Mutex
	calls int
	texts []string
}

// Embed implements provider.Embedder.
func (e *StubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	if len(texts) == 0 {
		return nil, provider.ErrEmptyInput
	}

	dim := e.Dim
	if dim == 0 {
		dim = 8
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DeterministicVector(text, dim)
	}
	return out, nil
}

// Calls returns how many Embed invocations the stub has seen.
func (e *StubEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns every text passed to Embed, in call order.
func (e *StubEmbedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// DeterministicVector derives a unit-length vector from a string. Texts
// sharing a prefix land near each other only by accident; the point is
// determinism, not semantics.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift keeps each component cheap and reproducible.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2001)-1000) / 1000
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// StubGenerator is a scripted Generator for tests. It replays Response
// and records the prompts and sampling parameters it was called with.
type StubGenerator struct {
	Response        string
	TokensPerSecond *float64
	Err             error

	mu      sync.Mutex
	prompts []string
	params  []provider.Params
}

// Generate implements provider.Generator.
func (g *StubGenerator) Generate(_ context.Context, prompt string, p provider.Params) (*provider.Answer, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.params = append(g.params, p)
	g.mu.Unlock()

	if g.Err != nil {
		return nil, g.Err
	}
	return &provider.Answer{Text: g.Response, TokensPerSecond: g.TokensPerSecond}, nil
}

// Prompts returns every prompt passed to Generate, in call order.
func (g *StubGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// Params returns the sampling parameters of every call, in call order.
func (g *StubGenerator) Params() []provider.Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]provider.Params(nil), g.params...)
}
