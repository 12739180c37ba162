package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// NameOllama is the registry key for the Ollama binding.
const NameOllama = "ollama"

const ollamaDefaultEndpoint = "http://localhost:11434"

type ollamaClient struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

func newOllamaClient(cfg Config, client *http.Client) *ollamaClient {
	base := cfg.Endpoint
	if base == "" {
		base = ollamaDefaultEndpoint
	}
	return &ollamaClient{
		cfg:     cfg,
		client:  client,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func newOllamaEmbedder(cfg Config, client *http.Client) (Embedder, error) {
	return newOllamaClient(cfg, client), nil
}

func newOllamaGenerator(cfg Config, client *http.Client) (Generator, error) {
	return newOllamaClient(cfg, client), nil
}

// Embed calls POST /api/embeddings once per text; the Ollama embeddings
// endpoint takes a single prompt. Batch fan-out is the gateway's job.
func (c *ollamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		body := map[string]any{
			"model":  c.cfg.Model,
			"prompt": text,
		}
		if err := postJSON(ctx, c.client, c.baseURL+"/api/embeddings", nil, body, &parsed); err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding for input %d", ErrUnexpectedResponse, i)
		}
		vectors[i] = parsed.Embedding
	}
	return vectors, nil
}

// Generate calls POST /api/generate without streaming. Ollama reports
// eval_count and eval_duration (nanoseconds) directly, which gives an
// exact tokens-per-second figure.
func (c *ollamaClient) Generate(ctx context.Context, prompt string, p Params) (*Answer, error) {
	var parsed struct {
		Response     string `json:"response"`
		Done         bool   `json:"done"`
		EvalCount    int64  `json:"eval_count"`
		EvalDuration int64  `json:"eval_duration"`
	}
	body := map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": p.Temperature,
			"top_p":       p.TopP,
			"num_predict": p.MaxTokens,
		},
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/api/generate", nil, body, &parsed); err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	if !parsed.Done {
		return nil, fmt.Errorf("%w: incomplete generation", ErrUnexpectedResponse)
	}

	answer := &Answer{Text: parsed.Response}
	if parsed.EvalCount > 0 && parsed.EvalDuration > 0 {
		tps := float64(parsed.EvalCount) / (float64(parsed.EvalDuration) / 1e9)
		answer.TokensPerSecond = &tps
	}
	return answer, nil
}
