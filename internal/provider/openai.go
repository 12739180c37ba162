package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NameOpenAI is the registry key for the OpenAI binding.
const NameOpenAI = "openai"

const openAIDefaultEndpoint = "https://api.openai.com/v1"

type openAIClient struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

func newOpenAIClient(cfg Config, client *http.Client) *openAIClient {
	base := cfg.Endpoint
	if base == "" {
		base = openAIDefaultEndpoint
	}
	return &openAIClient{
		cfg:     cfg,
		client:  client,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func newOpenAIEmbedder(cfg Config, client *http.Client) (Embedder, error) {
	return newOpenAIClient(cfg, client), nil
}

func newOpenAIGenerator(cfg Config, client *http.Client) (Generator, error) {
	return newOpenAIClient(cfg, client), nil
}

func (c *openAIClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

// Embed calls POST /embeddings with the whole batch in one request.
// OpenAI tags each vector with its input index, so results are placed by
// index rather than trusting response order.
func (c *openAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	body := map[string]any{
		"model": c.cfg.Model,
		"input": texts,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/embeddings", c.headers(), body, &parsed); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrUnexpectedResponse, len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrUnexpectedResponse, d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrUnexpectedResponse, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrUnexpectedResponse, i)
		}
	}
	return vectors, nil
}

// Generate calls POST /chat/completions with a single user message.
// Tokens per second is derived from completion token usage and wall time.
func (c *openAIClient) Generate(ctx context.Context, prompt string, p Params) (*Answer, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	body := map[string]any{
		"model":       c.cfg.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": p.Temperature,
		"top_p":       p.TopP,
		"max_tokens":  p.MaxTokens,
	}

	start := time.Now()
	if err := postJSON(ctx, c.client, c.baseURL+"/chat/completions", c.headers(), body, &parsed); err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	elapsed := time.Since(start)

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in completion", ErrUnexpectedResponse)
	}

	answer := &Answer{Text: parsed.Choices[0].Message.Content}
	if parsed.Usage.CompletionTokens > 0 && elapsed > 0 {
		tps := float64(parsed.Usage.CompletionTokens) / elapsed.Seconds()
		answer.TokensPerSecond = &tps
	}
	return answer, nil
}
