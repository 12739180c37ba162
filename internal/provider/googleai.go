package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NameGoogleAI is the registry key for the Google Generative Language binding.
const NameGoogleAI = "googleai"

const googleAIDefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

type googleAIClient struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

func newGoogleAIClient(cfg Config, client *http.Client) *googleAIClient {
	base := cfg.Endpoint
	if base == "" {
		base = googleAIDefaultEndpoint
	}
	return &googleAIClient{
		cfg:     cfg,
		client:  client,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func newGoogleAIEmbedder(cfg Config, client *http.Client) (Embedder, error) {
	return newGoogleAIClient(cfg, client), nil
}

func newGoogleAIGenerator(cfg Config, client *http.Client) (Generator, error) {
	return newGoogleAIClient(cfg, client), nil
}

// modelURL builds {base}/models/{model}:{verb}?key={apiKey}.
func (c *googleAIClient) modelURL(verb string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s",
		c.baseURL, c.cfg.Model, verb, url.QueryEscape(c.cfg.APIKey))
}

// Embed calls embedContent once per text. The API accepts one content
// block per request; the gateway handles batch fan-out and ordering.
func (c *googleAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var parsed struct {
			Embedding struct {
				Values []float32 `json:"values"`
			} `json:"embedding"`
		}
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]string{{"text": text}},
			},
		}
		if err := postJSON(ctx, c.client, c.modelURL("embedContent"), nil, body, &parsed); err != nil {
			return nil, fmt.Errorf("googleai embedContent: %w", err)
		}
		if len(parsed.Embedding.Values) == 0 {
			return nil, fmt.Errorf("%w: missing embedding.values for input %d", ErrUnexpectedResponse, i)
		}
		vectors[i] = parsed.Embedding.Values
	}
	return vectors, nil
}

// Generate calls generateContent and extracts the first candidate's text.
func (c *googleAIClient) Generate(ctx context.Context, prompt string, p Params) (*Answer, error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     p.Temperature,
			"topP":            p.TopP,
			"maxOutputTokens": p.MaxTokens,
		},
	}

	start := time.Now()
	if err := postJSON(ctx, c.client, c.modelURL("generateContent"), nil, body, &parsed); err != nil {
		return nil, fmt.Errorf("googleai generateContent: %w", err)
	}
	elapsed := time.Since(start)

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrUnexpectedResponse)
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	answer := &Answer{Text: sb.String()}
	if parsed.UsageMetadata.CandidatesTokenCount > 0 && elapsed > 0 {
		tps := float64(parsed.UsageMetadata.CandidatesTokenCount) / elapsed.Seconds()
		answer.TokensPerSecond = &tps
	}
	return answer, nil
}
