package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/papyr-ai/papyr/internal/generate"
	"github.com/papyr-ai/papyr/internal/provider"
	"github.com/papyr-ai/papyr/internal/retrieval"
	"github.com/papyr-ai/papyr/internal/store"
)

// maxQueryBodyBytes caps request bodies; queries are short text.
const maxQueryBodyBytes = 64 << 10

// Retriever finds the stored chunks most similar to a query.
// *retrieval.Ranker satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]store.Match, error)
}

// Answerer turns a query and its supporting chunks into an answer.
// *generate.Gateway satisfies it.
type Answerer interface {
	Answer(ctx context.Context, query string, chunks []store.Match, overrides *generate.Overrides) (*generate.Result, error)
	ExpandQuery(ctx context.Context, query string) string
}

type queryHandler struct {
	retriever   Retriever
	answerer    Answerer
	expandQuery bool
	logger      *slog.Logger
}

type queryRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// overrides converts the optional sampling fields; nil when none is set.
func (r queryRequest) overrides() *generate.Overrides {
	if r.Temperature == nil && r.TopP == nil && r.MaxTokens == nil {
		return nil
	}
	return &generate.Overrides{
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
	}
}

type queryChunk struct {
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

type queryResponse struct {
	Query           string       `json:"query"`
	ExpandedQuery   string       `json:"expanded_query,omitempty"`
	Answer          string       `json:"answer"`
	TokensPerSecond *float64     `json:"tokens_per_second,omitempty"`
	Chunks          []queryChunk `json:"chunks"`
}

// ask serves POST /api/v1/query: retrieve the most relevant chunks and
// generate a grounded answer.
func (h *queryHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a query field")
		return
	}

	ctx := r.Context()

	searchQuery := req.Query
	expanded := ""
	if h.expandQuery {
		if e := h.answerer.ExpandQuery(ctx, req.Query); e != req.Query {
			searchQuery = e
			expanded = e
		}
	}

	chunks, err := h.retriever.Retrieve(ctx, searchQuery, req.TopK)
	if err != nil {
		h.writeDomainError(w, r, "retrieving chunks", err)
		return
	}

	// The answer is grounded in the retrieved chunks but framed around
	// the user's original question, not the expanded search query.
	result, err := h.answerer.Answer(ctx, req.Query, chunks, req.overrides())
	if err != nil {
		h.writeDomainError(w, r, "generating answer", err)
		return
	}

	resp := queryResponse{
		Query:           req.Query,
		ExpandedQuery:   expanded,
		Answer:          result.Answer,
		TokensPerSecond: result.TokensPerSecond,
		Chunks:          make([]queryChunk, len(chunks)),
	}
	for i, m := range chunks {
		resp.Chunks[i] = queryChunk{
			Title:      m.Chunk.Title,
			Summary:    m.Chunk.Summary,
			Text:       m.Chunk.Text,
			Similarity: m.Similarity,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *queryHandler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op,
		"error", err,
		"request_id", requestIDFromContext(r.Context()),
	)

	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery), errors.Is(err, generate.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty")
	case errors.Is(err, provider.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable", "model provider is unreachable, retry later")
	case errors.Is(err, provider.ErrUnexpectedResponse):
		writeError(w, http.StatusBadGateway, "provider_error", "model provider returned an unexpected response")
	case errors.Is(err, store.ErrDimensionMismatch):
		writeError(w, http.StatusConflict, "index_stale", "index does not match the configured embedding model, rebuild required")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
