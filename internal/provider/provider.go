// Package provider defines the common contract for embedding and text
// generation backends and a registry that selects a binding by provider
// identifier. Each binding translates the generic request into one
// provider's wire call and parses the response into the common form;
// adding a provider means adding one implementation file and one
// Register call, not editing a shared conditional.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors for provider operations. Check with errors.Is.
var (
	// ErrUnknownProvider indicates no binding is registered for the
	// requested provider identifier.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderUnavailable indicates a network, auth, or upstream
	// failure. Transient; retry policy belongs to the caller, never to
	// the binding itself.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrUnexpectedResponse indicates the provider answered but the
	// payload could not be parsed into the common form. Treated as a
	// provider bug and surfaced, not retried.
	ErrUnexpectedResponse = errors.New("unexpected provider response")

	// ErrEmptyInput indicates an embedding request with no texts.
	ErrEmptyInput = errors.New("empty input")
)

// Config identifies one provider binding. It is resolved once per session
// from process configuration and treated as immutable afterwards. Two
// independent Configs exist in a running pipeline: one for embeddings,
// one for generation; they may name different backends.
type Config struct {
	// Provider is the registry key, e.g. "openai", "ollama", "googleai".
	Provider string

	// Model is the provider-side model identifier.
	Model string

	// APIKey is an opaque bearer token supplied by the credential layer.
	APIKey string

	// Endpoint overrides the binding's default base URL when non-empty.
	Endpoint string
}

// Params are the generation sampling options recognized by every binding.
type Params struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Answer is the normalized generation result. TokensPerSecond is nil when
// the provider reports no usage information; Text may legitimately be
// empty when the model returned an empty completion, which is distinct
// from a failed call (a failed call returns an error, never an Answer).
type Answer struct {
	Text            string
	TokensPerSecond *float64
}

// Embedder produces one fixed-length vector per input text, order
// preserved. Implementations must not retry or cache; both are caller
// policy.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a normalized Answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, p Params) (*Answer, error)
}
