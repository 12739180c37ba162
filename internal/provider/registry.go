package provider

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Factory builds the embedder and generator bindings for one provider.
// A provider that supports only one of the two roles leaves the other
// constructor nil; the registry reports that as ErrUnknownProvider for
// the missing role.
type Factory struct {
	NewEmbedder  func(cfg Config, client *http.Client) (Embedder, error)
	NewGenerator func(cfg Config, client *http.Client) (Generator, error)
}

// defaultHTTPTimeout bounds a single provider call when the caller's
// context carries no deadline of its own.
const defaultHTTPTimeout = 90 * time.Second

// Registry maps provider identifiers to factories.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	client    *http.Client
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient replaces the shared HTTP client used by all bindings.
// Tests point this at an httptest server's client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		r.client = c
	}
}

// NewRegistry creates a registry with the built-in bindings registered:
// "openai", "ollama", and "googleai".
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		client:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(NameOpenAI, Factory{
		NewEmbedder:  newOpenAIEmbedder,
		NewGenerator: newOpenAIGenerator,
	})
	r.Register(NameOllama, Factory{
		NewEmbedder:  newOllamaEmbedder,
		NewGenerator: newOllamaGenerator,
	})
	r.Register(NameGoogleAI, Factory{
		NewEmbedder:  newGoogleAIEmbedder,
		NewGenerator: newGoogleAIGenerator,
	})

	return r
}

// Register adds or replaces a provider factory. Later registrations win,
// which lets tests shadow a built-in with a mock.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Embedder builds the embedding binding selected by cfg.Provider.
func (r *Registry) Embedder(cfg Config) (Embedder, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	client := r.client
	r.mu.RUnlock()

	if !ok || f.NewEmbedder == nil {
		return nil, fmt.Errorf("%w: no embedder for %q", ErrUnknownProvider, cfg.Provider)
	}
	return f.NewEmbedder(cfg, client)
}

// Generator builds the generation binding selected by cfg.Provider.
func (r *Registry) Generator(cfg Config) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	client := r.client
	r.mu.RUnlock()

	if !ok || f.NewGenerator == nil {
		return nil, fmt.Errorf("%w: no generator for %q", ErrUnknownProvider, cfg.Provider)
	}
	return f.NewGenerator(cfg, client)
}

// Known reports whether a provider identifier has a registered factory.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}
