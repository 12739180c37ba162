package config

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for validation failures. Check with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates an unsupported provider name.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidTopK indicates the retrieval result count is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresSSLMode indicates an unknown PostgreSQL SSL mode.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

var knownProviders = []string{ProviderOpenAI, ProviderOllama, ProviderGoogleAI}

var knownSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate checks ranges and cross-field requirements, fail-fast at load
// time so a bad deployment dies before touching the database.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !slices.Contains(knownProviders, c.EmbedProvider) {
		return fmt.Errorf("%w: embed_provider %q (known: %v)", ErrInvalidProvider, c.EmbedProvider, knownProviders)
	}
	if !slices.Contains(knownProviders, c.LLMProvider) {
		return fmt.Errorf("%w: llm_provider %q (known: %v)", ErrInvalidProvider, c.LLMProvider, knownProviders)
	}

	// Ollama runs locally without credentials; the hosted providers
	// need a key.
	if c.EmbedProvider != ProviderOllama && c.EmbedAPIKey == "" {
		return fmt.Errorf("%w: embed_api_key required for provider %q", ErrMissingAPIKey, c.EmbedProvider)
	}
	if c.LLMProvider != ProviderOllama && c.LLMAPIKey == "" {
		return fmt.Errorf("%w: llm_api_key required for provider %q", ErrMissingAPIKey, c.LLMProvider)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: must be in [0, 2], got %v", ErrInvalidTemperature, c.Temperature)
	}

	if c.TopK <= 0 || c.TopK > 100 {
		return fmt.Errorf("%w: must be in [1, 100], got %d", ErrInvalidTopK, c.TopK)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if !slices.Contains(knownSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (known: %v)", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, knownSSLModes)
	}

	return nil
}
