// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, PAPYR_ prefix plus
//     well-known secrets like OPENAI_API_KEY and DATABASE_URL)
//  2. Config file (~/.papyr/config.yaml or ./config.yaml)
//  3. Default values
//
// A .env file in the working directory is loaded into the environment
// first, so local development needs no shell exports.
//
// Sensitive values (passwords, API keys) are masked in String and
// MarshalJSON so the config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Embedding and generation provider identifiers.
const (
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// Sensitive fields are explicitly masked in MarshalJSON; when adding new
// secrets, update that method.
type Config struct {
	// Embedding provider configuration
	EmbedProvider string `mapstructure:"embed_provider" json:"embed_provider"`
	EmbedModel    string `mapstructure:"embed_model" json:"embed_model"`
	EmbedAPIKey   string `mapstructure:"embed_api_key" json:"embed_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbedEndpoint string `mapstructure:"embed_endpoint" json:"embed_endpoint"`

	// Generation provider configuration
	LLMProvider string  `mapstructure:"llm_provider" json:"llm_provider"`
	LLMModel    string  `mapstructure:"llm_model" json:"llm_model"`
	LLMAPIKey   string  `mapstructure:"llm_api_key" json:"llm_api_key"` // SENSITIVE: masked in MarshalJSON
	LLMEndpoint string  `mapstructure:"llm_endpoint" json:"llm_endpoint"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	TopP        float32 `mapstructure:"top_p" json:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Pipeline configuration
	CorpusDir    string  `mapstructure:"corpus_dir" json:"corpus_dir"`
	ChunkSize    int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	EmbedBatch   int     `mapstructure:"embed_batch" json:"embed_batch"`
	EmbedWorkers int     `mapstructure:"embed_workers" json:"embed_workers"`
	EmbedRPS     float64 `mapstructure:"embed_rps" json:"embed_rps"` // 0 disables throttling
	TopK         int     `mapstructure:"top_k" json:"top_k"`
	ExpandQuery  bool    `mapstructure:"expand_query" json:"expand_query"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration (serve mode only)
	ListenAddr string  `mapstructure:"listen_addr" json:"listen_addr"`
	RateRPS    float64 `mapstructure:"rate_rps" json:"rate_rps"`
	RateBurst  int     `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load reads configuration with the documented priority. configDir
// overrides the search path; pass "" for the defaults (~/.papyr and the
// working directory).
func Load(configDir string) (*Config, error) {
	// Best effort: a missing .env is the normal case outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".papyr"))
		}
		v.AddConfigPath(".")
	}

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Embedding defaults match a local Ollama setup, so the pipeline
	// works out of the box without API keys.
	v.SetDefault("embed_provider", ProviderOllama)
	v.SetDefault("embed_model", "nomic-embed-text")
	v.SetDefault("embed_endpoint", "")

	v.SetDefault("llm_provider", ProviderOllama)
	v.SetDefault("llm_model", "llama3.2")
	v.SetDefault("llm_endpoint", "")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("top_p", 0.9)
	v.SetDefault("max_tokens", 2048)

	v.SetDefault("corpus_dir", "corpus")
	v.SetDefault("chunk_size", 200)
	v.SetDefault("chunk_overlap", 40)
	v.SetDefault("embed_batch", 16)
	v.SetDefault("embed_workers", 4)
	v.SetDefault("embed_rps", 0)
	v.SetDefault("top_k", 5)
	v.SetDefault("expand_query", false)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "papyr")
	v.SetDefault("postgres_password", "papyr_dev_password")
	v.SetDefault("postgres_db_name", "papyr")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("rate_rps", 10)
	v.SetDefault("rate_burst", 20)
}

// bindEnvVariables binds environment overrides. PAPYR_* variables cover
// every key; the well-known provider secrets keep their conventional
// names so existing deployments need no renaming.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key string, envVars ...string) {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	v.SetEnvPrefix("PAPYR")
	v.AutomaticEnv()

	mustBind("embed_provider", "PAPYR_EMBED_PROVIDER", "EMBEDDING_PROVIDER")
	mustBind("embed_model", "PAPYR_EMBED_MODEL", "EMBEDDING_MODEL")
	mustBind("embed_api_key", "PAPYR_EMBED_API_KEY", "OPENAI_API_KEY")
	mustBind("llm_provider", "PAPYR_LLM_PROVIDER", "LLM_PROVIDER")
	mustBind("llm_model", "PAPYR_LLM_MODEL", "LLM_MODEL")
	mustBind("llm_api_key", "PAPYR_LLM_API_KEY", "OPENAI_API_KEY")
	mustBind("llm_endpoint", "PAPYR_LLM_ENDPOINT", "OLLAMA_HOST")
	mustBind("embed_endpoint", "PAPYR_EMBED_ENDPOINT", "OLLAMA_HOST")

	mustBind("postgres_host", "PAPYR_POSTGRES_HOST", "POSTGRES_HOST")
	mustBind("postgres_port", "PAPYR_POSTGRES_PORT", "POSTGRES_PORT")
	mustBind("postgres_user", "PAPYR_POSTGRES_USER", "POSTGRES_USER")
	mustBind("postgres_password", "PAPYR_POSTGRES_PASSWORD", "POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "PAPYR_POSTGRES_DB", "POSTGRES_DB")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debug
// utility. This defends against accidental logging, not log compromise.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.EmbedAPIKey = maskSecret(a.EmbedAPIKey)
	a.LLMAPIKey = maskSecret(a.LLMAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
