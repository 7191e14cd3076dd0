package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables consulted by DetectProvider and the config layer
const (
	EnvProvider     = "DOCSEARCH_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Dimension         int
	CacheSize         int
	RequestsPerSecond float64
	MaxBatchSize      int
	Timeout           time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// New creates an embedder with explicit configuration. cache may be nil.
func New(cfg Config, cache *Cache) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFactory returns a Factory whose instances share one cache
func NewFactory(cfg Config) Factory {
	cache := NewCache(cfg.CacheSize)
	return func() (Embedder, error) {
		return New(cfg, cache)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvOllamaHost) != "" {
		return ProviderOllama
	}

	return ProviderLocal
}
