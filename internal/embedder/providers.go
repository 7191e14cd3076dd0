package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"
	DefaultOllamaURL = "http://localhost:11434"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "local-hashing"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	// Default HTTP timeout for remote providers
	DefaultTimeout = 30 * time.Second
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina and OpenAI share this wire format.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	maxBatch   int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	cache      *Cache
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(cfg Config, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderJina, cfg, cache, DefaultJinaURL, DefaultJinaModel, JinaDimension, EnvJinaAPIKey)
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOpenAI, cfg, cache, DefaultOpenAIURL, DefaultOpenAIModel, OpenAIDimension, EnvOpenAIAPIKey)
}

func newHTTPProvider(name string, cfg Config, cache *Cache, url, model string, dim int, keyEnv string) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	p := &HTTPProvider{
		name:       name,
		endpoint:   orDefault(cfg.BaseURL, url),
		apiKey:     cfg.APIKey,
		model:      orDefault(cfg.Model, model),
		dimension:  dim,
		maxBatch:   MaxBatchSize,
		httpClient: &http.Client{Timeout: cfg.timeout()},
		limiter:    newLimiter(cfg.RequestsPerSecond),
		retry:      DefaultRetryConfig(),
		cache:      cache,
	}
	if cfg.Dimension > 0 {
		p.dimension = cfg.Dimension
	}
	if cfg.MaxBatchSize > 0 {
		p.maxBatch = cfg.MaxBatchSize
	}
	return p, nil
}

func (h *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, h, req)
}

func (h *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	spec := batchSpec{
		provider:  h.name,
		model:     orDefault(req.Model, h.model),
		dimension: h.dimension,
		maxBatch:  h.maxBatch,
		cache:     h.cache,
	}
	embeddings, err := generateBatch(ctx, spec, req.Texts, func(ctx context.Context, texts []string, model string) ([][]float32, error) {
		vectors, err := retryWithBackoff(ctx, h.retry, func() ([][]float32, error) {
			if err := waitLimiter(ctx, h.limiter); err != nil {
				return nil, err
			}
			return h.callAPI(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, h.name, err)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   h.name,
		Model:      spec.model,
	}, nil
}

func (h *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": model,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.Slice(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})
	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (h *HTTPProvider) Dimension() int {
	return h.dimension
}

func (h *HTTPProvider) Provider() string {
	return h.name
}

func (h *HTTPProvider) Model() string {
	return h.model
}

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// statusError reads the body of a failed response. 429 and 5xx are retried;
// any other status is permanent.
func statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return permanent(err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
