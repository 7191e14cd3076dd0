package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// OllamaProvider calls the Ollama /api/embed endpoint
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	maxBatch   int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	cache      *Cache
}

// NewOllamaProvider creates an embedder targeting the given Ollama instance
func NewOllamaProvider(cfg Config, cache *Cache) (*OllamaProvider, error) {
	p := &OllamaProvider{
		baseURL:    strings.TrimSuffix(orDefault(cfg.BaseURL, DefaultOllamaURL), "/"),
		model:      orDefault(cfg.Model, DefaultOllamaModel),
		dimension:  OllamaDimension,
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

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, o, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	spec := batchSpec{
		provider:  ProviderOllama,
		model:     orDefault(req.Model, o.model),
		dimension: o.dimension,
		maxBatch:  o.maxBatch,
		cache:     o.cache,
	}
	embeddings, err := generateBatch(ctx, spec, req.Texts, func(ctx context.Context, texts []string, model string) ([][]float32, error) {
		vectors, err := retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
			if err := waitLimiter(ctx, o.limiter); err != nil {
				return nil, err
			}
			return o.embed(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %v", ErrProviderFailed, err)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      spec.model,
	}, nil
}

func (o *OllamaProvider) embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: model, Input: texts})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal embed request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return result.Embeddings, nil
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
