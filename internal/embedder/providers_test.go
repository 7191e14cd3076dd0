package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAIServer answers /v1/embeddings requests with vectors of the given
// dimension whose first component is the input length. Data is returned
// in reverse order to exercise index sorting.
func openAIServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len(req.Input[i]))
			data = append(data, item{Embedding: vec, Index: i})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data, "model": req.Model})
	}))
}

func TestHTTPProvider_OpenAI(t *testing.T) {
	var calls atomic.Int32
	srv := openAIServer(t, 8, &calls)
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 8}, NewCache(10))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, ProviderOpenAI, p.Provider())
	assert.Equal(t, DefaultOpenAIModel, p.Model())
	assert.Equal(t, 8, p.Dimension())

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bbb"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(3), resp.Embeddings[1].Vector[0])
	assert.Equal(t, int32(1), calls.Load())

	// Served from cache
	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "bbb"})
	require.NoError(t, err)
	assert.Equal(t, float32(3), emb.Vector[0])
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_SplitsLargeBatches(t *testing.T) {
	var calls atomic.Int32
	srv := openAIServer(t, 4, &calls)
	defer srv.Close()

	p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Dimension: 4, MaxBatchSize: 3}, nil)
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: texts})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 7)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewJinaProvider(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{1, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL, Dimension: 2}, nil)
	require.NoError(t, err)
	p.retry = RetryConfig{MaxRetries: 3, BaseDelay: 1, MaxDelay: 1, Multiplier: 1}

	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.5, 0.5, 0.5})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL + "/", Dimension: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, p.Provider())

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"one", "two"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, resp.Embeddings[1].Vector)
}

func TestOllamaProvider_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL, Dimension: 1}, nil)
	require.NoError(t, err)

	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"one", "two"}})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider string
		wantErr  bool
	}{
		{"default is local", Config{}, ProviderLocal, false},
		{"local", Config{Provider: "LOCAL"}, ProviderLocal, false},
		{"ollama", Config{Provider: "ollama"}, ProviderOllama, false},
		{"openai", Config{Provider: "openai", APIKey: "k"}, ProviderOpenAI, false},
		{"jina without key", Config{Provider: "jina"}, "", true},
		{"unknown", Config{Provider: "nope"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, e.Provider())
		})
	}
}

func TestDetectProvider(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvOllamaHost, "")
	assert.Equal(t, ProviderLocal, DetectProvider())

	t.Setenv(EnvOllamaHost, "http://gpu:11434")
	assert.Equal(t, ProviderOllama, DetectProvider())

	t.Setenv(EnvOpenAIAPIKey, "k")
	assert.Equal(t, ProviderOpenAI, DetectProvider())

	t.Setenv(EnvProvider, "Jina")
	assert.Equal(t, ProviderJina, DetectProvider())
}
