package embedder

import (
	"context"
	"crypto/sha256"
	"hash/fnv"
	"strings"
	"unicode"
)

// LocalProvider produces deterministic embeddings offline by hashing word
// and character-trigram features into a fixed number of buckets. Texts that
// share vocabulary land close together, which is enough for development,
// tests and air-gapped installs.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cfg Config, cache *Cache) (*LocalProvider, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{
		model:     orDefault(cfg.Model, DefaultLocalModel),
		dimension: dim,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	spec := batchSpec{
		provider:  ProviderLocal,
		model:     l.model,
		dimension: l.dimension,
		cache:     l.cache,
	}
	embeddings, err := generateBatch(ctx, spec, req.Texts, func(ctx context.Context, texts []string, _ string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			vectors[i] = l.vectorize(text)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) vectorize(text string) []float32 {
	vec := make([]float32, l.dimension)
	words := tokenize(text)
	for _, w := range words {
		l.add(vec, "w:"+w, 1.0)
		if len(w) > 3 {
			padded := "^" + w + "$"
			for i := 0; i+3 <= len(padded); i++ {
				l.add(vec, "t:"+padded[i:i+3], 0.25)
			}
		}
	}

	if len(words) == 0 {
		// Punctuation-only input still needs a stable, non-zero vector
		sum := sha256.Sum256([]byte(text))
		for i := 0; i < len(sum) && i < l.dimension; i++ {
			vec[i] = float32(sum[i])/255.0 - 0.5
		}
	}
	return NormalizeVector(vec)
}

// add hashes a feature into a bucket with a hash-derived sign
func (l *LocalProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(l.dimension))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
