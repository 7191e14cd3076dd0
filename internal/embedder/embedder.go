package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrPoolClosed        = errors.New("embedding pool closed")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response.
// Embeddings are in the same order as the request texts.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts efficiently
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// batchFunc embeds texts that were not served from the cache
type batchFunc func(ctx context.Context, texts []string, model string) ([][]float32, error)

// batchSpec describes the provider on whose behalf generateBatch runs
type batchSpec struct {
	provider  string
	model     string
	dimension int
	maxBatch  int
	cache     *Cache
}

// generateBatch serves cache hits, sends the misses to fn in sub-batches of
// at most maxBatch texts and stores the new vectors. Output order matches
// texts.
func generateBatch(ctx context.Context, spec batchSpec, texts []string, fn batchFunc) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := spec.cache.Key(spec.provider, spec.model, text)
		if emb, ok := spec.cache.Get(key); ok {
			out[i] = emb
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	maxBatch := spec.maxBatch
	if maxBatch <= 0 {
		maxBatch = len(missTexts)
	}

	for start := 0; start < len(missTexts); start += maxBatch {
		end := start + maxBatch
		if end > len(missTexts) {
			end = len(missTexts)
		}

		vectors, err := fn(ctx, missTexts[start:end], spec.model)
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, end-start, len(vectors))
		}

		for j, vec := range vectors {
			if spec.dimension > 0 && len(vec) != spec.dimension {
				return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrProviderFailed, spec.dimension, len(vec))
			}
			text := missTexts[start+j]
			emb := &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  spec.provider,
				Model:     spec.model,
				Hash:      ComputeHash(text),
			}
			spec.cache.Set(spec.cache.Key(spec.provider, spec.model, text), emb)
			out[missIdx[start+j]] = emb
		}
	}

	return out, nil
}

// generateOne routes a single request through the batch path
func generateOne(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}
