package embedder

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Factory builds one embedder instance for a Pool
type Factory func() (Embedder, error)

// PoolStats is a snapshot of pool usage
type PoolStats struct {
	Size  int
	InUse int
}

// Pool holds a bounded set of embedder instances. A weighted semaphore
// sized to the pool gates access, so the pool size is the maximum number of
// concurrent embedding calls. Callers block when every instance is borrowed.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *zap.Logger

	mu   sync.Mutex
	idle []Embedder
	all  []Embedder

	inUse  atomic.Int64
	closed atomic.Bool

	dimension int
	provider  string
	model     string
}

// NewPool eagerly creates size instances; size <= 0 means runtime.NumCPU()
func NewPool(size int, factory Factory, logger *zap.Logger) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
	for i := 0; i < size; i++ {
		e, err := factory()
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("create embedder %d of %d: %w", i+1, size, err)
		}
		p.all = append(p.all, e)
		p.idle = append(p.idle, e)
	}

	first := p.all[0]
	p.dimension = first.Dimension()
	p.provider = first.Provider()
	p.model = first.Model()

	logger.Debug("embedding pool ready",
		zap.Int("size", size),
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Int("dimension", p.dimension))
	return p, nil
}

// Embed embeds one text through the batch path
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch borrows an instance for one batch call and returns the vectors
// in input order. A failed call fails only this batch; the instance goes
// back to the pool either way.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	e := p.borrow()
	defer p.giveBack(e)

	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("embedding batch failed", zap.Int("texts", len(texts)), zap.Error(err))
		}
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Vector
	}
	return vectors, nil
}

// borrow must be called while holding a semaphore permit, which guarantees
// an idle instance exists
func (p *Pool) borrow() Embedder {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	p.inUse.Add(1)
	return e
}

func (p *Pool) giveBack(e Embedder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, e)
	p.inUse.Add(-1)
}

// Dimension returns the vector length produced by the pool's instances
func (p *Pool) Dimension() int { return p.dimension }

// Provider returns the provider name
func (p *Pool) Provider() string { return p.provider }

// Model returns the model name
func (p *Pool) Model() string { return p.model }

// Stats returns current pool usage
func (p *Pool) Stats() PoolStats {
	return PoolStats{Size: p.size, InUse: int(p.inUse.Load())}
}

// Close waits for in-flight batches, then closes every instance. Later
// calls fail with ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = p.sem.Acquire(context.Background(), int64(p.size))
	defer p.sem.Release(int64(p.size))
	return p.closeAll()
}

func (p *Pool) closeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, e := range p.all {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle = nil
	return errors.Join(errs...)
}
