package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a background indexing run owned by the Indexer. Its lifetime and
// outcome are observable through Done, Wait, Err and Stats.
type Task struct {
	ID        string
	Source    string
	StartedAt time.Time

	done chan struct{}

	mu    sync.Mutex
	stats *Statistics
	err   error
}

// Done is closed when the run ends
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run ends or ctx is done
func (t *Task) Wait(ctx context.Context) (*Statistics, error) {
	select {
	case <-t.done:
		return t.Stats(), t.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the run error, nil while the run is still going
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stats returns the run statistics, nil while the run is still going
func (t *Task) Stats() *Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Running reports whether the run has not ended yet
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Task) finish(stats *Statistics, err error) {
	t.mu.Lock()
	t.stats = stats
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Start launches a background run. The run is bound to the Indexer's
// lifetime rather than to the caller's context; Close cancels it.
// Returns ErrIndexingInProgress when another run holds the lock.
func (idx *Indexer) Start(src Source, opts *Options) (*Task, error) {
	if !idx.lock.TryAcquire(src.Name) {
		return nil, ErrIndexingInProgress
	}

	task := &Task{
		ID:        uuid.New().String(),
		Source:    src.Name,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	idx.mu.Lock()
	idx.current = task
	idx.mu.Unlock()

	idx.tasks.Add(1)
	go func() {
		defer idx.tasks.Done()
		stats, err := idx.run(idx.ctx, task.ID, src, opts)
		idx.lock.Release()
		task.finish(stats, err)
	}()
	return task, nil
}

// CurrentTask returns the most recently started background task
func (idx *Indexer) CurrentTask() *Task {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.current
}
