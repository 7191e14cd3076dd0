package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCapacity is the buffer size used when none is given
const DefaultCapacity = 256

var (
	// ErrClosed is returned when enqueueing on a closed queue
	ErrClosed = errors.New("write queue closed")

	// ErrFull is returned by TryEnqueue when the buffer is full
	ErrFull = errors.New("write queue full")
)

// Item is one unit of serialized write work
type Item struct {
	ID   uuid.UUID
	Name string
	Run  func(ctx context.Context) error
}

// Stats is a snapshot of queue counters
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	Dropped   int64
	Pending   int
}

// Queue runs submitted items one at a time on a single writer goroutine.
// Item failures are logged and counted; they never stop the writer.
type Queue struct {
	items  chan Item
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts a queue with the given buffer capacity
func New(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, stop := context.WithCancel(context.Background())
	q := &Queue{
		items:  make(chan Item, capacity),
		logger: logger,
		done:   make(chan struct{}),
		ctx:    ctx,
		stop:   stop,
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for item := range q.items {
		q.execute(item)
	}
}

func (q *Queue) execute(item Item) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("write item panicked",
				zap.String("item", item.Name),
				zap.String("id", item.ID.String()),
				zap.Any("panic", r))
		}
	}()

	if err := item.Run(q.ctx); err != nil {
		q.failed.Add(1)
		q.logger.Warn("write item failed",
			zap.String("item", item.Name),
			zap.String("id", item.ID.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	q.completed.Add(1)
}

func (q *Queue) prepare(item Item) Item {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return item
}

// Enqueue blocks until the item is buffered, the context is done or the
// queue is closed
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	if item.Run == nil {
		return errors.New("write item has no Run function")
	}
	item = q.prepare(item)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- item:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue buffers the item without blocking. A full buffer drops the item
// and returns ErrFull.
func (q *Queue) TryEnqueue(item Item) error {
	if item.Run == nil {
		return errors.New("write item has no Run function")
	}
	item = q.prepare(item)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- item:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Debug("write queue full, dropping item", zap.String("item", item.Name))
		return ErrFull
	}
}

// Close stops intake and waits for buffered items to drain. If ctx ends
// first, items still running see a cancelled context.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	select {
	case <-q.done:
		q.stop()
		return nil
	case <-ctx.Done():
		q.stop()
		<-q.done
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   len(q.items),
	}
}
