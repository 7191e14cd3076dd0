package telemetry

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/writequeue"
)

// UsageRecord describes one completed operation
type UsageRecord struct {
	RunID      string
	Operation  string
	Params     map[string]any
	Result     map[string]any
	Duration   time.Duration
	Success    bool
	PeakMemory uint64
}

// Sink receives usage records. Record must not block the caller.
type Sink interface {
	Record(rec UsageRecord)
}

// NopSink discards every record
type NopSink struct{}

// Record implements Sink
func (NopSink) Record(UsageRecord) {}

// UsageStore is the subset of storage used to persist records
type UsageStore interface {
	InsertUsage(ctx context.Context, rec *storage.UsageRecord) error
}

// QueueSink persists records to the usage log through a write queue.
// Records are dropped when the queue is full.
type QueueSink struct {
	store  UsageStore
	queue  *writequeue.Queue
	logger *zap.Logger
}

// NewQueueSink creates a sink writing through q
func NewQueueSink(store UsageStore, q *writequeue.Queue, logger *zap.Logger) *QueueSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueSink{store: store, queue: q, logger: logger}
}

// Record implements Sink
func (s *QueueSink) Record(rec UsageRecord) {
	row := &storage.UsageRecord{
		RunID:      rec.RunID,
		Operation:  rec.Operation,
		Params:     encode(rec.Params),
		Result:     encode(rec.Result),
		Duration:   rec.Duration,
		Success:    rec.Success,
		PeakMemory: rec.PeakMemory,
	}

	err := s.queue.TryEnqueue(writequeue.Item{
		Name: "usage:" + rec.Operation,
		Run: func(ctx context.Context) error {
			return s.store.InsertUsage(ctx, row)
		},
	})
	if err != nil {
		s.logger.Debug("usage record dropped",
			zap.String("operation", rec.Operation),
			zap.Error(err))
	}
}

func encode(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// MemorySampler tracks the peak heap in use while an operation runs
type MemorySampler struct {
	peak atomic.Uint64
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// DefaultSampleInterval is how often MeasurePeakMemory reads MemStats
const DefaultSampleInterval = 50 * time.Millisecond

// MeasurePeakMemory starts sampling runtime.MemStats every interval until
// Stop is called
func MeasurePeakMemory(interval time.Duration) *MemorySampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	m := &MemorySampler{stop: make(chan struct{})}
	m.sample()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
	return m
}

func (m *MemorySampler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	for {
		cur := m.peak.Load()
		if ms.HeapInuse <= cur || m.peak.CompareAndSwap(cur, ms.HeapInuse) {
			return
		}
	}
}

// Stop ends sampling and returns the peak heap in use, in bytes
func (m *MemorySampler) Stop() uint64 {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
		m.sample()
	})
	return m.peak.Load()
}
