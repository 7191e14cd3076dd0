package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/indexer"
)

func TestAddJob(t *testing.T) {
	s := NewCronScheduler(nil)
	job := JobFunc{JobName: "noop", Fn: func(context.Context) error { return nil }}

	require.NoError(t, s.AddJob(job, "0 3 * * *"))
	next, ok := s.Next("noop")
	assert.True(t, ok)
	assert.True(t, next.IsZero(), "next is only known once the scheduler runs")

	err := s.AddJob(job, "@daily")
	assert.ErrorContains(t, err, "already scheduled")

	err = s.AddJob(JobFunc{JobName: "bad", Fn: job.Fn}, "every tuesday")
	assert.ErrorContains(t, err, "invalid schedule")

	_, ok = s.Next("bad")
	assert.False(t, ok)
}

func TestCronScheduler_RunsJobs(t *testing.T) {
	s := NewCronScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.AddJob(JobFunc{JobName: "tick", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, "@every 1s"))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestCronScheduler_StopCancelsJobContext(t *testing.T) {
	s := NewCronScheduler(nil)
	started := make(chan struct{})
	var once sync.Once
	var cancelled atomic.Bool
	require.NoError(t, s.AddJob(JobFunc{JobName: "long", Fn: func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}, "@every 1s"))

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	s.Stop()
	assert.True(t, cancelled.Load())
}

func TestWrap_SkipsWhileRunning(t *testing.T) {
	s := NewCronScheduler(nil)
	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	var runs atomic.Int32
	job := JobFunc{JobName: "slow", Fn: func(context.Context) error {
		runs.Add(1)
		entered <- struct{}{}
		<-gate
		return nil
	}}

	run := s.wrap(job, "@every 1m")
	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	<-entered

	// Overlapping activation returns at once
	run()
	assert.Equal(t, int32(1), runs.Load())

	close(gate)
	<-done

	// A later activation runs again
	run()
	assert.Equal(t, int32(2), runs.Load())
}

func TestWrap_JobErrorDoesNotBlockNextRun(t *testing.T) {
	s := NewCronScheduler(nil)
	var runs atomic.Int32
	run := s.wrap(JobFunc{JobName: "failing", Fn: func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}}, "@hourly")

	run()
	run()
	assert.Equal(t, int32(2), runs.Load())
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeIndexer) IndexSource(ctx context.Context, src indexer.Source, opts *indexer.Options) (*indexer.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, src.Name)
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return &indexer.Statistics{Source: src.Name, FilesIndexed: 1}, nil
}

func TestReindexJob(t *testing.T) {
	idx := &fakeIndexer{errs: map[string]error{
		"busy":   indexer.ErrIndexingInProgress,
		"broken": errors.New("root missing"),
	}}
	job := &ReindexJob{
		Indexer: idx,
		Sources: []indexer.Source{{Name: "engine"}, {Name: "busy"}, {Name: "broken"}, {Name: "editor"}},
	}

	assert.Equal(t, ReindexJobName, job.Name())
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "source broken: root missing")
	assert.NotContains(t, err.Error(), "busy")
	assert.Equal(t, []string{"engine", "busy", "broken", "editor"}, idx.calls)
}

func TestReindexJob_StopsOnCancel(t *testing.T) {
	idx := &fakeIndexer{}
	job := &ReindexJob{Indexer: idx, Sources: []indexer.Source{{Name: "engine"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Empty(t, idx.calls)
}
