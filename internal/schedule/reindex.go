package schedule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/indexer"
)

// ReindexJobName is the name of the scheduled reindex job
const ReindexJobName = "reindex"

// SourceIndexer runs one indexing pass over a source
type SourceIndexer interface {
	IndexSource(ctx context.Context, src indexer.Source, opts *indexer.Options) (*indexer.Statistics, error)
}

// ReindexJob incrementally reindexes every configured source in turn
type ReindexJob struct {
	Indexer SourceIndexer
	Sources []indexer.Source
	Logger  *zap.Logger
}

// Name implements Job
func (j *ReindexJob) Name() string { return ReindexJobName }

// Run implements Job. A source locked by another run is skipped; the
// remaining sources still run.
func (j *ReindexJob) Run(ctx context.Context) error {
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var errs []error
	for _, src := range j.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := j.Indexer.IndexSource(ctx, src, nil)
		switch {
		case errors.Is(err, indexer.ErrIndexingInProgress):
			logger.Info("reindex skipped: indexing in progress", zap.String("source", src.Name))
		case err != nil:
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
		default:
			logger.Info("reindex completed",
				zap.String("source", src.Name),
				zap.Int("indexed", stats.FilesIndexed),
				zap.Int("failed", stats.FilesFailed),
				zap.Int("removed", stats.FilesRemoved))
		}
	}
	return errors.Join(errs...)
}
