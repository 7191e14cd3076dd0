package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Status reports progress for a source at its current version.
//
// The coarse state is InProgress while a run for the source holds the lock,
// and also when some files are still Pending or Processing after an
// interrupted run. NotStarted means no file has been processed yet.
func (idx *Indexer) Status(ctx context.Context, src Source) (*types.IndexStatus, error) {
	resolver := src.Version
	if resolver == nil {
		resolver = StaticVersion("")
	}
	version, err := resolver.ResolveVersion(ctx, src.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version: %w", err)
	}

	counts, err := idx.storage.CountFileStates(ctx, src.Name, version)
	if err != nil {
		return nil, err
	}
	docs, err := idx.GetDocCountForVersion(ctx, src.Name, version)
	if err != nil {
		return nil, err
	}

	status := &types.IndexStatus{
		Source:    src.Name,
		Version:   version,
		Processed: counts[types.StateProcessed],
		Failed:    counts[types.StateFailed],
		Pending:   counts[types.StatePending] + counts[types.StateProcessing],
		Documents: docs,
	}
	status.Total = status.Processed + status.Failed + status.Pending

	idx.mu.Lock()
	status.LastRunErr = idx.lastErrors[src.Name]
	idx.mu.Unlock()

	holder, running := idx.lock.Holder()
	switch {
	case running && holder == src.Name:
		status.State = types.IndexInProgress
	case status.Processed+status.Failed == 0:
		status.State = types.IndexNotStarted
	case status.Pending > 0:
		status.State = types.IndexInProgress
	default:
		status.State = types.IndexComplete
	}
	return status, nil
}

// GetDocCountForVersion returns the number of stored documents of a source
// at a version
func (idx *Indexer) GetDocCountForVersion(ctx context.Context, sourceName, version string) (int, error) {
	source, err := idx.storage.GetSource(ctx, sourceName)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return idx.storage.CountDocuments(ctx, source.ID, version)
}
