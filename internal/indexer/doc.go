// Package indexer coordinates the end-to-end indexing pipeline for
// documentation sources.
//
// The indexer orchestrates discovery, hashing, parsing, chunking, embedding
// and storage, tracking the state of every file so runs are incremental and
// resumable.
//
// # Basic Usage
//
//	idx := indexer.New(store, pool,
//	    indexer.WithConfig(indexer.Config{BatchSize: 1024}),
//	    indexer.WithLogger(logger))
//	defer idx.Close()
//
//	stats, err := idx.IndexSource(ctx, indexer.Source{
//	    Name:    "engine",
//	    Root:    "/path/to/docs",
//	    BaseURL: "https://docs.example.com/",
//	    Version: indexer.StaticVersion("2022.3"),
//	}, nil)
//
//	fmt.Printf("Indexed %d files in %v\n", stats.FilesIndexed, stats.Duration)
//
// # Indexing Pipeline
//
//  1. Discover: walk the source root for configured extensions
//  2. Hash: SHA-256 of every file's bytes
//  3. Classify: compare with the tracking rows of the version
//  4. Orphans: deprecate rows of vanished files and drop their documents
//  5. Track: upsert Pending rows for new and changed files
//  6. Stop when nothing is pending
//  7. Batch: split the pending set and run batches in parallel
//  8. Per file, sequentially: Processing, parse, chunk, embed in one call
//  9. One transaction per batch; rollback fails the whole batch
//  10. Relationships: resolve links once every batch has committed
//
// A file whose content is already stored under the current version is
// marked Processed without being parsed or embedded again, so a forced
// reindex only rewrites documents that actually changed.
//
// # Failure Handling
//
// Parse and embedding errors fail a single file; the batch continues. A
// failed batch insert marks every file of the batch Failed and leaves other
// batches untouched. Failed files are retried only when their content
// changes or a forced reindex resets them.
//
// Cancelling the context stops the run; the file in flight is left
// Processing and is picked up again by the next run.
//
// # Background Runs
//
// Start launches a run owned by the Indexer and returns a Task:
//
//	task, err := idx.Start(src, &indexer.Options{Force: true})
//	if errors.Is(err, indexer.ErrIndexingInProgress) {
//	    // another run holds the lock
//	}
//	stats, err := task.Wait(ctx)
package indexer
