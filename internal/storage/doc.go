// Package storage provides SQLite-based persistence for indexed documentation.
//
// The storage layer manages:
//   - Documentation sources
//   - Documents, their metadata and their elements (chunks)
//   - Vector embeddings and the vector index
//   - Relationships between documents
//   - Per-file processing state
//   - The usage log
//
// # Database Schema
//
// Tables:
//   - sources: one row per documentation corpus
//   - documents: UNIQUE(source_id, doc_key), content hash and document embedding
//   - document_metadata: one row per (document, kind); "links" holds outgoing links as JSON
//   - elements: chunks with offsets and embeddings, ON DELETE CASCADE from documents
//   - elements_fts: FTS5 index over elements, kept in sync by triggers
//   - relationships: UNIQUE(source_doc_id, target_doc_id, relationship_type, context)
//   - processing_state: PRIMARY KEY(source, file_path)
//   - usage_log, store_meta, schema_version
//   - vec_documents, vec_elements: vec0 tables, sqlite_vec builds only
//
// # Build Modes
//
// Built with -tags sqlite_vec (CGO), the store uses mattn/go-sqlite3 with the
// sqlite-vec extension and answers vector queries from vec0 KNN tables. The
// default build uses modernc.org/sqlite and scores stored embeddings in Go.
// Both searches are exact scans over every stored vector; neither builds an
// approximate index. Both expose the same API.
//
// # Opening a Store
//
//	s, err := storage.Open(ctx, storage.Options{Path: "~/.docsearch/docs.db", Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.EnsureVectorIndex(ctx, pool.Dimension()); err != nil {
//	    log.Fatal(err) // ErrVectorIndexUnavailable: rebuild index
//	}
//
// Open retries lock contention with exponential backoff. Between attempts it
// checkpoints the WAL, and if the checkpoint fails it removes stale -wal,
// -shm and -journal files.
//
// # Transactions
//
// Batches are written through a Tx so that all documents of a batch commit
// or roll back together:
//
//	tx, err := s.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := tx.InsertDocuments(ctx, docs); err != nil {
//	    _ = tx.Rollback()
//	    return err
//	}
//	return tx.Commit()
//
// InsertDocuments deletes the previous row set for each (source, doc_key)
// before inserting, so a document is replaced rather than updated in place.
package storage
