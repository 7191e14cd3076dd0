package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrMissingEmbedding is returned when an element has no vector at insert time
	ErrMissingEmbedding = errors.New("element has no embedding")
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

const (
	// MetadataLinks is the metadata kind holding a document's outgoing links as JSON
	MetadataLinks = "links"

	metaDimension = "embedding_dimension"

	// maxVariables bounds the number of bound parameters in one IN list
	maxVariables = 500
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db        *sql.DB
	opts      Options
	logger    *zap.Logger
	dimension atomic.Int64
}

// NewSQLiteStorage opens a store with default connection options
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	return Open(context.Background(), Options{Path: dbPath})
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	var tx *sql.Tx
	err := s.withRetry(ctx, "begin transaction", func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) InsertDocuments(ctx context.Context, docs []*DocumentRecord) error {
	return t.storage.insertDocumentsWithQuerier(ctx, t.tx, docs)
}

func (t *sqliteTx) DeleteDocumentsByKeys(ctx context.Context, sourceID int64, keys []string) (int, error) {
	return t.storage.deleteDocumentsByKeysWithQuerier(ctx, t.tx, sourceID, keys)
}

func (t *sqliteTx) InsertRelationships(ctx context.Context, rels []*RelationshipRecord) (int, error) {
	return t.storage.insertRelationshipsWithQuerier(ctx, t.tx, rels)
}

func (t *sqliteTx) UpsertTrackedFiles(ctx context.Context, source string, files []*types.TrackedFile) error {
	return upsertTrackedFilesWithQuerier(ctx, t.tx, source, files)
}

// inTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.(*sqliteTx).tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Store metadata

func getMeta(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *SQLiteStorage) loadDimension(ctx context.Context) error {
	value, err := getMeta(ctx, s.db, metaDimension)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid stored embedding dimension %q: %w", value, err)
	}
	s.dimension.Store(int64(n))
	return nil
}

// Dimension returns the embedding dimension recorded for this store, or 0
func (s *SQLiteStorage) Dimension() int {
	return int(s.dimension.Load())
}

// EnsureVectorIndex records the embedding dimension and, when the vector
// extension is available, creates the vec0 tables. It is safe to call on
// every start: existing state is checked in the database, and a dimension
// that differs from the stored one fails with ErrVectorIndexUnavailable.
func (s *SQLiteStorage) EnsureVectorIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	stored, err := getMeta(ctx, s.db, metaDimension)
	switch {
	case err == ErrNotFound:
		if err := setMeta(ctx, s.db, metaDimension, strconv.Itoa(dimension)); err != nil {
			return fmt.Errorf("failed to record embedding dimension: %w", err)
		}
	case err != nil:
		return err
	default:
		n, err := strconv.Atoi(stored)
		if err != nil {
			return fmt.Errorf("invalid stored embedding dimension %q: %w", stored, err)
		}
		if n != dimension {
			return fmt.Errorf("%w: store holds %d-dimensional embeddings but the embedder produces %d",
				ErrVectorIndexUnavailable, n, dimension)
		}
	}
	s.dimension.Store(int64(dimension))

	if !VectorExtensionAvailable {
		return nil
	}

	exists, err := tableExists(ctx, s.db, "vec_documents")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var docs int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&docs); err != nil {
		return err
	}
	if docs > 0 {
		return fmt.Errorf("%w: %d documents have no vector index entries", ErrVectorIndexUnavailable, docs)
	}

	for _, stmt := range []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_documents USING vec0(
			doc_id integer primary key,
			source_id integer partition key,
			embedding float[%d] distance_metric=cosine
		)`, dimension),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_elements USING vec0(
			element_id integer primary key,
			source_id integer partition key,
			embedding float[%d] distance_metric=cosine
		)`, dimension),
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrVectorIndexUnavailable, err)
		}
	}
	s.logger.Info("vector index created", zap.Int("dimension", dimension))
	return nil
}

// vectorIndexEnabled reports whether vec0 tables are maintained on write
func (s *SQLiteStorage) vectorIndexEnabled() bool {
	return VectorExtensionAvailable && s.Dimension() > 0
}

func (s *SQLiteStorage) checkDimension(v []float32) error {
	if d := s.Dimension(); d > 0 && len(v) != d {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(v), d)
	}
	return nil
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

// Source operations

// EnsureSource returns the named source, creating it on first use
func (s *SQLiteStorage) EnsureSource(ctx context.Context, name, baseURL string) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}

	src, err := s.getSourceWithQuerier(ctx, s.db, name)
	if err == nil {
		if src.BaseURL != baseURL {
			if _, err := s.db.ExecContext(ctx, "UPDATE sources SET base_url = ? WHERE id = ?", baseURL, src.ID); err != nil {
				return nil, err
			}
			src.BaseURL = baseURL
		}
		return src, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sources (name, base_url, created_at) VALUES (?, ?, ?)",
		name, baseURL, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create source %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Source{ID: id, Name: name, BaseURL: baseURL, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

func (s *SQLiteStorage) getSourceWithQuerier(ctx context.Context, q querier, name string) (*Source, error) {
	var src Source
	var created int64
	err := q.QueryRowContext(ctx,
		"SELECT id, name, base_url, created_at FROM sources WHERE name = ?", name,
	).Scan(&src.ID, &src.Name, &src.BaseURL, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	src.CreatedAt = time.Unix(created, 0)
	return &src, nil
}

// GetSource retrieves a source by name
func (s *SQLiteStorage) GetSource(ctx context.Context, name string) (*Source, error) {
	return s.getSourceWithQuerier(ctx, s.db, name)
}

// ListSources returns every source ordered by name
func (s *SQLiteStorage) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, base_url, created_at FROM sources ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sources []*Source
	for rows.Next() {
		var src Source
		var created int64
		if err := rows.Scan(&src.ID, &src.Name, &src.BaseURL, &created); err != nil {
			return nil, err
		}
		src.CreatedAt = time.Unix(created, 0)
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// Document operations

// InsertDocuments replaces the stored row set of each document in one transaction
func (s *SQLiteStorage) InsertDocuments(ctx context.Context, docs []*DocumentRecord) error {
	return s.inTx(ctx, func(q querier) error {
		return s.insertDocumentsWithQuerier(ctx, q, docs)
	})
}

func (s *SQLiteStorage) insertDocumentsWithQuerier(ctx context.Context, q querier, docs []*DocumentRecord) error {
	now := time.Now()
	for _, doc := range docs {
		if doc.SourceID == 0 || doc.DocKey == "" {
			return fmt.Errorf("document requires a source and a key")
		}
		if len(doc.Embedding) > 0 {
			if err := s.checkDimension(doc.Embedding); err != nil {
				return fmt.Errorf("document %s: %w", doc.DocKey, err)
			}
		}

		if _, err := s.deleteDocumentsByKeysWithQuerier(ctx, q, doc.SourceID, []string{doc.DocKey}); err != nil {
			return fmt.Errorf("failed to remove superseded %s: %w", doc.DocKey, err)
		}

		if doc.IndexedAt.IsZero() {
			doc.IndexedAt = now
		}
		var embedding []byte
		if len(doc.Embedding) > 0 {
			embedding = serializeVector(doc.Embedding)
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO documents (source_id, doc_key, title, url, construct_type, category,
			                       version, content_hash, embedding, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, doc.SourceID, doc.DocKey, doc.Title, doc.URL, doc.ConstructType, doc.Category,
			doc.Version, doc.ContentHash, embedding, doc.IndexedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.DocKey, err)
		}
		doc.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, m := range doc.Metadata {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO document_metadata (doc_id, kind, value) VALUES (?, ?, ?)
				ON CONFLICT(doc_id, kind) DO UPDATE SET value = excluded.value
			`, doc.ID, m.Kind, m.Value); err != nil {
				return fmt.Errorf("failed to insert %s metadata for %s: %w", m.Kind, doc.DocKey, err)
			}
		}

		if err := s.insertElements(ctx, q, doc); err != nil {
			return err
		}

		if s.vectorIndexEnabled() && len(doc.Embedding) > 0 {
			blob, err := vecBlob(doc.Embedding)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx,
				"INSERT INTO vec_documents (doc_id, source_id, embedding) VALUES (?, ?, ?)",
				doc.ID, doc.SourceID, blob); err != nil {
				return fmt.Errorf("failed to index document %s: %w", doc.DocKey, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStorage) insertElements(ctx context.Context, q querier, doc *DocumentRecord) error {
	if len(doc.Elements) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO elements (doc_id, chunk_index, element_type, title, section, content,
		                      start_offset, end_offset, token_count, content_hash, embedding, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, el := range doc.Elements {
		if len(el.Embedding) == 0 {
			return fmt.Errorf("%s chunk %d: %w", doc.DocKey, el.Index, ErrMissingEmbedding)
		}
		if err := s.checkDimension(el.Embedding); err != nil {
			return fmt.Errorf("%s chunk %d: %w", doc.DocKey, el.Index, err)
		}
		attrs := el.Attributes
		if attrs == "" {
			attrs = "{}"
		}

		res, err := stmt.ExecContext(ctx, doc.ID, el.Index, el.ElementType, el.Title, el.Section, el.Content,
			el.StartOffset, el.EndOffset, el.TokenCount, el.ContentHash, serializeVector(el.Embedding), attrs)
		if err != nil {
			return fmt.Errorf("failed to insert %s chunk %d: %w", doc.DocKey, el.Index, err)
		}
		el.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		el.DocID = doc.ID

		if s.vectorIndexEnabled() {
			blob, err := vecBlob(el.Embedding)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx,
				"INSERT INTO vec_elements (element_id, source_id, embedding) VALUES (?, ?, ?)",
				el.ID, doc.SourceID, blob); err != nil {
				return fmt.Errorf("failed to index %s chunk %d: %w", doc.DocKey, el.Index, err)
			}
		}
	}
	return nil
}

// DeleteDocumentsByKeys removes documents with their metadata, elements,
// relationships and vector rows
func (s *SQLiteStorage) DeleteDocumentsByKeys(ctx context.Context, sourceID int64, keys []string) (int, error) {
	var deleted int
	err := s.inTx(ctx, func(q querier) error {
		var err error
		deleted, err = s.deleteDocumentsByKeysWithQuerier(ctx, q, sourceID, keys)
		return err
	})
	return deleted, err
}

func (s *SQLiteStorage) deleteDocumentsByKeysWithQuerier(ctx context.Context, q querier, sourceID int64, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += maxVariables {
		end := min(start+maxVariables, len(keys))
		batch := keys[start:end]

		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, sourceID)
		for _, k := range batch {
			args = append(args, k)
		}
		in := placeholders(len(batch))

		// vec0 tables have no foreign keys, so their rows go first
		if s.vectorIndexEnabled() {
			elementIDs, err := collectIDs(ctx, q, `
				SELECT e.id FROM elements e
				JOIN documents d ON d.id = e.doc_id
				WHERE d.source_id = ? AND d.doc_key IN (`+in+`)`, args...)
			if err != nil {
				return deleted, err
			}
			for _, id := range elementIDs {
				if _, err := q.ExecContext(ctx, "DELETE FROM vec_elements WHERE element_id = ?", id); err != nil {
					return deleted, err
				}
			}
			docIDs, err := collectIDs(ctx, q,
				"SELECT id FROM documents WHERE source_id = ? AND doc_key IN ("+in+")", args...)
			if err != nil {
				return deleted, err
			}
			for _, id := range docIDs {
				if _, err := q.ExecContext(ctx, "DELETE FROM vec_documents WHERE doc_id = ?", id); err != nil {
					return deleted, err
				}
			}
		}

		res, err := q.ExecContext(ctx, "DELETE FROM documents WHERE source_id = ? AND doc_key IN ("+in+")", args...)
		if err != nil {
			return deleted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// LookupDocument returns the id, hash and version stored for a document key
func (s *SQLiteStorage) LookupDocument(ctx context.Context, sourceID int64, docKey string) (*DocumentRef, error) {
	var ref DocumentRef
	err := s.db.QueryRowContext(ctx,
		"SELECT id, content_hash, version FROM documents WHERE source_id = ? AND doc_key = ?",
		sourceID, docKey,
	).Scan(&ref.ID, &ref.ContentHash, &ref.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetDocument retrieves a document with its metadata; elements are loaded by GetElements
func (s *SQLiteStorage) GetDocument(ctx context.Context, docID int64) (*DocumentRecord, error) {
	var doc DocumentRecord
	var embedding []byte
	var indexed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, doc_key, title, url, construct_type, category, version,
		       content_hash, embedding, indexed_at
		FROM documents WHERE id = ?
	`, docID).Scan(&doc.ID, &doc.SourceID, &doc.DocKey, &doc.Title, &doc.URL, &doc.ConstructType,
		&doc.Category, &doc.Version, &doc.ContentHash, &embedding, &indexed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		doc.Embedding = deserializeVector(embedding)
	}
	doc.IndexedAt = time.Unix(indexed, 0)

	rows, err := s.db.QueryContext(ctx, "SELECT kind, value FROM document_metadata WHERE doc_id = ? ORDER BY kind", docID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m MetadataRecord
		if err := rows.Scan(&m.Kind, &m.Value); err != nil {
			return nil, err
		}
		doc.Metadata = append(doc.Metadata, m)
	}
	return &doc, rows.Err()
}

// GetElements returns a document's elements in chunk order
func (s *SQLiteStorage) GetElements(ctx context.Context, docID int64) ([]*ElementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_index, element_type, title, section, content,
		       start_offset, end_offset, token_count, content_hash, embedding, attributes
		FROM elements WHERE doc_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var elements []*ElementRecord
	for rows.Next() {
		var el ElementRecord
		var embedding []byte
		if err := rows.Scan(&el.ID, &el.DocID, &el.Index, &el.ElementType, &el.Title, &el.Section, &el.Content,
			&el.StartOffset, &el.EndOffset, &el.TokenCount, &el.ContentHash, &embedding, &el.Attributes); err != nil {
			return nil, err
		}
		el.Embedding = deserializeVector(embedding)
		elements = append(elements, &el)
	}
	return elements, rows.Err()
}

// DocumentKeys maps every document key of a source to its id
func (s *SQLiteStorage) DocumentKeys(ctx context.Context, sourceID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc_key, id FROM documents WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		keys[key] = id
	}
	return keys, rows.Err()
}

// CountDocuments counts a source's documents; an empty version counts all of them
func (s *SQLiteStorage) CountDocuments(ctx context.Context, sourceID int64, version string) (int, error) {
	query := "SELECT COUNT(*) FROM documents WHERE source_id = ?"
	args := []interface{}{sourceID}
	if version != "" {
		query += " AND version = ?"
		args = append(args, version)
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// Relationship operations

// LinkMetadata returns the recorded outgoing links of every document in a source
func (s *SQLiteStorage) LinkMetadata(ctx context.Context, sourceID int64) ([]*DocumentLinks, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.doc_key, m.value
		FROM document_metadata m
		JOIN documents d ON d.id = m.doc_id
		WHERE d.source_id = ? AND m.kind = ?
		ORDER BY d.id
	`, sourceID, MetadataLinks)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*DocumentLinks
	for rows.Next() {
		var dl DocumentLinks
		var raw string
		if err := rows.Scan(&dl.DocID, &dl.DocKey, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &dl.Links); err != nil {
			return nil, fmt.Errorf("invalid link metadata for %s: %w", dl.DocKey, err)
		}
		out = append(out, &dl)
	}
	return out, rows.Err()
}

// InsertRelationships inserts relationships in one transaction and returns
// how many were new. Rows whose endpoints are not persisted are skipped.
func (s *SQLiteStorage) InsertRelationships(ctx context.Context, rels []*RelationshipRecord) (int, error) {
	var inserted int
	err := s.inTx(ctx, func(q querier) error {
		var err error
		inserted, err = s.insertRelationshipsWithQuerier(ctx, q, rels)
		return err
	})
	return inserted, err
}

func (s *SQLiteStorage) insertRelationshipsWithQuerier(ctx context.Context, q querier, rels []*RelationshipRecord) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	stmt, err := q.PrepareContext(ctx, `
		INSERT OR IGNORE INTO relationships (source_doc_id, target_doc_id, relationship_type, context)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM documents WHERE id = ?)
		  AND EXISTS (SELECT 1 FROM documents WHERE id = ?)
	`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, r := range rels {
		if r.SourceDocID == r.TargetDocID {
			continue
		}
		res, err := stmt.ExecContext(ctx, r.SourceDocID, r.TargetDocID, string(r.Type), r.Context, r.SourceDocID, r.TargetDocID)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert relationship %d->%d: %w", r.SourceDocID, r.TargetDocID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// ListRelationships returns relationships in which a document takes part
func (s *SQLiteStorage) ListRelationships(ctx context.Context, docID int64) ([]*RelationshipRecord, error) {
	return s.queryRelationships(ctx, `
		SELECT id, source_doc_id, target_doc_id, relationship_type, context
		FROM relationships
		WHERE source_doc_id = ? OR target_doc_id = ?
		ORDER BY id
	`, docID, docID)
}

// RelationshipsAmong returns relationships whose endpoints are both in docIDs
func (s *SQLiteStorage) RelationshipsAmong(ctx context.Context, docIDs []int64) ([]*RelationshipRecord, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	if len(docIDs) > maxVariables {
		docIDs = docIDs[:maxVariables]
	}
	in := placeholders(len(docIDs))
	args := make([]interface{}, 0, 2*len(docIDs))
	for _, id := range docIDs {
		args = append(args, id)
	}
	args = append(args, args...)

	return s.queryRelationships(ctx, `
		SELECT id, source_doc_id, target_doc_id, relationship_type, context
		FROM relationships
		WHERE source_doc_id IN (`+in+`) AND target_doc_id IN (`+in+`)
		ORDER BY id
	`, args...)
}

func (s *SQLiteStorage) queryRelationships(ctx context.Context, query string, args ...interface{}) ([]*RelationshipRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rels []*RelationshipRecord
	for rows.Next() {
		var r RelationshipRecord
		var typ string
		if err := rows.Scan(&r.ID, &r.SourceDocID, &r.TargetDocID, &typ, &r.Context); err != nil {
			return nil, err
		}
		r.Type = types.RelationshipType(typ)
		rels = append(rels, &r)
	}
	return rels, rows.Err()
}

// Status operations

// GetStatus reports row counts and index health
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*StoreStatus, error) {
	status := &StoreStatus{
		BuildMode:       BuildMode,
		VectorExtension: VectorExtensionAvailable,
		Dimension:       s.Dimension(),
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"sources", &status.Sources},
		{"documents", &status.Documents},
		{"elements", &status.Elements},
		{"relationships", &status.Relationships},
		{"processing_state", &status.TrackedFiles},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	current, err := currentSchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = current.String()

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM usage_log").Scan(&last); err == nil && last.Valid {
		status.LastUsageAt = time.Unix(last.Int64, 0)
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.DatabaseHealthy = true
	if VectorExtensionAvailable {
		status.VectorIndexBuilt, _ = tableExists(ctx, s.db, "vec_documents")
	} else {
		status.VectorIndexBuilt = status.Dimension > 0
	}
	return status, nil
}

// Helpers

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// collectIDs reads a single id column, closing the rows before returning so
// the caller can reuse the connection
func collectIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
