package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// SearchDocuments returns the documents most similar to vector
func (s *SQLiteStorage) SearchDocuments(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]DocumentHit, error) {
	if limit <= 0 {
		return []DocumentHit{}, nil
	}
	sourceID, ok, err := s.filterSourceID(ctx, filter)
	if err != nil || !ok {
		return []DocumentHit{}, err
	}

	var hits []DocumentHit
	if s.vectorIndexEnabled() {
		hits, err = s.searchDocumentsOptimized(ctx, vector, limit, sourceID)
	} else {
		hits, err = s.searchDocumentsFallback(ctx, vector, limit, sourceID)
	}
	if err != nil {
		return nil, err
	}
	return filterDocumentHits(hits, filter), nil
}

// SearchElements returns the elements most similar to vector
func (s *SQLiteStorage) SearchElements(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]ElementHit, error) {
	if limit <= 0 {
		return []ElementHit{}, nil
	}
	sourceID, ok, err := s.filterSourceID(ctx, filter)
	if err != nil || !ok {
		return []ElementHit{}, err
	}

	var scored []candidate
	if s.vectorIndexEnabled() {
		scored, err = s.knnElements(ctx, vector, limit, sourceID)
	} else {
		scored, err = s.scanElements(ctx, vector, limit, sourceID)
	}
	if err != nil {
		return nil, err
	}

	hits, err := s.loadElementHits(ctx, scored)
	if err != nil {
		return nil, err
	}
	return filterElementHits(hits, filter), nil
}

// filterSourceID resolves the source filter; ok is false when the named source does not exist
func (s *SQLiteStorage) filterSourceID(ctx context.Context, filter *SearchFilter) (int64, bool, error) {
	if filter == nil || filter.Source == "" {
		return 0, true, nil
	}
	src, err := s.GetSource(ctx, filter.Source)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return src.ID, true, nil
}

// searchDocumentsOptimized runs a KNN query against the vec0 index
func (s *SQLiteStorage) searchDocumentsOptimized(ctx context.Context, vector []float32, limit int, sourceID int64) ([]DocumentHit, error) {
	blob, err := vecBlob(vector)
	if err != nil {
		return nil, err
	}

	knn := "SELECT doc_id, distance FROM vec_documents WHERE embedding MATCH ? AND k = ?"
	args := []interface{}{blob, limit}
	if sourceID != 0 {
		knn += " AND source_id = ?"
		args = append(args, sourceID)
	}

	// vec_distance is cosine distance; relevance is 1 - distance
	rows, err := s.db.QueryContext(ctx, `
		WITH knn AS (`+knn+`)
		SELECT d.id, d.title, d.url, src.name, 1.0 - knn.distance
		FROM knn
		JOIN documents d ON d.id = knn.doc_id
		JOIN sources src ON src.id = d.source_id
		ORDER BY knn.distance
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]DocumentHit, 0, limit)
	for rows.Next() {
		var h DocumentHit
		if err := rows.Scan(&h.DocID, &h.Title, &h.URL, &h.Source, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchDocumentsFallback scores every document embedding in Go
func (s *SQLiteStorage) searchDocumentsFallback(ctx context.Context, vector []float32, limit int, sourceID int64) ([]DocumentHit, error) {
	query := `
		SELECT d.id, d.title, d.url, src.name, d.embedding
		FROM documents d
		JOIN sources src ON src.id = d.source_id
		WHERE d.embedding IS NOT NULL
	`
	var args []interface{}
	if sourceID != 0 {
		query += " AND d.source_id = ?"
		args = append(args, sourceID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []DocumentHit
	for rows.Next() {
		var h DocumentHit
		var blob []byte
		if err := rows.Scan(&h.DocID, &h.Title, &h.URL, &h.Source, &blob); err != nil {
			return nil, err
		}
		emb := deserializeVector(blob)
		if len(emb) != len(vector) {
			continue
		}
		h.Score = cosineSimilarity(vector, emb)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteStorage) knnElements(ctx context.Context, vector []float32, limit int, sourceID int64) ([]candidate, error) {
	blob, err := vecBlob(vector)
	if err != nil {
		return nil, err
	}
	query := "SELECT element_id, distance FROM vec_elements WHERE embedding MATCH ? AND k = ?"
	args := []interface{}{blob, limit}
	if sourceID != 0 {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY distance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []candidate
	for rows.Next() {
		var c candidate
		var distance float64
		if err := rows.Scan(&c.id, &distance); err != nil {
			return nil, err
		}
		c.score = 1.0 - distance
		out = append(out, c)
	}
	return out, rows.Err()
}

// scanElements scores element embeddings in Go. Only ids and vectors are
// read here; content is fetched for the winners afterwards.
func (s *SQLiteStorage) scanElements(ctx context.Context, vector []float32, limit int, sourceID int64) ([]candidate, error) {
	query := "SELECT e.id, e.embedding FROM elements e"
	var args []interface{}
	if sourceID != 0 {
		query += " JOIN documents d ON d.id = e.doc_id WHERE d.source_id = ?"
		args = append(args, sourceID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, vector)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// loadElementHits fetches display fields for scored elements, keeping score order
func (s *SQLiteStorage) loadElementHits(ctx context.Context, scored []candidate) ([]ElementHit, error) {
	if len(scored) == 0 {
		return []ElementHit{}, nil
	}

	args := make([]interface{}, len(scored))
	for i, c := range scored {
		args[i] = c.id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.doc_id, d.title, d.url, src.name, e.section, e.content
		FROM elements e
		JOIN documents d ON d.id = e.doc_id
		JOIN sources src ON src.id = d.source_id
		WHERE e.id IN (`+placeholders(len(scored))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]ElementHit, len(scored))
	for rows.Next() {
		var h ElementHit
		if err := rows.Scan(&h.ElementID, &h.DocID, &h.DocTitle, &h.URL, &h.Source, &h.Section, &h.Content); err != nil {
			return nil, err
		}
		byID[h.ElementID] = h
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]ElementHit, 0, len(scored))
	for _, c := range scored {
		h, ok := byID[c.id]
		if !ok {
			continue
		}
		h.Score = c.score
		hits = append(hits, h)
	}
	return hits, nil
}

// SearchElementsText performs BM25 full-text search over elements using FTS5
func (s *SQLiteStorage) SearchElementsText(ctx context.Context, query string, limit int, filter *SearchFilter) ([]ElementHit, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		return []ElementHit{}, nil
	}
	sourceID, ok, err := s.filterSourceID(ctx, filter)
	if err != nil || !ok {
		return []ElementHit{}, err
	}

	sqlQuery := `
		SELECT e.id, e.doc_id, d.title, d.url, src.name, e.section, e.content,
		       bm25(elements_fts) AS score
		FROM elements_fts
		JOIN elements e ON e.id = elements_fts.rowid
		JOIN documents d ON d.id = e.doc_id
		JOIN sources src ON src.id = d.source_id
		WHERE elements_fts MATCH ?
	`
	args := []interface{}{sanitized}
	if sourceID != 0 {
		sqlQuery += " AND d.source_id = ?"
		args = append(args, sourceID)
	}
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []ElementHit
	for rows.Next() {
		var h ElementHit
		var bm25 float64
		if err := rows.Scan(&h.ElementID, &h.DocID, &h.DocTitle, &h.URL, &h.Source, &h.Section, &h.Content, &bm25); err != nil {
			return nil, err
		}
		h.Score = normalizeBM25(bm25)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filterElementHits(hits, filter), nil
}

// Helper functions

// normalizeBM25 maps an FTS5 bm25 score (negative, lower is better) into [0, 1)
func normalizeBM25(score float64) float64 {
	a := math.Abs(score)
	return a / (1.0 + a)
}

func filterDocumentHits(hits []DocumentHit, filter *SearchFilter) []DocumentHit {
	if filter == nil || filter.MinRelevance <= 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= filter.MinRelevance {
			out = append(out, h)
		}
	}
	return out
}

func filterElementHits(hits []ElementHit, filter *SearchFilter) []ElementHit {
	if filter == nil || filter.MinRelevance <= 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= filter.MinRelevance {
			out = append(out, h)
		}
	}
	return out
}

// candidate is a row id with its similarity score
type candidate struct {
	id    int64
	score float64
}

// computeSimilarityScores reads (id, embedding) rows and scores them against vector
func computeSimilarityScores(rows *sql.Rows, vector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		emb := deserializeVector(blob)
		if len(emb) != len(vector) {
			continue
		}
		candidates = append(candidates, candidate{id: id, score: cosineSimilarity(vector, emb)})
	}
	return candidates, rows.Err()
}

// sortCandidates orders by score descending, then id ascending
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sanitizeFTSQuery turns free text into an FTS5 query of quoted terms joined
// with OR. Quoting every term keeps FTS5 operators and punctuation in user
// input from being interpreted.
func sanitizeFTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
