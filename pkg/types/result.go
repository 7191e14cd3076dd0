package types

// SearchResult is a document-level hit
type SearchResult struct {
	DocID     int64   `json:"doc_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
}

// HybridResult is a matched document with its best supporting chunks
type HybridResult struct {
	DocID        int64      `json:"doc_id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Source       string     `json:"source"`
	MaxRelevance float64    `json:"max_relevance"`
	TopChunks    []ChunkHit `json:"top_chunks"`
}

// ChunkHit is one element that matched a query
type ChunkHit struct {
	ChunkID   int64   `json:"chunk_id"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
	Section   string  `json:"section"`
}
