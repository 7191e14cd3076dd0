package types

import "crypto/sha256"

// ChunkKind tells whether a chunk was split as prose or as code
type ChunkKind string

const (
	ChunkText ChunkKind = "text"
	ChunkCode ChunkKind = "code"
)

// DocumentChunk is a bounded, independently embeddable piece of one section.
// Start and End are byte offsets into the originating section's text.
type DocumentChunk struct {
	// Identification
	Index   int // Global, sequential across all sections of the document
	Title   string
	Section string
	Kind    ChunkKind

	// Content
	Text        string
	ContentHash [32]byte // SHA-256 of Text
	TokenCount  int

	// Location
	Start int
	End   int

	// Filled in by the embedding stage
	Embedding []float32
}

// ComputeContentHash computes the SHA-256 hash of the chunk text
func (c *DocumentChunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}
