// Package types provides shared type definitions for the docsearch MCP server.
//
// This package defines domain types used across multiple components,
// including parsed documents, chunks, tracking rows and search results.
//
// # Core Types
//
// SourceDocument is the parsed form of one HTML reference page:
//
//	doc := &types.SourceDocument{
//	    Key:         "api/Widget",
//	    Title:       "Widget",
//	    Kind:        types.KindClass,
//	    Description: "Base class for all widgets.",
//	}
//
// DocumentChunk is a bounded piece of one section, ready for embedding:
//
//	chunk := &types.DocumentChunk{
//	    Index:   0,
//	    Section: "overview",
//	    Kind:    types.ChunkText,
//	    Text:    doc.Description,
//	}
//
// # Tracking
//
// TrackedFile records the content hash and lifecycle state of every
// discovered file. FileState.CanTransition encodes the legal moves:
//
//	pending -> processing -> processed | failed
//	processed | failed -> pending   (content changed or forced reindex)
//	any -> deprecated               (file removed from disk)
//
// # Relationships
//
// OutgoingLinks flattens inheritance, interface, member-table and in-text
// references into typed DocumentLinks that the indexer resolves to
// document ids once every batch has committed.
//
// # Search Results
//
// SearchResult is a document-level hit; HybridResult adds the top matching
// chunks of each document. Relevance is cosine similarity.
package types
