// Package mcp implements the Model Context Protocol (MCP) server for docsearch.
//
// The server exposes three tools to AI assistants:
//   - index_docs: Index a configured documentation source
//   - search_docs: Search indexed documentation with natural language queries
//   - get_index_status: Report indexing progress and store statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is typically started via the serve command:
//
//	docsearch serve --config ~/.docsearch/config.toml
//
// # Tool: index_docs
//
// Starts an indexing run for a source. When only one source is configured
// the source argument may be omitted. By default the call returns as soon
// as the run starts; wait blocks until it ends:
//
//	Request:
//	{
//	  "name": "index_docs",
//	  "arguments": {"source": "engine", "force": false, "wait": true}
//	}
//
//	Response:
//	{
//	  "status": "completed",
//	  "task_id": "5f0c...",
//	  "source": "engine",
//	  "version": "2022.3",
//	  "files_indexed": 1204,
//	  "files_skipped": 8731,
//	  "files_failed": 2,
//	  "chunks_created": 15520,
//	  "errors": ["ScriptReference/Broken.html: no title"],
//	  "error_count": 2
//	}
//
// Only one run may be active at a time. A second call while a run is going
// fails with ErrorCodeIndexingInProgress and names the running source.
//
// # Tool: search_docs
//
//	Request:
//	{
//	  "name": "search_docs",
//	  "arguments": {"query": "draw a texture onto the canvas", "limit": 5, "mode": "hybrid"}
//	}
//
//	Response:
//	{
//	  "query": "draw a texture onto the canvas",
//	  "mode": "hybrid",
//	  "total": 5,
//	  "cache_hit": false,
//	  "duration_ms": 14,
//	  "results": [
//	    {
//	      "doc_id": 42,
//	      "title": "Canvas",
//	      "url": "https://docs.example.com/Canvas.html",
//	      "source": "engine",
//	      "max_relevance": 0.83,
//	      "top_chunks": [{"chunk_id": 311, "snippet": "...", "relevance": 0.83, "section": "Description"}]
//	    }
//	  ]
//	}
//
// Vector mode returns document-level results with a single relevance and no
// chunks. Keyword mode never calls the embedding provider.
//
// # Tool: get_index_status
//
// Returns per-source state (not_started, in_progress or complete) with file
// counts, a store block and the running task, if any.
//
// # Error Handling
//
// Handlers return *MCPError values carrying a JSON-RPC code and structured
// data:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  source not found
//	-32002  indexing already in progress
//	-32004  empty query
//
// # Adding Tools
//
// Tools are registered on a Registry before being applied to the
// underlying mcp-go server, so handlers can be looked up and called
// directly in tests:
//
//	handler, _ := srv.Registry().Lookup(ToolSearchDocs)
//	res, err := handler(ctx, request)
package mcp
