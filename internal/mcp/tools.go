package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeSourceNotFound     = -32001 // Source is not configured
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// maxReportedErrors bounds the per-file errors returned by index_docs
const maxReportedErrors = 5

// handleIndexDocs handles the index_docs tool invocation
func (s *Server) handleIndexDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := s.resolveSource(request.GetString("source", ""))
	if err != nil {
		return nil, err
	}
	opts := &indexer.Options{Force: request.GetBool("force", false)}

	task, err := s.indexer.Start(src, opts)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		data := map[string]interface{}{"source": src.Name}
		if current := s.indexer.CurrentTask(); current != nil && current.Running() {
			data["running_source"] = current.Source
			data["task_id"] = current.ID
		}
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", data)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to start indexing", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logger.Info("indexing started",
		zap.String("task_id", task.ID),
		zap.String("source", src.Name),
		zap.Bool("force", opts.Force))

	if !request.GetBool("wait", false) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":     "started",
			"task_id":    task.ID,
			"source":     src.Name,
			"started_at": task.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		})), nil
	}

	stats, err := task.Wait(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}
	response := statsResponse(stats)
	response["status"] = "completed"
	response["task_id"] = task.ID
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := request.GetInt("limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(request.GetString("mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   string(mode),
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	minRelevance := request.GetFloat("min_relevance", 0)
	if minRelevance < 0 || minRelevance > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_relevance must be between 0 and 1", map[string]interface{}{
			"param": "min_relevance",
			"value": minRelevance,
		})
	}

	source := request.GetString("source", "")
	if source != "" {
		if _, ok := s.findSource(source); !ok {
			return nil, s.sourceNotFound(source)
		}
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:        query,
		Limit:        limit,
		Mode:         mode,
		Source:       source,
		MinRelevance: minRelevance,
		UseCache:     true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"mode":        string(resp.SearchMode),
		"total":       resp.TotalResults,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if resp.SearchMode == searcher.SearchModeVector {
		response["results"] = resp.Documents
	} else {
		response["results"] = resp.Results
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources := s.sources
	if name := request.GetString("source", ""); name != "" {
		src, ok := s.findSource(name)
		if !ok {
			return nil, s.sourceNotFound(name)
		}
		sources = []indexer.Source{src}
	}

	statuses := make([]map[string]interface{}, 0, len(sources))
	for _, src := range sources {
		st, err := s.indexer.Status(ctx, src)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to get index status", map[string]interface{}{
				"source": src.Name,
				"error":  err.Error(),
			})
		}
		entry := map[string]interface{}{
			"source":    st.Source,
			"version":   st.Version,
			"state":     string(st.State),
			"total":     st.Total,
			"processed": st.Processed,
			"failed":    st.Failed,
			"pending":   st.Pending,
			"documents": st.Documents,
		}
		if st.LastRunErr != "" {
			entry["last_error"] = st.LastRunErr
		}
		statuses = append(statuses, entry)
	}

	store, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get store status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"sources": statuses,
		"store": map[string]interface{}{
			"documents":        store.Documents,
			"elements":         store.Elements,
			"relationships":    store.Relationships,
			"tracked_files":    store.TrackedFiles,
			"dimension":        store.Dimension,
			"index_size_mb":    fmt.Sprintf("%.2f", store.IndexSizeMB),
			"build_mode":       store.BuildMode,
			"vector_extension": store.VectorExtension,
			"schema_version":   store.SchemaVersion,
		},
	}
	if task := s.indexer.CurrentTask(); task != nil && task.Running() {
		response["running_task"] = map[string]interface{}{
			"task_id":    task.ID,
			"source":     task.Source,
			"started_at": task.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// resolveSource picks the named source, or the only configured one
func (s *Server) resolveSource(name string) (indexer.Source, error) {
	if name == "" {
		switch len(s.sources) {
		case 0:
			return indexer.Source{}, newMCPError(ErrorCodeSourceNotFound, "no sources configured", nil)
		case 1:
			return s.sources[0], nil
		default:
			return indexer.Source{}, newMCPError(ErrorCodeInvalidParams, "source parameter is required", map[string]interface{}{
				"param":   "source",
				"reason":  "more than one source configured",
				"allowed": s.sourceNames(),
			})
		}
	}
	src, ok := s.findSource(name)
	if !ok {
		return indexer.Source{}, s.sourceNotFound(name)
	}
	return src, nil
}

func (s *Server) findSource(name string) (indexer.Source, bool) {
	for _, src := range s.sources {
		if src.Name == name {
			return src, true
		}
	}
	return indexer.Source{}, false
}

func (s *Server) sourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name
	}
	return names
}

func (s *Server) sourceNotFound(name string) error {
	return newMCPError(ErrorCodeSourceNotFound, "unknown source", map[string]interface{}{
		"source":  name,
		"allowed": s.sourceNames(),
	})
}

func statsResponse(stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"source":             stats.Source,
		"version":            stats.Version,
		"files_discovered":   stats.FilesDiscovered,
		"files_indexed":      stats.FilesIndexed,
		"files_unchanged":    stats.FilesUnchanged,
		"files_skipped":      stats.FilesSkipped,
		"files_failed":       stats.FilesFailed,
		"files_removed":      stats.FilesRemoved,
		"documents_inserted": stats.DocumentsInserted,
		"chunks_created":     stats.ChunksCreated,
		"relationships":      stats.Relationships,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
		} else {
			response["errors"] = stats.ErrorMessages
		}
		response["error_count"] = n
	}
	return response
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
