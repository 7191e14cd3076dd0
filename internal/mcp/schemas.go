package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docsearch-mcp/internal/searcher"
)

// Tool names
const (
	ToolIndexDocs      = "index_docs"
	ToolSearchDocs     = "search_docs"
	ToolGetIndexStatus = "get_index_status"
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// indexDocsTool returns the tool definition for index_docs
func indexDocsTool() mcp.Tool {
	return mcp.NewTool(ToolIndexDocs,
		mcp.WithDescription("Index a configured documentation source. Only new and changed files are processed unless force is set. Runs in the background unless wait is set."),
		mcp.WithString("source",
			mcp.Description("Name of the configured source; optional when exactly one source is configured"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Reprocess every file of the current version, including failed ones"),
			mcp.DefaultBool(false),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the run finishes and return its statistics"),
			mcp.DefaultBool(false),
		),
	)
}

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchDocs,
		mcp.WithDescription("Search indexed documentation with a natural language query. Hybrid mode returns each matching page once with its best matching sections."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of documents to return (1-100)"),
			mcp.DefaultNumber(searcher.DefaultLimit),
			mcp.Min(1),
			mcp.Max(searcher.MaxLimit),
		),
		mcp.WithString("source",
			mcp.Description("Restrict results to one source"),
		),
		mcp.WithString("mode",
			mcp.Description("hybrid (sections grouped by page, relationship-aware), vector (page similarity only) or keyword (full-text only)"),
			mcp.Enum(string(searcher.SearchModeHybrid), string(searcher.SearchModeVector), string(searcher.SearchModeKeyword)),
			mcp.DefaultString(string(searcher.SearchModeHybrid)),
		),
		mcp.WithNumber("min_relevance",
			mcp.Description("Drop results scoring below this threshold (0.0-1.0)"),
			mcp.Min(0),
			mcp.Max(1),
		),
	)
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.NewTool(ToolGetIndexStatus,
		mcp.WithDescription("Report indexing progress per source and overall store statistics"),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("source",
			mcp.Description("Report only this source"),
		),
	)
}
