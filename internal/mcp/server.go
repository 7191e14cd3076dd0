package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsearch-mcp"
	// ServerVersion is the default server version
	ServerVersion = "1.0.0"
)

// Deps are the services the tools are built on
type Deps struct {
	Store    storage.Storage
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Sources  []indexer.Source
	Logger   *zap.Logger
	Version  string
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
	store    storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	sources  []indexer.Source
	logger   *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Indexer == nil || deps.Searcher == nil {
		return nil, errors.New("store, indexer and searcher are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := deps.Version
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		registry: NewRegistry(),
		store:    deps.Store,
		indexer:  deps.Indexer,
		searcher: deps.Searcher,
		sources:  deps.Sources,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registry.Apply(s.mcp)
	return s, nil
}

// Serve speaks MCP over in and out until ctx is done or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Registry returns the registered tools
func (s *Server) Registry() *Registry {
	return s.registry
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	tools := []struct {
		def     func() mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{indexDocsTool, s.handleIndexDocs},
		{searchDocsTool, s.handleSearchDocs},
		{getIndexStatusTool, s.handleGetIndexStatus},
	}
	for _, t := range tools {
		if err := s.registry.Register(t.def(), t.handler); err != nil {
			return err
		}
	}
	return nil
}
