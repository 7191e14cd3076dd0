// Package logging builds the zap logger shared by every component.
//
// Output goes to stderr, or to a size-rotated file through lumberjack.
// Stdout is never used: the MCP server speaks JSON-RPC on it.
package logging
