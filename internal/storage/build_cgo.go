//go:build sqlite_vec && !purego
// +build sqlite_vec,!purego

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// It registers the sqlite-vec extension and stores embeddings in vec0
// virtual tables for KNN search.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

var registerOnce sync.Once

// registerVectorExtension makes sqlite-vec available to every new connection.
// Registration is process-wide, so it runs once no matter how many stores
// are opened.
func registerVectorExtension() {
	registerOnce.Do(sqlite_vec.Auto)
}

// vecBlob encodes a vector in the format vec0 columns expect
func vecBlob(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}
