package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// FileState is the lifecycle state of one tracked source file
type FileState string

const (
	StatePending    FileState = "pending"
	StateProcessing FileState = "processing"
	StateProcessed  FileState = "processed"
	StateFailed     FileState = "failed"
	StateDeprecated FileState = "deprecated"
)

// ParseFileState validates a persisted state string
func ParseFileState(s string) (FileState, error) {
	switch st := FileState(s); st {
	case StatePending, StateProcessing, StateProcessed, StateFailed, StateDeprecated:
		return st, nil
	default:
		return "", fmt.Errorf("unknown file state %q", s)
	}
}

// CanTransition reports whether moving from s to next is legal.
//
// Pending -> Processing -> {Processed, Failed}. Processed, Failed and
// Processing go back to Pending on a content change, a forced reindex or a
// restart after an interrupted run. Anything can become Deprecated.
func (s FileState) CanTransition(next FileState) bool {
	if next == StateDeprecated {
		return true
	}
	switch s {
	case StatePending:
		return next == StateProcessing || next == StatePending
	case StateProcessing:
		return next == StateProcessed || next == StateFailed || next == StatePending
	case StateProcessed, StateFailed:
		return next == StatePending
	case StateDeprecated:
		return next == StatePending
	}
	return false
}

// Terminal reports whether a file in this state is skipped when its hash is unchanged
func (s FileState) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// TrackedFile is one row of the processing-state table
type TrackedFile struct {
	Path        string
	Version     string
	ContentHash string // Hex SHA-256 of the file bytes
	State       FileState
	Error       string
	LastUpdated time.Time
}

// FileHash is a discovered file together with its freshly computed digest
type FileHash struct {
	Path    string // Relative to the source root, slash separated
	AbsPath string
	Hash    [32]byte
	Size    int64
}

// HexHash returns the digest in the form stored by the tracker
func (f FileHash) HexHash() string {
	return hex.EncodeToString(f.Hash[:])
}

// IndexState is the coarse state reported to status queries
type IndexState string

const (
	IndexNotStarted IndexState = "not_started"
	IndexInProgress IndexState = "in_progress"
	IndexComplete   IndexState = "complete"
)

// IndexStatus summarises the tracking table for one source and version
type IndexStatus struct {
	Source     string
	Version    string
	State      IndexState
	Total      int
	Processed  int
	Failed     int
	Pending    int
	Documents  int
	LastRunErr string
}
