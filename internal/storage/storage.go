package storage

import (
	"context"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying indexed documentation
type Storage interface {
	// Source operations
	EnsureSource(ctx context.Context, name, baseURL string) (*Source, error)
	GetSource(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)

	// Vector index
	EnsureVectorIndex(ctx context.Context, dimension int) error
	Dimension() int

	// Document operations
	InsertDocuments(ctx context.Context, docs []*DocumentRecord) error
	DeleteDocumentsByKeys(ctx context.Context, sourceID int64, keys []string) (int, error)
	LookupDocument(ctx context.Context, sourceID int64, docKey string) (*DocumentRef, error)
	GetDocument(ctx context.Context, docID int64) (*DocumentRecord, error)
	GetElements(ctx context.Context, docID int64) ([]*ElementRecord, error)
	DocumentKeys(ctx context.Context, sourceID int64) (map[string]int64, error)
	CountDocuments(ctx context.Context, sourceID int64, version string) (int, error)

	// Relationship operations
	LinkMetadata(ctx context.Context, sourceID int64) ([]*DocumentLinks, error)
	InsertRelationships(ctx context.Context, rels []*RelationshipRecord) (int, error)
	ListRelationships(ctx context.Context, docID int64) ([]*RelationshipRecord, error)
	RelationshipsAmong(ctx context.Context, docIDs []int64) ([]*RelationshipRecord, error)

	// Processing-state operations
	LoadTrackedFiles(ctx context.Context, source string) ([]*types.TrackedFile, error)
	GetTrackedFile(ctx context.Context, source, path string) (*types.TrackedFile, error)
	UpsertTrackedFiles(ctx context.Context, source string, files []*types.TrackedFile) error
	SetFileState(ctx context.Context, source, path string, state types.FileState, errMsg string) error
	ResetFileStates(ctx context.Context, source string) (int, error)
	SetDeprecated(ctx context.Context, source string, paths []string) (int, error)
	DeleteDeprecated(ctx context.Context, source string) (int, error)
	CountFileStates(ctx context.Context, source, version string) (map[types.FileState]int, error)

	// Search operations
	SearchDocuments(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]DocumentHit, error)
	SearchElements(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]ElementHit, error)
	SearchElementsText(ctx context.Context, query string, limit int, filter *SearchFilter) ([]ElementHit, error)

	// Usage log
	InsertUsage(ctx context.Context, rec *UsageRecord) error
	ListUsage(ctx context.Context, limit int) ([]*UsageRecord, error)

	// Status operations
	GetStatus(ctx context.Context) (*StoreStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a write transaction. Batch inserts go through a Tx so a batch
// commits or rolls back as one unit.
type Tx interface {
	Commit() error
	Rollback() error

	InsertDocuments(ctx context.Context, docs []*DocumentRecord) error
	DeleteDocumentsByKeys(ctx context.Context, sourceID int64, keys []string) (int, error)
	InsertRelationships(ctx context.Context, rels []*RelationshipRecord) (int, error)
	UpsertTrackedFiles(ctx context.Context, source string, files []*types.TrackedFile) error
}

// Source is one documentation corpus
type Source struct {
	ID        int64
	Name      string
	BaseURL   string
	CreatedAt time.Time
}

// DocumentRecord is a persisted document with its metadata and elements.
// Reprocessing a changed document replaces the whole row set.
type DocumentRecord struct {
	ID            int64
	SourceID      int64
	DocKey        string
	Title         string
	URL           string
	ConstructType string
	Category      string
	Version       string
	ContentHash   string // Hex SHA-256 of the source file
	Embedding     []float32
	IndexedAt     time.Time

	Metadata []MetadataRecord
	Elements []*ElementRecord
}

// MetadataRecord is one document-scoped metadata row, at most one per kind
type MetadataRecord struct {
	Kind  string
	Value string
}

// ElementRecord is a persisted chunk
type ElementRecord struct {
	ID          int64
	DocID       int64
	Index       int
	ElementType string
	Title       string
	Section     string
	Content     string
	StartOffset int
	EndOffset   int
	TokenCount  int
	ContentHash string
	Embedding   []float32
	Attributes  string // JSON object
}

// DocumentRef identifies the stored version of a document
type DocumentRef struct {
	ID          int64
	ContentHash string
	Version     string
}

// DocumentLinks holds the outgoing links recorded for one document
type DocumentLinks struct {
	DocID  int64
	DocKey string
	Links  []types.DocumentLink
}

// RelationshipRecord links two persisted documents
type RelationshipRecord struct {
	ID          int64
	SourceDocID int64
	TargetDocID int64
	Type        types.RelationshipType
	Context     string
}

// SearchFilter narrows search results
type SearchFilter struct {
	Source       string  // Source name; empty means every source
	MinRelevance float64 // Minimum relevance score
}

// DocumentHit is a document returned by vector search
type DocumentHit struct {
	DocID  int64
	Title  string
	URL    string
	Source string
	Score  float64
}

// ElementHit is an element returned by vector or keyword search
type ElementHit struct {
	ElementID int64
	DocID     int64
	DocTitle  string
	URL       string
	Source    string
	Section   string
	Content   string
	Score     float64
}

// UsageRecord is one row of the usage log
type UsageRecord struct {
	ID         int64
	RunID      string
	Operation  string
	Params     string
	Result     string
	Duration   time.Duration
	Success    bool
	PeakMemory uint64
	CreatedAt  time.Time
}

// StoreStatus contains statistics about the store
type StoreStatus struct {
	Sources          int
	Documents        int
	Elements         int
	Relationships    int
	TrackedFiles     int
	Dimension        int
	IndexSizeMB      float64
	BuildMode        string
	VectorExtension  bool
	SchemaVersion    string
	LastUsageAt      time.Time
	DatabaseHealthy  bool
	VectorIndexBuilt bool
}
