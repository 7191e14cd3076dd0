package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/chunker"
	"github.com/dshills/docsearch-mcp/internal/parser"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/telemetry"
	"github.com/dshills/docsearch-mcp/internal/tracker"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Defaults for Config
const (
	DefaultBatchSize             = 1024
	DefaultRelationshipBatchSize = 500
	DefaultMaxFileSize           = 8 << 20
)

// DefaultExtensions are the file extensions discovered when none are configured
var DefaultExtensions = []string{".html", ".htm"}

// Embedder is the embedding stage used by the indexer. *embedder.Pool
// satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Indexer coordinates the indexing pipeline:
// discover -> hash -> classify -> parse -> chunk -> embed -> store -> relate
type Indexer struct {
	parser   *parser.Parser
	chunker  *chunker.Chunker
	storage  storage.Storage
	embedder Embedder

	config Config
	logger *zap.Logger
	sink   telemetry.Sink

	lock IndexLock

	mu         sync.Mutex
	lastErrors map[string]string
	current    *Task
	onComplete []func(source string, stats *Statistics)

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// Config contains configuration for the indexer
type Config struct {
	Workers               int      // Concurrent batches (default: runtime.NumCPU())
	BatchSize             int      // Files per transaction (default: 1024)
	RelationshipBatchSize int      // Relationship rows per insert (default: 500)
	Extensions            []string // Discovered extensions (default: .html, .htm)
	MaxFileSize           int64    // Larger files are ignored (default: 8 MiB)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RelationshipBatchSize <= 0 {
		c.RelationshipBatchSize = DefaultRelationshipBatchSize
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	return c
}

// Source describes one documentation corpus on disk
type Source struct {
	Name    string
	Root    string
	BaseURL string
	Version VersionResolver
}

// Options control a single run
type Options struct {
	// Force resets every tracked file to Pending before classification
	Force bool
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	RunID   string
	Source  string
	Version string

	FilesDiscovered   int
	FilesPending      int
	FilesIndexed      int // Parsed, embedded and committed
	FilesUnchanged    int // Pending but content already stored
	FilesSkipped      int // Unchanged Processed or Failed
	FilesFailed       int
	FilesRemoved      int
	DocumentsInserted int
	ChunksCreated     int
	Relationships     int
	BatchesFailed     int

	Duration      time.Duration
	ErrorMessages []string
}

// Option configures an Indexer
type Option func(*Indexer)

// WithConfig sets the indexer configuration
func WithConfig(cfg Config) Option {
	return func(idx *Indexer) { idx.config = cfg }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithSink sets the usage telemetry sink
func WithSink(sink telemetry.Sink) Option {
	return func(idx *Indexer) {
		if sink != nil {
			idx.sink = sink
		}
	}
}

// WithChunker replaces the default chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(idx *Indexer) {
		if c != nil {
			idx.chunker = c
		}
	}
}

// New creates a new Indexer instance
func New(store storage.Storage, emb Embedder, opts ...Option) *Indexer {
	ctx, cancel := context.WithCancel(context.Background())
	idx := &Indexer{
		parser:     parser.New(),
		chunker:    chunker.New(),
		storage:    store,
		embedder:   emb,
		logger:     zap.NewNop(),
		sink:       telemetry.NopSink{},
		lastErrors: make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.config = idx.config.withDefaults()
	return idx
}

// OnComplete registers a callback run after every successful run
func (idx *Indexer) OnComplete(fn func(source string, stats *Statistics)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.onComplete = append(idx.onComplete, fn)
}

// Close cancels background tasks and waits for them to finish
func (idx *Indexer) Close() {
	idx.cancel()
	idx.tasks.Wait()
}

// IndexSource runs the pipeline for one source and blocks until it ends.
// Per-file errors are recorded in the tracking table and in
// Statistics.ErrorMessages; only run-level failures are returned.
func (idx *Indexer) IndexSource(ctx context.Context, src Source, opts *Options) (*Statistics, error) {
	if !idx.lock.TryAcquire(src.Name) {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()
	return idx.run(ctx, uuid.New().String(), src, opts)
}

// run holds the index lock for its whole duration
func (idx *Indexer) run(ctx context.Context, runID string, src Source, opts *Options) (stats *Statistics, err error) {
	if opts == nil {
		opts = &Options{}
	}
	startTime := time.Now()
	sampler := telemetry.MeasurePeakMemory(0)
	logger := idx.logger.With(zap.String("run_id", runID), zap.String("source", src.Name))

	stats = &Statistics{
		RunID:         runID,
		Source:        src.Name,
		ErrorMessages: make([]string, 0),
	}

	defer func() {
		stats.Duration = time.Since(startTime)
		idx.finishRun(src, opts, stats, err, sampler.Stop(), logger)
	}()

	if src.Name == "" || src.Root == "" {
		return stats, errors.New("source name and root are required")
	}

	resolver := src.Version
	if resolver == nil {
		resolver = StaticVersion("")
	}
	version, err := resolver.ResolveVersion(ctx, src.Root)
	if err != nil {
		return stats, fmt.Errorf("failed to resolve version: %w", err)
	}
	stats.Version = version
	logger = logger.With(zap.String("version", version))

	if err := idx.storage.EnsureVectorIndex(ctx, idx.embedder.Dimension()); err != nil {
		return stats, err
	}
	source, err := idx.storage.EnsureSource(ctx, src.Name, src.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("failed to ensure source: %w", err)
	}

	tr := tracker.New(idx.storage, src.Name, version, logger)
	if opts.Force {
		if _, err := tr.ResetVersion(ctx); err != nil {
			return stats, err
		}
	}

	// Discover and hash
	files, err := discoverFiles(ctx, src.Root, idx.config.Extensions, idx.config.MaxFileSize)
	if err != nil {
		return stats, fmt.Errorf("failed to discover files: %w", err)
	}
	found, err := hashFiles(ctx, files, idx.config.Workers)
	if err != nil {
		return stats, fmt.Errorf("failed to hash files: %w", err)
	}
	stats.FilesDiscovered = len(files)
	for p, herr := range found.unreadable {
		stats.FilesFailed++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", p, herr))
	}

	// Classify against the tracking table
	existing, err := tr.Load(ctx)
	if err != nil {
		return stats, err
	}
	cls := tr.Classify(found.files, existing)
	stats.FilesSkipped = len(cls.UnchangedProcessed) + len(cls.UnchangedFailed)

	// Orphans: deprecate their rows and drop their documents
	removed, err := tr.Deprecate(ctx, found.paths())
	if err != nil {
		return stats, err
	}
	if len(removed) > 0 {
		keys := make([]string, 0, len(removed))
		for _, p := range removed {
			keys = append(keys, parser.DocKey(p))
		}
		if _, err := idx.storage.DeleteDocumentsByKeys(ctx, source.ID, keys); err != nil {
			return stats, fmt.Errorf("failed to delete orphaned documents: %w", err)
		}
		stats.FilesRemoved = len(removed)
		logger.Info("removed orphaned files", zap.Int("files", len(removed)))
	}

	if err := tr.Upsert(ctx, tr.PendingRows(cls.Pending)); err != nil {
		return stats, err
	}
	if err := recordUnreadable(ctx, tr, found.unreadable); err != nil {
		return stats, err
	}

	stats.FilesPending = len(cls.Pending)
	logger.Info("classified files",
		zap.Int("discovered", stats.FilesDiscovered),
		zap.Int("pending", len(cls.Pending)),
		zap.Int("unchanged_processed", len(cls.UnchangedProcessed)),
		zap.Int("unchanged_failed", len(cls.UnchangedFailed)))

	if len(cls.Pending) > 0 {
		job := &runJob{
			idx:     idx,
			tracker: tr,
			source:  source,
			version: version,
			logger:  logger,
		}
		if err := job.processAll(ctx, cls.Pending); err != nil {
			job.fill(stats)
			return stats, err
		}
		job.fill(stats)

		n, err := idx.extractRelationships(ctx, source.ID, job.touchedKeys(), logger)
		if err != nil {
			return stats, fmt.Errorf("failed to extract relationships: %w", err)
		}
		stats.Relationships = n
	}

	if _, err := tr.PurgeDeprecated(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// recordUnreadable marks files that could not be hashed as Failed so status
// queries report them
func recordUnreadable(ctx context.Context, tr *tracker.Tracker, unreadable map[string]error) error {
	if len(unreadable) == 0 {
		return nil
	}
	if err := tr.Upsert(ctx, tr.FailedRows(unreadable)); err != nil {
		return fmt.Errorf("failed to record unreadable files: %w", err)
	}
	return nil
}

func (idx *Indexer) finishRun(src Source, opts *Options, stats *Statistics, err error, peak uint64, logger *zap.Logger) {
	idx.mu.Lock()
	if err != nil {
		idx.lastErrors[src.Name] = err.Error()
	} else {
		delete(idx.lastErrors, src.Name)
	}
	callbacks := append([]func(string, *Statistics){}, idx.onComplete...)
	idx.mu.Unlock()

	idx.sink.Record(telemetry.UsageRecord{
		RunID:     stats.RunID,
		Operation: "index",
		Params: map[string]any{
			"source":  src.Name,
			"version": stats.Version,
			"force":   opts != nil && opts.Force,
		},
		Result: map[string]any{
			"discovered": stats.FilesDiscovered,
			"pending":    stats.FilesPending,
			"indexed":    stats.FilesIndexed,
			"failed":     stats.FilesFailed,
			"removed":    stats.FilesRemoved,
			"chunks":     stats.ChunksCreated,
		},
		Duration:   stats.Duration,
		Success:    err == nil,
		PeakMemory: peak,
	})

	if err != nil {
		logger.Error("indexing run failed", zap.Duration("elapsed", stats.Duration), zap.Error(err))
		return
	}

	logger.Info("indexing run complete",
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("unchanged", stats.FilesUnchanged),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("chunks", stats.ChunksCreated),
		zap.Int("relationships", stats.Relationships),
		zap.Duration("elapsed", stats.Duration))

	for _, fn := range callbacks {
		fn(src.Name, stats)
	}
}

// runJob holds the shared state of the batch stage of one run
type runJob struct {
	idx     *Indexer
	tracker *tracker.Tracker
	source  *storage.Source
	version string
	logger  *zap.Logger

	indexed   atomic.Int32
	unchanged atomic.Int32
	failed    atomic.Int32
	documents atomic.Int32
	chunks    atomic.Int32
	batches   atomic.Int32

	mu      sync.Mutex
	errs    []string
	touched []string
}

func (j *runJob) fail(path string, err error) {
	j.failed.Add(1)
	j.mu.Lock()
	j.errs = append(j.errs, fmt.Sprintf("%s: %v", path, err))
	j.mu.Unlock()
}

func (j *runJob) fill(stats *Statistics) {
	stats.FilesIndexed = int(j.indexed.Load())
	stats.FilesUnchanged = int(j.unchanged.Load())
	stats.FilesFailed += int(j.failed.Load())
	stats.DocumentsInserted = int(j.documents.Load())
	stats.ChunksCreated = int(j.chunks.Load())
	stats.BatchesFailed = int(j.batches.Load())
	j.mu.Lock()
	stats.ErrorMessages = append(stats.ErrorMessages, j.errs...)
	j.mu.Unlock()
}

func (j *runJob) touchedKeys() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.touched...)
}

// processAll partitions the pending set into batches and processes them
// with bounded parallelism. Batches are independent; only cancellation
// stops the stage early.
func (j *runJob) processAll(ctx context.Context, pending []types.FileHash) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.idx.config.Workers)

	size := j.idx.config.BatchSize
	for i := 0; i < len(pending); i += size {
		batch := pending[i:min(i+size, len(pending))]
		g.Go(func() error {
			return j.processBatch(gctx, batch)
		})
	}
	return g.Wait()
}

// prepared is one file of a batch that made it through parse and embed
type prepared struct {
	path   string
	record *storage.DocumentRecord // nil when nothing is written
	drop   string                  // Document key to delete when record is nil
	stored bool                    // Content already stored, nothing to write
}

// processBatch handles the files of one batch sequentially, then writes
// every prepared document in a single transaction
func (j *runJob) processBatch(ctx context.Context, files []types.FileHash) error {
	ready := make([]prepared, 0, len(files))
	for _, fh := range files {
		if err := ctx.Err(); err != nil {
			// Files not reached stay Pending, the current one stays Processing
			return err
		}
		p, err := j.prepareFile(ctx, fh)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			j.fail(fh.Path, err)
			if markErr := j.markFailed(ctx, fh.Path, err.Error()); markErr != nil {
				j.logger.Warn("failed to record file failure", zap.String("path", fh.Path), zap.Error(markErr))
			}
			continue
		}
		ready = append(ready, p)
	}

	if len(ready) == 0 {
		return nil
	}

	if err := j.commit(ctx, ready); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		j.batches.Add(1)
		paths := make([]string, len(ready))
		for i, p := range ready {
			paths[i] = p.path
		}
		j.logger.Error("batch insert failed, marking batch failed",
			zap.Int("batch_size", len(files)),
			zap.Strings("files", paths),
			zap.Error(err))
		for _, p := range ready {
			j.fail(p.path, fmt.Errorf("batch insert: %w", err))
			if markErr := j.markFailed(ctx, p.path, "batch insert: "+err.Error()); markErr != nil {
				j.logger.Warn("failed to record file failure", zap.String("path", p.path), zap.Error(markErr))
			}
		}
		return nil
	}

	for _, p := range ready {
		if err := j.tracker.MarkProcessed(ctx, p.path); err != nil {
			j.logger.Warn("failed to mark file processed", zap.String("path", p.path), zap.Error(err))
		}
		switch {
		case p.stored:
			j.unchanged.Add(1)
		default:
			j.indexed.Add(1)
		}
		if p.record != nil {
			j.documents.Add(1)
			j.chunks.Add(int32(len(p.record.Elements)))
			j.mu.Lock()
			j.touched = append(j.touched, p.record.DocKey)
			j.mu.Unlock()
		}
	}
	return nil
}

func (j *runJob) markFailed(ctx context.Context, path, msg string) error {
	st, ok := j.tracker.State(path)
	if ok && st == types.StateFailed {
		return nil
	}
	return j.tracker.MarkFailed(ctx, path, msg)
}

// commit writes the prepared documents of a batch in one transaction
func (j *runJob) commit(ctx context.Context, ready []prepared) error {
	var records []*storage.DocumentRecord
	var drops []string
	for _, p := range ready {
		switch {
		case p.record != nil:
			records = append(records, p.record)
		case p.drop != "":
			drops = append(drops, p.drop)
		}
	}
	if len(records) == 0 && len(drops) == 0 {
		return nil
	}

	tx, err := j.idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(drops) > 0 {
		if _, err := tx.DeleteDocumentsByKeys(ctx, j.source.ID, drops); err != nil {
			return err
		}
	}
	if err := tx.InsertDocuments(ctx, records); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// prepareFile marks a file Processing and builds its document record
func (j *runJob) prepareFile(ctx context.Context, fh types.FileHash) (prepared, error) {
	if err := j.tracker.MarkProcessing(ctx, fh.Path); err != nil {
		return prepared{}, err
	}
	p := prepared{path: fh.Path}
	key := parser.DocKey(fh.Path)
	hash := fh.HexHash()

	// Content already stored under this version: nothing to rebuild
	ref, err := j.idx.storage.LookupDocument(ctx, j.source.ID, key)
	switch {
	case err == nil && ref.ContentHash == hash && ref.Version == j.version:
		p.stored = true
		return p, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return p, err
	}

	doc, err := j.idx.parser.ParseFile(fh.AbsPath, fh.Path)
	if err != nil {
		return p, err
	}

	chunks := j.idx.chunker.Chunk(doc)
	if len(chunks) == 0 {
		// Nothing indexable; remove whatever an earlier version stored
		p.drop = key
		return p, nil
	}

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, j.idx.chunker.Summary(doc))
	for i := range chunks {
		texts = append(texts, chunker.EmbeddingInput(&chunks[i]))
	}
	vectors, err := j.idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return p, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return p, fmt.Errorf("embedding returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i+1]
	}

	record, err := buildRecord(j.source, j.version, hash, doc, vectors[0], chunks)
	if err != nil {
		return p, err
	}
	p.record = record
	return p, nil
}

// buildRecord converts a parsed document and its embedded chunks into the
// persisted row set
func buildRecord(source *storage.Source, version, hash string, doc *types.SourceDocument,
	embedding []float32, chunks []types.DocumentChunk) (*storage.DocumentRecord, error) {

	record := &storage.DocumentRecord{
		SourceID:      source.ID,
		DocKey:        doc.Key,
		Title:         doc.Title,
		URL:           documentURL(source.BaseURL, doc.Path),
		ConstructType: string(doc.Kind),
		Category:      doc.Category(),
		Version:       version,
		ContentHash:   hash,
		Embedding:     embedding,
		Elements:      make([]*storage.ElementRecord, 0, len(chunks)),
	}

	links, err := encodeLinks(doc.OutgoingLinks())
	if err != nil {
		return nil, err
	}
	if links != "" {
		record.Metadata = append(record.Metadata, storage.MetadataRecord{Kind: storage.MetadataLinks, Value: links})
	}
	if desc := strings.TrimSpace(doc.Description); desc != "" {
		record.Metadata = append(record.Metadata, storage.MetadataRecord{Kind: "description", Value: desc})
	}

	for i := range chunks {
		ch := &chunks[i]
		attrs, err := encodeAttributes(ch)
		if err != nil {
			return nil, err
		}
		record.Elements = append(record.Elements, &storage.ElementRecord{
			Index:       ch.Index,
			ElementType: string(ch.Kind),
			Title:       ch.Title,
			Section:     ch.Section,
			Content:     ch.Text,
			StartOffset: ch.Start,
			EndOffset:   ch.End,
			TokenCount:  ch.TokenCount,
			ContentHash: fmt.Sprintf("%x", ch.ContentHash),
			Embedding:   ch.Embedding,
			Attributes:  attrs,
		})
	}
	return record, nil
}

// documentURL joins the source base URL and the document path
func documentURL(baseURL, relPath string) string {
	if baseURL == "" {
		return relPath
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return strings.TrimSuffix(baseURL, "/") + "/" + relPath
	}
	u.Path = path.Join("/", u.Path, relPath)
	return u.String()
}
