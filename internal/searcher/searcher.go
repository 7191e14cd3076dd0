package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/telemetry"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// SearchMode defines the type of search to perform
type SearchMode string

const (
	// SearchModeHybrid groups element matches by document and boosts related results
	SearchModeHybrid SearchMode = "hybrid"
	// SearchModeVector uses document-level vector similarity only
	SearchModeVector SearchMode = "vector"
	// SearchModeKeyword uses BM25 full-text search over elements only
	SearchModeKeyword SearchMode = "keyword"
)

const (
	DefaultLimit             = 10
	MaxLimit                 = 100
	DefaultTopChunks         = 3
	DefaultRelationshipBoost = 0.05
	DefaultCacheSize         = 1000
	DefaultCacheTTL          = time.Hour

	// Related result documents counted towards the boost
	maxBoostedRelations = 3
	// Element candidates fetched per requested document
	candidateFactor = 5
	maxCandidates   = 500
	snippetLength   = 300
)

var (
	ErrEmptyQuery  = errors.New("query cannot be empty")
	ErrInvalidMode = errors.New("invalid search mode")
)

// Embedder turns the query into a vector. The pool's batch path serves it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes ranking and caching
type Config struct {
	DefaultLimit      int
	MaxLimit          int
	TopChunks         int
	RelationshipBoost float64
	CacheSize         int
	CacheTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = MaxLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.TopChunks <= 0 {
		c.TopChunks = DefaultTopChunks
	}
	if c.RelationshipBoost < 0 {
		c.RelationshipBoost = 0
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Searcher runs queries against the indexed documentation
type Searcher struct {
	storage  storage.Storage
	embedder Embedder
	config   Config
	logger   *zap.Logger
	sink     telemetry.Sink
	cache    *expirable.LRU[[32]byte, *SearchResponse]
}

// Option configures a Searcher
type Option func(*Searcher)

// WithConfig overrides ranking and cache settings. A zero RelationshipBoost
// disables the boost; use DefaultRelationshipBoost to keep it.
func WithConfig(cfg Config) Option {
	return func(s *Searcher) { s.config = cfg }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink records every search in the usage log
func WithSink(sink telemetry.Sink) Option {
	return func(s *Searcher) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// SearchRequest contains search parameters
type SearchRequest struct {
	Query        string
	Limit        int
	Mode         SearchMode
	Source       string  // Empty searches every source
	MinRelevance float64 // Drop hits scoring below this
	UseCache     bool
}

// SearchResponse contains search results and metadata. Vector mode fills
// Documents; hybrid and keyword modes fill Results.
type SearchResponse struct {
	Documents    []types.SearchResult
	Results      []types.HybridResult
	TotalResults int
	SearchMode   SearchMode
	Duration     time.Duration
	CacheHit     bool
	DocumentHits int // Document-level candidates considered
	ElementHits  int // Element-level candidates considered
}

// New creates a new searcher
func New(store storage.Storage, emb Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		storage:  store,
		embedder: emb,
		config: Config{
			RelationshipBoost: DefaultRelationshipBoost,
		},
		logger: zap.NewNop(),
		sink:   telemetry.NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.config = s.config.withDefaults()
	s.cache = expirable.NewLRU[[32]byte, *SearchResponse](s.config.CacheSize, nil, s.config.CacheTTL)
	return s
}

// Search executes a search query
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if cached, ok := s.cache.Get(key); ok {
			resp := copySearchResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	var (
		resp *SearchResponse
		err  error
	)
	switch req.Mode {
	case SearchModeVector:
		resp, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		resp, err = s.keywordSearch(ctx, req)
	default:
		resp, err = s.hybridSearch(ctx, req)
	}

	s.record(req, resp, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	resp.SearchMode = req.Mode
	resp.Duration = time.Since(start)

	if req.UseCache {
		s.cache.Add(key, copySearchResponse(resp))
	}

	s.logger.Debug("search completed",
		zap.String("mode", string(req.Mode)),
		zap.Int("results", resp.TotalResults),
		zap.Duration("duration", resp.Duration))
	return resp, nil
}

// vectorSearch ranks whole documents by similarity to the query
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.storage.SearchDocuments(ctx, vector, req.Limit, filterFor(req))
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}

	docs := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, types.SearchResult{
			DocID:     h.DocID,
			Title:     h.Title,
			URL:       h.URL,
			Source:    h.Source,
			Relevance: h.Score,
		})
	}

	return &SearchResponse{
		Documents:    docs,
		TotalResults: len(docs),
		DocumentHits: len(hits),
	}, nil
}

// hybridSearch runs element and document similarity concurrently, groups
// element hits under their documents and boosts documents related to other
// results
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	filter := filterFor(req)
	var (
		elementHits []storage.ElementHit
		docHits     []storage.DocumentHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.storage.SearchElements(gctx, vector, candidateLimit(req.Limit), filter)
		if err != nil {
			return fmt.Errorf("element search failed: %w", err)
		}
		elementHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.storage.SearchDocuments(gctx, vector, req.Limit, filter)
		if err != nil {
			return fmt.Errorf("document search failed: %w", err)
		}
		docHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grouped := groupByDocument(elementHits, s.config.TopChunks)
	grouped = mergeDocumentHits(grouped, docHits)
	sortResults(grouped)

	// Boost within a bounded window so documents just below the cut can rise
	window := grouped
	if len(window) > 2*req.Limit {
		window = window[:2*req.Limit]
	}
	if err := s.applyRelationshipBoost(ctx, window); err != nil {
		return nil, err
	}
	sortResults(window)

	results := truncate(window, req.Limit)
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		DocumentHits: len(docHits),
		ElementHits:  len(elementHits),
	}, nil
}

// keywordSearch runs BM25 over element text and groups hits by document
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.storage.SearchElementsText(ctx, req.Query, candidateLimit(req.Limit), filterFor(req))
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	grouped := groupByDocument(hits, s.config.TopChunks)
	sortResults(grouped)
	results := truncate(grouped, req.Limit)

	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		ElementHits:  len(hits),
	}, nil
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("failed to generate query embedding: got %d vectors", len(vectors))
	}
	return vectors[0], nil
}

// applyRelationshipBoost raises each result by RelationshipBoost for every
// other result it is related to, counting at most maxBoostedRelations
func (s *Searcher) applyRelationshipBoost(ctx context.Context, results []types.HybridResult) error {
	if s.config.RelationshipBoost == 0 || len(results) < 2 {
		return nil
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	rels, err := s.storage.RelationshipsAmong(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load relationships: %w", err)
	}

	related := make(map[int64]map[int64]struct{}, len(results))
	link := func(a, b int64) {
		if a == b {
			return
		}
		if related[a] == nil {
			related[a] = make(map[int64]struct{})
		}
		related[a][b] = struct{}{}
	}
	for _, r := range rels {
		link(r.SourceDocID, r.TargetDocID)
		link(r.TargetDocID, r.SourceDocID)
	}

	for i := range results {
		n := len(related[results[i].DocID])
		if n > maxBoostedRelations {
			n = maxBoostedRelations
		}
		results[i].MaxRelevance += float64(n) * s.config.RelationshipBoost
	}
	return nil
}

// groupByDocument returns each document once, keeping its best topN
// elements. Hits are expected in descending score order.
func groupByDocument(hits []storage.ElementHit, topN int) []types.HybridResult {
	index := make(map[int64]int)
	var results []types.HybridResult

	for _, h := range hits {
		i, ok := index[h.DocID]
		if !ok {
			i = len(results)
			index[h.DocID] = i
			results = append(results, types.HybridResult{
				DocID:        h.DocID,
				Title:        h.DocTitle,
				URL:          h.URL,
				Source:       h.Source,
				MaxRelevance: h.Score,
			})
		}
		r := &results[i]
		if h.Score > r.MaxRelevance {
			r.MaxRelevance = h.Score
		}
		r.TopChunks = append(r.TopChunks, types.ChunkHit{
			ChunkID:   h.ElementID,
			Snippet:   snippet(h.Content),
			Relevance: h.Score,
			Section:   h.Section,
		})
	}

	for i := range results {
		chunks := results[i].TopChunks
		sort.SliceStable(chunks, func(a, b int) bool {
			return chunks[a].Relevance > chunks[b].Relevance
		})
		if len(chunks) > topN {
			results[i].TopChunks = chunks[:topN]
		}
	}
	return results
}

// mergeDocumentHits folds document-level matches into the grouped results
func mergeDocumentHits(results []types.HybridResult, docs []storage.DocumentHit) []types.HybridResult {
	index := make(map[int64]int, len(results))
	for i, r := range results {
		index[r.DocID] = i
	}
	for _, d := range docs {
		if i, ok := index[d.DocID]; ok {
			if d.Score > results[i].MaxRelevance {
				results[i].MaxRelevance = d.Score
			}
			continue
		}
		index[d.DocID] = len(results)
		results = append(results, types.HybridResult{
			DocID:        d.DocID,
			Title:        d.Title,
			URL:          d.URL,
			Source:       d.Source,
			MaxRelevance: d.Score,
			TopChunks:    []types.ChunkHit{},
		})
	}
	return results
}

// sortResults orders by relevance, then by document id for stable output
func sortResults(results []types.HybridResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].MaxRelevance != results[j].MaxRelevance {
			return results[i].MaxRelevance > results[j].MaxRelevance
		}
		return results[i].DocID < results[j].DocID
	})
}

func truncate(results []types.HybridResult, limit int) []types.HybridResult {
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]types.HybridResult, len(results))
	copy(out, results)
	return out
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:snippetLength]) + "..."
}

func candidateLimit(limit int) int {
	n := limit * candidateFactor
	if n > maxCandidates {
		n = maxCandidates
	}
	if n < limit {
		n = limit
	}
	return n
}

func filterFor(req SearchRequest) *storage.SearchFilter {
	return &storage.SearchFilter{Source: req.Source, MinRelevance: req.MinRelevance}
}

// validateRequest ensures search request is valid and fills defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = s.config.DefaultLimit
	}
	if req.Limit > s.config.MaxLimit {
		req.Limit = s.config.MaxLimit
	}

	switch req.Mode {
	case "":
		req.Mode = SearchModeHybrid
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	return nil
}

func (s *Searcher) record(req SearchRequest, resp *SearchResponse, d time.Duration, err error) {
	result := map[string]any{}
	if resp != nil {
		result["results"] = resp.TotalResults
		result["document_hits"] = resp.DocumentHits
		result["element_hits"] = resp.ElementHits
	}
	if err != nil {
		result["error"] = err.Error()
	}
	s.sink.Record(telemetry.UsageRecord{
		RunID:     uuid.New().String(),
		Operation: "search",
		Params: map[string]any{
			"query":  req.Query,
			"mode":   string(req.Mode),
			"limit":  req.Limit,
			"source": req.Source,
		},
		Result:   result,
		Duration: d,
		Success:  err == nil,
	})
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	if src.Documents != nil {
		dst.Documents = append([]types.SearchResult(nil), src.Documents...)
	}
	if src.Results != nil {
		dst.Results = make([]types.HybridResult, len(src.Results))
		for i, r := range src.Results {
			dst.Results[i] = r
			if r.TopChunks != nil {
				dst.Results[i].TopChunks = append([]types.ChunkHit(nil), r.TopChunks...)
			}
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.Limit))
	data.WriteString("|")
	data.WriteString(req.Source)
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%.4f", req.MinRelevance))
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached response. Called after each
// successful index run.
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}
