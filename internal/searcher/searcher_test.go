package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/telemetry"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

const testDim = 4

// mockEmbedder maps known queries to fixed vectors and falls back to axis 0
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = axis(0)
	}
	return out, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingSink struct {
	mu      sync.Mutex
	records []telemetry.UsageRecord
}

func (r *recordingSink) Record(rec telemetry.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func axis(i int) []float32 {
	v := make([]float32, testDim)
	v[i%testDim] = 1
	return v
}

// corpus holds the ids of the seeded documents
type corpus struct {
	store                                *storage.SQLiteStorage
	widget, button, canvas, panel, label int64
	otherWidget                          int64
}

// seedDoc builds a document whose elements share one embedding
func seedDoc(sourceID int64, key string, docVec, elemVec []float32, elements ...string) *storage.DocumentRecord {
	doc := &storage.DocumentRecord{
		SourceID:      sourceID,
		DocKey:        key,
		Title:         key,
		URL:           "https://docs.example.com/" + key + ".html",
		ConstructType: "class",
		Category:      "type",
		Version:       "1.0",
		ContentHash:   "hash-" + key,
		Embedding:     docVec,
	}
	for i, text := range elements {
		doc.Elements = append(doc.Elements, &storage.ElementRecord{
			Index:       i,
			ElementType: "text",
			Title:       key,
			Section:     fmt.Sprintf("Section %d", i),
			Content:     text,
			EndOffset:   len(text),
			TokenCount:  len(text) / 4,
			ContentHash: fmt.Sprintf("%s-%d", key, i),
			Embedding:   elemVec,
		})
	}
	return doc
}

// setupCorpus seeds two sources. Against the default query (axis 0) the
// engine documents score: Widget 1.0, Canvas 0.62 at document level only,
// Button 0.6, Panel and Label 0.
func setupCorpus(t *testing.T) *corpus {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureVectorIndex(ctx, testDim))

	engine, err := store.EnsureSource(ctx, "engine", "https://docs.example.com/")
	require.NoError(t, err)
	other, err := store.EnsureSource(ctx, "other", "https://other.example.com/")
	require.NoError(t, err)

	leaning := []float32{0.6, 0.8, 0, 0}
	docs := []*storage.DocumentRecord{
		seedDoc(engine.ID, "Widget", axis(0), axis(0),
			"Widget renders onto a canvas.",
			"Widget exposes a Draw method.",
			"Widget layout follows its parent.",
			"Widget supports theming."),
		seedDoc(engine.ID, "Button", leaning, leaning, "Button is a clickable control."),
		seedDoc(engine.ID, "Canvas", []float32{0.62, 0, 0.7846, 0}, axis(2), "Canvas holds drawings."),
		seedDoc(engine.ID, "Panel", axis(3), axis(3), "Panel groups controls."),
		seedDoc(engine.ID, "Label", axis(3), axis(3), "Label shows text."),
		seedDoc(other.ID, "Widget", axis(0), axis(0), "Other widget documentation."),
	}
	require.NoError(t, store.InsertDocuments(ctx, docs))

	return &corpus{
		store:       store,
		widget:      docs[0].ID,
		button:      docs[1].ID,
		canvas:      docs[2].ID,
		panel:       docs[3].ID,
		label:       docs[4].ID,
		otherWidget: docs[5].ID,
	}
}

func (c *corpus) relate(t *testing.T, from int64, to ...int64) {
	t.Helper()
	var rels []*storage.RelationshipRecord
	for _, id := range to {
		rels = append(rels, &storage.RelationshipRecord{
			SourceDocID: from,
			TargetDocID: id,
			Type:        types.RelLink,
		})
	}
	_, err := c.store.InsertRelationships(context.Background(), rels)
	require.NoError(t, err)
}

func docIDs(results []types.HybridResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

func relevanceOf(t *testing.T, results []types.HybridResult, docID int64) float64 {
	t.Helper()
	for _, r := range results {
		if r.DocID == docID {
			return r.MaxRelevance
		}
	}
	t.Fatalf("document %d not in results", docID)
	return 0
}

func TestNew(t *testing.T) {
	c := setupCorpus(t)
	emb := &mockEmbedder{}

	s := New(c.store, emb)
	require.NotNil(t, s)
	assert.Equal(t, DefaultLimit, s.config.DefaultLimit)
	assert.Equal(t, MaxLimit, s.config.MaxLimit)
	assert.Equal(t, DefaultTopChunks, s.config.TopChunks)
	assert.InDelta(t, DefaultRelationshipBoost, s.config.RelationshipBoost, 1e-9)
	assert.Equal(t, 0, s.CacheLen())
}

func TestValidateRequest(t *testing.T) {
	s := New(nil, &mockEmbedder{})

	tests := []struct {
		name    string
		req     SearchRequest
		wantErr error
		limit   int
		mode    SearchMode
	}{
		{name: "empty query", req: SearchRequest{Query: ""}, wantErr: ErrEmptyQuery},
		{name: "blank query", req: SearchRequest{Query: "   "}, wantErr: ErrEmptyQuery},
		{name: "defaults", req: SearchRequest{Query: "q"}, limit: 10, mode: SearchModeHybrid},
		{name: "negative limit", req: SearchRequest{Query: "q", Limit: -5}, limit: 10, mode: SearchModeHybrid},
		{name: "limit capped", req: SearchRequest{Query: "q", Limit: 500}, limit: 100, mode: SearchModeHybrid},
		{name: "explicit mode", req: SearchRequest{Query: "q", Limit: 3, Mode: SearchModeKeyword}, limit: 3, mode: SearchModeKeyword},
		{name: "unknown mode", req: SearchRequest{Query: "q", Mode: "fuzzy"}, wantErr: ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := s.validateRequest(&req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, req.Limit)
			assert.Equal(t, tt.mode, req.Mode)
		})
	}
}

func TestSearch_Vector(t *testing.T) {
	c := setupCorpus(t)
	s := New(c.store, &mockEmbedder{})
	ctx := context.Background()

	resp, err := s.Search(ctx, SearchRequest{Query: "widget", Mode: SearchModeVector, Source: "engine", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, SearchModeVector, resp.SearchMode)
	assert.Empty(t, resp.Results)
	require.Len(t, resp.Documents, 3)
	assert.Equal(t, 3, resp.TotalResults)

	top := resp.Documents[0]
	assert.Equal(t, c.widget, top.DocID)
	assert.Equal(t, "Widget", top.Title)
	assert.Equal(t, "https://docs.example.com/Widget.html", top.URL)
	assert.Equal(t, "engine", top.Source)
	assert.InDelta(t, 1.0, top.Relevance, 1e-4)
	assert.Equal(t, c.canvas, resp.Documents[1].DocID)
	assert.Equal(t, c.button, resp.Documents[2].DocID)

	for i := 1; i < len(resp.Documents); i++ {
		assert.GreaterOrEqual(t, resp.Documents[i-1].Relevance, resp.Documents[i].Relevance)
	}
}

func TestSearch_HybridGroupsByDocument(t *testing.T) {
	c := setupCorpus(t)
	s := New(c.store, &mockEmbedder{}, WithConfig(Config{TopChunks: 3}))
	ctx := context.Background()

	resp, err := s.Search(ctx, SearchRequest{Query: "widget", Source: "engine"})
	require.NoError(t, err)
	assert.Equal(t, SearchModeHybrid, resp.SearchMode)
	assert.Empty(t, resp.Documents)

	// Each document appears once
	seen := make(map[int64]bool)
	for _, r := range resp.Results {
		assert.False(t, seen[r.DocID], "document %d returned twice", r.DocID)
		seen[r.DocID] = true
	}
	assert.Equal(t, []int64{c.widget, c.canvas, c.button, c.panel, c.label}, docIDs(resp.Results))

	widget := resp.Results[0]
	assert.InDelta(t, 1.0, widget.MaxRelevance, 1e-4)
	require.Len(t, widget.TopChunks, 3)
	for _, chunk := range widget.TopChunks {
		assert.NotZero(t, chunk.ChunkID)
		assert.True(t, strings.HasPrefix(chunk.Snippet, "Widget"))
		assert.True(t, strings.HasPrefix(chunk.Section, "Section"))
		assert.InDelta(t, 1.0, chunk.Relevance, 1e-4)
	}

	// Canvas ranks on its document vector; its only element scores zero
	canvas := resp.Results[1]
	assert.InDelta(t, 0.62, canvas.MaxRelevance, 1e-3)
	for _, chunk := range canvas.TopChunks {
		assert.Less(t, chunk.Relevance, canvas.MaxRelevance)
	}

	for _, r := range resp.Results {
		assert.NotZero(t, r.DocID)
		for _, chunk := range r.TopChunks {
			assert.NotZero(t, chunk.ChunkID)
			assert.NotEmpty(t, chunk.Snippet)
		}
	}
}

func TestSearch_HybridTopChunks(t *testing.T) {
	c := setupCorpus(t)
	s := New(c.store, &mockEmbedder{}, WithConfig(Config{TopChunks: 2}))

	resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine", Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, c.widget, resp.Results[0].DocID)
	assert.Len(t, resp.Results[0].TopChunks, 2)
}

func TestSearch_HybridSourceFilter(t *testing.T) {
	c := setupCorpus(t)
	s := New(c.store, &mockEmbedder{})
	ctx := context.Background()

	resp, err := s.Search(ctx, SearchRequest{Query: "widget", Source: "other"})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.otherWidget}, docIDs(resp.Results))
	assert.Equal(t, "other", resp.Results[0].Source)

	resp, err = s.Search(ctx, SearchRequest{Query: "widget", Source: "missing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = s.Search(ctx, SearchRequest{Query: "widget"})
	require.NoError(t, err)
	assert.Contains(t, docIDs(resp.Results), c.otherWidget)
	assert.Contains(t, docIDs(resp.Results), c.widget)
}

func TestSearch_HybridMinRelevance(t *testing.T) {
	c := setupCorpus(t)
	s := New(c.store, &mockEmbedder{}, WithConfig(Config{}))

	resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine", MinRelevance: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.widget, c.canvas, c.button}, docIDs(resp.Results))
}

func TestSearch_RelationshipBoost(t *testing.T) {
	t.Run("related document overtakes", func(t *testing.T) {
		c := setupCorpus(t)
		c.relate(t, c.button, c.widget)
		s := New(c.store, &mockEmbedder{})

		resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine"})
		require.NoError(t, err)
		assert.Equal(t, []int64{c.widget, c.button, c.canvas, c.panel, c.label}, docIDs(resp.Results))
		assert.InDelta(t, 1.05, relevanceOf(t, resp.Results, c.widget), 1e-3)
		assert.InDelta(t, 0.65, relevanceOf(t, resp.Results, c.button), 1e-3)
		assert.InDelta(t, 0.62, relevanceOf(t, resp.Results, c.canvas), 1e-3)
	})

	t.Run("capped at three relations", func(t *testing.T) {
		c := setupCorpus(t)
		c.relate(t, c.button, c.widget, c.canvas, c.panel, c.label)
		s := New(c.store, &mockEmbedder{})

		resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine"})
		require.NoError(t, err)
		assert.InDelta(t, 0.75, relevanceOf(t, resp.Results, c.button), 1e-3)
		assert.InDelta(t, 0.67, relevanceOf(t, resp.Results, c.canvas), 1e-3)
		assert.InDelta(t, 0.05, relevanceOf(t, resp.Results, c.panel), 1e-3)
	})

	t.Run("relations in both directions count once", func(t *testing.T) {
		c := setupCorpus(t)
		c.relate(t, c.button, c.widget)
		c.relate(t, c.widget, c.button)
		s := New(c.store, &mockEmbedder{})

		resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine"})
		require.NoError(t, err)
		assert.InDelta(t, 0.65, relevanceOf(t, resp.Results, c.button), 1e-3)
	})

	t.Run("disabled", func(t *testing.T) {
		c := setupCorpus(t)
		c.relate(t, c.button, c.widget)
		s := New(c.store, &mockEmbedder{}, WithConfig(Config{RelationshipBoost: 0}))

		resp, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine"})
		require.NoError(t, err)
		assert.Equal(t, []int64{c.widget, c.canvas, c.button, c.panel, c.label}, docIDs(resp.Results))
		assert.InDelta(t, 0.6, relevanceOf(t, resp.Results, c.button), 1e-3)
	})
}

func TestSearch_Keyword(t *testing.T) {
	c := setupCorpus(t)
	emb := &mockEmbedder{}
	s := New(c.store, emb)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "canvas", Mode: SearchModeKeyword, Source: "engine"})
	require.NoError(t, err)
	assert.Equal(t, SearchModeKeyword, resp.SearchMode)
	assert.ElementsMatch(t, []int64{c.widget, c.canvas}, docIDs(resp.Results))
	for _, r := range resp.Results {
		require.Len(t, r.TopChunks, 1)
		assert.Contains(t, strings.ToLower(r.TopChunks[0].Snippet), "canvas")
		assert.Greater(t, r.MaxRelevance, 0.0)
	}
	assert.Equal(t, 0, emb.callCount(), "keyword search must not embed the query")
}

func TestSearch_QueryEmbeddedOncePerSearch(t *testing.T) {
	c := setupCorpus(t)
	emb := &mockEmbedder{vectors: map[string][]float32{"drawing surface": axis(2)}}
	s := New(c.store, emb)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "drawing surface", Source: "engine", Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, c.canvas, resp.Results[0].DocID)
	assert.Equal(t, 1, emb.callCount())
}


func TestSearch_EmbeddingFailure(t *testing.T) {
	c := setupCorpus(t)
	sink := &recordingSink{}
	providerErr := errors.New("provider unavailable")
	s := New(c.store, &mockEmbedder{err: providerErr}, WithSink(sink))

	for _, mode := range []SearchMode{SearchModeHybrid, SearchModeVector} {
		_, err := s.Search(context.Background(), SearchRequest{Query: "widget", Mode: mode})
		require.Error(t, err)
		assert.ErrorIs(t, err, providerErr)
	}

	require.Len(t, sink.records, 2)
	rec := sink.records[0]
	assert.Equal(t, "search", rec.Operation)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Result["error"], "provider unavailable")
}

func TestSearch_RecordsUsage(t *testing.T) {
	c := setupCorpus(t)
	sink := &recordingSink{}
	s := New(c.store, &mockEmbedder{}, WithSink(sink))

	_, err := s.Search(context.Background(), SearchRequest{Query: "widget", Source: "engine", Limit: 2})
	require.NoError(t, err)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.NotEmpty(t, rec.RunID)
	assert.True(t, rec.Success)
	assert.Equal(t, "widget", rec.Params["query"])
	assert.Equal(t, "hybrid", rec.Params["mode"])
	assert.Equal(t, 2, rec.Params["limit"])
	assert.Equal(t, "engine", rec.Params["source"])
	assert.Equal(t, 2, rec.Result["results"])
}

func TestSearch_Cache(t *testing.T) {
	c := setupCorpus(t)
	emb := &mockEmbedder{}
	s := New(c.store, emb)
	ctx := context.Background()
	req := SearchRequest{Query: "widget", Source: "engine", UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, emb.callCount())
	assert.Equal(t, docIDs(first.Results), docIDs(second.Results))

	// Callers cannot corrupt the cached copy
	second.Results[0].TopChunks[0].Snippet = "changed"
	second.Results[0].MaxRelevance = -1
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.NotEqual(t, "changed", third.Results[0].TopChunks[0].Snippet)
	assert.InDelta(t, 1.0, third.Results[0].MaxRelevance, 1e-4)

	// A different limit is a different entry
	_, err = s.Search(ctx, SearchRequest{Query: "widget", Source: "engine", Limit: 1, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, s.CacheLen())
	assert.Equal(t, 2, emb.callCount())

	s.InvalidateCache()
	assert.Equal(t, 0, s.CacheLen())

	after, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, after.CacheHit)
	assert.Equal(t, 3, emb.callCount())
}

func TestSearch_CacheDisabledPerRequest(t *testing.T) {
	c := setupCorpus(t)
	emb := &mockEmbedder{}
	s := New(c.store, emb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := s.Search(ctx, SearchRequest{Query: "widget"})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
	assert.Equal(t, 2, emb.callCount())
	assert.Equal(t, 0, s.CacheLen())
}

func TestComputeQueryHash(t *testing.T) {
	base := SearchRequest{Query: "widget", Mode: SearchModeHybrid, Limit: 10, Source: "engine"}
	assert.Equal(t, computeQueryHash(base), computeQueryHash(base))

	variants := []SearchRequest{
		{Query: "button", Mode: SearchModeHybrid, Limit: 10, Source: "engine"},
		{Query: "widget", Mode: SearchModeVector, Limit: 10, Source: "engine"},
		{Query: "widget", Mode: SearchModeHybrid, Limit: 5, Source: "engine"},
		{Query: "widget", Mode: SearchModeHybrid, Limit: 10, Source: "other"},
		{Query: "widget", Mode: SearchModeHybrid, Limit: 10, Source: "engine", MinRelevance: 0.5},
	}
	for _, v := range variants {
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(v), "%+v", v)
	}

	// UseCache does not take part in the key
	cached := base
	cached.UseCache = true
	assert.Equal(t, computeQueryHash(base), computeQueryHash(cached))
}

func TestGroupByDocument(t *testing.T) {
	hits := []storage.ElementHit{
		{ElementID: 1, DocID: 10, DocTitle: "A", Content: "a1", Section: "s", Score: 0.9},
		{ElementID: 2, DocID: 20, DocTitle: "B", Content: "b1", Score: 0.8},
		{ElementID: 3, DocID: 10, DocTitle: "A", Content: "a2", Score: 0.7},
		{ElementID: 4, DocID: 10, DocTitle: "A", Content: "a3", Score: 0.95},
		{ElementID: 5, DocID: 10, DocTitle: "A", Content: "a4", Score: 0.1},
	}

	results := groupByDocument(hits, 2)
	require.Len(t, results, 2)

	a := results[0]
	assert.Equal(t, int64(10), a.DocID)
	assert.Equal(t, "A", a.Title)
	assert.InDelta(t, 0.95, a.MaxRelevance, 1e-9)
	require.Len(t, a.TopChunks, 2)
	assert.Equal(t, int64(4), a.TopChunks[0].ChunkID)
	assert.Equal(t, int64(1), a.TopChunks[1].ChunkID)
	assert.Equal(t, "s", a.TopChunks[1].Section)

	b := results[1]
	assert.Equal(t, int64(20), b.DocID)
	assert.Len(t, b.TopChunks, 1)

	assert.Empty(t, groupByDocument(nil, 3))
}

func TestMergeDocumentHits(t *testing.T) {
	grouped := []types.HybridResult{
		{DocID: 1, MaxRelevance: 0.5, TopChunks: []types.ChunkHit{{ChunkID: 11, Snippet: "x"}}},
	}
	docs := []storage.DocumentHit{
		{DocID: 1, Title: "One", Score: 0.7},
		{DocID: 2, Title: "Two", URL: "u", Source: "engine", Score: 0.6},
	}

	merged := mergeDocumentHits(grouped, docs)
	require.Len(t, merged, 2)
	assert.InDelta(t, 0.7, merged[0].MaxRelevance, 1e-9)
	assert.Len(t, merged[0].TopChunks, 1)
	assert.Equal(t, types.HybridResult{
		DocID: 2, Title: "Two", URL: "u", Source: "engine", MaxRelevance: 0.6, TopChunks: []types.ChunkHit{},
	}, merged[1])
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("  a\n\tb   c "))

	long := strings.Repeat("é", snippetLength+10)
	out := snippet(long)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Equal(t, snippetLength+3, len([]rune(out)))
}

func TestCandidateLimit(t *testing.T) {
	assert.Equal(t, 50, candidateLimit(10))
	assert.Equal(t, maxCandidates, candidateLimit(MaxLimit))
	assert.Equal(t, 5, candidateLimit(1))
}
