// Package searcher answers queries over indexed documentation.
//
// Three modes are supported:
//   - Hybrid (default): element similarity grouped by document, merged with
//     document-level similarity and boosted by relationships between results
//   - Vector: document-level similarity only
//   - Keyword: BM25 over element text, grouped by document; no embedding
//
// # Basic Usage
//
//	s := searcher.New(store, pool, searcher.WithLogger(logger))
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:  "how do I draw onto a canvas",
//	    Source: "engine",
//	    Limit:  10,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%s (%.2f)\n", r.Title, r.MaxRelevance)
//	    for _, c := range r.TopChunks {
//	        fmt.Printf("  [%s] %s\n", c.Section, c.Snippet)
//	    }
//	}
//
// # Hybrid Ranking
//
// Each matched document appears once. Its relevance is the best score among
// its own matching elements and its document vector, and its TopChunks hold
// the best matching elements. A document related to other documents in the
// same result set gains RelationshipBoost per related document, counting at
// most three, and the set is re-sorted.
//
// # Caching
//
// Requests with UseCache set are served from an expirable LRU keyed by
// query, mode, limit, source and minimum relevance. InvalidateCache empties
// it; the indexer calls it after every run.
package searcher
