// Package chunker splits parsed reference pages into bounded chunks for embedding.
//
// Each section of a types.SourceDocument is chunked on its own. Chunk indices
// are sequential across the whole document; offsets are byte positions in
// the section's text.
//
// # Basic Usage
//
//	c := chunker.New()
//	chunks := c.Chunk(doc)
//	for _, ch := range chunks {
//	    fmt.Printf("#%d %s [%d,%d) %d tokens\n",
//	        ch.Index, ch.Section, ch.Start, ch.End, ch.TokenCount)
//	}
//
// # Chunking Strategy
//
// Sections are emitted in this order: overview, inheritance, one per link
// group, one per additional section, one per code example, one per overload.
//
// Text: a section longer than TargetChunkChars (MaxTokensPerChunk at
// CharsPerToken characters per token) is split at the last sentence
// terminator before the limit, or at the limit when there is none. The next
// chunk starts at max(previous start + 1, split - OverlapChars).
//
// Code: examples are split on line boundaries, preferring a blank or
// closing-brace line within CodeLookbackLines of the limit. Adjacent chunks
// share OverlapLines lines.
//
// Sections that fit the target produce one chunk covering the whole text.
// Empty sections produce nothing.
//
// # Token Estimation
//
// Token counts use a chars/4 heuristic, close enough for sizing chunks
// against embedding model limits.
package chunker
