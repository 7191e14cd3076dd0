package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

const (
	// MaxTokensPerChunk is the target maximum token count per chunk
	MaxTokensPerChunk = 250

	// CharsPerToken is the heuristic for estimating tokens (chars/4)
	CharsPerToken = 4

	// TargetChunkChars is the text length at which a section is split
	TargetChunkChars = MaxTokensPerChunk * CharsPerToken

	// OverlapChars is the backward overlap between adjacent text chunks
	OverlapChars = 200

	// OverlapLines is the backward overlap between adjacent code chunks
	OverlapLines = 3

	// CodeLookbackLines is how far back a code split searches for a clean break
	CodeLookbackLines = 5
)

// Section labels
const (
	SectionOverview    = "overview"
	SectionInheritance = "inheritance"
	SectionExample     = "example"
	SectionOverload    = "overload"
)

// Chunker splits parsed documents into bounded, overlapping chunks
type Chunker struct {
	targetChars  int
	overlapChars int
	overlapLines int
	lookback     int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithTargetChars sets the split length for text and code
func WithTargetChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetChars = n
		}
	}
}

// WithOverlapChars sets the text overlap
func WithOverlapChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapChars = n
		}
	}
}

// WithOverlapLines sets the code overlap
func WithOverlapLines(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapLines = n
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetChars:  TargetChunkChars,
		overlapChars: OverlapChars,
		overlapLines: OverlapLines,
		lookback:     CodeLookbackLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapChars >= c.targetChars {
		c.overlapChars = c.targetChars / 5
	}
	return c
}

// span is a half-open byte range within a section's text
type span struct {
	start, end int
}

// Chunk splits every section of doc independently. Indices are sequential
// across sections. The result is deterministic for identical input.
func (c *Chunker) Chunk(doc *types.SourceDocument) []types.DocumentChunk {
	chunks := make([]types.DocumentChunk, 0)
	if doc == nil {
		return chunks
	}

	emit := func(section string, kind types.ChunkKind, text string) {
		var spans []span
		if kind == types.ChunkCode {
			spans = c.splitCode(text)
		} else {
			spans = c.splitText(text)
		}
		for _, s := range spans {
			ch := types.DocumentChunk{
				Index:   len(chunks),
				Title:   doc.Title,
				Section: section,
				Kind:    kind,
				Text:    text[s.start:s.end],
				Start:   s.start,
				End:     s.end,
			}
			ch.TokenCount = EstimateTokenCount(ch.Text)
			ch.ComputeContentHash()
			chunks = append(chunks, ch)
		}
	}

	emit(SectionOverview, types.ChunkText, doc.Description)
	emit(SectionInheritance, types.ChunkText, inheritanceText(doc))
	for _, g := range doc.LinkGroups {
		emit(g.Name, types.ChunkText, linkGroupText(g))
	}
	for _, s := range doc.Sections {
		emit(s.Name, types.ChunkText, s.Text)
	}
	for _, ex := range doc.Examples {
		emit(SectionExample, types.ChunkCode, ex.Code)
	}
	for _, o := range doc.Overloads {
		emit(SectionOverload, types.ChunkText, overloadText(o))
	}
	return chunks
}

// Summary returns the text embedded for the document as a whole
func (c *Chunker) Summary(doc *types.SourceDocument) string {
	var b strings.Builder
	b.WriteString(doc.Title)
	if doc.Kind != "" && doc.Kind != types.KindPage {
		fmt.Fprintf(&b, " (%s)", doc.Kind)
	}
	if desc := strings.TrimSpace(doc.Description); desc != "" {
		b.WriteString("\n")
		b.WriteString(truncate(desc, c.targetChars))
	}
	return b.String()
}

// EmbeddingInput is the text sent to the embedder for a chunk
func EmbeddingInput(ch *types.DocumentChunk) string {
	if ch.Title == "" {
		return ch.Text
	}
	return ch.Title + " - " + ch.Section + "\n" + ch.Text
}

// splitText cuts text into windows of at most targetChars, preferring the
// last sentence terminator in each window. A terminator within the first
// overlapChars of a window is ignored and the window is cut at the limit.
// Each window after the first starts overlapChars before the previous
// split, and always at least one byte after the previous start.
func (c *Chunker) splitText(text string) []span {
	n := len(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n <= c.targetChars {
		return []span{{0, n}}
	}

	var spans []span
	start := 0
	for start < n {
		limit := start + c.targetChars
		if limit >= n {
			spans = append(spans, span{start, n})
			break
		}

		split := lastSentenceEnd(text, start, limit)
		if split-start <= c.overlapChars {
			split = runeFloor(text, limit, start)
		}
		spans = append(spans, span{start, split})

		next := runeCeil(text, split-c.overlapChars, split)
		if next < start+1 {
			next = runeCeil(text, start+1, split)
		}
		start = next
	}
	return spans
}

// lastSentenceEnd returns the offset just past the last '.', '!' or '?'
// in text[start:limit] that is followed by whitespace, or start if none.
func lastSentenceEnd(text string, start, limit int) int {
	for i := limit - 1; i > start; i-- {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && isSpace(text[i+1]) {
				return i + 1
			}
		}
	}
	return start
}

// splitCode cuts code at line granularity. A window ends at the last blank
// or closing-brace line within the lookback range when one exists; the next
// window repeats the final overlapLines lines.
func (c *Chunker) splitCode(code string) []span {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	if len(code) <= c.targetChars {
		return []span{{0, len(code)}}
	}

	lines := splitLines(code)
	var spans []span
	i := 0
	for i < len(lines) {
		size := 0
		j := i
		for j < len(lines) && (j == i || size+lines[j].len() <= c.targetChars) {
			size += lines[j].len()
			j++
		}
		if j >= len(lines) {
			spans = append(spans, span{lines[i].start, lines[len(lines)-1].end})
			break
		}

		end := j
		floor := j - c.lookback
		if floor < i+1 {
			floor = i + 1
		}
		for k := j - 1; k >= floor; k-- {
			if isBreakLine(code[lines[k].start:lines[k].end]) {
				end = k + 1
				break
			}
		}
		spans = append(spans, span{lines[i].start, lines[end-1].end})

		next := end - c.overlapLines
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return spans
}

// splitLines returns line spans including their trailing newline
func splitLines(s string) []span {
	var lines []span
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, span{start, i + 1})
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, span{start, len(s)})
	}
	return lines
}

func (s span) len() int {
	return s.end - s.start
}

func isBreakLine(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || t == "}" || t == "};"
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// runeFloor moves i back to a rune boundary, staying above min
func runeFloor(s string, i, min int) int {
	for i > min+1 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to a rune boundary, staying at or below max
func runeCeil(s string, i, max int) int {
	for i < max && i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:runeFloor(s, n, 0)]
}

func inheritanceText(doc *types.SourceDocument) string {
	var lines []string
	if len(doc.BaseTypes) > 0 {
		lines = append(lines, "Inherits: "+joinLinkText(doc.BaseTypes))
	}
	if len(doc.Interfaces) > 0 {
		lines = append(lines, "Implements: "+joinLinkText(doc.Interfaces))
	}
	return strings.Join(lines, "\n")
}

func linkGroupText(g types.LinkGroup) string {
	var b strings.Builder
	for i, l := range g.Links {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text)
		if l.Summary != "" {
			b.WriteString(": ")
			b.WriteString(l.Summary)
		}
	}
	return b.String()
}

func overloadText(o types.Overload) string {
	if o.Description == "" {
		return o.Declaration
	}
	if o.Declaration == "" {
		return o.Description
	}
	return o.Declaration + "\n" + o.Description
}

func joinLinkText(links []types.Link) string {
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Text)
	}
	return strings.Join(names, ", ")
}

// ComputeChunkHash computes SHA-256 hash of chunk content
func ComputeChunkHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates token count using the chars/4 heuristic
func EstimateTokenCount(content string) int {
	return (len(content) + CharsPerToken - 1) / CharsPerToken
}
