package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// ErrMalformedDocument is returned when the input is not a usable HTML page
var ErrMalformedDocument = errors.New("malformed document")

// MaxDocumentSize is the largest page the parser accepts
const MaxDocumentSize = 8 << 20

// Parser converts HTML reference pages into SourceDocuments
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseFile reads and parses the page at absPath. relPath is the page's
// location relative to the source root and determines its document key.
func (p *Parser) ParseFile(absPath, relPath string) (*types.SourceDocument, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return p.Parse(f, relPath)
}

// Parse parses a page from r
func (p *Parser) Parse(r io.Reader, relPath string) (*types.SourceDocument, error) {
	content, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(content) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrMalformedDocument, MaxDocumentSize)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedDocument)
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", ErrMalformedDocument)
	}
	if !bytes.Contains(content, []byte("<")) {
		return nil, fmt.Errorf("%w: no markup", ErrMalformedDocument)
	}

	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	relPath = path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	e := &extractor{
		relPath: relPath,
		doc: &types.SourceDocument{
			Path:        relPath,
			Key:         DocKey(relPath),
			BaseTypes:   []types.Link{},
			Interfaces:  []types.Link{},
			LinkGroups:  []types.LinkGroup{},
			Examples:    []types.CodeExample{},
			Overloads:   []types.Overload{},
			Sections:    []types.Section{},
			InlineLinks: []types.Link{},
		},
	}
	e.visit(root)
	return e.finish()
}

// DocKey derives the document key from a relative path: slash separated,
// without extension.
func DocKey(relPath string) string {
	p := path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	return strings.TrimSuffix(p, path.Ext(p))
}

// extractor walks the node tree in document order
type extractor struct {
	relPath string
	doc     *types.SourceDocument

	titleTag    string
	h1          string
	kindMarker  string
	heading     string // Most recent h2/h3, names the next table
	section     *types.Section
	preamble    []string
	explicitDoc bool
}

func (e *extractor) visit(n *html.Node) {
	if n.Type == html.ElementNode {
		if e.element(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.visit(c)
	}
}

// element handles one element and reports whether its subtree was consumed
func (e *extractor) element(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer:
		return true
	case atom.Title:
		e.titleTag = collapse(textOf(n))
		return true
	case atom.Meta:
		if strings.EqualFold(attr(n, "name"), "construct-kind") {
			e.kindMarker = attr(n, "content")
		}
		return true
	case atom.Body:
		if k := attr(n, "data-kind"); k != "" && e.kindMarker == "" {
			e.kindMarker = k
		}
		return false
	case atom.H1:
		if e.h1 == "" {
			e.h1 = collapse(textOf(n))
			if e.kindMarker == "" {
				e.kindMarker = headingKind(n)
			}
		}
		return true
	case atom.H2:
		e.heading = collapse(textOf(n))
		e.startSection(e.heading)
		return true
	case atom.H3, atom.H4:
		e.heading = collapse(textOf(n))
		return true
	case atom.Table:
		e.linkGroup(n)
		return true
	case atom.Pre:
		e.example(n)
		return true
	}

	switch {
	case hasClass(n, "description") || attr(n, "id") == "description":
		var links []types.Link
		text := e.blockText(n, &links)
		if text != "" {
			e.doc.Description = joinPara(e.doc.Description, text)
			e.explicitDoc = true
		}
		e.doc.InlineLinks = append(e.doc.InlineLinks, links...)
		return true
	case hasClass(n, "inherits"):
		e.doc.BaseTypes = append(e.doc.BaseTypes, e.anchors(n)...)
		return true
	case hasClass(n, "implements"):
		e.doc.Interfaces = append(e.doc.Interfaces, e.anchors(n)...)
		return true
	case hasClass(n, "overload"):
		e.overload(n)
		return true
	}

	switch n.DataAtom {
	case atom.P, atom.Li, atom.Dd, atom.Dt, atom.Blockquote:
		var links []types.Link
		text := e.blockText(n, &links)
		e.doc.InlineLinks = append(e.doc.InlineLinks, links...)
		if text == "" {
			return true
		}
		if e.section != nil {
			e.section.Text = joinPara(e.section.Text, text)
		} else {
			e.preamble = append(e.preamble, text)
		}
		return true
	}
	return false
}

func (e *extractor) startSection(name string) {
	e.flushSection()
	e.section = &types.Section{Name: name}
}

func (e *extractor) flushSection() {
	if e.section != nil && strings.TrimSpace(e.section.Text) != "" {
		e.doc.Sections = append(e.doc.Sections, *e.section)
	}
	e.section = nil
}

// linkGroup turns a table into a named group of links. The first cell of a
// row carries the link; the remaining cells form its summary.
func (e *extractor) linkGroup(table *html.Node) {
	group := types.LinkGroup{Name: e.heading}
	if caption := findFirst(table, atom.Caption); caption != nil {
		group.Name = collapse(textOf(caption))
	}
	if group.Name == "" {
		group.Name = "Members"
	}

	for _, tr := range findAll(table, atom.Tr) {
		var cells []*html.Node
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Td {
				cells = append(cells, c)
			}
		}
		if len(cells) == 0 {
			continue
		}

		link := types.Link{Text: collapse(textOf(cells[0]))}
		if a := findFirst(cells[0], atom.A); a != nil {
			if target, ok := ResolveLink(e.relPath, attr(a, "href")); ok {
				link.Target = target
			}
		}
		var summary []string
		for _, c := range cells[1:] {
			if t := collapse(textOf(c)); t != "" {
				summary = append(summary, t)
			}
		}
		link.Summary = strings.Join(summary, " ")
		if link.Text == "" && link.Summary == "" {
			continue
		}
		group.Links = append(group.Links, link)
	}

	if len(group.Links) > 0 {
		e.doc.LinkGroups = append(e.doc.LinkGroups, group)
	}
}

func (e *extractor) example(pre *html.Node) {
	code := strings.Trim(textOf(pre), "\n")
	if strings.TrimSpace(code) == "" {
		return
	}
	lang := language(pre)
	if lang == "" {
		if c := findFirst(pre, atom.Code); c != nil {
			lang = language(c)
		}
	}
	e.doc.Examples = append(e.doc.Examples, types.CodeExample{Language: lang, Code: code})
}

// overload reads a block holding one signature and its description
func (e *extractor) overload(n *html.Node) {
	decl := findClass(n, "signature")
	if decl == nil {
		decl = findFirst(n, atom.Code)
	}
	var o types.Overload
	if decl != nil {
		o.Declaration = collapse(textOf(decl))
	}
	var b strings.Builder
	writeText(&b, n, decl)
	o.Description = collapse(b.String())
	if o.Declaration == "" && o.Description == "" {
		return
	}
	e.doc.Overloads = append(e.doc.Overloads, o)
}

func (e *extractor) anchors(n *html.Node) []types.Link {
	var out []types.Link
	for _, a := range findAll(n, atom.A) {
		target, ok := ResolveLink(e.relPath, attr(a, "href"))
		if !ok {
			continue
		}
		out = append(out, types.Link{Text: collapse(textOf(a)), Target: target})
	}
	return out
}

// blockText collapses the text of n and collects its relative links
func (e *extractor) blockText(n *html.Node, links *[]types.Link) string {
	for _, a := range findAll(n, atom.A) {
		if target, ok := ResolveLink(e.relPath, attr(a, "href")); ok {
			*links = append(*links, types.Link{Text: collapse(textOf(a)), Target: target})
		}
	}
	return collapse(textOf(n))
}

func (e *extractor) finish() (*types.SourceDocument, error) {
	e.flushSection()
	doc := e.doc

	if len(e.preamble) > 0 {
		if !e.explicitDoc {
			doc.Description = strings.Join(e.preamble, "\n\n")
		} else {
			summary := types.Section{Name: "Summary", Text: strings.Join(e.preamble, "\n\n")}
			doc.Sections = append([]types.Section{summary}, doc.Sections...)
		}
	}

	doc.Title = e.h1
	if doc.Title == "" {
		doc.Title = e.titleTag
	}
	if doc.Title == "" && !doc.HasContent() {
		return nil, fmt.Errorf("%w: no title and no content", ErrMalformedDocument)
	}
	if doc.Title == "" {
		doc.Title = path.Base(doc.Key)
	}

	doc.Kind = types.ParseConstructKind(e.kindMarker)
	if doc.Kind == types.KindPage {
		doc.Kind = kindFromTitle(doc.Title, doc.Key)
	}
	return doc, nil
}

// ResolveLink resolves href against the page at relPath and returns the
// target document key. External, fragment-only and out-of-root links are
// rejected.
func ResolveLink(relPath, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}

	var p string
	if strings.HasPrefix(u.Path, "/") {
		p = path.Clean(strings.TrimPrefix(u.Path, "/"))
	} else {
		p = path.Join(path.Dir(relPath), u.Path)
	}
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return DocKey(p), true
}

func kindFromTitle(title, key string) types.ConstructKind {
	fields := strings.Fields(title)
	if len(fields) > 1 {
		if k := types.ParseConstructKind(fields[len(fields)-1]); k != types.KindPage {
			return k
		}
	}
	if strings.Contains(path.Base(key), ".") {
		return types.KindMember
	}
	return types.KindPage
}

func headingKind(n *html.Node) string {
	if k := attr(n, "data-kind"); k != "" {
		return k
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if types.ParseConstructKind(c) != types.KindPage {
			return c
		}
	}
	return ""
}

func language(n *html.Node) string {
	for _, c := range strings.Fields(attr(n, "class")) {
		for _, prefix := range []string{"lang-", "language-"} {
			if strings.HasPrefix(c, prefix) {
				return strings.TrimPrefix(c, prefix)
			}
		}
	}
	return attr(n, "data-lang")
}
