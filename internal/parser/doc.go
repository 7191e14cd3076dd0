// Package parser extracts structured content from HTML reference pages.
//
// The parser walks the golang.org/x/net/html node tree in document order and
// fills a types.SourceDocument. It has no side effects and holds no state
// between calls.
//
// # Basic Usage
//
//	p := parser.New()
//	doc, err := p.ParseFile("/docs/api/Widget.html", "api/Widget.html")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(doc.Key, doc.Kind, len(doc.LinkGroups))
//
// # Extraction Rules
//
//   - Title: first <h1>, else <title>, else the file name
//   - Kind: <meta name="construct-kind">, body/heading data-kind or class,
//     a trailing "class"/"enum"/... word in the title, a dotted file name
//   - Description: .description block, else paragraphs before the first <h2>
//   - Inheritance: links inside .inherits and .implements blocks
//   - Link groups: every <table>, named after the preceding heading
//   - Examples: every <pre>, language from lang-* or language-* classes
//   - Overloads: .overload blocks holding a .signature
//   - Sections: prose under each <h2>
//
// Missing optional blocks yield empty collections. Input that is empty,
// binary, has no markup, or has neither a title nor text returns an error
// wrapping ErrMalformedDocument.
//
// # Document Keys
//
// A document key is the page path relative to the source root, slash
// separated and without extension. Relative links are resolved against the
// page and converted to keys with ResolveLink.
package parser
