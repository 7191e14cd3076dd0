package types

import "strings"

// ConstructKind identifies what a reference page documents
type ConstructKind string

const (
	KindClass     ConstructKind = "class"
	KindStruct    ConstructKind = "struct"
	KindInterface ConstructKind = "interface"
	KindEnum      ConstructKind = "enum"
	KindMethod    ConstructKind = "method"
	KindProperty  ConstructKind = "property"
	KindMember    ConstructKind = "member"
	KindManual    ConstructKind = "manual"
	KindPage      ConstructKind = "page"
)

// ParseConstructKind maps a free-form marker to a known kind, or KindPage
func ParseConstructKind(s string) ConstructKind {
	switch k := ConstructKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindClass, KindStruct, KindInterface, KindEnum, KindMethod, KindProperty, KindMember, KindManual:
		return k
	case "function", "field", "event":
		return KindMember
	default:
		return KindPage
	}
}

// IsType reports whether the kind documents a type rather than a member or page
func (k ConstructKind) IsType() bool {
	switch k {
	case KindClass, KindStruct, KindInterface, KindEnum:
		return true
	}
	return false
}

// SourceDocument is the parsed, in-memory form of one reference page.
// It is rebuilt on every parse and never persisted directly.
type SourceDocument struct {
	// Identification
	Path string // Relative to the source root, slash separated
	Key  string // Path without extension; unique per source

	// Content
	Title       string
	Kind        ConstructKind
	Description string
	BaseTypes   []Link // Inheritance chain, nearest first
	Interfaces  []Link
	LinkGroups  []LinkGroup
	Examples    []CodeExample
	Overloads   []Overload
	Sections    []Section
	InlineLinks []Link // Links found in running text
}

// Link is a cross-reference to another page
type Link struct {
	Text    string
	Target  string // Target document key, already resolved against the page
	Summary string
}

// LinkGroup is a titled table of links, e.g. "Properties" or "Public Methods"
type LinkGroup struct {
	Name  string
	Links []Link
}

// CodeExample is a verbatim code block
type CodeExample struct {
	Language string
	Code     string
}

// Overload is one signature of a method with its own description
type Overload struct {
	Declaration string
	Description string
}

// Section is an additional named block of prose
type Section struct {
	Name string
	Text string
}

// HasContent reports whether any indexable text is present
func (d *SourceDocument) HasContent() bool {
	if strings.TrimSpace(d.Description) != "" || len(d.BaseTypes) > 0 || len(d.Interfaces) > 0 {
		return true
	}
	for _, g := range d.LinkGroups {
		if len(g.Links) > 0 {
			return true
		}
	}
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Text) != "" {
			return true
		}
	}
	for _, e := range d.Examples {
		if strings.TrimSpace(e.Code) != "" {
			return true
		}
	}
	return len(d.Overloads) > 0
}

// Category groups construct kinds into the coarse buckets stored with a document
func (d *SourceDocument) Category() string {
	switch {
	case d.Kind.IsType():
		return "type"
	case d.Kind == KindMethod || d.Kind == KindProperty || d.Kind == KindMember:
		return "member"
	case d.Kind == KindManual:
		return "manual"
	default:
		return "page"
	}
}

// RelationshipType names a typed edge between two documents
type RelationshipType string

const (
	RelInherits   RelationshipType = "inherits"
	RelImplements RelationshipType = "implements"
	RelMember     RelationshipType = "member"
	RelLink       RelationshipType = "link"
)

// DocumentLink is an unresolved outgoing reference persisted with a document
type DocumentLink struct {
	TargetKey string           `json:"target_key"`
	Type      RelationshipType `json:"type"`
	Context   string           `json:"context,omitempty"`
}

// OutgoingLinks flattens every reference in the document into typed links.
// Self references and duplicates are dropped; order is stable.
func (d *SourceDocument) OutgoingLinks() []DocumentLink {
	seen := make(map[DocumentLink]bool)
	var out []DocumentLink
	add := func(target string, typ RelationshipType, context string) {
		if target == "" || target == d.Key {
			return
		}
		l := DocumentLink{TargetKey: target, Type: typ, Context: context}
		if seen[l] {
			return
		}
		seen[l] = true
		out = append(out, l)
	}

	for _, l := range d.BaseTypes {
		add(l.Target, RelInherits, "")
	}
	for _, l := range d.Interfaces {
		add(l.Target, RelImplements, "")
	}
	for _, g := range d.LinkGroups {
		for _, l := range g.Links {
			add(l.Target, RelMember, g.Name)
		}
	}
	for _, l := range d.InlineLinks {
		add(l.Target, RelLink, "")
	}
	return out
}
