// Package symbol defines the shared data model for indexed code elements:
// element IDs and their parsing rules, lexical records, embedding records,
// and structural relationship data.
package symbol

import (
	"strings"
	"time"
	"unicode"
)

// Kind classifies an indexed element.
type Kind string

const (
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindMethod    Kind = "method"
	KindField     Kind = "field"
)

// Element is the lexical record for one indexed element. Re-indexing the
// same ID replaces the record wholesale.
type Element struct {
	ID        string            `json:"id"`
	Signature string            `json:"signature"`
	Kind      Kind              `json:"kind"`
	FilePath  string            `json:"file_path"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EmbeddingRecord is the semantic-index metadata for one element. Position
// is assigned once on first insert and never changes; the vector's byte
// offset in the embedding region is Position * dimensions * 4.
type EmbeddingRecord struct {
	ID            string            `json:"id"`
	Position      int               `json:"position"`
	ContentLength int               `json:"content_length"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IndexedAt     time.Time         `json:"indexed_at"`
}

// Structure holds an element's outgoing relationships. Forward edges are
// authoritative; the structural index derives reverse adjacency from them.
type Structure struct {
	ID             string              `json:"id"`
	Kind           Kind                `json:"kind"`
	Package        string              `json:"package,omitempty"`
	ContainingType string              `json:"containing_type,omitempty"`
	SuperClass     string              `json:"super_class,omitempty"`
	Implements     map[string]struct{} `json:"implements,omitempty"`
	Calls          map[string]struct{} `json:"calls,omitempty"`
	Overrides      map[string]struct{} `json:"overrides,omitempty"`
	AccessesFields map[string]struct{} `json:"accesses_fields,omitempty"`
}

// NewStructure creates a Structure with package and containing type derived
// from the element ID.
func NewStructure(id string, kind Kind) *Structure {
	return &Structure{
		ID:             id,
		Kind:           kind,
		Package:        PackageOf(id),
		ContainingType: ContainingTypeOf(id),
		Implements:     make(map[string]struct{}),
		Calls:          make(map[string]struct{}),
		Overrides:      make(map[string]struct{}),
		AccessesFields: make(map[string]struct{}),
	}
}

// ReferencedIDs returns every element this structure points at via any
// forward edge.
func (s *Structure) ReferencedIDs() []string {
	var out []string
	for id := range s.Calls {
		out = append(out, id)
	}
	for id := range s.Implements {
		out = append(out, id)
	}
	for id := range s.Overrides {
		out = append(out, id)
	}
	for id := range s.AccessesFields {
		out = append(out, id)
	}
	if s.SuperClass != "" {
		out = append(out, s.SuperClass)
	}
	return out
}

// Relation names a relationship kind between elements, forward or derived.
type Relation string

const (
	RelationCalls           Relation = "calls"
	RelationCalledBy        Relation = "called_by"
	RelationExtends         Relation = "extends"
	RelationExtendedBy      Relation = "extended_by"
	RelationImplements      Relation = "implements"
	RelationImplementedBy   Relation = "implemented_by"
	RelationOverrides       Relation = "overrides"
	RelationOverriddenBy    Relation = "overridden_by"
	RelationAccessesField   Relation = "accesses_field"
	RelationFieldAccessedBy Relation = "field_accessed_by"
)

// SimpleName extracts the unqualified name from an element ID.
// "com.example.Foo#bar" -> "bar"; "com.example.Foo" -> "Foo";
// "com.example.Foo.count" -> "count".
func SimpleName(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		return id[i+1:]
	}
	last := strings.LastIndex(id, ".")
	if last < 0 {
		return id
	}
	return id[last+1:]
}

// PackageOf extracts the package portion of an element ID, or "" when the
// ID has no package qualifier.
func PackageOf(id string) string {
	classPart := id
	if i := strings.Index(id, "#"); i > 0 {
		classPart = id[:i]
	} else if last := strings.LastIndex(id, "."); last > 0 {
		tail := id[last+1:]
		if tail != "" && unicode.IsLower(rune(tail[0])) {
			// Field ID: strip the field segment first.
			classPart = id[:last]
		}
	}
	last := strings.LastIndex(classPart, ".")
	if last <= 0 {
		return ""
	}
	return classPart[:last]
}

// ClassName extracts the simple class name from an element ID, or "" when
// the ID names a top-level package member with no class.
func ClassName(id string) string {
	classPart := id
	if i := strings.Index(id, "#"); i > 0 {
		classPart = id[:i]
	} else {
		last := strings.LastIndex(id, ".")
		if last <= 0 {
			return ""
		}
		tail := id[last+1:]
		if tail != "" && unicode.IsUpper(rune(tail[0])) {
			return tail
		}
		// Field ID: the class is the second-to-last segment.
		classPart = id[:last]
	}
	if last := strings.LastIndex(classPart, "."); last >= 0 {
		return classPart[last+1:]
	}
	return classPart
}

// ContainingTypeOf returns the fully qualified type owning a member ID, or
// "" for type-level IDs.
func ContainingTypeOf(id string) string {
	if i := strings.Index(id, "#"); i > 0 {
		return id[:i]
	}
	return ""
}

// MemberName returns the member segment of a "#"-qualified ID, or "".
func MemberName(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		return id[i+1:]
	}
	return ""
}
