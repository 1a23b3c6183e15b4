// Package schema declares the statically known field sets of the resources handled by the
// save pipeline. Diffing, relationship projection and validation all walk these
// declarations instead of probing arbitrary form keys.
package schema

import (
	"fmt"
	"sort"

	"github.com/noah-isme/collections-gateway/internal/models"
)

// Kind classifies how a field travels to the back-end.
type Kind int

const (
	// Attribute is sent inside "attributes".
	Attribute Kind = iota
	// ToOne is a single {id,type} link sent inside "relationships".
	ToOne
	// ToMany is a list of {id,type} links sent inside "relationships".
	ToMany
)

func (k Kind) String() string {
	switch k {
	case ToOne:
		return "to-one"
	case ToMany:
		return "to-many"
	default:
		return "attribute"
	}
}

// Field declares one top-level key of a resource.
type Field struct {
	Name string
	Kind Kind
	// Target is the related resource type for relationship fields.
	Target string
	// Rules is a validator/v10 tag applied to the submitted value.
	Rules string
	// Nested marks to-many relationships whose items are saved before the owner and
	// deleted after it when removed.
	Nested bool
}

// IsRelationship reports whether the field is sent inside "relationships".
func (f Field) IsRelationship() bool {
	return f.Kind == ToOne || f.Kind == ToMany
}

// Schema is the declared field set of one resource type.
type Schema struct {
	Type    string
	Service string
	Fields  []Field
	index   map[string]int
}

// New builds a schema and indexes its fields. Duplicate names panic since schemas are
// package level declarations.
func New(typ, service string, fields ...Field) *Schema {
	s := &Schema{Type: typ, Service: service, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if _, dup := s.index[f.Name]; dup {
			panic(fmt.Sprintf("schema %s: duplicate field %s", typ, f.Name))
		}
		if f.IsRelationship() && f.Target == "" {
			panic(fmt.Sprintf("schema %s: relationship %s has no target type", typ, f.Name))
		}
		s.index[f.Name] = i
	}
	return s
}

// Field looks up a declared field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Relationships returns the relationship fields in declaration order.
func (s *Schema) Relationships() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.IsRelationship() {
			out = append(out, f)
		}
	}
	return out
}

// NestedFields returns the to-many fields saved before the owner.
func (s *Schema) NestedFields() []Field {
	out := make([]Field, 0, 2)
	for _, f := range s.Fields {
		if f.Nested {
			out = append(out, f)
		}
	}
	return out
}

// Path is the collection path of the resource, e.g. agent-api/person.
func (s *Schema) Path() string {
	return s.Service + "/" + s.Type
}

// Sanitize returns a copy of values restricted to id, type and the declared fields, with
// the type forced to the schema type. Undeclared keys are reported so callers can log them.
func (s *Schema) Sanitize(values models.Values) (models.Values, []string) {
	out := make(models.Values, len(s.Fields)+2)
	var dropped []string
	for key, value := range values.Clone() {
		if key == "id" {
			if value != nil && value != "" {
				out["id"] = value
			}
			continue
		}
		if key == "type" {
			continue
		}
		if _, ok := s.index[key]; !ok {
			dropped = append(dropped, key)
			continue
		}
		out[key] = value
	}
	out["type"] = s.Type
	sort.Strings(dropped)
	return out, dropped
}
