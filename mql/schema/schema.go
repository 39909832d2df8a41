package schema

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ScalarType enumerates the value types a scalar field can hold.
type ScalarType string

const (
	Int      ScalarType = "int"
	Text     ScalarType = "text"
	Bool     ScalarType = "bool"
	Date     ScalarType = "date"
	DateTime ScalarType = "datetime"
	Float    ScalarType = "float"
	Time     ScalarType = "time"
)

// Cardinality describes how many related rows a relation field points at.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Field is either a ScalarField or a RelationField.
type Field interface {
	fieldMarker()
}

// ScalarField holds a single typed value.
type ScalarField struct {
	Type ScalarType
}

func (ScalarField) fieldMarker() {}

// RelationField references another model.
type RelationField struct {
	Target      string
	Cardinality Cardinality
}

func (RelationField) fieldMarker() {}

// Model is a named entity type exposing fields by name.
type Model struct {
	name   string
	fields map[string]Field
}

func NewModel(name string) *Model {
	return &Model{
		name:   name,
		fields: make(map[string]Field),
	}
}

func (m *Model) Name() string {
	return m.name
}

// Scalar registers a scalar field on the model.
func (m *Model) Scalar(name string, t ScalarType) *Model {
	m.fields[name] = ScalarField{Type: t}
	return m
}

// Relation registers a relation field pointing at the target model.
func (m *Model) Relation(name, target string, cardinality Cardinality) *Model {
	m.fields[name] = RelationField{Target: target, Cardinality: cardinality}
	return m
}

func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// FieldNames returns the registered field names, unordered.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	return names
}

// Registry holds the models a filter document may be compiled against.
type Registry struct {
	models map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

func (r *Registry) Add(models ...*Model) *Registry {
	for _, m := range models {
		r.models[m.name] = m
	}
	return r
}

func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Validate collects every schema definition defect instead of stopping at
// the first one.
func (r *Registry) Validate() error {
	var result error
	for name, m := range r.models {
		if name == "" {
			result = multierror.Append(result, fmt.Errorf("model with empty name"))
		}
		for fieldName, f := range m.fields {
			if fieldName == "" {
				result = multierror.Append(result, fmt.Errorf("model %q: field with empty name", name))
			}
			rel, ok := f.(RelationField)
			if !ok {
				continue
			}
			if _, exists := r.models[rel.Target]; !exists {
				result = multierror.Append(result, fmt.Errorf(
					"model %q: relation %q targets unknown model %q", name, fieldName, rel.Target))
			}
			if rel.Cardinality != One && rel.Cardinality != Many {
				result = multierror.Append(result, fmt.Errorf(
					"model %q: relation %q has invalid cardinality %q", name, fieldName, rel.Cardinality))
			}
		}
	}
	return result
}
