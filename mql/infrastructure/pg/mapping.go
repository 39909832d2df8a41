package pg

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// JoinPair relates a column on the declaring model's table (Local) to a
// column on the relation target's table (Remote). Composite keys use
// multiple pairs.
type JoinPair struct {
	Local  string
	Remote string
}

// TableMapping defines how one model maps to a table.
type TableMapping struct {
	table   string
	alias   string
	columns map[string]string
	joins   map[string][]JoinPair
}

// WithTable overrides the default (pluralized snake case) table name.
func (t *TableMapping) WithTable(table string) *TableMapping {
	t.table = table
	return t
}

// WithAlias sets the alias used when the model is the query root.
func (t *TableMapping) WithAlias(alias string) *TableMapping {
	t.alias = alias
	return t
}

// WithColumn overrides the column name for an internal field name.
func (t *TableMapping) WithColumn(field, column string) *TableMapping {
	t.columns[field] = column
	return t
}

// WithJoin registers the join pairs for a relation field.
func (t *TableMapping) WithJoin(relation string, pairs ...JoinPair) *TableMapping {
	t.joins[relation] = pairs
	return t
}

func (t *TableMapping) Table() string {
	return t.table
}

// Ref is the identifier the model's columns are qualified with when it is
// the outermost table of a query.
func (t *TableMapping) Ref() string {
	if t.alias != "" {
		return t.alias
	}
	return t.table
}

func (t *TableMapping) column(field string) string {
	if col, ok := t.columns[field]; ok {
		return col
	}
	return field
}

// Mapping holds the table mappings for every model a compiled predicate may
// touch.
type Mapping struct {
	tables map[string]*TableMapping
}

func NewMapping() *Mapping {
	return &Mapping{tables: make(map[string]*TableMapping)}
}

// Model returns the mapping for a model, creating a default one (pluralized
// snake case table name) on first use.
func (m *Mapping) Model(name string) *TableMapping {
	t, ok := m.tables[name]
	if !ok {
		t = &TableMapping{
			table:   inflection.Plural(snakeCase(name)),
			columns: make(map[string]string),
			joins:   make(map[string][]JoinPair),
		}
		m.tables[name] = t
	}
	return t
}

func (m *Mapping) lookup(name string) (*TableMapping, bool) {
	t, ok := m.tables[name]
	return t, ok
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
