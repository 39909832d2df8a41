package pg

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/krew-solutions/mql-go/mql/filter"
	"github.com/krew-solutions/mql-go/mql/schema"
)

// Compiler renders a compiled predicate tree into a Postgres WHERE clause
// with positional parameters.
type Compiler struct {
	mapping *Mapping
}

func NewCompiler(mapping *Mapping) *Compiler {
	return &Compiler{mapping: mapping}
}

// Where renders the predicate rooted at the given model. A nil node renders
// to an empty clause.
func (c *Compiler) Where(rootModel string, node filter.Node) (string, []any, error) {
	if node == nil {
		return "", nil, nil
	}
	root, ok := c.mapping.lookup(rootModel)
	if !ok {
		return "", nil, errors.Errorf("no table mapping for model %q", rootModel)
	}
	seq := 0
	r := &renderer{
		mapping:  c.mapping,
		model:    rootModel,
		tableRef: root.Ref(),
		aliasSeq: &seq,
	}
	sql, err := r.render(node)
	if err != nil {
		return "", nil, err
	}
	return replaceParamMarkers(sql), r.params, nil
}

type renderer struct {
	mapping  *Mapping
	model    string
	tableRef string
	aliasSeq *int
	params   []any
}

func (r *renderer) render(node filter.Node) (string, error) {
	result, err := node.Accept(r)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (r *renderer) nextAlias() string {
	*r.aliasSeq++
	return fmt.Sprintf("t%d", *r.aliasSeq)
}

func (r *renderer) VisitTrue(filter.TrueNode) (any, error) {
	return "TRUE", nil
}

func (r *renderer) VisitAnd(n filter.AndNode) (any, error) {
	return r.renderCompound(n.Operands, " AND ")
}

func (r *renderer) VisitOr(n filter.OrNode) (any, error) {
	return r.renderCompound(n.Operands, " OR ")
}

func (r *renderer) renderCompound(operands []filter.Node, sep string) (any, error) {
	parts := make([]string, 0, len(operands))
	for _, operand := range operands {
		part, err := r.render(operand)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (r *renderer) VisitNot(n filter.NotNode) (any, error) {
	inner, err := r.render(n.Operand)
	if err != nil {
		return nil, err
	}
	return "NOT (" + inner + ")", nil
}

func (r *renderer) VisitExists(n filter.ExistsNode) (any, error) {
	owner, ok := r.mapping.lookup(r.model)
	if !ok {
		return nil, errors.Errorf("no table mapping for model %q", r.model)
	}
	relField := relationLeaf(n.Path)
	pairs, ok := owner.joins[relField]
	if !ok {
		return nil, errors.Errorf("no join mapping for relation %q on model %q", relField, r.model)
	}
	target, ok := r.mapping.lookup(n.Model)
	if !ok {
		return nil, errors.Errorf("no table mapping for model %q", n.Model)
	}

	alias := r.nextAlias()
	conds := make([]string, 0, len(pairs)+1)
	for _, pair := range pairs {
		conds = append(conds, fmt.Sprintf("%s.%s = %s.%s", alias, pair.Remote, r.tableRef, pair.Local))
	}

	prevModel, prevRef := r.model, r.tableRef
	r.model, r.tableRef = n.Model, alias
	inner, err := r.render(n.Inner)
	r.model, r.tableRef = prevModel, prevRef
	if err != nil {
		return nil, err
	}
	conds = append(conds, inner)

	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
		target.Table(), alias, strings.Join(conds, " AND ")), nil
}

func (r *renderer) VisitComparison(n filter.ComparisonNode) (any, error) {
	col, err := r.columnExpr(n.Field)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case filter.CompareEq:
		if n.Value == nil {
			return col + " IS NULL", nil
		}
		return r.binary(col, "=", n.Value), nil
	case filter.CompareNe:
		if n.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return r.binary(col, "<>", n.Value), nil
	case filter.CompareLt:
		return r.binary(col, "<", n.Value), nil
	case filter.CompareLte:
		return r.binary(col, "<=", n.Value), nil
	case filter.CompareGt:
		return r.binary(col, ">", n.Value), nil
	case filter.CompareGte:
		return r.binary(col, ">=", n.Value), nil
	case filter.CompareLike:
		return r.binary(col, "LIKE", n.Value), nil
	case filter.CompareIn:
		r.params = append(r.params, n.Value)
		return col + " = ANY(?)", nil
	case filter.CompareMod:
		mv := n.Value.(filter.ModValue)
		r.params = append(r.params, mv.Divisor, mv.Remainder)
		return col + " % ? = ?", nil
	case filter.CompareIsNull:
		return col + " IS NULL", nil
	case filter.CompareIsNotNull:
		return col + " IS NOT NULL", nil
	}
	return nil, errors.Errorf("unsupported comparison op %q", n.Op)
}

func (r *renderer) binary(col, op string, value any) string {
	r.params = append(r.params, value)
	return fmt.Sprintf("%s %s ?", col, op)
}

// columnExpr maps a scope-relative field path to a qualified column. Every
// relation crossing opens its own subquery scope, so after stripping legacy
// index placeholders a single segment must remain.
func (r *renderer) columnExpr(field string) (string, error) {
	stripped := schema.StripIndexes(field)
	if stripped == "" || strings.Contains(stripped, ".") {
		return "", errors.Errorf("cannot map field path %q on model %q to a column", field, r.model)
	}
	t, ok := r.mapping.lookup(r.model)
	if !ok {
		return "", errors.Errorf("no table mapping for model %q", r.model)
	}
	return r.tableRef + "." + t.column(stripped), nil
}

// relationLeaf is the relation field name a dotted relation path ends in,
// ignoring trailing index placeholders.
func relationLeaf(path string) string {
	segs := strings.Split(schema.StripIndexes(path), ".")
	return segs[len(segs)-1]
}

func replaceParamMarkers(sql string) string {
	var b strings.Builder
	idx := 1
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", idx))
			idx++
		} else {
			b.WriteByte(sql[i])
		}
	}
	return b.String()
}
