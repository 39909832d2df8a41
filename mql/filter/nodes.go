package filter

import (
	"fmt"
	"reflect"

	"github.com/krew-solutions/mql-go/mql/schema"
)

// CompareOp is the closed set of primitive comparison operations a leaf
// predicate can carry.
type CompareOp string

const (
	CompareEq        CompareOp = "eq"
	CompareNe        CompareOp = "ne"
	CompareLt        CompareOp = "lt"
	CompareLte       CompareOp = "lte"
	CompareGt        CompareOp = "gt"
	CompareGte       CompareOp = "gte"
	CompareLike      CompareOp = "like"
	CompareIn        CompareOp = "in"
	CompareMod       CompareOp = "mod"
	CompareIsNull    CompareOp = "is_null"
	CompareIsNotNull CompareOp = "is_not_null"
)

// ModValue is the payload of a CompareMod leaf: value % Divisor == Remainder.
type ModValue struct {
	Divisor   int64
	Remainder int64
}

// Visitor walks a predicate tree, one method per node kind.
type Visitor interface {
	VisitTrue(n TrueNode) (any, error)
	VisitComparison(n ComparisonNode) (any, error)
	VisitAnd(n AndNode) (any, error)
	VisitOr(n OrNode) (any, error)
	VisitNot(n NotNode) (any, error)
	VisitExists(n ExistsNode) (any, error)
}

// Node is one node of a compiled predicate tree.
type Node interface {
	Accept(v Visitor) (any, error)
	Equal(other Node) bool
}

// TrueNode is the vacuous truth an empty compound scope collapses to.
type TrueNode struct{}

func True() TrueNode { return TrueNode{} }

func (n TrueNode) Accept(v Visitor) (any, error) { return v.VisitTrue(n) }

func (n TrueNode) Equal(other Node) bool {
	_, ok := other.(TrueNode)
	return ok
}

func (n TrueNode) String() string { return "True" }

// ComparisonNode is a primitive test on a scalar field.
type ComparisonNode struct {
	// DataKey is the full dotted path as supplied by the caller.
	DataKey string
	// Field is the internal dotted path relative to the innermost
	// enclosing existential scope.
	Field string
	Type  schema.ScalarType
	Op    CompareOp
	Value any
}

func (n ComparisonNode) Accept(v Visitor) (any, error) { return v.VisitComparison(n) }

func (n ComparisonNode) Equal(other Node) bool {
	o, ok := other.(ComparisonNode)
	if !ok {
		return false
	}
	return n.Field == o.Field && n.Type == o.Type && n.Op == o.Op &&
		reflect.DeepEqual(n.Value, o.Value)
}

func (n ComparisonNode) String() string {
	return fmt.Sprintf("Comparison(%s %s %v)", n.Field, n.Op, n.Value)
}

// AndNode is an n-ary conjunction.
type AndNode struct {
	Operands []Node
}

func And(operands ...Node) AndNode { return AndNode{Operands: operands} }

func (n AndNode) Accept(v Visitor) (any, error) { return v.VisitAnd(n) }

func (n AndNode) Equal(other Node) bool {
	o, ok := other.(AndNode)
	if !ok {
		return false
	}
	return operandsEqual(n.Operands, o.Operands)
}

func (n AndNode) String() string { return fmt.Sprintf("And(%v)", n.Operands) }

// OrNode is an n-ary disjunction.
type OrNode struct {
	Operands []Node
}

func Or(operands ...Node) OrNode { return OrNode{Operands: operands} }

func (n OrNode) Accept(v Visitor) (any, error) { return v.VisitOr(n) }

func (n OrNode) Equal(other Node) bool {
	o, ok := other.(OrNode)
	if !ok {
		return false
	}
	return operandsEqual(n.Operands, o.Operands)
}

func (n OrNode) String() string { return fmt.Sprintf("Or(%v)", n.Operands) }

// NotNode negates its single child.
type NotNode struct {
	Operand Node
}

func Not(operand Node) NotNode { return NotNode{Operand: operand} }

func (n NotNode) Accept(v Visitor) (any, error) { return v.VisitNot(n) }

func (n NotNode) Equal(other Node) bool {
	o, ok := other.(NotNode)
	if !ok {
		return false
	}
	return n.Operand.Equal(o.Operand)
}

func (n NotNode) String() string { return fmt.Sprintf("Not(%v)", n.Operand) }

// ExistsNode is an existential quantifier over a relation: at least one
// related row satisfies Inner (Many), or the related row, if present,
// satisfies it (One).
type ExistsNode struct {
	// Path is the internal dotted relation path from the root model.
	Path string
	// Model is the relation's target model name.
	Model       string
	Cardinality schema.Cardinality
	Inner       Node
}

func Exists(path, model string, cardinality schema.Cardinality, inner Node) ExistsNode {
	return ExistsNode{Path: path, Model: model, Cardinality: cardinality, Inner: inner}
}

func (n ExistsNode) Accept(v Visitor) (any, error) { return v.VisitExists(n) }

func (n ExistsNode) Equal(other Node) bool {
	o, ok := other.(ExistsNode)
	if !ok {
		return false
	}
	return n.Path == o.Path && n.Model == o.Model &&
		n.Cardinality == o.Cardinality && n.Inner.Equal(o.Inner)
}

func (n ExistsNode) String() string {
	return fmt.Sprintf("Exists(%s/%s, %v)", n.Path, n.Cardinality, n.Inner)
}

func operandsEqual(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// conjoin collapses a node list into a single predicate: empty lists are
// vacuously true, single nodes stay as they are.
func conjoin(nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return True()
	case 1:
		return nodes[0]
	}
	return AndNode{Operands: nodes}
}

func disjoin(nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return True()
	case 1:
		return nodes[0]
	}
	return OrNode{Operands: nodes}
}
