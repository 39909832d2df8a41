package filter

import (
	"fmt"

	"github.com/krew-solutions/mql-go/mql/schema"
)

// token is the closed set of operator keys a filter document may use.
type token string

const (
	tokenAnd       token = "$and"
	tokenOr        token = "$or"
	tokenNot       token = "$not"
	tokenNor       token = "$nor"
	tokenElemMatch token = "$elemMatch"
	tokenEq        token = "$eq"
	tokenNe        token = "$ne"
	tokenLt        token = "$lt"
	tokenLte       token = "$lte"
	tokenGt        token = "$gt"
	tokenGte       token = "$gte"
	tokenIn        token = "$in"
	tokenNin       token = "$nin"
	tokenMod       token = "$mod"
	tokenLike      token = "$like"
	tokenExists    token = "$exists"
)

var comparisonOps = map[token]CompareOp{
	tokenEq:  CompareEq,
	tokenNe:  CompareNe,
	tokenLt:  CompareLt,
	tokenLte: CompareLte,
	tokenGt:  CompareGt,
	tokenGte: CompareGte,
}

// leafTarget is the resolved field a primitive operator applies to.
type leafTarget struct {
	// dataKey is the external dotted path, used for error reporting.
	dataKey string
	// field is the internal dotted path relative to the enclosing
	// existential scope.
	field  string
	scalar *schema.ScalarField
	// rel and relPath are set instead of scalar when $exists targets a
	// relation.
	rel     *schema.RelationField
	relPath string
}

// buildLeaf turns one (operator, field, value) triple into a predicate leaf.
func buildLeaf(op token, target leafTarget, value any) (Node, error) {
	if cmp, ok := comparisonOps[op]; ok {
		coerced, err := Coerce(value, target.scalar.Type)
		if err != nil {
			return nil, conversionFieldError(target.dataKey, op, value)
		}
		return ComparisonNode{
			DataKey: target.dataKey,
			Field:   target.field,
			Type:    target.scalar.Type,
			Op:      cmp,
			Value:   coerced,
		}, nil
	}

	switch op {
	case tokenLike:
		return ComparisonNode{
			DataKey: target.dataKey,
			Field:   target.field,
			Type:    target.scalar.Type,
			Op:      CompareLike,
			Value:   "%" + stringify(value) + "%",
		}, nil

	case tokenIn, tokenNin:
		list, ok := value.([]any)
		if !ok {
			return nil, &FieldError{
				DataKey: target.dataKey,
				Filter:  value,
				Op:      string(op),
				Code:    CodeInvalidInComp,
				Message: "$in and $nin values must be a list.",
			}
		}
		converted := make([]any, len(list))
		for i, item := range list {
			coerced, err := Coerce(item, target.scalar.Type)
			if err != nil {
				return nil, conversionFieldError(target.dataKey, op, value)
			}
			converted[i] = coerced
		}
		node := ComparisonNode{
			DataKey: target.dataKey,
			Field:   target.field,
			Type:    target.scalar.Type,
			Op:      CompareIn,
			Value:   converted,
		}
		if op == tokenNin {
			return Not(node), nil
		}
		return node, nil

	case tokenMod:
		if target.scalar.Type != schema.Int {
			return nil, &FieldError{
				DataKey: target.dataKey,
				Filter:  value,
				Op:      string(op),
				Code:    CodeInvalidOp,
				Message: "$mod may only be used on integer fields.",
			}
		}
		list, ok := value.([]any)
		if !ok || len(list) != 2 {
			return nil, &FieldError{
				DataKey: target.dataKey,
				Filter:  value,
				Op:      string(op),
				Code:    CodeInvalidModValues,
				Message: "$mod value must be list of two integers.",
			}
		}
		divisor, ok1 := integral(list[0])
		remainder, ok2 := integral(list[1])
		if !ok1 || !ok2 {
			return nil, &FieldError{
				DataKey: target.dataKey,
				Filter:  value,
				Op:      string(op),
				Code:    CodeInvalidModValues,
				Message: "Non int $mod value supplied.",
			}
		}
		return ComparisonNode{
			DataKey: target.dataKey,
			Field:   target.field,
			Type:    target.scalar.Type,
			Op:      CompareMod,
			Value:   ModValue{Divisor: divisor, Remainder: remainder},
		}, nil

	case tokenExists:
		coerced, err := Coerce(value, schema.Bool)
		if err != nil {
			return nil, conversionFieldError(target.dataKey, op, value)
		}
		wanted := coerced != nil && coerced.(bool)
		if target.rel != nil {
			node := Exists(target.relPath, target.rel.Target, target.rel.Cardinality, True())
			if !wanted {
				return Not(node), nil
			}
			return node, nil
		}
		cmp := CompareIsNull
		if wanted {
			cmp = CompareIsNotNull
		}
		return ComparisonNode{
			DataKey: target.dataKey,
			Field:   target.field,
			Type:    target.scalar.Type,
			Op:      cmp,
		}, nil
	}

	return nil, &FieldError{
		DataKey: target.dataKey,
		Filter:  value,
		Op:      string(op),
		Code:    CodeInvalidOp,
		Message: "Invalid operator.",
	}
}

func conversionFieldError(dataKey string, op token, value any) *FieldError {
	return &FieldError{
		DataKey: dataKey,
		Filter:  value,
		Op:      string(op),
		Code:    CodeDataConversion,
		Message: "Unable to convert provided data to the proper type for this field.",
	}
}

// integral accepts values that are ints, or floats that truncate without
// loss.
func integral(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		if float32(int64(v)) == v {
			return int64(v), true
		}
	case float64:
		if float64(int64(v)) == v {
			return int64(v), true
		}
	}
	return 0, false
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
