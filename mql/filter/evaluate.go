package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/krew-solutions/mql-go/mql/schema"
)

// Evaluate checks a compiled predicate against in-memory document state.
// Relation fields are represented as a nested map (to-one) or a slice of
// maps (to-many). Useful for testing compiled semantics without storage.
func Evaluate(node Node, state map[string]any) (bool, error) {
	if node == nil {
		return true, nil
	}
	return evaluate(node, state, "")
}

func evaluate(node Node, state map[string]any, scope string) (bool, error) {
	switch n := node.(type) {
	case TrueNode:
		return true, nil

	case AndNode:
		for _, operand := range n.Operands {
			ok, err := evaluate(operand, state, scope)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case OrNode:
		for _, operand := range n.Operands {
			ok, err := evaluate(operand, state, scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case NotNode:
		ok, err := evaluate(n.Operand, state, scope)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case ComparisonNode:
		return evaluateComparison(n, lookupPath(state, n.Field))

	case ExistsNode:
		related := lookupPath(state, trimScope(n.Path, scope))
		switch rel := related.(type) {
		case []any:
			for _, row := range rel {
				m, ok := row.(map[string]any)
				if !ok {
					continue
				}
				match, err := evaluate(n.Inner, m, n.Path)
				if err != nil {
					return false, err
				}
				if match {
					return true, nil
				}
			}
			return false, nil
		case map[string]any:
			return evaluate(n.Inner, rel, n.Path)
		}
		return false, nil
	}

	return false, fmt.Errorf("unsupported predicate node %T", node)
}

func evaluateComparison(n ComparisonNode, value any) (bool, error) {
	switch n.Op {
	case CompareEq:
		if n.Value == nil {
			return value == nil, nil
		}
		return equalValues(value, n.Value), nil
	case CompareNe:
		if n.Value == nil {
			return value != nil, nil
		}
		return !equalValues(value, n.Value), nil
	case CompareLt, CompareLte, CompareGt, CompareGte:
		cmp, ok := compareValues(value, n.Value)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case CompareLt:
			return cmp < 0, nil
		case CompareLte:
			return cmp <= 0, nil
		case CompareGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case CompareLike:
		pattern := strings.Trim(n.Value.(string), "%")
		return strings.Contains(stringify(value), pattern), nil
	case CompareIn:
		for _, candidate := range n.Value.([]any) {
			if candidate == nil {
				if value == nil {
					return true, nil
				}
				continue
			}
			if equalValues(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	case CompareMod:
		mv := n.Value.(ModValue)
		if mv.Divisor == 0 {
			return false, fmt.Errorf("$mod by zero on %q", n.Field)
		}
		iv, ok := integral(value)
		if !ok {
			return false, nil
		}
		return iv%mv.Divisor == mv.Remainder, nil
	case CompareIsNull:
		return value == nil, nil
	case CompareIsNotNull:
		return value != nil, nil
	}
	return false, fmt.Errorf("unsupported comparison op %q", n.Op)
}

// lookupPath descends nested maps following a dotted path, skipping legacy
// numeric index segments. Missing fields read as nil.
func lookupPath(state map[string]any, path string) any {
	var current any = state
	if path == "" {
		return current
	}
	for _, seg := range strings.Split(path, ".") {
		if schema.IsIndexSegment(seg) {
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[seg]
	}
	return current
}

func equalValues(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return false
}

// compareValues orders two values when they are comparable: numbers with
// numbers, strings with strings, times with times, bools with bools.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
