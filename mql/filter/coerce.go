package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/krew-solutions/mql-go/mql/schema"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	timeLayout     = "15:04:05"
)

// ConversionError reports a value that could not be converted to a field's
// scalar type. It carries no path context; the compiler adds that when it
// wraps the error into a FieldError.
type ConversionError struct {
	Value any
	Type  schema.ScalarType
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %v (%T) to %s", e.Value, e.Value, e.Type)
}

// Coerce converts a raw filter value into the canonical representation for
// the target scalar type. Nil and the string "null" coerce to nil for every
// type.
func Coerce(value any, target schema.ScalarType) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok && strings.EqualFold(s, "null") {
		return nil, nil
	}

	switch target {
	case schema.Int:
		return coerceInt(value, target)
	case schema.Text:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case schema.Bool:
		return coerceBool(value), nil
	case schema.Date:
		return coerceTemporal(value, target, dateLayout)
	case schema.DateTime:
		return coerceTemporal(value, target, dateTimeLayout)
	case schema.Time:
		return coerceTemporal(value, target, timeLayout)
	case schema.Float:
		return coerceFloat(value, target)
	}
	return nil, &ConversionError{Value: value, Type: target}
}

func coerceInt(value any, target schema.ScalarType) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &ConversionError{Value: value, Type: target}
		}
		return n, nil
	}
	return nil, &ConversionError{Value: value, Type: target}
}

func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return !strings.EqualFold(v, "false") && v != "0"
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	}
	return true
}

func coerceTemporal(value any, target schema.ScalarType, layout string) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(layout, v)
		if err != nil {
			return nil, &ConversionError{Value: value, Type: target}
		}
		return t, nil
	}
	return nil, &ConversionError{Value: value, Type: target}
}

func coerceFloat(value any, target schema.ScalarType) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &ConversionError{Value: value, Type: target}
		}
		return f, nil
	}
	return nil, &ConversionError{Value: value, Type: target}
}
