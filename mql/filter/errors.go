package filter

import "fmt"

// Stable error codes carried by FieldError, suitable for programmatic
// handling or localization on the caller's side.
const (
	CodeInvalidOp           = "invalid_op"
	CodeInvalidInComp       = "invalid_in_comp"
	CodeInvalidModValues    = "invalid_mod_values"
	CodeInvalidRelationComp = "invalid_relation_comp"
	CodeInvalidAttrComp     = "invalid_attr_comp"
	CodeInvalidEmptyComp    = "invalid_empty_comp"
	CodeInvalidElemMatch    = "invalid_elem_match"
	CodeDataConversion      = "data_conversion_error"
	CodePermission          = "invalid_whitelist_permission"
)

// TooComplexError aborts a compile whose pending work exceeds the
// configured complexity limit.
type TooComplexError struct {
	Limit int
}

func (e *TooComplexError) Error() string {
	return fmt.Sprintf("this query is too complex (limit %d)", e.Limit)
}

// FieldError reports an invalid filter fragment for a specific dotted path.
type FieldError struct {
	// DataKey is the dot separated, user facing path the error applies to.
	DataKey string
	// Filter is the offending filter fragment, a map or primitive value.
	Filter any
	// Op is the operator being applied, empty for implicit equality or
	// implicit $elemMatch checks.
	Op      string
	Message string
	Code    string
}

func (e *FieldError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s on %q: %s", e.Code, e.Op, e.DataKey, e.Message)
	}
	return fmt.Sprintf("%s: %q: %s", e.Code, e.DataKey, e.Message)
}

// PermissionError reports impermissible access to a field.
type PermissionError struct {
	FieldError
}
