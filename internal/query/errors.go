package query

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the grammar or coercion failure class. The HTTP layer
// maps codes to statuses; this package never decides a status itself.
type ErrorCode string

const (
	CodeInvalidFilterFormat  ErrorCode = "INVALID_FILTER_FORMAT"
	CodeFieldNotAllowed      ErrorCode = "FIELD_NOT_ALLOWED"
	CodeOperationNotAllowed  ErrorCode = "OPERATION_NOT_ALLOWED"
	CodeInvalidOperation     ErrorCode = "INVALID_OPERATION"
	CodeInvalidFilterValue   ErrorCode = "INVALID_FILTER_VALUE"
	CodeInvalidSortDirection ErrorCode = "INVALID_SORT_DIRECTION"
	CodeSortFieldNotAllowed  ErrorCode = "SORT_FIELD_NOT_ALLOWED"
)

// Error is a typed grammar/coercion error. All of these are recoverable at
// the request boundary.
type Error struct {
	Code    ErrorCode
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is match on the error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Field == "" || t.Field == e.Field)
}

func newError(code ErrorCode, field, format string, args ...any) *Error {
	return &Error{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidFilterValue reports a value that could not be coerced to the
// field's semantic type.
func InvalidFilterValue(field string, value any, expected SemanticType) *Error {
	return newError(CodeInvalidFilterValue, field,
		"value %v cannot be coerced to %s", value, expected)
}

// IsClientError reports whether err belongs to this package's recoverable
// grammar/coercion taxonomy, unwrapping as needed.
func IsClientError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
