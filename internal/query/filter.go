package query

import "strings"

// SemanticType is the engine-level type of a filterable field. It drives
// coercion and operator applicability, independent of the storage DDL type.
type SemanticType string

const (
	TypeString   SemanticType = "string"
	TypeInt      SemanticType = "int"
	TypeFloat    SemanticType = "float"
	TypeBool     SemanticType = "bool"
	TypeDateTime SemanticType = "datetime"
	TypeMapping  SemanticType = "mapping"
	TypeSequence SemanticType = "sequence"
)

// SemanticTypeOf maps a metadata storage type to its semantic type.
// Unknown storage types are treated as strings.
func SemanticTypeOf(storageType string) SemanticType {
	switch storageType {
	case "int", "bigint":
		return TypeInt
	case "float", "decimal":
		return TypeFloat
	case "boolean":
		return TypeBool
	case "timestamp", "date":
		return TypeDateTime
	case "json":
		return TypeMapping
	case "array":
		return TypeSequence
	default:
		return TypeString
	}
}

// DefaultPathSeparator splits a path-addressed field into its root field and
// the JSON member path below it.
const DefaultPathSeparator = "/"

// Filter is one typed, validated query predicate. The stored Field is always
// the root field; any path below it lives in Path.
type Filter struct {
	Field     string
	Op        Operator
	Value     any
	FieldType SemanticType
	Path      []string
}

// NewFilter constructs a Filter, splitting the field on the default path
// separator and coercing the value against the semantic type. Construction
// fails with a typed error when coercion is impossible.
func NewFilter(field string, op Operator, value any, fieldType SemanticType) (Filter, error) {
	return newFilter(field, op, value, fieldType, DefaultPathSeparator, true)
}

// NewFilterUnvalidated constructs a Filter without re-coercing the value.
// For callers that already hold a typed value (e.g. an injected tenant
// constraint), not for request input.
func NewFilterUnvalidated(field string, op Operator, value any, fieldType SemanticType) Filter {
	f, _ := newFilter(field, op, value, fieldType, DefaultPathSeparator, false)
	return f
}

func newFilter(field string, op Operator, value any, fieldType SemanticType, pathSep string, validate bool) (Filter, error) {
	root, path := splitPath(field, pathSep)
	f := Filter{Field: root, Op: op, Value: value, FieldType: fieldType, Path: path}
	if !validate || op.IsNullCheck() {
		return f, nil
	}
	coerced, err := Coerce(value, fieldType, op)
	if err != nil {
		if qerr, ok := err.(*Error); ok && qerr.Field == "" {
			qerr.Field = root
		}
		return Filter{}, err
	}
	f.Value = coerced
	return f, nil
}

// Translate rewrites the filter's field to its storage-layer name and
// re-runs path splitting. Used by the parser after alias resolution.
func (f *Filter) Translate(storageName string) {
	root, path := splitPath(storageName, DefaultPathSeparator)
	f.Field = root
	if len(path) > 0 {
		f.Path = path
	}
}

// IsPath reports whether the filter descends into a semi-structured field.
func (f Filter) IsPath() bool {
	return len(f.Path) > 0
}

// SortDirection is asc, desc, or unset. Unset still renders a deterministic
// ascending ORDER BY.
type SortDirection string

const (
	DirectionAsc  SortDirection = "asc"
	DirectionDesc SortDirection = "desc"
	DirectionNone SortDirection = ""
)

// Sort is one ordering term. Same path-splitting invariant as Filter.
type Sort struct {
	Field       string
	Direction   SortDirection
	Path        []string
	CustomOrder map[string]int // optional explicit value ranking
}

// NewSort constructs a Sort, splitting the field on the default path separator.
func NewSort(field string, direction SortDirection) Sort {
	root, path := splitPath(field, DefaultPathSeparator)
	return Sort{Field: root, Direction: direction, Path: path}
}

// Translate rewrites the sort's field to its storage-layer name.
func (s *Sort) Translate(storageName string) {
	root, path := splitPath(storageName, DefaultPathSeparator)
	s.Field = root
	if len(path) > 0 {
		s.Path = path
	}
}

// SQLDirection renders the direction for an ORDER BY clause.
func (s Sort) SQLDirection() string {
	if s.Direction == DirectionDesc {
		return "DESC"
	}
	return "ASC"
}

func splitPath(field, sep string) (string, []string) {
	if sep == "" || !strings.Contains(field, sep) {
		return field, nil
	}
	parts := strings.Split(field, sep)
	return parts[0], parts[1:]
}
