package query

import "strings"

// Operator is the closed set of filter operators understood by the grammar
// and the condition builder.
type Operator string

const (
	OpEq             Operator = "eq"
	OpNeq            Operator = "neq"
	OpLt             Operator = "lt"
	OpLte            Operator = "lte"
	OpGt             Operator = "gt"
	OpGte            Operator = "gte"
	OpIn             Operator = "in"
	OpNotIn          Operator = "notIn"
	OpLike           Operator = "like"
	OpNotLike        Operator = "notLike"
	OpILike          Operator = "ilike"
	OpNotILike       Operator = "notIlike"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpContainsOneOf  Operator = "containsOneOf"
	OpIsNull         Operator = "isNull"
	OpIsNotNull      Operator = "isNotNull"
)

var allOperators = []Operator{
	OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte,
	OpIn, OpNotIn,
	OpLike, OpNotLike, OpILike, OpNotILike,
	OpContains, OpNotContains, OpContainsOneOf,
	OpIsNull, OpIsNotNull,
}

// listOperators accept a list-valued operand. This is a fixed property of
// the operator, never inferred from the value at runtime.
var listOperators = map[Operator]bool{
	OpIn:            true,
	OpNotIn:         true,
	OpContains:      true,
	OpNotContains:   true,
	OpContainsOneOf: true,
}

// AcceptsList reports whether the operator takes a list-valued operand.
func (o Operator) AcceptsList() bool {
	return listOperators[o]
}

// IsNullCheck reports whether the operator takes no operand at all.
func (o Operator) IsNullCheck() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// ParseOperator resolves a raw token into an Operator, case-insensitively.
func ParseOperator(raw string) (Operator, bool) {
	for _, op := range allOperators {
		if strings.EqualFold(raw, string(op)) {
			return op, true
		}
	}
	return "", false
}

// CombineLogic selects how multiple filters are combined into one predicate.
type CombineLogic string

const (
	CombineAnd CombineLogic = "and"
	CombineOr  CombineLogic = "or"
)

// DefaultOperators returns the operators a semantic type supports when a
// policy does not narrow them further. The policy allow-list is always
// authoritative; these defaults are consulted for applicability checks only.
func DefaultOperators(t SemanticType) []Operator {
	equality := []Operator{OpEq, OpNeq, OpIn, OpNotIn, OpIsNull, OpIsNotNull}
	ordering := []Operator{OpLt, OpLte, OpGt, OpGte}
	pattern := []Operator{OpLike, OpNotLike, OpILike, OpNotILike, OpContains, OpNotContains}

	switch t {
	case TypeBool:
		return equality
	case TypeInt, TypeFloat, TypeDateTime:
		return append(append([]Operator{}, equality...), ordering...)
	case TypeSequence:
		return append(append([]Operator{}, equality...), OpContains, OpNotContains, OpContainsOneOf)
	case TypeString, TypeMapping:
		return append(append(append([]Operator{}, equality...), ordering...), pattern...)
	default:
		return equality
	}
}
