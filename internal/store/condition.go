package store

import (
	"fmt"
	"sort"
	"strings"

	"atrium-backend/internal/metadata"
	"atrium-backend/internal/query"
)

// ConditionBuilder translates typed Filter/Sort values into parameterized
// SQL predicates against one entity's attribute registry. It holds no
// session state and is rebuilt per query.
type ConditionBuilder struct {
	Entity   *metadata.Entity
	Registry *metadata.Registry
	Dialect  Dialect
	TenantID int64 // scopes junction sub-queries; 0 means unscoped (cross-tenant)
}

// Build turns the filters into one WHERE predicate (without the WHERE
// keyword), registering parameters on pb. Returns "" for no filters.
//
// AND applies filters sequentially, each narrowing the predicate. OR builds
// every filter's condition independently first and joins them in a single
// disjunction; OR filters are never applied sequentially, because each
// sequentially applied clause would narrow rather than widen the result.
//
// When the database cannot enforce tenant isolation itself, a tenant guard
// is AND-ed around the whole predicate. It never participates in the
// caller's combine logic, so an OR query cannot widen past the tenant.
func (b *ConditionBuilder) Build(filters []query.Filter, combine query.CombineLogic, pb ParamBuilder) (string, error) {
	var guard string
	if b.needsTenantGuard() {
		guard = fmt.Sprintf("tenant_id = %s", pb.Add(b.TenantID))
	}

	if len(filters) == 0 {
		return guard, nil
	}

	predicate, err := b.combine(filters, combine, pb)
	if err != nil {
		return "", err
	}
	if guard == "" {
		return predicate, nil
	}
	return guard + " AND " + predicate, nil
}

func (b *ConditionBuilder) combine(filters []query.Filter, combine query.CombineLogic, pb ParamBuilder) (string, error) {
	if combine == query.CombineOr {
		conditions := make([]string, 0, len(filters))
		for _, f := range filters {
			cond, err := b.buildCondition(f, pb)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, cond)
		}
		if len(conditions) == 1 {
			return conditions[0], nil
		}
		return "(" + strings.Join(conditions, " OR ") + ")", nil
	}

	var predicate string
	for _, f := range filters {
		cond, err := b.buildCondition(f, pb)
		if err != nil {
			return "", err
		}
		if predicate == "" {
			predicate = cond
		} else {
			predicate += " AND " + cond
		}
	}
	return predicate, nil
}

// needsTenantGuard reports whether the builder must scope the predicate
// itself. Postgres sessions are scoped by role switch plus row-level
// security; SQLite has neither.
func (b *ConditionBuilder) needsTenantGuard() bool {
	return b.TenantID != 0 &&
		b.Entity.TenantScoped &&
		!b.Dialect.SupportsRoleSwitch() &&
		b.Entity.HasField("tenant_id")
}

// OrderBy renders the ORDER BY terms (without the keyword). A sort with no
// direction still produces a deterministic ascending term.
func (b *ConditionBuilder) OrderBy(sorts []query.Sort) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	terms := make([]string, 0, len(sorts))
	for _, s := range sorts {
		field := b.Entity.GetField(s.Field)
		if field == nil {
			return "", fmt.Errorf("%w: sort field %s on %s", ErrUnknownField, s.Field, b.Entity.Name)
		}
		expr := s.Field
		if len(s.Path) > 0 {
			expr = b.Dialect.JSONPathText(s.Field, s.Path)
		}
		if len(s.CustomOrder) > 0 {
			expr = customOrderExpr(expr, s.CustomOrder)
		}
		terms = append(terms, expr+" "+s.SQLDirection())
	}
	return strings.Join(terms, ", "), nil
}

func (b *ConditionBuilder) buildCondition(f query.Filter, pb ParamBuilder) (string, error) {
	field := b.Entity.GetField(f.Field)
	if field == nil {
		// Not a direct attribute: it may be a collection-membership virtual
		// field backed by a junction relation.
		if rel := b.Registry.FindRelationForSource(b.Entity.Name, f.Field); rel != nil {
			return b.buildMembership(f, rel, pb)
		}
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownField, f.Field, b.Entity.Name)
	}

	expr := f.Field
	fieldType := f.FieldType
	if f.IsPath() {
		// Path leaves are always compared as text, whatever the declared
		// type. JSON members are untyped at the storage layer; numeric leaf
		// comparison is deliberately not attempted.
		expr = b.Dialect.JSONPathText(f.Field, f.Path)
		fieldType = query.TypeString
	}

	return b.buildOperatorCondition(expr, f, fieldType, pb)
}

func (b *ConditionBuilder) buildOperatorCondition(expr string, f query.Filter, fieldType query.SemanticType, pb ParamBuilder) (string, error) {
	switch f.Op {
	case query.OpEq:
		return fmt.Sprintf("%s = %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil
	case query.OpNeq:
		return fmt.Sprintf("%s != %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil
	case query.OpLt:
		return fmt.Sprintf("%s < %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil
	case query.OpLte:
		return fmt.Sprintf("%s <= %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil
	case query.OpGt:
		return fmt.Sprintf("%s > %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil
	case query.OpGte:
		return fmt.Sprintf("%s >= %s", expr, pb.Add(b.scalarOperand(f, fieldType))), nil

	case query.OpIn, query.OpNotIn:
		values := asList(f.Value)
		expr, values = b.listComparison(expr, values, fieldType)
		if f.Op == query.OpIn {
			return b.Dialect.InExpr(expr, pb, values), nil
		}
		return b.Dialect.NotInExpr(expr, pb, values), nil

	case query.OpLike, query.OpNotLike:
		return b.Dialect.LikeExpr(expr, pb, f.Value, false, f.Op == query.OpNotLike), nil
	case query.OpILike, query.OpNotILike:
		return b.Dialect.LikeExpr(expr, pb, f.Value, true, f.Op == query.OpNotILike), nil

	case query.OpContains, query.OpNotContains:
		negate := f.Op == query.OpNotContains
		values := asList(f.Value)
		if fieldType == query.TypeSequence {
			return b.Dialect.ArrayContainsExpr(expr, pb, stringifyAll(values), negate), nil
		}
		// Scalar/text attributes: substring containment of every element.
		conds := make([]string, len(values))
		for i, v := range values {
			conds[i] = b.Dialect.SubstringExpr(expr, pb, stringify(v), negate)
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return "(" + strings.Join(conds, " AND ") + ")", nil

	case query.OpContainsOneOf:
		values, ok := f.Value.([]any)
		if !ok {
			return "", query.InvalidFilterValue(f.Field, f.Value, query.TypeSequence)
		}
		if fieldType == query.TypeSequence {
			return b.Dialect.ArrayOverlapExpr(expr, pb, stringifyAll(values)), nil
		}
		// Scalar attributes degenerate to membership.
		cmp, vals := b.listComparison(expr, values, fieldType)
		return b.Dialect.InExpr(cmp, pb, vals), nil

	case query.OpIsNull:
		return expr + " IS NULL", nil
	case query.OpIsNotNull:
		return expr + " IS NOT NULL", nil
	}

	return "", fmt.Errorf("unsupported operator %s", f.Op)
}

// buildMembership translates a collection-membership virtual field into a
// tenant-scoped sub-query over the junction table, combined into the outer
// predicate by the caller's AND/OR rule.
func (b *ConditionBuilder) buildMembership(f query.Filter, rel *metadata.Relation, pb ParamBuilder) (string, error) {
	inner, err := b.buildOperatorCondition(rel.TargetKey, f, f.FieldType, pb)
	if err != nil {
		return "", err
	}
	if b.TenantID != 0 {
		inner = fmt.Sprintf("tenant_id = %s AND %s", pb.Add(b.TenantID), inner)
	}
	return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s)",
		b.Entity.PrimaryKey.Field, rel.SourceKey, rel.Junction, inner), nil
}

// scalarOperand unwraps a one-element list; path filters compare as text.
func (b *ConditionBuilder) scalarOperand(f query.Filter, fieldType query.SemanticType) any {
	v := f.Value
	if list, ok := v.([]any); ok && len(list) == 1 {
		v = list[0]
	}
	if f.IsPath() || fieldType == query.TypeString {
		if _, ok := v.(string); !ok {
			return stringify(v)
		}
	}
	return v
}

// listComparison is the safe-cast fallback: when a list operand holds mixed
// runtime types, both sides are compared as text so heterogeneous client
// input can never raise a database-level type error. At worst it produces
// an empty result set.
func (b *ConditionBuilder) listComparison(expr string, values []any, fieldType query.SemanticType) (string, []any) {
	if fieldType == query.TypeString || !homogeneous(values) {
		return b.safeCastCompare(expr, values)
	}
	return expr, values
}

// safeCastCompare casts the column to text and stringifies every operand.
func (b *ConditionBuilder) safeCastCompare(expr string, values []any) (string, []any) {
	needsCast := false
	for _, v := range values {
		if _, ok := v.(string); !ok {
			needsCast = true
			break
		}
	}
	if !needsCast {
		return expr, values
	}
	return b.Dialect.CastText(expr), stringifyAll(values)
}

func homogeneous(values []any) bool {
	if len(values) < 2 {
		return true
	}
	first := fmt.Sprintf("%T", values[0])
	for _, v := range values[1:] {
		if fmt.Sprintf("%T", v) != first {
			return false
		}
	}
	return true
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func stringifyAll(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = stringify(v)
	}
	return out
}

// customOrderExpr ranks explicit values ahead of everything else:
// CASE expr WHEN 'v' THEN n ... ELSE max END.
func customOrderExpr(expr string, order map[string]int) string {
	values := make([]string, 0, len(order))
	for value := range order {
		values = append(values, value)
	}
	sort.Strings(values)

	max := 0
	var sb strings.Builder
	sb.WriteString("CASE " + expr)
	for _, value := range values {
		rank := order[value]
		fmt.Fprintf(&sb, " WHEN '%s' THEN %d", strings.ReplaceAll(value, "'", "''"), rank)
		if rank > max {
			max = rank
		}
	}
	fmt.Fprintf(&sb, " ELSE %d END", max+1)
	return sb.String()
}
