package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ParamBuilder collects query parameters and produces dialect-specific
// placeholders.
type ParamBuilder interface {
	// Add registers a parameter and returns its placeholder.
	Add(v any) string
	// Params returns all registered parameters in placeholder order.
	Params() []any
}

// Dialect abstracts database-specific SQL generation and behavior. The
// condition builder wraps these primitives; it never concatenates values
// into SQL text itself.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// UUIDDefault returns the DDL DEFAULT clause for auto-generated UUIDs,
	// or empty string if UUIDs must be generated in application code.
	UUIDDefault() string

	// ColumnType maps a metadata field type to the database DDL type.
	ColumnType(fieldType string, precision int) string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)

	// InExpr builds a membership test. PostgreSQL: "expr = ANY($n)" with a
	// single array param. SQLite: "expr IN (?n, ...)" expanding the slice.
	InExpr(expr string, pb ParamBuilder, values []any) string

	// NotInExpr builds a negated membership test.
	NotInExpr(expr string, pb ParamBuilder, values []any) string

	// LikeExpr builds a pattern match with optional case-insensitivity and
	// negation.
	LikeExpr(expr string, pb ParamBuilder, pattern any, caseInsensitive, negate bool) string

	// SubstringExpr builds a literal substring containment test.
	SubstringExpr(expr string, pb ParamBuilder, value any, negate bool) string

	// ArrayContainsExpr tests that a sequence column contains every value.
	ArrayContainsExpr(column string, pb ParamBuilder, values []any, negate bool) string

	// ArrayOverlapExpr tests that a sequence column shares at least one
	// element with values.
	ArrayOverlapExpr(column string, pb ParamBuilder, values []any) string

	// JSONPathText builds a member access into a semi-structured column,
	// yielding the leaf as text.
	JSONPathText(column string, path []string) string

	// CastText casts an expression to text for safe-cast comparison.
	CastText(expr string) string

	// SupportsRoleSwitch reports whether the database enforces tenant
	// isolation via session roles. When false, tenant scoping falls back to
	// explicit tenant_id predicates injected by the service layer.
	SupportsRoleSwitch() bool

	// SetRoleSQL returns the statement switching the session to the given
	// role, or "" when unsupported. The role name must already be validated.
	SetRoleSQL(role string) string

	// SetTenantParamSQL returns the parameterized statement binding the
	// tenant id to the session, or "" when unsupported.
	SetTenantParamSQL() string

	// ResetRoleSQL returns the statement restoring the default role so a
	// pooled connection never leaks a stale tenant binding.
	ResetRoleSQL() string

	// SystemTablesSQL returns the DDL for system tables.
	SystemTablesSQL() string

	// EnableRLSSQL returns the statements enabling row-level security on a
	// tenant-scoped table, or nil when unsupported.
	EnableRLSSQL(table string) []string

	// MapError maps a database error to a well-known sentinel error.
	MapError(err error) error
}

// NewDialect returns the dialect for the given driver name.
func NewDialect(driver string) Dialect {
	if driver == "sqlite" {
		return &SQLiteDialect{}
	}
	return &PostgresDialect{}
}

type pgParamBuilder struct {
	params []any
}

func (p *pgParamBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", len(p.params))
}

func (p *pgParamBuilder) Params() []any { return p.params }

type sqliteParamBuilder struct {
	params []any
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", len(p.params))
}

func (p *sqliteParamBuilder) Params() []any { return p.params }

// isValidIdentifier checks that a role or table name contains only safe
// characters, since identifiers cannot be bound as parameters.
func isValidIdentifier(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}
