package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string     { return "NOW()" }
func (d *PostgresDialect) UUIDDefault() string { return "DEFAULT gen_random_uuid()" }

func (d *PostgresDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "string", "text":
		return "TEXT"
	case "int", "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "decimal":
		if precision > 0 {
			return fmt.Sprintf("NUMERIC(18,%d)", precision)
		}
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "uuid":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "date":
		return "DATE"
	case "json":
		return "JSONB"
	case "array":
		return "TEXT[]"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) InExpr(expr string, pb ParamBuilder, values []any) string {
	ph := pb.Add(values)
	return fmt.Sprintf("%s = ANY(%s)", expr, ph)
}

func (d *PostgresDialect) NotInExpr(expr string, pb ParamBuilder, values []any) string {
	ph := pb.Add(values)
	return fmt.Sprintf("%s != ALL(%s)", expr, ph)
}

func (d *PostgresDialect) LikeExpr(expr string, pb ParamBuilder, pattern any, caseInsensitive, negate bool) string {
	op := "LIKE"
	if caseInsensitive {
		op = "ILIKE"
	}
	if negate {
		op = "NOT " + op
	}
	return fmt.Sprintf("%s %s %s", expr, op, pb.Add(pattern))
}

func (d *PostgresDialect) SubstringExpr(expr string, pb ParamBuilder, value any, negate bool) string {
	cmp := ">"
	if negate {
		cmp = "="
	}
	return fmt.Sprintf("strpos(%s, %s) %s 0", expr, pb.Add(value), cmp)
}

func (d *PostgresDialect) ArrayContainsExpr(column string, pb ParamBuilder, values []any, negate bool) string {
	cond := fmt.Sprintf("%s @> %s", column, pb.Add(values))
	if negate {
		return "NOT (" + cond + ")"
	}
	return cond
}

func (d *PostgresDialect) ArrayOverlapExpr(column string, pb ParamBuilder, values []any) string {
	return fmt.Sprintf("%s && %s", column, pb.Add(values))
}

// JSONPathText descends through JSONB members, yielding the leaf as text:
// attributes->'meta'->>'author'.
func (d *PostgresDialect) JSONPathText(column string, path []string) string {
	if len(path) == 0 {
		return column
	}
	expr := column
	for _, seg := range path[:len(path)-1] {
		expr += fmt.Sprintf("->'%s'", escapeJSONKey(seg))
	}
	return expr + fmt.Sprintf("->>'%s'", escapeJSONKey(path[len(path)-1]))
}

func (d *PostgresDialect) CastText(expr string) string {
	return fmt.Sprintf("(%s)::text", expr)
}

func (d *PostgresDialect) SupportsRoleSwitch() bool { return true }

// SetRoleSQL is transaction-local so the binding dies with the transaction
// even if the reset never runs.
func (d *PostgresDialect) SetRoleSQL(role string) string {
	return "SET LOCAL ROLE " + role
}

func (d *PostgresDialect) SetTenantParamSQL() string {
	return "SELECT set_config('app.current_tenant', $1, true)"
}

func (d *PostgresDialect) ResetRoleSQL() string {
	return "RESET ROLE"
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

// EnableRLSSQL turns on row-level security with a policy keyed to the
// session tenant parameter. RLS is the last line of defense behind the role
// switch.
func (d *PostgresDialect) EnableRLSSQL(table string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf(
			`DO $$ BEGIN
    CREATE POLICY %s_tenant_isolation ON %s
        USING (tenant_id = current_setting('app.current_tenant')::bigint);
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`, table, table),
	}
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// escapeJSONKey doubles single quotes inside a JSON member key so it can be
// embedded as a SQL string literal.
func escapeJSONKey(key string) string {
	return strings.ReplaceAll(key, "'", "''")
}

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _tenants (
    id          BIGINT PRIMARY KEY GENERATED BY DEFAULT AS IDENTITY,
    name        TEXT NOT NULL UNIQUE,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _users (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    tenant_id     BIGINT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT[] DEFAULT '{}',
    active        BOOLEAN DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    updated_at    TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_tenant ON _users(tenant_id);

CREATE TABLE IF NOT EXISTS _audit_events (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    tenant_id   BIGINT NOT NULL,
    entity      TEXT NOT NULL,
    action      TEXT NOT NULL,
    record_id   TEXT,
    actor       TEXT,
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_created ON _audit_events (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON _audit_events (entity, created_at DESC);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
