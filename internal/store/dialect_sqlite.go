package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite. SQLite
// has no session roles, so tenant isolation in this mode relies on the
// explicit tenant_id predicates the service layer injects. Intended for
// development and tests, not multi-tenant production.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string     { return "datetime('now')" }
func (d *SQLiteDialect) UUIDDefault() string { return "" }

func (d *SQLiteDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "int", "integer", "bigint", "boolean":
		return "INTEGER"
	case "float", "decimal":
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) InExpr(expr string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) NotInExpr(expr string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=1" // always true
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", expr, strings.Join(phs, ", "))
}

// LikeExpr: SQLite LIKE is case-insensitive for ASCII by default, so the
// case-sensitive and insensitive variants collapse here.
func (d *SQLiteDialect) LikeExpr(expr string, pb ParamBuilder, pattern any, caseInsensitive, negate bool) string {
	op := "LIKE"
	if negate {
		op = "NOT LIKE"
	}
	return fmt.Sprintf("%s %s %s", expr, op, pb.Add(pattern))
}

func (d *SQLiteDialect) SubstringExpr(expr string, pb ParamBuilder, value any, negate bool) string {
	cmp := ">"
	if negate {
		cmp = "="
	}
	return fmt.Sprintf("instr(%s, %s) %s 0", expr, pb.Add(value), cmp)
}

// ArrayContainsExpr: sequence columns are stored as JSON arrays in SQLite;
// containment is checked per element through json_each.
func (d *SQLiteDialect) ArrayContainsExpr(column string, pb ParamBuilder, values []any, negate bool) string {
	conds := make([]string, len(values))
	for i, v := range values {
		conds[i] = fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)",
			column, pb.Add(v))
	}
	cond := strings.Join(conds, " AND ")
	if len(conds) > 1 {
		cond = "(" + cond + ")"
	}
	if negate {
		return "NOT " + cond
	}
	return cond
}

func (d *SQLiteDialect) ArrayOverlapExpr(column string, pb ParamBuilder, values []any) string {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))",
		column, strings.Join(phs, ", "))
}

// JSONPathText uses json_extract, which yields text for string leaves:
// json_extract(attributes, '$.meta.author').
func (d *SQLiteDialect) JSONPathText(column string, path []string) string {
	if len(path) == 0 {
		return column
	}
	escaped := make([]string, len(path))
	for i, seg := range path {
		escaped[i] = escapeJSONKey(seg)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, strings.Join(escaped, "."))
}

func (d *SQLiteDialect) CastText(expr string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}

func (d *SQLiteDialect) SupportsRoleSwitch() bool  { return false }
func (d *SQLiteDialect) SetRoleSQL(string) string  { return "" }
func (d *SQLiteDialect) SetTenantParamSQL() string { return "" }
func (d *SQLiteDialect) ResetRoleSQL() string      { return "" }

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) EnableRLSSQL(string) []string { return nil }

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "2067") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _tenants (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    tenant_id     INTEGER NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT DEFAULT '[]',
    active        INTEGER DEFAULT 1,
    created_at    TEXT DEFAULT (datetime('now')),
    updated_at    TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_users_tenant ON _users(tenant_id);

CREATE TABLE IF NOT EXISTS _audit_events (
    id          TEXT PRIMARY KEY,
    tenant_id   INTEGER NOT NULL,
    entity      TEXT NOT NULL,
    action      TEXT NOT NULL,
    record_id   TEXT,
    actor       TEXT,
    metadata    TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_created ON _audit_events (tenant_id, created_at DESC);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
