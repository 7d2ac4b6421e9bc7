package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"atrium-backend/internal/metadata"
)

// Bootstrap creates the system tables, migrates every registered entity and
// junction table, and enables row-level security on tenant-scoped tables
// where the database supports it.
func (s *Store) Bootstrap(ctx context.Context, reg *metadata.Registry) error {
	for _, stmt := range splitStatements(s.Dialect.SystemTablesSQL()) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}

	for _, entity := range reg.AllEntities() {
		if err := s.migrateEntity(ctx, entity); err != nil {
			return err
		}
		if entity.TenantScoped {
			if err := s.enableRLS(ctx, entity.Table); err != nil {
				return err
			}
		}
	}

	for _, rel := range reg.AllRelations() {
		if err := s.migrateJunction(ctx, reg, rel); err != nil {
			return err
		}
	}

	if err := s.seedDefaults(ctx); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}
	return nil
}

// migrateEntity creates the table if missing, or adds missing columns.
func (s *Store) migrateEntity(ctx context.Context, entity *metadata.Entity) error {
	exists, err := s.Dialect.TableExists(ctx, s.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table %s: %w", entity.Table, err)
	}
	if !exists {
		return s.createTable(ctx, entity)
	}
	return s.alterTable(ctx, entity)
}

func (s *Store) createTable(ctx context.Context, entity *metadata.Entity) error {
	cols := make([]string, 0, len(entity.Fields))
	for i := range entity.Fields {
		cols = append(cols, s.buildColumnDef(entity, &entity.Fields[i]))
	}

	sqlStr := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))
	if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}
	return s.createIndexes(ctx, entity)
}

func (s *Store) alterTable(ctx context.Context, entity *metadata.Entity) error {
	for _, f := range entity.Fields {
		colType := s.Dialect.ColumnType(f.Type, f.Precision)
		// ADD COLUMN is idempotent enough for startup: an existing column
		// fails the statement and is skipped.
		sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", entity.Table, f.Name, colType)
		if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
	}
	return s.createIndexes(ctx, entity)
}

func (s *Store) buildColumnDef(entity *metadata.Entity, f *metadata.Field) string {
	col := f.Name + " " + s.Dialect.ColumnType(f.Type, f.Precision)

	if f.Name == entity.PrimaryKey.Field {
		col += " PRIMARY KEY"
		if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" {
			if def := s.Dialect.UUIDDefault(); def != "" {
				col += " " + def
			}
		}
		return col
	}

	if f.Required && !f.Nullable {
		col += " NOT NULL"
	}
	if f.Default != nil {
		switch v := f.Default.(type) {
		case string:
			col += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(v, "'", "''"))
		case float64:
			col += fmt.Sprintf(" DEFAULT %v", v)
		case bool:
			col += fmt.Sprintf(" DEFAULT %t", v)
		default:
			col += fmt.Sprintf(" DEFAULT '%v'", v)
		}
	}
	return col
}

func (s *Store) createIndexes(ctx context.Context, entity *metadata.Entity) error {
	for _, f := range entity.Fields {
		if !f.Unique {
			continue
		}
		sqlStr := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			entity.Table, f.Name, entity.Table, f.Name)
		if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", entity.Table, f.Name, err)
		}
	}
	if entity.TenantScoped && entity.HasField("tenant_id") {
		sqlStr := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tenant ON %s (tenant_id)",
			entity.Table, entity.Table)
		if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("create tenant index on %s: %w", entity.Table, err)
		}
	}
	return nil
}

// migrateJunction creates the junction table behind a membership relation.
// It always carries a tenant_id column so membership sub-queries stay
// tenant-scoped.
func (s *Store) migrateJunction(ctx context.Context, reg *metadata.Registry, rel *metadata.Relation) error {
	exists, err := s.Dialect.TableExists(ctx, s.DB, rel.Junction)
	if err != nil {
		return fmt.Errorf("check junction %s: %w", rel.Junction, err)
	}
	if exists {
		return nil
	}

	source := reg.GetEntity(rel.Source)
	target := reg.GetEntity(rel.Target)
	if source == nil || target == nil {
		return fmt.Errorf("junction %s: unknown source or target entity", rel.Junction)
	}

	sourceType := s.Dialect.ColumnType(source.PrimaryKey.Type, 0)
	targetType := s.Dialect.ColumnType(target.PrimaryKey.Type, 0)

	sqlStr := fmt.Sprintf(
		`CREATE TABLE %s (
  tenant_id %s NOT NULL,
  %s %s NOT NULL,
  %s %s NOT NULL,
  PRIMARY KEY (%s, %s)
)`,
		rel.Junction,
		s.Dialect.ColumnType("bigint", 0),
		rel.SourceKey, sourceType,
		rel.TargetKey, targetType,
		rel.SourceKey, rel.TargetKey,
	)
	if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create junction %s: %w", rel.Junction, err)
	}

	if s.Dialect.SupportsRoleSwitch() {
		return s.enableRLS(ctx, rel.Junction)
	}
	return nil
}

func (s *Store) enableRLS(ctx context.Context, table string) error {
	for _, stmt := range s.Dialect.EnableRLSSQL(table) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("enable row security on %s: %w", table, err)
		}
	}
	return nil
}

// seedDefaults creates the default tenant and admin user on first start.
func (s *Store) seedDefaults(ctx context.Context) error {
	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS count FROM _tenants")
	if err != nil {
		return err
	}
	if n, ok := row["count"].(int64); ok && n > 0 {
		return nil
	}

	pb := s.Dialect.NewParamBuilder()
	insertTenant := fmt.Sprintf("INSERT INTO _tenants (name) VALUES (%s)", pb.Add("default"))
	if _, err := s.DB.ExecContext(ctx, insertTenant, pb.Params()...); err != nil {
		return err
	}

	tenantRow, err := QueryRow(ctx, s.DB, "SELECT id FROM _tenants WHERE name = "+s.Dialect.Placeholder(1), "default")
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var roles any = []string{"admin"}
	if s.Dialect.Name() == "sqlite" {
		roles = `["admin"]`
	}

	pb = s.Dialect.NewParamBuilder()
	insertUser := fmt.Sprintf(
		"INSERT INTO _users (id, tenant_id, email, password_hash, roles) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(uuid.New().String()), pb.Add(tenantRow["id"]), pb.Add("admin@localhost"),
		pb.Add(string(hash)), pb.Add(roles))
	if _, err := s.DB.ExecContext(ctx, insertUser, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin@localhost / changeme) - change the password immediately.")
	return nil
}

// splitStatements breaks multi-statement DDL into single statements, since
// the extended query protocol rejects batches.
func splitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}

func isDuplicateColumn(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
