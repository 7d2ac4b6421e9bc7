package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"atrium-backend/internal/metadata"
	"atrium-backend/internal/query"
)

// Repository provides CRUD plus filtered/sorted/paginated listing for one
// entity type. It holds no session state of its own; every call executes on
// the session owned by the currently entered unit of work, which is what
// makes the per-session registry safe to cache.
type Repository struct {
	entity *metadata.Entity
	uow    *UnitOfWork
}

// Entity returns the schema this repository serves.
func (r *Repository) Entity() *metadata.Entity { return r.entity }

func (r *Repository) builder() *ConditionBuilder {
	var tenantID int64
	if t := r.uow.Tenant(); t != nil && t.Mode != CrossTenantQuery {
		tenantID = t.TenantID
	}
	return &ConditionBuilder{
		Entity:   r.entity,
		Registry: r.uow.registry,
		Dialect:  r.uow.dialect,
		TenantID: tenantID,
	}
}

// Add inserts a record and returns it with generated fields populated.
// Client values are accepted for writable fields only; generated keys and
// auto timestamps always come from the engine.
func (r *Repository) Add(ctx context.Context, record map[string]any) (map[string]any, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}
	if err := r.checkKnownFields(record); err != nil {
		return nil, err
	}

	dialect := r.uow.dialect
	pb := dialect.NewParamBuilder()

	writable := make(map[string]bool, len(r.entity.Fields))
	for _, f := range r.entity.WritableFields() {
		writable[f.Name] = true
	}

	var columns, values []string
	for _, f := range r.entity.Fields {
		if v, ok := record[f.Name]; ok && writable[f.Name] {
			columns = append(columns, f.Name)
			values = append(values, pb.Add(v))
			continue
		}
		switch {
		case f.Name == r.entity.PrimaryKey.Field && r.entity.PrimaryKey.Generated:
			if r.entity.PrimaryKey.Type == "uuid" && dialect.UUIDDefault() == "" {
				columns = append(columns, f.Name)
				values = append(values, pb.Add(uuid.New().String()))
			}
		case f.IsAuto():
			columns = append(columns, f.Name)
			values = append(values, dialect.NowExpr())
		case f.Default != nil:
			columns = append(columns, f.Name)
			values = append(values, pb.Add(f.Default))
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("add %s: no insertable fields", r.entity.Name)
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.entity.Table,
		strings.Join(columns, ", "),
		strings.Join(values, ", "),
		strings.Join(r.entity.FieldNames(), ", "))

	rows, err := sess.Query(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, dialect.MapError(fmt.Errorf("add %s: %w", r.entity.Name, err))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("add %s: insert returned no row", r.entity.Name)
	}
	return r.normalizeRow(rows[0]), nil
}

// GetByID fetches a single row by primary key. Returns ErrNotFound when the
// id does not resolve.
func (r *Repository) GetByID(ctx context.Context, id any) (map[string]any, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}

	pb := r.uow.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(r.entity.FieldNames(), ", "),
		r.entity.Table,
		r.entity.PrimaryKey.Field,
		pb.Add(id))

	rows, err := sess.Query(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.entity.Name, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.normalizeRow(rows[0]), nil
}

// List returns all rows matching the filters, in sort order.
func (r *Repository) List(ctx context.Context, filters []query.Filter, sorts []query.Sort, combine query.CombineLogic) ([]map[string]any, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}

	sqlStr, _, params, err := r.buildListSQL(filters, sorts, combine)
	if err != nil {
		return nil, err
	}
	rows, err := sess.Query(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.entity.Name, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	for i, row := range rows {
		rows[i] = r.normalizeRow(row)
	}
	return rows, nil
}

// ListPaginated delegates one page of the filtered listing to the unit of
// work's pagination capability.
func (r *Repository) ListPaginated(ctx context.Context, filters []query.Filter, sorts []query.Sort, combine query.CombineLogic, params PageParams) (*Page, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}

	selectSQL, countSQL, args, err := r.buildListSQL(filters, sorts, combine)
	if err != nil {
		return nil, err
	}
	page, err := r.uow.paginator.Paginate(ctx, sess, PagedQuery{
		SelectSQL: selectSQL,
		CountSQL:  countSQL,
		Args:      args,
		CountArgs: args,
	}, params)
	if err != nil {
		return nil, err
	}
	for i, row := range page.Items {
		page.Items[i] = r.normalizeRow(row)
	}
	return page, nil
}

// Count wraps the same filtered query in a count projection rather than
// re-implementing filter logic.
func (r *Repository) Count(ctx context.Context, filters []query.Filter, combine query.CombineLogic) (int64, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return 0, err
	}

	pb := r.uow.dialect.NewParamBuilder()
	where, err := r.builder().Build(filters, combine, pb)
	if err != nil {
		return 0, err
	}
	sqlStr := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", r.entity.Table)
	if where != "" {
		sqlStr += " WHERE " + where
	}

	rows, err := sess.Query(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.entity.Name, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if n, ok := rows[0]["count"].(int64); ok {
		return n, nil
	}
	return 0, nil
}

// UpdateByID applies only the supplied fields to an existing row. Fails with
// ErrNotFound when the id does not resolve and ErrUnknownField when a key
// does not exist on the entity, so typos never silently no-op.
func (r *Repository) UpdateByID(ctx context.Context, id any, changes map[string]any) (map[string]any, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}
	if err := r.checkKnownFields(changes); err != nil {
		return nil, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	dialect := r.uow.dialect
	pb := dialect.NewParamBuilder()

	var sets []string
	for _, f := range r.entity.UpdatableFields() {
		if v, ok := changes[f.Name]; ok {
			sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(v)))
		}
	}
	for _, f := range r.entity.Fields {
		if f.Auto == "update" {
			sets = append(sets, fmt.Sprintf("%s = %s", f.Name, dialect.NowExpr()))
		}
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		r.entity.Table,
		strings.Join(sets, ", "),
		r.entity.PrimaryKey.Field,
		pb.Add(id),
		strings.Join(r.entity.FieldNames(), ", "))

	rows, err := sess.Query(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, dialect.MapError(fmt.Errorf("update %s: %w", r.entity.Name, err))
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.normalizeRow(rows[0]), nil
}

// Delete fetches then deletes, returning the deleted row or nil if absent.
func (r *Repository) Delete(ctx context.Context, id any) (map[string]any, error) {
	sess, err := r.uow.Session()
	if err != nil {
		return nil, err
	}

	row, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	pb := r.uow.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		r.entity.Table, r.entity.PrimaryKey.Field, pb.Add(id))
	if _, err := sess.Exec(ctx, sqlStr, pb.Params()...); err != nil {
		return nil, fmt.Errorf("delete %s: %w", r.entity.Name, err)
	}
	return row, nil
}

// buildListSQL builds the filtered, sorted select plus its count projection
// off one shared parameter list.
func (r *Repository) buildListSQL(filters []query.Filter, sorts []query.Sort, combine query.CombineLogic) (string, string, []any, error) {
	pb := r.uow.dialect.NewParamBuilder()
	builder := r.builder()

	where, err := builder.Build(filters, combine, pb)
	if err != nil {
		return "", "", nil, err
	}
	orderBy, err := builder.OrderBy(sorts)
	if err != nil {
		return "", "", nil, err
	}
	if orderBy == "" {
		// Deterministic order even without explicit sorts.
		orderBy = r.entity.PrimaryKey.Field + " ASC"
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(r.entity.FieldNames(), ", "), r.entity.Table)
	countSQL := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", r.entity.Table)
	if where != "" {
		selectSQL += " WHERE " + where
		countSQL += " WHERE " + where
	}
	selectSQL += " ORDER BY " + orderBy

	return selectSQL, countSQL, pb.Params(), nil
}

// normalizeRow parses text timestamps for fields the entity declares as
// temporal. Scanning cannot do this: SQLite returns TEXT for every column,
// and only the schema says which ones carry time.
func (r *Repository) normalizeRow(row map[string]any) map[string]any {
	for _, f := range r.entity.Fields {
		if f.Type != "timestamp" && f.Type != "date" {
			continue
		}
		if s, ok := row[f.Name].(string); ok {
			if t, ok := parseDBTime(s); ok {
				row[f.Name] = t
			}
		}
	}
	return row
}

// checkKnownFields rejects payload keys that do not exist on the entity.
func (r *Repository) checkKnownFields(payload map[string]any) error {
	for key := range payload {
		if !r.entity.HasField(key) {
			return fmt.Errorf("%w: %s on %s", ErrUnknownField, key, r.entity.Name)
		}
	}
	return nil
}
