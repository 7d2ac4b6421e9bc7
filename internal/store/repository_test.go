package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"atrium-backend/internal/query"
)

// enterUoW opens a unit of work over a fake session and returns the document
// repository.
func enterUoW(t *testing.T, sess *fakeSession, dialect Dialect, tenantID int64) *Repository {
	t.Helper()
	ctx := context.Background()
	u := newTestUoW(sess, dialect)
	if tenantID != 0 {
		if err := u.BindTenant(ctx, tenantID, ReadWrite); err != nil {
			t.Fatalf("BindTenant: %v", err)
		}
	}
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	t.Cleanup(func() { u.Exit(ctx, nil) })

	repo, err := u.Repository("document")
	if err != nil {
		t.Fatalf("Repository: %v", err)
	}
	return repo
}

func TestRepository_ListSQL(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "a", "name": "alpha"}},
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	f, err := query.NewFilter("name", query.OpEq, "alpha", query.TypeString)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	rows, err := repo.List(context.Background(), []query.Filter{f}, nil, query.CombineAnd)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}

	got := sess.queries[0].sql
	want := "SELECT id, tenant_id, name, qty, tags, attributes, created_at FROM documents WHERE name = $1 ORDER BY id ASC"
	if got != want {
		t.Errorf("sql = %q, want %q", got, want)
	}
	if len(sess.queries[0].args) != 1 || sess.queries[0].args[0] != "alpha" {
		t.Errorf("args = %v", sess.queries[0].args)
	}
}

func TestRepository_ListEmptyResultIsNotNil(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	rows, err := repo.List(context.Background(), nil, nil, query.CombineAnd)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if rows == nil {
		t.Fatal("rows = nil, want empty slice")
	}
}

func TestRepository_ListExplicitSortReplacesDefault(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	_, err := repo.List(context.Background(), nil,
		[]query.Sort{query.NewSort("name", query.DirectionDesc)}, query.CombineAnd)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !strings.HasSuffix(sess.queries[0].sql, "ORDER BY name DESC") {
		t.Errorf("sql = %q", sess.queries[0].sql)
	}
}

func TestRepository_GetByIDNotFound(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRepository_AddBuildsInsert(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "generated", "name": "alpha", "tenant_id": int64(1)}},
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 1)

	row, err := repo.Add(context.Background(), map[string]any{
		"tenant_id": int64(1),
		"name":      "alpha",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if row["id"] != "generated" {
		t.Errorf("row = %v", row)
	}

	got := sess.queries[0].sql
	if !strings.HasPrefix(got, "INSERT INTO documents (tenant_id, name, created_at) VALUES ($1, $2, NOW())") {
		t.Errorf("sql = %q", got)
	}
	if !strings.Contains(got, "RETURNING id, tenant_id, name, qty, tags, attributes, created_at") {
		t.Errorf("sql = %q, missing RETURNING clause", got)
	}
}

func TestRepository_AddSQLiteGeneratesUUID(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "some-uuid"}},
	}}
	repo := enterUoW(t, sess, &SQLiteDialect{}, 1)

	if _, err := repo.Add(context.Background(), map[string]any{"name": "alpha"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := sess.queries[0].sql
	if !strings.Contains(got, "(id, name, created_at)") {
		t.Errorf("sql = %q, id should be generated client-side on sqlite", got)
	}
	if id, ok := sess.queries[0].args[0].(string); !ok || len(id) != 36 {
		t.Errorf("first arg = %v, want a uuid string", sess.queries[0].args[0])
	}
}

func TestRepository_AddIgnoresNonWritableFields(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "some-uuid", "name": "alpha"}},
	}}
	repo := enterUoW(t, sess, &SQLiteDialect{}, 1)

	// Client-supplied values for the generated key and the auto timestamp
	// must be replaced by engine values.
	_, err := repo.Add(context.Background(), map[string]any{
		"id":         "client-id",
		"name":       "alpha",
		"created_at": "1999-01-01 00:00:00",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := sess.queries[0]
	if !strings.Contains(got.sql, "created_at) VALUES") || !strings.Contains(got.sql, "datetime('now')") {
		t.Errorf("sql = %q, created_at must come from the engine", got.sql)
	}
	for _, arg := range got.args {
		if arg == "client-id" || arg == "1999-01-01 00:00:00" {
			t.Errorf("args = %v, non-writable payload value leaked into insert", got.args)
		}
	}
	if id, ok := got.args[0].(string); !ok || len(id) != 36 {
		t.Errorf("first arg = %v, want a generated uuid", got.args[0])
	}
}

func TestRepository_TimestampFieldsParsed(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "a", "name": "2006-01-02 15:04:05", "created_at": "2024-05-01 10:00:00"}},
	}}
	repo := enterUoW(t, sess, &SQLiteDialect{}, 0)

	row, err := repo.GetByID(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	ts, ok := row["created_at"].(time.Time)
	if !ok {
		t.Fatalf("created_at = %T(%v), want time.Time", row["created_at"], row["created_at"])
	}
	if ts.Year() != 2024 || ts.Month() != time.May {
		t.Errorf("created_at = %v", ts)
	}
	// A text column whose content looks like a date stays a string.
	if _, ok := row["name"].(string); !ok {
		t.Errorf("name = %T(%v), want string", row["name"], row["name"])
	}
}

func TestRepository_AddUnknownField(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	_, err := repo.Add(context.Background(), map[string]any{"bogus": 1})
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
	if len(sess.queries) != 0 {
		t.Error("no statement should run for an unknown field")
	}
}

func TestRepository_UpdateByID(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "a", "name": "old"}},           // existence check
		{{"id": "a", "name": "new", "qty": 2}}, // returning row
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	row, err := repo.UpdateByID(context.Background(), "a", map[string]any{"name": "new"})
	if err != nil {
		t.Fatalf("UpdateByID: %v", err)
	}
	if row["name"] != "new" {
		t.Errorf("row = %v", row)
	}

	got := sess.queries[1].sql
	if !strings.HasPrefix(got, "UPDATE documents SET name = $1") {
		t.Errorf("sql = %q", got)
	}
	if strings.Contains(got, "tenant_id =") {
		t.Errorf("sql = %q, tenant column must never be updatable", got)
	}
}

func TestRepository_UpdateByIDNotFound(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	if _, err := repo.UpdateByID(context.Background(), "missing", map[string]any{"name": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRepository_UpdateByIDUnknownField(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	_, err := repo.UpdateByID(context.Background(), "a", map[string]any{"bogus": "x"})
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
	if len(sess.queries) != 0 {
		t.Error("field check must run before any statement")
	}
}

func TestRepository_DeleteReturnsDeletedRow(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"id": "a", "name": "alpha"}},
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	row, err := repo.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if row == nil || row["name"] != "alpha" {
		t.Errorf("row = %v", row)
	}
	if len(sess.execs) != 1 || !strings.HasPrefix(sess.execs[0].sql, "DELETE FROM documents WHERE id = $1") {
		t.Errorf("execs = %v", sess.execs)
	}
}

func TestRepository_DeleteAbsentIsNil(t *testing.T) {
	sess := &fakeSession{}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	row, err := repo.Delete(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if row != nil {
		t.Errorf("row = %v, want nil", row)
	}
	if len(sess.execs) != 0 {
		t.Error("no delete should run for an absent row")
	}
}

func TestRepository_Count(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"count": int64(4)}},
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	f, _ := query.NewFilter("qty", query.OpGt, "1", query.TypeInt)
	n, err := repo.Count(context.Background(), []query.Filter{f}, query.CombineAnd)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d", n)
	}
	if !strings.HasPrefix(sess.queries[0].sql, "SELECT COUNT(*) AS count FROM documents WHERE qty > $1") {
		t.Errorf("sql = %q", sess.queries[0].sql)
	}
}

func TestRepository_ListPaginated(t *testing.T) {
	sess := &fakeSession{results: [][]map[string]any{
		{{"count": int64(42)}},
		{{"id": "a"}, {"id": "b"}},
	}}
	repo := enterUoW(t, sess, &PostgresDialect{}, 0)

	page, err := repo.ListPaginated(context.Background(), nil, nil, query.CombineAnd,
		PageParams{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("ListPaginated: %v", err)
	}

	if page.Total != 42 || page.Page != 2 || page.PerPage != 2 {
		t.Errorf("page = %+v", page)
	}
	if len(page.Items) != 2 {
		t.Errorf("items = %d", len(page.Items))
	}

	pageQuery := sess.queries[1]
	if !strings.HasSuffix(pageQuery.sql, "LIMIT $1 OFFSET $2") {
		t.Errorf("sql = %q", pageQuery.sql)
	}
	if len(pageQuery.args) != 2 || pageQuery.args[0] != 2 || pageQuery.args[1] != 2 {
		t.Errorf("args = %v, want limit 2 offset 2", pageQuery.args)
	}
}

func TestPageParams_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   PageParams
		want PageParams
	}{
		{"defaults", PageParams{}, PageParams{Page: 1, PerPage: 25}},
		{"negative page", PageParams{Page: -3, PerPage: 10}, PageParams{Page: 1, PerPage: 10}},
		{"capped", PageParams{Page: 2, PerPage: 5000}, PageParams{Page: 2, PerPage: 100}},
		{"passthrough", PageParams{Page: 3, PerPage: 50}, PageParams{Page: 3, PerPage: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
