package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"atrium-backend/internal/config"
)

type capturedStmt struct {
	sql  string
	args []any
}

// fakeSession scripts Query results and records every statement, so unit of
// work and repository behavior can be tested without a database.
type fakeSession struct {
	queries   []capturedStmt
	execs     []capturedStmt
	connExecs []capturedStmt

	results  [][]map[string]any // consumed one per Query call
	queryErr error
	execErr  error

	commits   int
	rollbacks int
	closed    bool
}

func (f *fakeSession) Query(_ context.Context, sqlStr string, args ...any) ([]map[string]any, error) {
	f.queries = append(f.queries, capturedStmt{sql: sqlStr, args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	rows := f.results[0]
	f.results = f.results[1:]
	return rows, nil
}

func (f *fakeSession) Exec(_ context.Context, sqlStr string, args ...any) (int64, error) {
	f.execs = append(f.execs, capturedStmt{sql: sqlStr, args: args})
	if f.execErr != nil {
		return 0, f.execErr
	}
	return 1, nil
}

func (f *fakeSession) ExecConn(_ context.Context, sqlStr string, args ...any) error {
	f.connExecs = append(f.connExecs, capturedStmt{sql: sqlStr, args: args})
	return nil
}

func (f *fakeSession) Commit() error   { f.commits++; return nil }
func (f *fakeSession) Rollback() error { f.rollbacks++; return nil }
func (f *fakeSession) Close() error    { f.closed = true; return nil }

type fakeFactory struct {
	sess    *fakeSession
	openErr error
	opened  int
}

func (f *fakeFactory) OpenSession(context.Context) (Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return f.sess, nil
}

func testTenancy() config.TenancyConfig {
	return config.TenancyConfig{
		ReadWriteRole:   "tenant_rw",
		ReadOnlyRole:    "tenant_ro",
		CrossTenantRole: "tenant_admin",
		Autocommit:      true,
	}
}

func newTestUoW(sess *fakeSession, dialect Dialect) *UnitOfWork {
	u := &UnitOfWork{
		factory:  &fakeFactory{sess: sess},
		dialect:  dialect,
		registry: testRegistry(),
		tenancy:  testTenancy(),
	}
	u.paginator = &OffsetPaginator{Dialect: dialect}
	return u
}

func TestUnitOfWork_NestedScopesCommitOnce(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &SQLiteDialect{})

	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("nested Enter: %v", err)
	}
	if u.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", u.Depth())
	}
	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("nested Exit: %v", err)
	}
	if sess.commits != 0 {
		t.Fatal("nested exit must not commit")
	}
	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	if sess.commits != 1 {
		t.Errorf("commits = %d, want 1", sess.commits)
	}
	if sess.rollbacks != 0 {
		t.Errorf("rollbacks = %d, want 0", sess.rollbacks)
	}
	if !sess.closed {
		t.Error("session not closed")
	}
	if u.Depth() != 0 {
		t.Errorf("depth = %d after final exit", u.Depth())
	}
}

func TestUnitOfWork_InnerErrorRollsBackOutermost(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &SQLiteDialect{})

	boom := errors.New("boom")
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("nested Enter: %v", err)
	}
	if err := u.Exit(ctx, boom); !errors.Is(err, boom) {
		t.Fatalf("nested Exit err = %v, want boom", err)
	}
	if sess.rollbacks != 0 {
		t.Fatal("nested exit must not roll back")
	}
	if err := u.Exit(ctx, boom); !errors.Is(err, boom) {
		t.Fatalf("Exit err = %v, want boom", err)
	}

	if sess.commits != 0 {
		t.Errorf("commits = %d, want 0", sess.commits)
	}
	if sess.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", sess.rollbacks)
	}
	if !sess.closed {
		t.Error("session not closed")
	}
}

func TestUnitOfWork_AutocommitOffAlwaysRollsBack(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &SQLiteDialect{})
	u.tenancy.Autocommit = false

	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if sess.commits != 0 || sess.rollbacks != 1 {
		t.Errorf("commits = %d, rollbacks = %d", sess.commits, sess.rollbacks)
	}
}

func TestUnitOfWork_ExitWithoutEnter(t *testing.T) {
	u := newTestUoW(&fakeSession{}, &SQLiteDialect{})
	if err := u.Exit(context.Background(), nil); !errors.Is(err, ErrNotEntered) {
		t.Errorf("err = %v, want ErrNotEntered", err)
	}
}

func TestUnitOfWork_SessionOutsideScope(t *testing.T) {
	u := newTestUoW(&fakeSession{}, &SQLiteDialect{})
	if _, err := u.Session(); !errors.Is(err, ErrNotEntered) {
		t.Errorf("err = %v, want ErrNotEntered", err)
	}
}

func TestUnitOfWork_BindTenantIdempotentAndRebindRejected(t *testing.T) {
	ctx := context.Background()
	u := newTestUoW(&fakeSession{}, &SQLiteDialect{})

	if err := u.BindTenant(ctx, 1, ReadWrite); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	if err := u.BindTenant(ctx, 1, ReadWrite); err != nil {
		t.Fatalf("same tenant rebind: %v", err)
	}
	if err := u.BindTenant(ctx, 2, ReadWrite); !errors.Is(err, ErrTenantRebind) {
		t.Fatalf("err = %v, want ErrTenantRebind", err)
	}
	if u.Tenant() == nil || u.Tenant().TenantID != 1 {
		t.Errorf("binding disturbed: %+v", u.Tenant())
	}
}

func TestUnitOfWork_RoleSwitchSequence(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &PostgresDialect{})

	if err := u.BindTenant(ctx, 42, ReadOnly); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	if len(sess.execs) != 2 {
		t.Fatalf("execs = %d, want role switch then tenant parameter", len(sess.execs))
	}
	if sess.execs[0].sql != "SET LOCAL ROLE tenant_ro" {
		t.Errorf("first stmt = %q", sess.execs[0].sql)
	}
	if !strings.Contains(sess.execs[1].sql, "set_config('app.current_tenant'") {
		t.Errorf("second stmt = %q", sess.execs[1].sql)
	}
	if len(sess.execs[1].args) != 1 || sess.execs[1].args[0] != "42" {
		t.Errorf("tenant param args = %v", sess.execs[1].args)
	}

	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if len(sess.connExecs) != 1 || sess.connExecs[0].sql != "RESET ROLE" {
		t.Errorf("connExecs = %v, want RESET ROLE after commit", sess.connExecs)
	}
	if sess.commits != 1 {
		t.Errorf("commits = %d", sess.commits)
	}
}

func TestUnitOfWork_BindAfterEnterSwitchesImmediately(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &PostgresDialect{})

	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if len(sess.execs) != 0 {
		t.Fatal("no role switch expected before a tenant is bound")
	}
	if err := u.BindTenant(ctx, 7, ReadWrite); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	if len(sess.execs) != 2 || sess.execs[0].sql != "SET LOCAL ROLE tenant_rw" {
		t.Errorf("execs = %v", sess.execs)
	}
	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("Exit: %v", err)
	}
}

func TestUnitOfWork_SQLiteSkipsRoleSwitch(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &SQLiteDialect{})

	if err := u.BindTenant(ctx, 9, ReadWrite); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if len(sess.execs) != 0 {
		t.Errorf("execs = %v, want none", sess.execs)
	}
	if err := u.Exit(ctx, nil); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if len(sess.connExecs) != 0 {
		t.Errorf("connExecs = %v, want none", sess.connExecs)
	}
}

func TestUnitOfWork_RoleSwitchFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{execErr: errors.New("permission denied")}
	u := newTestUoW(sess, &PostgresDialect{})

	if err := u.BindTenant(ctx, 5, ReadWrite); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	if err := u.Enter(ctx); !errors.Is(err, ErrRoleSwitch) {
		t.Fatalf("err = %v, want ErrRoleSwitch", err)
	}
	if u.Depth() != 0 {
		t.Errorf("depth = %d after failed enter", u.Depth())
	}
	if sess.rollbacks != 1 || !sess.closed {
		t.Errorf("rollbacks = %d, closed = %v", sess.rollbacks, sess.closed)
	}
}

func TestUnitOfWork_RepositoryLookup(t *testing.T) {
	ctx := context.Background()
	u := newTestUoW(&fakeSession{}, &SQLiteDialect{})

	if _, err := u.Repository("document"); !errors.Is(err, ErrNotEntered) {
		t.Fatalf("err = %v, want ErrNotEntered before Enter", err)
	}

	if err := u.Enter(ctx); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer u.Exit(ctx, nil)

	repo, err := u.Repository("document")
	if err != nil {
		t.Fatalf("Repository: %v", err)
	}
	if repo.Entity().Name != "document" {
		t.Errorf("entity = %s", repo.Entity().Name)
	}

	if _, err := u.Repository("nonexistent"); !errors.Is(err, ErrRepositoryNotRegistered) {
		t.Errorf("err = %v, want ErrRepositoryNotRegistered", err)
	}
}

func TestWithUnitOfWork(t *testing.T) {
	ctx := context.Background()
	sess := &fakeSession{}
	u := newTestUoW(sess, &SQLiteDialect{})

	boom := errors.New("boom")
	err := WithUnitOfWork(ctx, u, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if sess.rollbacks != 1 || sess.commits != 0 {
		t.Errorf("rollbacks = %d, commits = %d", sess.rollbacks, sess.commits)
	}

	sess2 := &fakeSession{}
	u2 := newTestUoW(sess2, &SQLiteDialect{})
	if err := WithUnitOfWork(ctx, u2, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("WithUnitOfWork: %v", err)
	}
	if sess2.commits != 1 {
		t.Errorf("commits = %d, want 1", sess2.commits)
	}
}
