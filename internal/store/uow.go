package store

import (
	"context"
	"fmt"
	"strconv"

	"atrium-backend/internal/config"
	"atrium-backend/internal/metadata"
)

// AccessMode selects the database role a tenant session runs under.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	CrossTenantQuery
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read_only"
	case CrossTenantQuery:
		return "cross_tenant"
	default:
		return "read_write"
	}
}

// TenantContext is the tenant binding of one unit of work. Owned exclusively
// by that unit of work; never shared across concurrent sessions.
type TenantContext struct {
	TenantID int64
	Mode     AccessMode
}

// UnitOfWork binds one database session to one tenant and owns its
// transaction lifecycle. It is reentrant: nested Enter/Exit pairs are
// accounting only, and only the outermost pair opens the session, switches
// the role and commits or rolls back. Single-owner; not safe for concurrent
// use.
type UnitOfWork struct {
	factory  SessionFactory
	dialect  Dialect
	registry *metadata.Registry
	tenancy  config.TenancyConfig

	depth        int
	tenant       *TenantContext
	sess         Session
	roleSwitched bool
	repos        map[string]*Repository
	paginator    Paginator
}

// UnitOfWorkOption customizes a unit of work.
type UnitOfWorkOption func(*UnitOfWork)

// WithPaginator overrides the pagination capability used by ListPaginated.
func WithPaginator(p Paginator) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.paginator = p }
}

// NewUnitOfWork creates a unit of work over the store's session factory.
// One instance per logical request or job.
func NewUnitOfWork(s *Store, reg *metadata.Registry, tenancy config.TenancyConfig, opts ...UnitOfWorkOption) *UnitOfWork {
	return NewUnitOfWorkFromFactory(s, s.Dialect, reg, tenancy, opts...)
}

// NewUnitOfWorkFromFactory creates a unit of work over an arbitrary session
// factory. Tests substitute a fake factory here.
func NewUnitOfWorkFromFactory(f SessionFactory, dialect Dialect, reg *metadata.Registry, tenancy config.TenancyConfig, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		factory:  f,
		dialect:  dialect,
		registry: reg,
		tenancy:  tenancy,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.paginator == nil {
		u.paginator = &OffsetPaginator{Dialect: dialect}
	}
	return u
}

// Tenant returns the current tenant binding, or nil.
func (u *UnitOfWork) Tenant() *TenantContext { return u.tenant }

// Depth returns the current nesting depth.
func (u *UnitOfWork) Depth() int { return u.depth }

// BindTenant binds the unit of work to one tenant. Binding the same tenant
// again is a no-op; binding a different tenant is a programming error and
// leaves the existing binding untouched.
func (u *UnitOfWork) BindTenant(ctx context.Context, tenantID int64, mode AccessMode) error {
	if u.tenant != nil {
		if u.tenant.TenantID == tenantID {
			return nil
		}
		return fmt.Errorf("%w: bound to tenant %d, refusing tenant %d",
			ErrTenantRebind, u.tenant.TenantID, tenantID)
	}
	u.tenant = &TenantContext{TenantID: tenantID, Mode: mode}

	// Already inside an open session: switch immediately so no query in this
	// scope can run unscoped.
	if u.depth >= 1 && u.sess != nil {
		return u.switchRole(ctx)
	}
	return nil
}

// Enter opens the scope. The first entry opens a session and, if a tenant is
// bound, performs the role switch; nested entries only increment the depth.
func (u *UnitOfWork) Enter(ctx context.Context) error {
	u.depth++
	if u.depth > 1 {
		return nil
	}

	sess, err := u.factory.OpenSession(ctx)
	if err != nil {
		u.depth--
		return fmt.Errorf("open session: %w", err)
	}
	u.sess = sess
	u.buildRepositories()

	if u.tenant != nil {
		if err := u.switchRole(ctx); err != nil {
			// The session is unusable for tenant-scoped work; unwind fully.
			u.teardown(ctx, true)
			u.teardownState()
			u.depth--
			return err
		}
	}
	return nil
}

// Exit closes the scope. Nested exits only decrement the depth and propagate
// err. The outermost exit rolls back on error, otherwise commits (when
// autocommit is enabled), then resets the role and releases the session.
func (u *UnitOfWork) Exit(ctx context.Context, err error) error {
	if u.depth == 0 {
		return fmt.Errorf("%w: unbalanced exit", ErrNotEntered)
	}
	u.depth--
	if u.depth > 0 {
		return err
	}

	defer u.teardownState()

	if err != nil {
		u.teardown(ctx, true)
		return err
	}
	if !u.tenancy.Autocommit {
		u.teardown(ctx, true)
		return nil
	}

	if commitErr := u.sess.Commit(); commitErr != nil {
		// The database rolls back implicitly on commit failure; no retry.
		u.resetAndClose(ctx)
		return fmt.Errorf("commit: %w", commitErr)
	}
	u.resetAndClose(ctx)
	return nil
}

// Session returns the active session. Callers must be inside Enter/Exit.
func (u *UnitOfWork) Session() (Session, error) {
	if u.depth == 0 || u.sess == nil {
		return nil, ErrNotEntered
	}
	return u.sess, nil
}

// Repository returns the cached repository for an entity type, in O(1).
func (u *UnitOfWork) Repository(entityName string) (*Repository, error) {
	if u.depth == 0 {
		return nil, ErrNotEntered
	}
	repo, ok := u.repos[entityName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotRegistered, entityName)
	}
	return repo, nil
}

// switchRole runs once per session, before any tenant-scoped query: it
// selects the database role for the access mode and binds the tenant id as
// a session parameter for row-level security.
func (u *UnitOfWork) switchRole(ctx context.Context) error {
	if u.roleSwitched {
		return nil
	}
	if !u.dialect.SupportsRoleSwitch() {
		// SQLite dev mode: isolation comes from injected tenant predicates.
		u.roleSwitched = true
		return nil
	}

	role := u.roleForMode(u.tenant.Mode)
	if !isValidIdentifier(role) {
		return fmt.Errorf("%w: invalid role name %q", ErrRoleSwitch, role)
	}
	if _, err := u.sess.Exec(ctx, u.dialect.SetRoleSQL(role)); err != nil {
		return fmt.Errorf("%w: set role %s: %v", ErrRoleSwitch, role, err)
	}
	tenantParam := strconv.FormatInt(u.tenant.TenantID, 10)
	if _, err := u.sess.Exec(ctx, u.dialect.SetTenantParamSQL(), tenantParam); err != nil {
		return fmt.Errorf("%w: set tenant parameter: %v", ErrRoleSwitch, err)
	}
	u.roleSwitched = true
	return nil
}

func (u *UnitOfWork) roleForMode(mode AccessMode) string {
	switch mode {
	case ReadOnly:
		return u.tenancy.ReadOnlyRole
	case CrossTenantQuery:
		return u.tenancy.CrossTenantRole
	default:
		return u.tenancy.ReadWriteRole
	}
}

func (u *UnitOfWork) buildRepositories() {
	entities := u.registry.AllEntities()
	u.repos = make(map[string]*Repository, len(entities))
	for _, e := range entities {
		u.repos[e.Name] = &Repository{entity: e, uow: u}
	}
}

// teardown rolls back (when asked) and releases the session.
func (u *UnitOfWork) teardown(ctx context.Context, rollback bool) {
	if u.sess == nil {
		return
	}
	if rollback {
		_ = u.sess.Rollback()
	}
	u.resetAndClose(ctx)
}

// resetAndClose restores the default role on the physical connection before
// it goes back to the pool, then closes the session.
func (u *UnitOfWork) resetAndClose(ctx context.Context) {
	if u.roleSwitched && u.dialect.SupportsRoleSwitch() {
		_ = u.sess.ExecConn(ctx, u.dialect.ResetRoleSQL())
	}
	_ = u.sess.Close()
}

// teardownState drops the per-session registry. The tenant binding survives
// for the lifetime of the instance.
func (u *UnitOfWork) teardownState() {
	u.sess = nil
	u.repos = nil
	u.roleSwitched = false
}

// WithUnitOfWork scopes fn inside one Enter/Exit pair, preserving the
// depth-counter contract whatever fn does.
func WithUnitOfWork(ctx context.Context, u *UnitOfWork, fn func(ctx context.Context) error) error {
	if err := u.Enter(ctx); err != nil {
		return err
	}
	return u.Exit(ctx, fn(ctx))
}
