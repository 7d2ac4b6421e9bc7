package api

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"

	"atrium-backend/internal/audit"
	"atrium-backend/internal/auth"
	"atrium-backend/internal/config"
	"atrium-backend/internal/metadata"
	"atrium-backend/internal/query"
	"atrium-backend/internal/rules"
	"atrium-backend/internal/store"
)

// Handler serves the generic entity CRUD API. Every request runs inside its
// own unit of work bound to the caller's tenant.
type Handler struct {
	registry *metadata.Registry
	dialect  store.Dialect
	audit    *audit.Buffer
	newUoW   func() *store.UnitOfWork

	mu       sync.RWMutex
	policies map[string]*query.Policy
}

// NewHandler wires the handler to a store. The audit buffer may be nil.
func NewHandler(s *store.Store, reg *metadata.Registry, tenancy config.TenancyConfig, auditBuf *audit.Buffer) *Handler {
	return &Handler{
		registry: reg,
		dialect:  s.Dialect,
		audit:    auditBuf,
		newUoW: func() *store.UnitOfWork {
			return store.NewUnitOfWork(s, reg, tenancy)
		},
		policies: make(map[string]*query.Policy),
	}
}

// Entities handles GET /api/_meta/entities. Admin only: exposes the loaded
// schema registry for operational inspection.
func (h *Handler) Entities(c *fiber.Ctx) error {
	entities := h.registry.AllEntities()
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })

	out := make([]fiber.Map, 0, len(entities))
	for _, e := range entities {
		relations := make([]string, 0)
		for _, rel := range h.registry.GetRelationsForSource(e.Name) {
			relations = append(relations, rel.Name)
		}
		out = append(out, fiber.Map{
			"name":          e.Name,
			"table":         e.Table,
			"tenant_scoped": e.TenantScoped,
			"fields":        e.FieldNames(),
			"relations":     relations,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, principal, err := h.resolveRequest(c)
	if err != nil {
		return err
	}

	parser := query.NewParser(h.policyFor(entity))
	if _, err := parser.ParseFilters(queryMulti(c, "filter")); err != nil {
		return err
	}
	if _, err := parser.ParseSorts(queryMulti(c, "sort")); err != nil {
		return err
	}

	combine := query.CombineAnd
	if c.Query("combine") == "or" {
		combine = query.CombineOr
	}
	params := store.PageParams{
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", 25),
	}

	uow, _, err := h.openUoW(c, entity, principal)
	if err != nil {
		return err
	}

	var page *store.Page
	err = store.WithUnitOfWork(c.Context(), uow, func(ctx context.Context) error {
		repo, err := uow.Repository(entity.Name)
		if err != nil {
			return err
		}
		page, err = repo.ListPaginated(ctx, parser.Filters(), parser.Sorts(), combine, params)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": page.Items,
		"meta": fiber.Map{
			"page":     page.Page,
			"per_page": page.PerPage,
			"total":    page.Total,
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, principal, err := h.resolveRequest(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	uow, mode, err := h.openUoW(c, entity, principal)
	if err != nil {
		return err
	}

	var row map[string]any
	err = store.WithUnitOfWork(c.Context(), uow, func(ctx context.Context) error {
		repo, err := uow.Repository(entity.Name)
		if err != nil {
			return err
		}
		row, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if !h.tenantOwnsRow(entity, principal, mode, row) {
		return NotFoundError(entity.Name, id)
	}

	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, principal, err := h.resolveRequest(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	// The token decides the tenant, never the payload.
	if entity.TenantScoped {
		body["tenant_id"] = principal.TenantID
	}

	if violations := rules.Evaluate(h.registry, entity.Name, body, nil, true); len(violations) > 0 {
		return ValidationError(violations)
	}

	uow, _, err := h.openUoW(c, entity, principal)
	if err != nil {
		return err
	}

	var record map[string]any
	err = store.WithUnitOfWork(c.Context(), uow, func(ctx context.Context) error {
		repo, err := uow.Repository(entity.Name)
		if err != nil {
			return err
		}
		record, err = repo.Add(ctx, body)
		return err
	})
	if err != nil {
		return err
	}

	h.recordAudit(principal, entity.Name, "create", record)
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, principal, err := h.resolveRequest(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	var changes map[string]any
	if err := c.BodyParser(&changes); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	delete(changes, "tenant_id")
	delete(changes, entity.PrimaryKey.Field)

	uow, mode, err := h.openUoW(c, entity, principal)
	if err != nil {
		return err
	}

	var record map[string]any
	err = store.WithUnitOfWork(c.Context(), uow, func(ctx context.Context) error {
		repo, err := uow.Repository(entity.Name)
		if err != nil {
			return err
		}

		current, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !h.tenantOwnsRow(entity, principal, mode, current) {
			return store.ErrNotFound
		}

		merged := make(map[string]any, len(current)+len(changes))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range changes {
			merged[k] = v
		}
		if violations := rules.Evaluate(h.registry, entity.Name, merged, current, false); len(violations) > 0 {
			return ValidationError(violations)
		}
		// Carry over fields set by computed rules.
		for _, r := range h.registry.GetRulesForEntity(entity.Name) {
			if r.Type == "computed" && r.Definition.Field != "" {
				if v, ok := merged[r.Definition.Field]; ok {
					changes[r.Definition.Field] = v
				}
			}
		}

		record, err = repo.UpdateByID(ctx, id, changes)
		return err
	})
	if err != nil {
		return err
	}

	h.recordAudit(principal, entity.Name, "update", record)
	return c.JSON(fiber.Map{"data": record})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, principal, err := h.resolveRequest(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	uow, mode, err := h.openUoW(c, entity, principal)
	if err != nil {
		return err
	}

	var deleted map[string]any
	err = store.WithUnitOfWork(c.Context(), uow, func(ctx context.Context) error {
		repo, err := uow.Repository(entity.Name)
		if err != nil {
			return err
		}

		current, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !h.tenantOwnsRow(entity, principal, mode, current) {
			return store.ErrNotFound
		}

		deleted, err = repo.Delete(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if deleted == nil {
		return NotFoundError(entity.Name, id)
	}

	h.recordAudit(principal, entity.Name, "delete", deleted)
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

func (h *Handler) resolveRequest(c *fiber.Ctx) (*metadata.Entity, *auth.Principal, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, nil, UnknownEntityError(name)
	}
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return nil, nil, fiber.NewError(fiber.StatusUnauthorized, "missing auth token")
	}
	return entity, principal, nil
}

func (h *Handler) openUoW(c *fiber.Ctx, entity *metadata.Entity, principal *auth.Principal) (*store.UnitOfWork, store.AccessMode, error) {
	mode := principal.AccessMode()
	uow := h.newUoW()
	if entity.TenantScoped {
		if err := uow.BindTenant(c.Context(), principal.TenantID, mode); err != nil {
			return nil, mode, err
		}
	}
	return uow, mode, nil
}

// tenantOwnsRow guards single-row reads in explicit-tenant mode; under
// row-level security the database already filtered.
func (h *Handler) tenantOwnsRow(entity *metadata.Entity, principal *auth.Principal, mode store.AccessMode, row map[string]any) bool {
	if h.dialect.SupportsRoleSwitch() || !entity.TenantScoped || mode == store.CrossTenantQuery {
		return true
	}
	owner, ok := toInt64(row["tenant_id"])
	return ok && owner == principal.TenantID
}

func (h *Handler) policyFor(entity *metadata.Entity) *query.Policy {
	h.mu.RLock()
	p, ok := h.policies[entity.Name]
	h.mu.RUnlock()
	if ok {
		return p
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.policies[entity.Name]; ok {
		return p
	}
	p = query.DefaultPolicy(entity)
	h.policies[entity.Name] = p
	return p
}

func (h *Handler) recordAudit(principal *auth.Principal, entityName, action string, record map[string]any) {
	if h.audit == nil {
		return
	}
	var recordID string
	if record != nil {
		if entity := h.registry.GetEntity(entityName); entity != nil {
			if v, ok := record[entity.PrimaryKey.Field]; ok {
				recordID = stringifyID(v)
			}
		}
	}
	h.audit.Record(audit.Event{
		TenantID: principal.TenantID,
		Entity:   entityName,
		Action:   action,
		RecordID: recordID,
		Actor:    principal.UserID,
	})
}

func queryMulti(c *fiber.Ctx, key string) []string {
	raw := c.Context().QueryArgs().PeekMulti(key)
	tokens := make([]string, 0, len(raw))
	for _, b := range raw {
		if len(b) > 0 {
			tokens = append(tokens, string(b))
		}
	}
	return tokens
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}
