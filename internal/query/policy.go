package query

import (
	"atrium-backend/internal/metadata"
)

// Policy declares, per entity, which fields may be filtered and sorted, with
// which operators, plus wire-alias translation and semantic-type overrides.
// It is a pure lookup structure after construction and safe to share across
// concurrent requests.
type Policy struct {
	EntityName string

	entity      *metadata.Entity
	filters     map[string]map[Operator]bool // keyed by storage field name
	sorts       map[string]bool
	wireToField map[string]string // alias -> storage name
	fieldToWire map[string]string
	customTypes map[string]SemanticType
}

// PolicyOption customizes policy construction.
type PolicyOption func(*Policy)

// WithAliases adds explicit wire-name -> storage-name translations on top of
// the aliases declared in the entity schema.
func WithAliases(aliases map[string]string) PolicyOption {
	return func(p *Policy) {
		for wire, field := range aliases {
			p.wireToField[wire] = field
			p.fieldToWire[field] = wire
		}
	}
}

// WithFieldTypes overrides the semantic type of specific fields, e.g. to
// declare a virtual field's type or treat a text column as datetime.
func WithFieldTypes(types map[string]SemanticType) PolicyOption {
	return func(p *Policy) {
		for field, t := range types {
			p.customTypes[field] = t
		}
	}
}

// NewPolicy builds the allow-lists and alias tables once, at construction.
// Every allow-listed field that has a declared alias in the entity schema is
// reachable under both its wire alias and its storage name.
func NewPolicy(entity *metadata.Entity, allowedFilters map[string][]Operator, allowedSorts []string, opts ...PolicyOption) *Policy {
	p := &Policy{
		EntityName:  entity.Name,
		entity:      entity,
		filters:     make(map[string]map[Operator]bool, len(allowedFilters)),
		sorts:       make(map[string]bool, len(allowedSorts)),
		wireToField: make(map[string]string),
		fieldToWire: make(map[string]string),
		customTypes: make(map[string]SemanticType),
	}
	for _, opt := range opts {
		opt(p)
	}

	for field, ops := range allowedFilters {
		canonical := p.canonicalize(field)
		set := make(map[Operator]bool, len(ops))
		for _, op := range ops {
			set[op] = true
		}
		p.filters[canonical] = set
		p.registerSchemaAlias(canonical)
	}
	for _, field := range allowedSorts {
		canonical := p.canonicalize(field)
		p.sorts[canonical] = true
		p.registerSchemaAlias(canonical)
	}

	// Type overrides may be declared under a wire alias; store them under the
	// storage name FieldType resolves to.
	if len(p.customTypes) > 0 {
		canonicalTypes := make(map[string]SemanticType, len(p.customTypes))
		for field, t := range p.customTypes {
			canonicalTypes[p.canonicalize(field)] = t
		}
		p.customTypes = canonicalTypes
	}
	return p
}

// DefaultPolicy allows every schema field with its semantic type's default
// operator set, and every field as a sort key.
func DefaultPolicy(entity *metadata.Entity) *Policy {
	filters := make(map[string][]Operator, len(entity.Fields))
	sorts := make([]string, 0, len(entity.Fields))
	for _, f := range entity.Fields {
		filters[f.Name] = DefaultOperators(SemanticTypeOf(f.Type))
		sorts = append(sorts, f.Name)
	}
	return NewPolicy(entity, filters, sorts)
}

// canonicalize maps a declared allow-list key to the storage field name, in
// case the policy was declared in terms of a wire alias.
func (p *Policy) canonicalize(name string) string {
	if p.entity.HasField(name) {
		return name
	}
	if f := p.entity.GetFieldByAlias(name); f != nil {
		return f.Name
	}
	if field, ok := p.wireToField[name]; ok {
		return field
	}
	return name
}

// registerSchemaAlias records the entity-declared alias of an allow-listed
// field so both names resolve to the same entry.
func (p *Policy) registerSchemaAlias(field string) {
	f := p.entity.GetField(field)
	if f == nil || f.Alias == "" {
		return
	}
	p.wireToField[f.Alias] = f.Name
	p.fieldToWire[f.Name] = f.Alias
}

// ResolveField translates a wire name to its storage name. Unknown names are
// returned unchanged.
func (p *Policy) ResolveField(name string) string {
	if field, ok := p.wireToField[name]; ok {
		return field
	}
	return name
}

// FilterAllowed reports whether a field (by wire or storage name) may be
// filtered, returning its storage name.
func (p *Policy) FilterAllowed(name string) (string, bool) {
	field := p.ResolveField(name)
	_, ok := p.filters[field]
	return field, ok
}

// OperatorAllowed reports whether the operator is in the field's declared
// allow-list. The policy's allow-list is authoritative, independent of the
// semantic type's general defaults.
func (p *Policy) OperatorAllowed(name string, op Operator) bool {
	field := p.ResolveField(name)
	set, ok := p.filters[field]
	if !ok {
		return false
	}
	return set[op]
}

// SortAllowed reports whether a field may be used as a sort key, returning
// its storage name.
func (p *Policy) SortAllowed(name string) (string, bool) {
	field := p.ResolveField(name)
	return field, p.sorts[field]
}

// FieldType returns the semantic type of an allowed field: custom overrides
// first, then the entity schema's storage type, falling back to string.
// It never fails for an allowed field.
func (p *Policy) FieldType(name string) SemanticType {
	field := p.ResolveField(name)
	if t, ok := p.customTypes[field]; ok {
		return t
	}
	if f := p.entity.GetField(field); f != nil {
		return SemanticTypeOf(f.Type)
	}
	return TypeString
}
