package metadata

import "sync"

type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string][]*Relation // keyed by source entity name
	relationsByName   map[string]*Relation   // keyed by relation (virtual field) name
	rulesByEntity     map[string][]*Rule
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string][]*Relation),
		relationsByName:   make(map[string]*Relation),
		rulesByEntity:     make(map[string][]*Rule),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relations := make([]*Relation, 0, len(r.relationsByName))
	for _, rel := range r.relationsByName {
		relations = append(relations, rel)
	}
	return relations
}

// FindRelationForSource returns the relation exposing the given virtual
// filter field on the given source entity, or nil. Used by the condition
// builder to resolve collection-membership filters.
func (r *Registry) FindRelationForSource(entityName, virtualField string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rel := range r.relationsBySource[entityName] {
		if rel.Name == virtualField {
			return rel
		}
	}
	return nil
}

// GetRelationsForSource returns all relations where source matches the given entity.
func (r *Registry) GetRelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// GetRulesForEntity returns active validation rules for an entity, ordered
// by priority (the loader sorts them).
func (r *Registry) GetRulesForEntity(entityName string) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesByEntity[entityName]
}

// Load replaces all entities and relations in the registry.
// Called during startup.
func (r *Registry) Load(entities []*Entity, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.relationsBySource = make(map[string][]*Relation)
	r.relationsByName = make(map[string]*Relation, len(relations))
	for _, rel := range relations {
		r.relationsByName[rel.Name] = rel
		r.relationsBySource[rel.Source] = append(r.relationsBySource[rel.Source], rel)
	}
}

// LoadRules replaces all validation rules in the registry.
func (r *Registry) LoadRules(rules []*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rulesByEntity = make(map[string][]*Rule)
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		r.rulesByEntity[rule.Entity] = append(r.rulesByEntity[rule.Entity], rule)
	}
}
