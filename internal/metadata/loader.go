package metadata

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// schemaFile is the on-disk shape of one entity schema document. Each file
// declares one entity plus its relations and rules, so the whole schema is
// explicit data reviewed alongside the code.
type schemaFile struct {
	Entity    Entity     `json:"entity"`
	Relations []Relation `json:"relations,omitempty"`
	Rules     []Rule     `json:"rules,omitempty"`
}

// LoadDir reads all *.json schema files from dir and populates the registry.
func LoadDir(dir string, reg *Registry) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("glob schema dir: %w", err)
	}
	sort.Strings(matches)

	var entities []*Entity
	var relations []*Relation
	var rules []*Rule

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", path, err)
		}

		var sf schemaFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return fmt.Errorf("parse schema %s: %w", path, err)
		}
		if sf.Entity.Name == "" || sf.Entity.Table == "" {
			return fmt.Errorf("schema %s: entity name and table are required", path)
		}

		entity := sf.Entity
		entities = append(entities, &entity)
		for i := range sf.Relations {
			rel := sf.Relations[i]
			if rel.Source == "" {
				rel.Source = entity.Name
			}
			relations = append(relations, &rel)
		}
		for i := range sf.Rules {
			rule := sf.Rules[i]
			if rule.Entity == "" {
				rule.Entity = entity.Name
			}
			rules = append(rules, &rule)
		}
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Entity != rules[j].Entity {
			return rules[i].Entity < rules[j].Entity
		}
		return rules[i].Priority < rules[j].Priority
	})

	reg.Load(entities, relations)
	reg.LoadRules(rules)

	log.Printf("Loaded %d entities, %d relations, %d rules into registry",
		len(entities), len(relations), len(rules))
	return nil
}
