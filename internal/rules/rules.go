package rules

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"atrium-backend/internal/metadata"
)

// Violation is one failed rule, addressed to a field when one is involved.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Evaluate runs all active rules for an entity against the record, in
// priority order. Field rules run first, then expression rules; computed
// fields run only when nothing failed, mutating the record in place.
func Evaluate(reg *metadata.Registry, entityName string, record map[string]any, old map[string]any, isCreate bool) []Violation {
	ruleSet := reg.GetRulesForEntity(entityName)
	if len(ruleSet) == 0 {
		return nil
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{
		"record": record,
		"old":    old,
		"action": action,
	}

	var violations []Violation

	for _, r := range ruleSet {
		if r.Type != "field" {
			continue
		}
		if v := evaluateFieldRule(r, record); v != nil {
			violations = append(violations, *v)
			if r.Definition.StopOnFail {
				return violations
			}
		}
	}

	for _, r := range ruleSet {
		if r.Type != "expression" {
			continue
		}
		if v := evaluateExpressionRule(r, env); v != nil {
			violations = append(violations, *v)
			if r.Definition.StopOnFail {
				return violations
			}
		}
	}

	// Computed fields never run against an invalid record.
	if len(violations) > 0 {
		return violations
	}

	for _, r := range ruleSet {
		if r.Type != "computed" {
			continue
		}
		val, err := evaluateComputedField(r, env)
		if err != nil {
			violations = append(violations, Violation{
				Field:   r.Definition.Field,
				Rule:    "computed",
				Message: err.Error(),
			})
			continue
		}
		record[r.Definition.Field] = val
	}

	return violations
}

// evaluateFieldRule checks one field rule. Absent or nil fields pass; the
// schema's required flag covers presence.
func evaluateFieldRule(rule *metadata.Rule, record map[string]any) *Violation {
	fieldName := rule.Definition.Field
	val, exists := record[fieldName]
	if !exists || val == nil {
		return nil
	}

	op := rule.Definition.Operator
	msg := rule.Definition.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", fieldName, op)
	}

	switch op {
	case "min":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Definition.Value)
		if !ok {
			return nil
		}
		if num < threshold {
			return &Violation{Field: fieldName, Rule: "min", Message: msg}
		}

	case "max":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Definition.Value)
		if !ok {
			return nil
		}
		if num > threshold {
			return &Violation{Field: fieldName, Rule: "max", Message: msg}
		}

	case "min_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Definition.Value)
		if !ok {
			return nil
		}
		if len(s) < int(threshold) {
			return &Violation{Field: fieldName, Rule: "min_length", Message: msg}
		}

	case "max_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Definition.Value)
		if !ok {
			return nil
		}
		if len(s) > int(threshold) {
			return &Violation{Field: fieldName, Rule: "max_length", Message: msg}
		}

	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		pattern, ok := rule.Definition.Value.(string)
		if !ok {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return &Violation{Field: fieldName, Rule: "pattern", Message: msg}
		}
	}

	return nil
}

// evaluateExpressionRule runs a compiled boolean expression; true means
// violated. Compilation is lazy and cached on the rule.
func evaluateExpressionRule(rule *metadata.Rule, env map[string]any) *Violation {
	prog, ok := rule.Compiled.(*vm.Program)
	if !ok || prog == nil {
		compiled, err := expr.Compile(rule.Definition.Expression, expr.AsBool())
		if err != nil {
			return &Violation{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
		}
		rule.Compiled = compiled
		prog = compiled
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return &Violation{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	violated, ok := result.(bool)
	if !ok || !violated {
		return nil
	}

	msg := rule.Definition.Message
	if msg == "" {
		msg = "expression rule violated"
	}
	return &Violation{Rule: "expression", Message: msg}
}

// evaluateComputedField runs a computed-field expression and returns the value.
func evaluateComputedField(rule *metadata.Rule, env map[string]any) (any, error) {
	prog, ok := rule.Compiled.(*vm.Program)
	if !ok || prog == nil {
		compiled, err := expr.Compile(rule.Definition.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile computed expression: %w", err)
		}
		rule.Compiled = compiled
		prog = compiled
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate computed field %s: %w", rule.Definition.Field, err)
	}
	return result, nil
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
