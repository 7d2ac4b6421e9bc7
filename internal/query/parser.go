package query

import "strings"

const (
	DefaultFieldsSeparator = ":"
)

// Parser turns raw "field:op:value" filter tokens and "field:direction" sort
// tokens into validated Filter and Sort values, accumulating them so callers
// can append constraints the end user never supplied.
type Parser struct {
	policy          *Policy
	FieldsSeparator string
	PathSeparator   string

	filters []Filter
	sorts   []Sort
}

// NewParser creates a parser bound to one entity's filter policy.
func NewParser(policy *Policy) *Parser {
	return &Parser{
		policy:          policy,
		FieldsSeparator: DefaultFieldsSeparator,
		PathSeparator:   DefaultPathSeparator,
	}
}

// Filters returns all filters accumulated so far.
func (p *Parser) Filters() []Filter { return p.filters }

// Sorts returns all sorts accumulated so far.
func (p *Parser) Sorts() []Sort { return p.sorts }

// AddFilter appends an already-constructed filter without policy checks.
// Used for constraints the service layer enforces itself (e.g. an implicit
// tenant_id filter).
func (p *Parser) AddFilter(f Filter) {
	p.filters = append(p.filters, f)
}

// AddRawFilter parses and appends one raw token.
func (p *Parser) AddRawFilter(token string) error {
	f, err := p.parseFilterToken(token)
	if err != nil {
		return err
	}
	p.filters = append(p.filters, f)
	return nil
}

// ParseFilters parses raw filter tokens, appending to the accumulated set.
func (p *Parser) ParseFilters(tokens []string) ([]Filter, error) {
	for _, token := range tokens {
		if err := p.AddRawFilter(token); err != nil {
			return nil, err
		}
	}
	return p.filters, nil
}

// ParseSorts parses raw sort tokens, appending to the accumulated set.
func (p *Parser) ParseSorts(tokens []string) ([]Sort, error) {
	for _, token := range tokens {
		s, err := p.parseSortToken(token)
		if err != nil {
			return nil, err
		}
		p.sorts = append(p.sorts, s)
	}
	return p.sorts, nil
}

// parseFilterToken applies the grammar: field[:op[:value]]. Two segments
// mean an operand-less operator (null checks only); three mean field, op,
// value. The allow-list is checked before any coercion runs.
func (p *Parser) parseFilterToken(token string) (Filter, error) {
	segments := strings.SplitN(token, p.FieldsSeparator, 3)

	var rawField, rawOp, rawValue string
	hasValue := false
	switch len(segments) {
	case 2:
		rawField, rawOp = segments[0], segments[1]
	case 3:
		rawField, rawOp, rawValue = segments[0], segments[1], segments[2]
		hasValue = true
	default:
		return Filter{}, newError(CodeInvalidFilterFormat, "",
			"filter %q must be field%sop[%svalue]", token, p.FieldsSeparator, p.FieldsSeparator)
	}

	root, path := splitPath(rawField, p.PathSeparator)

	if _, ok := p.policy.FilterAllowed(root); !ok {
		return Filter{}, newError(CodeFieldNotAllowed, root,
			"field is not filterable on %s", p.policy.EntityName)
	}

	op, ok := ParseOperator(rawOp)
	if !ok {
		return Filter{}, newError(CodeInvalidOperation, root,
			"unknown operator %q", rawOp)
	}
	if !p.policy.OperatorAllowed(root, op) {
		return Filter{}, newError(CodeOperationNotAllowed, root,
			"operator %s is not allowed for this field", op)
	}
	if !hasValue && !op.IsNullCheck() {
		return Filter{}, newError(CodeInvalidFilterFormat, root,
			"operator %s requires a value", op)
	}

	// Translate to the storage name, then re-attach the path segments so the
	// constructor re-runs path splitting on the full storage address.
	storage := p.policy.ResolveField(root)
	full := storage
	if len(path) > 0 {
		full += p.PathSeparator + strings.Join(path, p.PathSeparator)
	}

	fieldType := p.policy.FieldType(root)
	return newFilter(full, op, rawValue, fieldType, p.PathSeparator, true)
}

// parseSortToken applies the grammar: field[:direction]. The direction must
// be exactly "asc" or "desc".
func (p *Parser) parseSortToken(token string) (Sort, error) {
	segments := strings.SplitN(token, p.FieldsSeparator, 2)

	rawField := segments[0]
	direction := DirectionNone
	if len(segments) == 2 {
		switch segments[1] {
		case "asc":
			direction = DirectionAsc
		case "desc":
			direction = DirectionDesc
		default:
			return Sort{}, newError(CodeInvalidSortDirection, rawField,
				"sort direction must be \"asc\" or \"desc\", got %q", segments[1])
		}
	}

	root, path := splitPath(rawField, p.PathSeparator)
	if _, ok := p.policy.SortAllowed(root); !ok {
		return Sort{}, newError(CodeSortFieldNotAllowed, root,
			"field is not sortable on %s", p.policy.EntityName)
	}

	storage := p.policy.ResolveField(root)
	full := storage
	if len(path) > 0 {
		full += p.PathSeparator + strings.Join(path, p.PathSeparator)
	}
	s := NewSort(full, direction)
	return s, nil
}

// ParseFilters is the stateless convenience form used by request handlers.
func ParseFilters(tokens []string, policy *Policy) ([]Filter, error) {
	return NewParser(policy).ParseFilters(tokens)
}

// ParseSorts is the stateless convenience form used by request handlers.
func ParseSorts(tokens []string, policy *Policy) ([]Sort, error) {
	return NewParser(policy).ParseSorts(tokens)
}
