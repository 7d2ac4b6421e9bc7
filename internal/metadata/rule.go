package metadata

// Rule is a declarative validation or computed-field rule evaluated before
// writes. Expression rules use expr-lang; Compiled caches the program.
type Rule struct {
	ID         string         `json:"id"`
	Entity     string         `json:"entity"`
	Type       string         `json:"type"` // "field", "expression" or "computed"
	Definition RuleDefinition `json:"definition"`
	Priority   int            `json:"priority"`
	Active     bool           `json:"active"`
	Compiled   any            `json:"-"`
}

type RuleDefinition struct {
	Field      string `json:"field,omitempty"`
	Operator   string `json:"operator,omitempty"` // min, max, min_length, max_length, pattern
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
	Message    string `json:"message,omitempty"`
	StopOnFail bool   `json:"stop_on_fail,omitempty"`
}
