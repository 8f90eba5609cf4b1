// Package condition evaluates boolean AND/OR groups of comparisons against
// a job context. It shares operator semantics with the expression engine's
// IF function so gating and naming never disagree.
//
// Conditions never raise: absent variables, unknown operators and invalid
// regular expressions all resolve to false for the single condition.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hotfold/hotfold/internal/expr"
)

// Logic combines the conditions of a group.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Operator names accepted in configuration.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not-equals"
	OpContains       = "contains"
	OpGreaterThan    = "greater-than"
	OpLessThan       = "less-than"
	OpGreaterOrEqual = "greater-or-equal"
	OpLessOrEqual    = "less-or-equal"
	OpStartsWith     = "starts-with"
	OpEndsWith       = "ends-with"
	OpMatches        = "matches-regex"
)

// operatorMap translates configuration operator names to the comparison
// operators of the expression engine.
var operatorMap = map[string]string{
	OpEquals:         "==",
	OpNotEquals:      "!=",
	OpContains:       "contains",
	OpGreaterThan:    ">",
	OpLessThan:       "<",
	OpGreaterOrEqual: ">=",
	OpLessOrEqual:    "<=",
	OpStartsWith:     "startswith",
	OpEndsWith:       "endswith",
	OpMatches:        "matches",
}

// Condition is a single comparison of a context variable against a literal.
// Disabled conditions are skipped, not evaluated.
type Condition struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Enabled  bool   `json:"enabled"`
}

// UnmarshalJSON defaults Enabled to true so configurations only mention the
// flag to switch a condition off.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type plain Condition
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Condition(p)
	return nil
}

// Group is an ordered list of conditions combined with AND or OR.
// An empty group (or one whose conditions are all disabled) evaluates to
// true: the destination is unconditional.
type Group struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// UnmarshalJSON defaults Logic to AND.
func (g *Group) UnmarshalJSON(data []byte) error {
	type plain Group
	p := plain{Logic: LogicAnd}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = Group(p)
	return nil
}

// Validate rejects groups that reference unknown logic or operators.
// Evaluation itself never errors; validation runs at config load.
func (g Group) Validate() error {
	switch g.Logic {
	case LogicAnd, LogicOr, "":
	default:
		return fmt.Errorf("unknown condition logic %q", g.Logic)
	}
	for i, c := range g.Conditions {
		if strings.TrimSpace(c.Variable) == "" {
			return fmt.Errorf("condition %d: variable must not be empty", i)
		}
		if _, ok := operatorMap[c.Operator]; !ok {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

// Lookup resolves variable names during evaluation. Going through an
// interface keeps short-circuiting observable: a lookup that is never made
// is a condition that was never evaluated.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// MapLookup adapts a plain context snapshot.
type MapLookup map[string]string

func (m MapLookup) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluate runs the group against the context.
//
// AND groups short-circuit on the first false condition, OR groups on the
// first true one. A variable absent from the context makes that single
// condition false; an absent value never satisfies any operator.
func Evaluate(g Group, vars Lookup) bool {
	logic := g.Logic
	if logic == "" {
		logic = LogicAnd
	}

	evaluated := 0
	for _, c := range g.Conditions {
		if !c.Enabled {
			continue
		}
		evaluated++
		ok := evalCondition(c, vars)
		if logic == LogicAnd && !ok {
			return false
		}
		if logic == LogicOr && ok {
			return true
		}
	}

	if evaluated == 0 {
		return true
	}
	return logic == LogicAnd
}

func evalCondition(c Condition, vars Lookup) bool {
	value, ok := vars.Lookup(c.Variable)
	if !ok {
		return false
	}
	op, ok := operatorMap[c.Operator]
	if !ok {
		return false
	}
	res, err := expr.Compare(value, op, c.Value)
	if err != nil {
		// Invalid data (e.g. a broken pattern) resolves to false,
		// never to an error.
		return false
	}
	return res
}
