// Package expr implements the template language used for export paths,
// filenames, mail fields and condition values.
//
// A template interleaves literal text, <Variable> references and
// FUNCTION(arg, ...) calls. Arguments are themselves templates, so calls
// and variable references nest arbitrarily:
//
//	<FileName>_TOUPPER(LEFT(<Customer>, 3))_FORMATDATE("yyyymmdd")
//
// Parsing produces an explicit AST which a tree-walking evaluator runs
// against an immutable per-job context snapshot. Evaluation is pure except
// for AUTOINCREMENT, which allocates from the durable counter store.
package expr

// Node is one element of a parsed template.
type Node interface {
	node()
}

// Literal is a run of plain text copied verbatim into the output.
type Literal struct {
	Text string
}

// Var is a <Name> context reference. An unresolved variable evaluates to
// the empty string and records a warning; it is never a hard error here
// (conditions treat absence differently, see internal/condition).
type Var struct {
	Name string
}

// Call is a FUNCTION(arg, ...) invocation. Each argument is a full
// template of its own.
type Call struct {
	Name string
	Args []*Template
	pos  int // byte offset in the source, for error messages
}

// Template is a parsed expression: an ordered sequence of nodes.
type Template struct {
	Source string
	Nodes  []Node
}

func (Literal) node() {}
func (Var) node()     {}
func (Call) node()    {}

// Vars returns the names of all variables the template references,
// including those nested in call arguments, in first-appearance order.
// Used by `hotfold validate` to report unknown variables up front.
func (t *Template) Vars() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			switch n := n.(type) {
			case Var:
				if _, ok := seen[n.Name]; !ok {
					seen[n.Name] = struct{}{}
					out = append(out, n.Name)
				}
			case Call:
				for _, arg := range n.Args {
					walk(arg.Nodes)
				}
			}
		}
	}
	walk(t.Nodes)
	return out
}

// HasCall reports whether the template (or any nested argument) calls the
// named function. The export engine uses HasCall("AUTOINCREMENT") to make
// sure counter-allocating expressions are rendered exactly once.
func (t *Template) HasCall(name string) bool {
	var walk func(nodes []Node) bool
	walk = func(nodes []Node) bool {
		for _, n := range nodes {
			if c, ok := n.(Call); ok {
				if c.Name == name {
					return true
				}
				for _, arg := range c.Args {
					if walk(arg.Nodes) {
						return true
					}
				}
			}
		}
		return false
	}
	return walk(t.Nodes)
}
