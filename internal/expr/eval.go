package expr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Incrementer is the durable counter side channel used by AUTOINCREMENT.
// It is the one documented exception to "expressions are side-effect-free":
// each evaluation allocates and persists exactly one value, so callers must
// not re-evaluate a template containing AUTOINCREMENT more than once per
// logical render.
type Incrementer interface {
	Increment(ctx context.Context, name string, start, step int64) (int64, error)
}

// Options configures an evaluation.
type Options struct {
	// Now supplies the reference instant for FORMATDATE and friends.
	// Nil means time.Now; tests inject a fixed clock.
	Now func() time.Time

	// Counters backs AUTOINCREMENT. Nil makes AUTOINCREMENT an EvalError.
	Counters Incrementer
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Result is a rendered template plus any non-fatal warnings (unresolved
// variables). Naming expressions degrade gracefully: a missing variable
// renders empty rather than failing the render.
type Result struct {
	Value    string
	Warnings []string
}

// Eval renders the template against an immutable context snapshot.
func (t *Template) Eval(ctx context.Context, vars map[string]string, opts Options) (Result, error) {
	st := &evalState{ctx: ctx, vars: vars, opts: opts}
	v, err := st.evalNodes(t.Nodes)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Warnings: st.warnings}, nil
}

// Render is the parse-then-eval convenience used by one-shot callers such
// as `hotfold render`.
func Render(ctx context.Context, src string, vars map[string]string, opts Options) (Result, error) {
	t, err := Parse(src)
	if err != nil {
		return Result{}, err
	}
	return t.Eval(ctx, vars, opts)
}

type evalState struct {
	ctx      context.Context
	vars     map[string]string
	opts     Options
	warnings []string
}

func (st *evalState) evalNodes(nodes []Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		switch n := n.(type) {
		case Literal:
			b.WriteString(n.Text)
		case Var:
			v, ok := st.vars[n.Name]
			if !ok {
				st.warnings = append(st.warnings, fmt.Sprintf("unresolved variable <%s>", n.Name))
				continue
			}
			b.WriteString(v)
		case Call:
			v, err := st.call(n)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		default:
			return "", fmt.Errorf("unexpected node type %T", n)
		}
	}
	return b.String(), nil
}

func (st *evalState) call(c Call) (string, error) {
	spec, ok := functions[c.Name]
	if !ok {
		// Unreachable for parsed templates; guards hand-built ASTs.
		return "", evalErrorf(c.Name, "unknown function")
	}

	if len(c.Args) < spec.minArgs {
		return "", evalErrorf(c.Name, "expects at least %d argument(s), got %d", spec.minArgs, len(c.Args))
	}
	if spec.maxArgs >= 0 && len(c.Args) > spec.maxArgs {
		return "", evalErrorf(c.Name, "expects at most %d argument(s), got %d", spec.maxArgs, len(c.Args))
	}

	// Arguments evaluate inside-out, each a full template of its own.
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		v, err := st.evalNodes(arg.Nodes)
		if err != nil {
			return "", err
		}
		args[i] = v
	}

	return spec.impl(st, args)
}
