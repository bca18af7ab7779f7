package stepexpr

import (
	"context"
	"maps"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/scan"
	"github.com/rendis/scanop/pkg/schema"
)

// Update is a textual update rule for a stateful cell.
type Update struct {
	Target string
	Expr   string
}

// Step is a textual step transformation. Params name the step's positional
// arguments; Outputs and Updates are expressions over the params and the
// global scope, params shadowing globals.
type Step struct {
	Params  []string
	Outputs []string
	Updates []Update
}

// Compile returns a StepFunc lowering the step with d each time it is invoked.
// Update targets must be stateful cells of globals.
func Compile(ctx context.Context, d Dialect, step Step, globals Scope) scan.StepFunc {
	return func(args ...*graph.Node) (any, error) {
		if len(args) != len(step.Params) {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"step declares %d params but is called with %d arguments", len(step.Params), len(args)).
				WithDetails(map[string]any{"params": step.Params})
		}
		scope := maps.Clone(globals)
		if scope == nil {
			scope = Scope{}
		}
		for i, p := range step.Params {
			scope[p] = args[i]
		}

		outs := make([]*graph.Node, 0, len(step.Outputs))
		for i, src := range step.Outputs {
			n, err := d.Lower(ctx, src, scope)
			if err != nil {
				return nil, withIndex(err, i)
			}
			if n.Name() == "" {
				n.SetName(src)
			}
			outs = append(outs, n)
		}
		if len(step.Updates) == 0 {
			return outs, nil
		}

		updates := make([]graph.Update, 0, len(step.Updates))
		for _, u := range step.Updates {
			target, ok := globals[u.Target]
			if !ok || target == nil {
				return nil, schema.NewErrorf(schema.ErrCodeNotFound, "update target %q is not defined", u.Target).
					WithDetails(map[string]any{"target": u.Target})
			}
			if !target.IsShared() {
				return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "update target %q is not a stateful cell", u.Target).
					WithDetails(map[string]any{"target": u.Target})
			}
			n, err := d.Lower(ctx, u.Expr, scope)
			if err != nil {
				return nil, err
			}
			updates = append(updates, graph.Update{Target: target, Expr: n})
		}
		return []any{outs, updates}, nil
	}
}

func withIndex(err error, i int) error {
	if se, ok := err.(*schema.ScanError); ok && se.Index < 0 {
		return se.WithIndex(i)
	}
	return err
}
