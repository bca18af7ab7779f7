package scan

import (
	"cmp"
	"errors"
	"slices"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// splitResult separates what a StepFunc returned into outputs and updates.
func splitResult(raw any) ([]*graph.Node, *graph.Updates, error) {
	if pair, ok := raw.([]any); ok {
		switch len(pair) {
		case 0:
			return nil, nil, nil
		case 2:
			if isUpdates(pair[0]) && !isUpdates(pair[1]) {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if isUpdates(pair[1]) && !isUpdates(pair[0]) {
				outs, err := asOutputs(pair[0])
				if err != nil {
					return nil, nil, err
				}
				upd, err := asUpdates(pair[1])
				if err != nil {
					return nil, nil, err
				}
				return outs, upd, nil
			}
		}
		outs := make([]*graph.Node, 0, len(pair))
		for i, v := range pair {
			n, ok := v.(*graph.Node)
			if !ok {
				return nil, nil, schema.NewErrorf(schema.ErrCodeConfiguration,
					"step returned %T at position %d; expected outputs and/or updates", v, i).WithIndex(i)
			}
			outs = append(outs, n)
		}
		return outs, nil, nil
	}
	if isUpdates(raw) {
		upd, err := asUpdates(raw)
		return nil, upd, err
	}
	outs, err := asOutputs(raw)
	return outs, nil, err
}

func isUpdates(v any) bool {
	switch v.(type) {
	case *graph.Updates, []graph.Update, map[*graph.Node]*graph.Node:
		return true
	}
	return false
}

func asOutputs(v any) ([]*graph.Node, error) {
	switch o := v.(type) {
	case nil:
		return nil, nil
	case *graph.Node:
		if o == nil {
			return nil, nil
		}
		return []*graph.Node{o}, nil
	case []*graph.Node:
		for i, n := range o {
			if n == nil {
				return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "step output %d is nil", i).WithIndex(i)
			}
		}
		return slices.Clone(o), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "step returned unsupported outputs of type %T", v)
	}
}

func asUpdates(v any) (*graph.Updates, error) {
	switch u := v.(type) {
	case *graph.Updates:
		return graph.NewUpdates(u.Items()...), nil
	case []graph.Update:
		return graph.NewUpdates(u...), nil
	case map[*graph.Node]*graph.Node:
		pairs := make([]graph.Update, 0, len(u))
		for target, expr := range u {
			pairs = append(pairs, graph.Update{Target: target, Expr: expr})
		}
		// map order is random; keep the association deterministic
		slices.SortFunc(pairs, func(a, b graph.Update) int {
			if c := cmp.Compare(a.Target.Name(), b.Target.Name()); c != 0 {
				return c
			}
			return cmp.Compare(a.Target.ID(), b.Target.ID())
		})
		return graph.NewUpdates(pairs...), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "step returned unsupported updates of type %T", v)
}

// callStep invokes fn and checks that everything it built is well formed.
func callStep(fn StepFunc, args []*graph.Node) ([]*graph.Node, *graph.Updates, error) {
	raw, err := fn(args...)
	if err != nil {
		var se *schema.ScanError
		if errors.As(err, &se) {
			return nil, nil, err
		}
		return nil, nil, schema.NewErrorf(schema.ErrCodeGraph, "step function failed: %s", err.Error()).WithCause(err)
	}
	outs, updates, err := splitResult(raw)
	if err != nil {
		return nil, nil, err
	}
	for _, u := range updates.Items() {
		if u.Target == nil || !u.Target.IsShared() {
			return nil, nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"update target %v is not a stateful cell", u.Target)
		}
		if u.Expr == nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeConfiguration, "update of %s has no expression", u.Target)
		}
	}
	if err := graph.Err(append(slices.Clone(outs), updates.Exprs()...)...); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeGraph, "step graph is invalid: %s", err.Error()).WithCause(err)
	}
	if updates == nil {
		updates = graph.NewUpdates()
	}
	return outs, updates, nil
}

// probeResult is what one traced invocation of the step reveals.
type probeResult struct {
	// extra lists placeholders the step reached that were not arguments.
	extra []*graph.Node
	// shared lists stateful cells with an update rule, in discovery order.
	shared []graph.Update
	// readOnly lists stateful cells only read.
	readOnly []*graph.Node
	nOutputs int
}

// probe compiles the step's graph into a throwaway unoptimized function and
// reads its expanded inputs. Non-placeholder arguments are cut off first so
// that only what the step itself reaches is discovered.
func probe(args, outputs []*graph.Node, updates *graph.Updates) (*probeResult, error) {
	isArg := make(map[*graph.Node]bool, len(args))
	for _, a := range args {
		isArg[a] = true
	}

	roots := append(slices.Clone(outputs), updates.Exprs()...)
	res := &probeResult{extra: freeInputsBelow(roots, isArg), nOutputs: len(outputs)}

	cut := make(map[*graph.Node]*graph.Node)
	var inputs []*graph.Node
	seen := make(map[*graph.Node]bool)
	for _, a := range append(slices.Clone(args), res.extra...) {
		if seen[a] {
			continue
		}
		seen[a] = true
		switch a.Kind() {
		case graph.KindInput:
			inputs = append(inputs, a)
		case graph.KindResult:
			stand := graph.Like(a, a.Name())
			cut[a] = stand
			inputs = append(inputs, stand)
		}
	}

	traced := graph.Clone(roots, cut)
	tracedUpdates := graph.NewUpdates()
	for i, u := range updates.Items() {
		tracedUpdates.Set(u.Target, traced[len(outputs)+i])
	}
	fn, err := graph.Compile(inputs, traced[:len(outputs)], tracedUpdates, graph.ModeUnoptimized)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "cannot trace step: %s", err.Error()).WithCause(err)
	}

	for _, in := range fn.Expanded {
		if !in.Implicit {
			continue
		}
		if expr, ok := updates.Get(in.Node); ok {
			res.shared = append(res.shared, graph.Update{Target: in.Node, Expr: expr})
		} else {
			res.readOnly = append(res.readOnly, in.Node)
		}
	}
	return res, nil
}

// freeInputsBelow returns the placeholders reachable from roots without
// passing through a node in stop, in stable discovery order.
func freeInputsBelow(roots []*graph.Node, stop map[*graph.Node]bool) []*graph.Node {
	var free []*graph.Node
	seen := make(map[*graph.Node]bool)
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		if n == nil || seen[n] || stop[n] {
			return
		}
		seen[n] = true
		if app := n.Owner(); app != nil {
			for _, in := range app.Inputs {
				walk(in)
			}
			return
		}
		if n.Kind() == graph.KindInput {
			free = append(free, n)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return free
}
