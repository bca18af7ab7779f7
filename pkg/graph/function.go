package graph

import (
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Mode names accepted by Compile. No optimizer exists yet, so both modes build
// the same evaluable unit; the mode is recorded for callers that forward it.
const (
	ModeUnoptimized = "unoptimized"
	ModeDefault     = "default"
)

// In is one entry of a Function's expanded input list.
type In struct {
	Node     *Node
	Implicit bool  // a stateful cell found in the graph, not passed explicitly
	Update   *Node // update rule; nil when the cell is only read
}

// Function is an evaluable unit over explicit inputs, outputs and updates.
type Function struct {
	Inputs   []*Node
	Outputs  []*Node
	Updates  *Updates
	Expanded []In
	Mode     string
}

// Compile validates the graph and builds a Function.
//
// Explicit inputs must be distinct placeholders. Every placeholder the outputs
// or update expressions depend on must be among them. Update targets must be
// stateful cells of a type compatible with their expression.
//
// Expanded lists the explicit inputs first, then every stateful cell touched
// by the outputs, the update expressions, or targeted by an update, in
// discovery order.
func Compile(inputs, outputs []*Node, updates *Updates, mode string) (*Function, error) {
	if mode == "" {
		mode = ModeDefault
	}
	explicit := make(map[*Node]bool, len(inputs))
	for i, in := range inputs {
		switch {
		case in == nil:
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "input %d is nil", i).WithIndex(i)
		case in.kind == KindShared:
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"stateful cell %s cannot be an explicit input", in).WithIndex(i)
		case in.kind != KindInput:
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"explicit input %s is a %s, not a placeholder", in, in.kind).WithIndex(i)
		case explicit[in]:
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "input %s given twice", in).WithIndex(i)
		}
		explicit[in] = true
	}

	all := append(append([]*Node(nil), outputs...), updates.Exprs()...)
	if err := Err(all...); err != nil {
		return nil, err
	}

	for _, u := range updates.Items() {
		if u.Target == nil || u.Target.kind != KindShared {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "update target %v is not a stateful cell", u.Target)
		}
		if u.Expr == nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "update of %s has no expression", u.Target)
		}
		if !u.Target.typ.OnHost().Compatible(u.Expr.typ.OnHost()) {
			return nil, schema.NewErrorf(schema.ErrCodeType,
				"update of %s has type %s, cell has type %s", u.Target, u.Expr.typ, u.Target.typ)
		}
	}

	fn := &Function{
		Inputs:  append([]*Node(nil), inputs...),
		Outputs: append([]*Node(nil), outputs...),
		Updates: updates,
		Mode:    mode,
	}
	for _, in := range inputs {
		fn.Expanded = append(fn.Expanded, In{Node: in})
	}

	seenCell := make(map[*Node]bool)
	addCell := func(c *Node) {
		if seenCell[c] {
			return
		}
		seenCell[c] = true
		upd, _ := updates.Get(c)
		fn.Expanded = append(fn.Expanded, In{Node: c, Implicit: true, Update: upd})
	}
	for _, leaf := range Inputs(all) {
		switch leaf.kind {
		case KindInput:
			if !explicit[leaf] {
				return nil, schema.NewErrorf(schema.ErrCodeGraph, "graph depends on input %s which was not provided", leaf).
					WithDetails(map[string]any{"input": leaf.String()})
			}
		case KindShared:
			addCell(leaf)
		}
	}
	for _, u := range updates.Items() {
		addCell(u.Target)
	}
	return fn, nil
}

// Call evaluates the outputs for the given argument values and then applies
// every update to its stateful cell.
func (f *Function) Call(args ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(args) != len(f.Inputs) {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "function takes %d arguments, got %d", len(f.Inputs), len(args))
	}
	givens := make(map[*Node]*tensor.Tensor, len(args))
	for i, in := range f.Inputs {
		givens[in] = args[i]
	}
	exprs := f.Updates.Exprs()
	vals, err := Evaluate(append(append([]*Node(nil), f.Outputs...), exprs...), givens)
	if err != nil {
		return nil, err
	}
	for i, u := range f.Updates.Items() {
		if err := u.Target.SetValue(vals[len(f.Outputs)+i]); err != nil {
			return nil, err
		}
	}
	return vals[:len(f.Outputs)], nil
}
