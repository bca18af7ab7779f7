package graph

import (
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Evaluate computes the values of outputs. Every free input reached must be
// bound in givens; stateful cells use their current value unless bound there.
func Evaluate(outputs []*Node, givens map[*Node]*tensor.Tensor) ([]*tensor.Tensor, error) {
	ev := &evaluator{givens: givens, applied: make(map[*Apply][]*tensor.Tensor)}
	vals := make([]*tensor.Tensor, len(outputs))
	for i, out := range outputs {
		v, err := ev.eval(out)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

type evaluator struct {
	givens  map[*Node]*tensor.Tensor
	applied map[*Apply][]*tensor.Tensor
}

func (ev *evaluator) eval(n *Node) (*tensor.Tensor, error) {
	if v, ok := ev.givens[n]; ok {
		return v, nil
	}
	if n.err != nil {
		return nil, n.err
	}
	switch n.kind {
	case KindConstant, KindShared:
		return n.Value(), nil
	case KindInput:
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "missing value for input %s", n).
			WithDetails(map[string]any{"input": n.String(), "type": n.typ.String()})
	}

	app := n.owner
	if outs, ok := ev.applied[app]; ok {
		return outs[n.index], nil
	}
	args := make([]*tensor.Tensor, len(app.Inputs))
	for i, in := range app.Inputs {
		v, err := ev.eval(in)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	outs, err := app.Op.Eval(args)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeEvaluation) || schema.IsCode(err, schema.ErrCodeGraph) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s: %s", app.Op.Name(), err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"op": app.Op.Name()})
	}
	if len(outs) != len(app.Outputs) {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s produced %d values, want %d",
			app.Op.Name(), len(outs), len(app.Outputs))
	}
	ev.applied[app] = outs
	return outs[n.index], nil
}

// TestValue computes the debug sample of n from the samples of the leaves it
// depends on. Constants and stateful cells use their values.
func TestValue(n *Node) (*tensor.Tensor, error) {
	if n.test != nil {
		return n.test, nil
	}
	givens := make(map[*Node]*tensor.Tensor)
	for _, leaf := range Inputs([]*Node{n}) {
		if leaf.test != nil {
			givens[leaf] = leaf.test
		}
	}
	vals, err := Evaluate([]*Node{n}, givens)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}
