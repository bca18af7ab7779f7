package graph

import "github.com/rendis/scanop/pkg/tensor"

// ConstantValue folds n into a literal when it depends only on constants and
// on statically known lengths.
func ConstantValue(n *Node) (*tensor.Tensor, bool) {
	return foldNode(n, make(map[*Node]*tensor.Tensor))
}

// ConstantInt folds n into a compile-time-known integer scalar.
func ConstantInt(n *Node) (int, bool) {
	if n == nil || n.err != nil || n.typ.Rank() != 0 {
		return 0, false
	}
	v, ok := ConstantValue(n)
	if !ok {
		return 0, false
	}
	i, err := v.Int()
	if err != nil {
		return 0, false
	}
	return i, true
}

func foldNode(n *Node, memo map[*Node]*tensor.Tensor) (*tensor.Tensor, bool) {
	if v, ok := memo[n]; ok {
		return v, v != nil
	}
	memo[n] = nil
	var v *tensor.Tensor
	switch {
	case n.err != nil:
	case n.kind == KindConstant:
		v = n.value
	case n.owner != nil:
		v = foldApply(n, memo)
	}
	memo[n] = v
	return v, v != nil
}

func foldApply(n *Node, memo map[*Node]*tensor.Tensor) *tensor.Tensor {
	app := n.owner
	if _, ok := app.Op.(lengthOp); ok {
		if lead := app.Inputs[0].typ.Lead(); lead != Unknown {
			return tensor.Scalar(float64(lead))
		}
	}
	vals := make([]*tensor.Tensor, len(app.Inputs))
	for i, in := range app.Inputs {
		v, ok := foldNode(in, memo)
		if !ok {
			return nil
		}
		vals[i] = v
	}
	outs, err := app.Op.Eval(vals)
	if err != nil || n.index >= len(outs) {
		return nil
	}
	return outs[n.index]
}
