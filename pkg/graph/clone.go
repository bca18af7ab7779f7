package graph

// Clone rebuilds the subgraph computing outputs with every node found in
// replace substituted by its replacement. Nodes whose ancestry contains no
// replaced node are shared with the original graph. Ops are re-applied to the
// new inputs, so replacements must be type compatible.
func Clone(outputs []*Node, replace map[*Node]*Node) []*Node {
	done := make(map[*Node]*Node)
	rebuilt := make(map[*Apply][]*Node)

	var clone func(n *Node) *Node
	clone = func(n *Node) *Node {
		if r, ok := replace[n]; ok {
			return r
		}
		if r, ok := done[n]; ok {
			return r
		}
		app := n.owner
		if app == nil {
			done[n] = n
			return n
		}
		outs, ok := rebuilt[app]
		if !ok {
			changed := false
			inputs := make([]*Node, len(app.Inputs))
			for i, in := range app.Inputs {
				inputs[i] = clone(in)
				changed = changed || inputs[i] != in
			}
			if !changed {
				outs = app.Outputs
			} else if newOuts, err := ApplyOp(app.Op, inputs...); err != nil {
				outs = make([]*Node, len(app.Outputs))
				for i := range outs {
					outs[i] = errNode(err)
				}
			} else {
				for i, o := range newOuts {
					o.name = app.Outputs[i].name
				}
				outs = newOuts
			}
			rebuilt[app] = outs
		}
		done[n] = outs[n.index]
		return done[n]
	}

	cloned := make([]*Node, len(outputs))
	for i, out := range outputs {
		cloned[i] = clone(out)
	}
	return cloned
}
