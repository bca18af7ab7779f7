package scan

import (
	"github.com/rendis/scanop/pkg/graph"
)

// trim drops a buffer's pre-step rows or keeps only the last returnSteps.
func trim(buf *graph.Node, offset, returnSteps int) *graph.Node {
	switch {
	case returnSteps > 1:
		return graph.Slice(buf, -returnSteps, graph.End)
	case returnSteps == 1:
		return graph.Index(buf, -1)
	case offset > 0:
		return graph.Slice(buf, offset, graph.End)
	default:
		return buf
	}
}

// unpack maps the operator's flat outputs back onto declaration order and
// collects the updates of stateful cells.
func unpack(c *classifier, asm *assembly) ([]*graph.Node, *graph.Updates) {
	nOuts := len(c.mit) + len(c.sit) + len(c.nit)
	ordered := make([]*graph.Node, nOuts)

	k := 0
	for _, r := range append(append([]*recurrent(nil), c.mit...), c.sit...) {
		ordered[r.spec.index] = trim(asm.outs[k], asm.offsets[k], r.spec.returnSteps)
		k++
	}
	for _, o := range c.nit {
		ordered[o.index] = trim(asm.outs[k], 0, o.returnSteps)
		k++
	}

	updates := graph.NewUpdates()
	for _, cell := range asm.shared {
		updates.Set(cell, asm.outs[k])
		k++
	}
	return ordered, updates
}

// padCollapsed gives each output of a single direct invocation the leading
// time axis the loop would have produced, except where only the last step
// was requested. Outputs without a spec use undeclared as their return_steps.
func padCollapsed(outputs []*graph.Node, specs []outputSpec, undeclared int) []*graph.Node {
	out := make([]*graph.Node, len(outputs))
	for i, o := range outputs {
		rs := undeclared
		if i < len(specs) {
			rs = specs[i].returnSteps
		}
		if rs == 1 {
			out[i] = o
			continue
		}
		out[i] = graph.PadLeft(o)
	}
	return out
}
