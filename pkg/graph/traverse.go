package graph

// Walk visits every node reachable from outputs exactly once, inputs before
// the nodes that consume them. Sibling order follows input order, so the
// visit order is stable for a given graph.
func Walk(outputs []*Node, visit func(*Node)) {
	seen := make(map[*Node]bool)
	seenApply := make(map[*Apply]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if app := n.owner; app != nil && !seenApply[app] {
			seenApply[app] = true
			for _, in := range app.Inputs {
				walk(in)
			}
		}
		visit(n)
	}
	for _, out := range outputs {
		walk(out)
	}
}

// Inputs returns the leaves (inputs, constants and stateful cells) the given
// outputs depend on, in discovery order.
func Inputs(outputs []*Node) []*Node {
	var leaves []*Node
	Walk(outputs, func(n *Node) {
		if n.owner == nil && n.err == nil {
			leaves = append(leaves, n)
		}
	})
	return leaves
}

// FreeInputs returns the placeholders among Inputs(outputs), skipping
// constants and stateful cells.
func FreeInputs(outputs []*Node) []*Node {
	var free []*Node
	for _, n := range Inputs(outputs) {
		if n.kind == KindInput {
			free = append(free, n)
		}
	}
	return free
}

// SharedInputs returns the stateful cells the outputs depend on.
func SharedInputs(outputs []*Node) []*Node {
	var cells []*Node
	for _, n := range Inputs(outputs) {
		if n.kind == KindShared {
			cells = append(cells, n)
		}
	}
	return cells
}

// Err returns the first construction error found among the outputs and
// everything they depend on.
func Err(outputs ...*Node) error {
	var first error
	Walk(outputs, func(n *Node) {
		if first == nil && n.err != nil {
			first = n.err
		}
	})
	return first
}
