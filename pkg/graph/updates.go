package graph

// Update pairs a stateful cell with the expression of its next value.
type Update struct {
	Target *Node
	Expr   *Node
}

// Updates is an insertion-ordered association from stateful cells to update
// expressions. Setting an existing target replaces its expression in place.
// A nil *Updates behaves as empty.
type Updates struct {
	items []Update
	index map[*Node]int
}

// NewUpdates builds an association from pairs, later pairs winning.
func NewUpdates(pairs ...Update) *Updates {
	u := &Updates{}
	for _, p := range pairs {
		u.Set(p.Target, p.Expr)
	}
	return u
}

// Set records expr as the update of target.
func (u *Updates) Set(target, expr *Node) {
	if u.index == nil {
		u.index = make(map[*Node]int)
	}
	if i, ok := u.index[target]; ok {
		u.items[i].Expr = expr
		return
	}
	u.index[target] = len(u.items)
	u.items = append(u.items, Update{Target: target, Expr: expr})
}

// Get returns the update expression registered for target.
func (u *Updates) Get(target *Node) (*Node, bool) {
	if u == nil {
		return nil, false
	}
	i, ok := u.index[target]
	if !ok {
		return nil, false
	}
	return u.items[i].Expr, true
}

// Len returns the number of registered updates.
func (u *Updates) Len() int {
	if u == nil {
		return 0
	}
	return len(u.items)
}

// Items returns the updates in insertion order.
func (u *Updates) Items() []Update {
	if u == nil {
		return nil
	}
	return append([]Update(nil), u.items...)
}

// Exprs returns the update expressions in insertion order.
func (u *Updates) Exprs() []*Node {
	if u == nil {
		return nil
	}
	exprs := make([]*Node, len(u.items))
	for i, it := range u.items {
		exprs[i] = it.Expr
	}
	return exprs
}
