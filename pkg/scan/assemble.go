package scan

import (
	"slices"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/loop"
	"github.com/rendis/scanop/pkg/schema"
)

// assembly is the canonical loop built from the classified entries and the
// probe: the operator, its outer input list and its outer outputs.
type assembly struct {
	op      *loop.Op
	cfg     loop.Config
	outer   []*graph.Node
	outs    []*graph.Node
	shared  []*graph.Node // outer cells updated by the loop, in shared order
	offsets []int         // pre-step rows of each recurrent buffer
}

type assembleInput struct {
	c        *classifier
	pr       *probeResult
	nonSeqs  []*graph.Node // declared non-sequences followed by discovered ones
	outputs  []*graph.Node // what the step returned, in declaration order
	nSteps   *graph.Node
	backward bool
	opts     Options
}

func assemble(in assembleInput) (*assembly, error) {
	c, pr := in.c, in.pr
	givens := make(map[*graph.Node]*graph.Node)

	var innerOuts []*graph.Node
	for _, r := range c.mit {
		innerOuts = append(innerOuts, in.outputs[r.spec.index])
	}
	for _, r := range c.sit {
		innerOuts = append(innerOuts, in.outputs[r.spec.index])
	}
	for _, o := range c.nit {
		innerOuts = append(innerOuts, in.outputs[o.index])
	}

	asm := &assembly{}
	var sharedInner []*graph.Node
	for _, u := range pr.shared {
		copied := graph.Like(u.Target, copyName(u.Target))
		givens[u.Target] = copied
		sharedInner = append(sharedInner, copied)
		asm.shared = append(asm.shared, u.Target)
		innerOuts = append(innerOuts, u.Expr)
	}

	var otherInner, otherOuter []*graph.Node
	for _, ns := range in.nonSeqs {
		if ns.IsShared() {
			continue
		}
		copied := copyOf(ns)
		givens[ns] = copied
		otherInner = append(otherInner, copied)
		otherOuter = append(otherOuter, ns)
	}
	var readInner []*graph.Node
	for _, cell := range pr.readOnly {
		copied := graph.Like(cell, copyName(cell))
		givens[cell] = copied
		readInner = append(readInner, copied)
	}

	innerIns := make([]*graph.Node, 0, len(c.seqs))
	for _, s := range c.seqs {
		innerIns = append(innerIns, s.inner)
	}
	for _, r := range c.mit {
		innerIns = append(innerIns, r.inner...)
	}
	for _, r := range c.sit {
		innerIns = append(innerIns, r.inner...)
	}
	innerIns = append(innerIns, sharedInner...)
	innerIns = append(innerIns, readInner...)
	innerIns = append(innerIns, otherInner...)

	innerOuts = graph.Clone(innerOuts, givens)
	if err := graph.Err(innerOuts...); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "cannot rebuild step graph: %s", err.Error()).WithCause(err)
	}
	for i, r := range append(slices.Clone(c.mit), c.sit...) {
		if got, want := innerOuts[i].Type(), r.inner[0].Type(); !sameDims(got, want) {
			return nil, schema.NewErrorf(schema.ErrCodeType,
				"output %d: step returns %s but its recurrent state is %s", r.spec.index, got, want).
				WithIndex(r.spec.index)
		}
	}

	trunc := -1
	if in.opts.TruncateGradient != nil {
		trunc = *in.opts.TruncateGradient
	}
	asm.cfg = loop.Config{
		TapArray:         c.tapArray(),
		NSeqs:            len(c.seqs),
		NMitSot:          len(c.mit),
		NSitSot:          len(c.sit),
		NSharedOuts:      len(pr.shared),
		NNitSot:          len(c.nit),
		TruncateGradient: trunc,
		GoBackwards:      in.backward,
		Name:             in.opts.Name,
		Mode:             in.opts.Mode,
	}
	op, err := loop.New(innerIns, innerOuts, asm.cfg)
	if err != nil {
		return nil, err
	}
	asm.op = op

	outer := []*graph.Node{in.nSteps}
	outer = append(outer, c.windows()...)
	for _, r := range c.mit {
		outer = append(outer, r.buffer)
		asm.offsets = append(asm.offsets, r.offset)
	}
	for _, r := range c.sit {
		outer = append(outer, r.buffer)
		asm.offsets = append(asm.offsets, r.offset)
	}
	outer = append(outer, asm.shared...)
	for range c.nit {
		outer = append(outer, in.nSteps)
	}
	outer = append(outer, pr.readOnly...)
	outer = append(outer, otherOuter...)
	for i, n := range outer {
		outer[i] = graph.ToHost(n)
	}
	asm.outer = outer

	asm.outs, err = op.Apply(outer...)
	if err != nil {
		return nil, err
	}
	return asm, nil
}

// copyOf returns the inner stand-in for an outer non-sequence: constants are
// cloned, anything else becomes a fresh placeholder of the same type.
func copyOf(n *graph.Node) *graph.Node {
	if n.IsConstant() {
		c := graph.Constant(n.Value(), n.Type().DType)
		c.SetName(n.Name())
		return c
	}
	return graph.Like(n, copyName(n))
}

func copyName(n *graph.Node) string {
	if n.Name() == "" {
		return ""
	}
	return n.Name() + "_copy"
}

func sameDims(a, b graph.Type) bool {
	if a.Rank() != b.Rank() {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i] != graph.Unknown && b.Dims[i] != graph.Unknown && a.Dims[i] != b.Dims[i] {
			return false
		}
	}
	return true
}
