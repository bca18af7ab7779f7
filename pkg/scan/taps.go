package scan

import (
	"fmt"
	"slices"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// seqTap is one tap of one sequence: the placeholder the step reads and the
// window of the source that feeds it.
type seqTap struct {
	seq    int
	tap    int
	window *graph.Node
	inner  *graph.Node
	actual *graph.Node // window[0], the argument when the loop collapses
}

// recurrent is one sit_sot or mit_sot output.
type recurrent struct {
	spec   outputSpec
	inner  []*graph.Node // one placeholder per tap
	actual []*graph.Node // the initial slices, used when the loop collapses
	offset int           // pre-step rows at the head of the buffer
	buffer *graph.Node
}

// classifier builds placeholders and outer buffers per category. Entries keep
// the relative order in which outputs were declared; spec.index is the
// original position.
type classifier struct {
	testValues TestValueMode
	diags      *schema.Diagnostics

	seqs []seqTap
	mit  []*recurrent
	sit  []*recurrent
	nit  []outputSpec
}

func newClassifier(mode TestValueMode, diags *schema.Diagnostics) *classifier {
	if mode == "" {
		mode = TestValuesOff
	}
	return &classifier{testValues: mode, diags: diags}
}

// addSequences creates one placeholder and one window per sequence tap.
//
// For taps with mintap and maxtap the window for tap k is
// source[offset+k-mintap : len-(maxtap-k)], where offset is |maxtap| when all
// taps are negative, so that row i of every window is what step i reads.
func (c *classifier) addSequences(seqs []seqSpec, backwards bool) error {
	for _, s := range seqs {
		mintap, maxtap := slices.Min(s.taps), slices.Max(s.taps)
		offset := 0
		if maxtap < 0 {
			offset = -maxtap
		}
		for _, k := range s.taps {
			start := offset + k - mintap
			stop := graph.End
			if maxtap-k != 0 {
				stop = -(maxtap - k)
			}
			window := graph.Slice(s.input, start, stop)
			if backwards {
				window = graph.Reverse(window)
			}
			if name := s.input.Name(); name != "" {
				window.SetName(fmt.Sprintf("%s[%d:]", name, start))
			}
			if err := window.Err(); err != nil {
				return schema.NewErrorf(schema.ErrCodeGraph, "sequence %d: %s", s.index, err.Error()).
					WithIndex(s.index).WithCause(err)
			}
			step, err := window.Type().Step()
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeConfiguration, "sequence %d: %s", s.index, err.Error()).
					WithIndex(s.index).WithCause(err)
			}
			inner := graph.Input(tapName(s.input, k), step.OnHost())
			actual := graph.Index(window, 0)
			c.transferTestValue(inner, actual, fmt.Sprintf("sequences[%d]", s.index))
			c.seqs = append(c.seqs, seqTap{seq: s.index, tap: k, window: window, inner: inner, actual: actual})
		}
	}
	return nil
}

// windows returns the outer windowed sequences in tap order.
func (c *classifier) windows() []*graph.Node {
	out := make([]*graph.Node, len(c.seqs))
	for i, s := range c.seqs {
		out[i] = s.window
	}
	return out
}

// addOutputs sorts outputs into categories and allocates the buffers of
// recurrent ones for nSteps steps.
func (c *classifier) addOutputs(outs []outputSpec, nSteps *graph.Node) error {
	for _, o := range outs {
		switch o.kind {
		case sitSot:
			r := &recurrent{spec: o, offset: 1}
			inner := graph.Input(tapName(o.initial, -1), o.initial.Type().OnHost())
			c.transferTestValue(inner, o.initial, fmt.Sprintf("outputs_info[%d]", o.index))
			r.inner = []*graph.Node{inner}
			r.actual = []*graph.Node{o.initial}
			r.buffer = graph.Expand(graph.PadLeft(o.initial), nSteps)
			c.sit = append(c.sit, r)
		case mitSot:
			r, err := c.mitSot(o, nSteps)
			if err != nil {
				return err
			}
			c.mit = append(c.mit, r)
		default:
			c.nit = append(c.nit, o)
		}
	}
	return nil
}

func (c *classifier) mitSot(o outputSpec, nSteps *graph.Node) (*recurrent, error) {
	for _, t := range o.taps {
		if t > 0 {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"output %d: future taps of outputs are not computable (tap %d)", o.index, t).
				WithIndex(o.index).WithDetails(map[string]any{"taps": o.taps})
		}
	}
	mintap := -slices.Min(o.taps)
	typ := o.initial.Type()
	step, err := typ.Step()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"output %d: initial state for taps %v needs a leading axis of %d steps, got %s",
			o.index, o.taps, mintap, typ).WithIndex(o.index).WithCause(err)
	}
	if lead := typ.Lead(); lead != graph.Unknown && lead < mintap {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"output %d: initial state has %d steps, taps %v need %d", o.index, lead, o.taps, mintap).
			WithIndex(o.index)
	}

	r := &recurrent{spec: o, offset: mintap}
	for _, k := range o.taps {
		inner := graph.Input(tapName(o.initial, k), step.OnHost())
		actual := graph.Index(o.initial, k+mintap)
		c.transferTestValue(inner, actual, fmt.Sprintf("outputs_info[%d]", o.index))
		r.inner = append(r.inner, inner)
		r.actual = append(r.actual, actual)
	}
	r.buffer = graph.Expand(graph.Slice(o.initial, 0, mintap), nSteps)
	return r, nil
}

// stepArgs returns the step's positional arguments: sequence taps, then
// output taps in declaration order, then non-sequences. With collapsed set
// the actual slices replace the placeholders.
func (c *classifier) stepArgs(nonSeqs []*graph.Node, collapsed bool) []*graph.Node {
	var args []*graph.Node
	for _, s := range c.seqs {
		if collapsed {
			args = append(args, s.actual)
		} else {
			args = append(args, s.inner)
		}
	}
	for _, r := range c.recurrentByIndex() {
		if collapsed {
			args = append(args, r.actual...)
		} else {
			args = append(args, r.inner...)
		}
	}
	return append(args, nonSeqs...)
}

func (c *classifier) recurrentByIndex() []*recurrent {
	all := append(slices.Clone(c.mit), c.sit...)
	slices.SortFunc(all, func(a, b *recurrent) int { return a.spec.index - b.spec.index })
	return all
}

// tapArray is the tap table of the recurrent entries: mit_sot then sit_sot.
func (c *classifier) tapArray() [][]int {
	var taps [][]int
	for _, r := range c.mit {
		taps = append(taps, slices.Clone(r.spec.taps))
	}
	for range c.sit {
		taps = append(taps, []int{-1})
	}
	return taps
}

// declare replaces the output list when none was declared: every output the
// step returned becomes map-style, returning returnSteps steps.
func (c *classifier) declare(n, returnSteps int) {
	for i := range n {
		c.nit = append(c.nit, outputSpec{index: i, kind: nitSot, returnSteps: returnSteps})
	}
}

func (c *classifier) transferTestValue(inner, source *graph.Node, path string) {
	if c.testValues == TestValuesOff {
		return
	}
	v, err := graph.TestValue(source)
	if err == nil {
		inner.SetTestValue(v)
		return
	}
	if c.testValues != TestValuesIgnore {
		c.diags.AddInfo(path, schema.DiagTestValueMissing,
			fmt.Sprintf("cannot compute test value for %s, input value missing: %s", nodeName(inner, "placeholder"), err.Error()))
	}
}

// tapName names the placeholder for tap k of x: x[t], x[t+2], x[t-1].
func tapName(x *graph.Node, k int) string {
	name := x.Name()
	if name == "" {
		return ""
	}
	switch {
	case k > 0:
		return fmt.Sprintf("%s[t+%d]", name, k)
	case k == 0:
		return name + "[t]"
	default:
		return fmt.Sprintf("%s[t%d]", name, k)
	}
}
