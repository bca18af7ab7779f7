package loop

import (
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// Op is the loop operator. It implements graph.Op so its application is an
// ordinary multi-output node of the outer graph.
type Op struct {
	inner    []*graph.Node
	outputs  []*graph.Node
	cfg      Config
	nOthers  int
	compiled *graph.Function
}

var _ graph.Op = (*Op)(nil)

// New builds the operator from the per-step graph.
//
// The inner graph may only depend on innerInputs: a stateful cell reached
// directly from an inner output is rejected, since the operator would then
// mutate the outer cell instead of threading its value through the loop.
func New(innerInputs, innerOutputs []*graph.Node, cfg Config) (*Op, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fixed := cfg.NSeqs + cfg.NInnerRecurrentInputs() + cfg.NSharedOuts
	if len(innerInputs) < fixed {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"loop needs at least %d inner inputs, got %d", fixed, len(innerInputs))
	}
	if want := cfg.NInnerOutputs(); len(innerOutputs) != want {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"loop needs %d inner outputs, got %d", want, len(innerOutputs))
	}

	var placeholders []*graph.Node
	for _, in := range innerInputs {
		if in.Kind() == graph.KindInput {
			placeholders = append(placeholders, in)
		}
	}
	fn, err := graph.Compile(placeholders, innerOutputs, nil, cfg.Mode)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeGraph, "invalid per-step graph").WithCause(err).
			WithDetails(map[string]any{"loop": cfg.Name})
	}
	for _, in := range fn.Expanded {
		if in.Implicit {
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"per-step graph references stateful cell %s directly", in.Node).
				WithDetails(map[string]any{"loop": cfg.Name, "cell": in.Node.String()})
		}
	}

	return &Op{
		inner:    append([]*graph.Node(nil), innerInputs...),
		outputs:  append([]*graph.Node(nil), innerOutputs...),
		cfg:      cfg,
		nOthers:  len(innerInputs) - fixed,
		compiled: fn,
	}, nil
}

// Name returns "scan" or "scan{name}".
func (o *Op) Name() string {
	if o.cfg.Name != "" {
		return "scan{" + o.cfg.Name + "}"
	}
	return "scan"
}

// Config returns a copy of the operator's configuration.
func (o *Op) Config() Config { return o.cfg.Clone() }

// InnerInputs returns the per-step graph's formal parameters.
func (o *Op) InnerInputs() []*graph.Node { return append([]*graph.Node(nil), o.inner...) }

// InnerOutputs returns the per-step graph's results.
func (o *Op) InnerOutputs() []*graph.Node { return append([]*graph.Node(nil), o.outputs...) }

// NOuterInputs returns the length of the outer input list the operator expects.
func (o *Op) NOuterInputs() int {
	c := o.cfg
	return 1 + c.NSeqs + c.NMitMot + c.NMitSot + c.NSitSot + c.NSharedOuts + c.NNitSot + o.nOthers
}

// Apply applies the operator to the outer input list.
func (o *Op) Apply(outer ...*graph.Node) ([]*graph.Node, error) {
	return graph.ApplyOp(o, outer...)
}

// OutputTypes implements graph.Op.
func (o *Op) OutputTypes(in []graph.Type) ([]graph.Type, error) {
	if len(in) != o.NOuterInputs() {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"%s takes %d outer inputs, got %d", o.Name(), o.NOuterInputs(), len(in))
	}
	c := o.cfg
	if n := in[0]; n.DType != graph.Int64 || n.Rank() != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "%s: n_steps must be an integer scalar, got %s", o.Name(), n)
	}
	for i := 0; i < c.NSeqs; i++ {
		if in[1+i].Rank() == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeType, "%s: sequence %d is a scalar", o.Name(), i).WithIndex(i)
		}
	}

	var out []graph.Type
	pos := 1 + c.NSeqs
	for i := 0; i < c.NMitMot+c.NMitSot+c.NSitSot; i++ {
		t := in[pos+i]
		if t.Rank() == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeType, "%s: output buffer %d is a scalar", o.Name(), i).WithIndex(i)
		}
		out = append(out, t.OnHost().WithLead(graph.Unknown))
	}
	pos += c.NMitMot + c.NMitSot + c.NSitSot

	nitStart := c.NMitMotOuts + c.NMitSot + c.NSitSot
	for i := 0; i < c.NNitSot; i++ {
		row := o.outputs[nitStart+i].Type()
		out = append(out, graph.Type{DType: row.DType, Dims: append([]int{graph.Unknown}, row.Dims...)})
	}
	for i := 0; i < c.NSharedOuts; i++ {
		out = append(out, in[pos+i].OnHost())
	}
	return out, nil
}
