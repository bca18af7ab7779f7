package scan

import (
	"fmt"
	"slices"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// category is the class an output is sorted into by its tap pattern.
type category int

const (
	nitSot category = iota // no prior step read
	sitSot                 // taps == [-1]
	mitSot                 // any other list of past taps
)

func (c category) String() string {
	switch c {
	case sitSot:
		return "sit_sot"
	case mitSot:
		return "mit_sot"
	default:
		return "nit_sot"
	}
}

type seqSpec struct {
	index int
	input *graph.Node
	taps  []int
}

// outputSpec is an output with its category decided once.
type outputSpec struct {
	index       int
	kind        category
	initial     *graph.Node
	taps        []int
	returnSteps int
}

func normalizeSequences(seqs []Sequence) ([]seqSpec, error) {
	out := make([]seqSpec, 0, len(seqs))
	for i, s := range seqs {
		if s.Input == nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "sequence %d has no input", i).WithIndex(i)
		}
		if err := s.Input.Err(); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "sequence %d: %s", i, err.Error()).WithIndex(i).WithCause(err)
		}
		if s.Input.Type().Rank() == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"sequence %d (%s) has no leading axis to iterate over", i, s.Input).WithIndex(i)
		}
		taps := slices.Clone(s.Taps)
		if len(taps) == 0 {
			taps = []int{0}
		}
		out = append(out, seqSpec{index: i, input: s.Input, taps: taps})
	}
	return out, nil
}

func normalizeOutputs(infos []*OutputInfo, diags *schema.Diagnostics) ([]outputSpec, error) {
	out := make([]outputSpec, 0, len(infos))
	for i, info := range infos {
		spec := outputSpec{index: i, kind: nitSot}
		if info == nil {
			out = append(out, spec)
			continue
		}
		if info.ReturnSteps < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"output %d: return_steps must be >= 0, got %d", i, info.ReturnSteps).WithIndex(i)
		}
		spec.returnSteps = info.ReturnSteps

		switch {
		case info.Initial == nil && len(info.Taps) > 0:
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"output %d: slice used without an initial state; provide one to read taps %v", i, info.Taps).
				WithIndex(i).WithDetails(map[string]any{"taps": info.Taps})
		case info.Initial == nil:
			// map-style output that still asks for bounded history
		case len(info.Taps) == 0:
			if info.NoTaps {
				diags.AddWarning(fmt.Sprintf("outputs_info[%d]", i), schema.DiagTapsNoneWithInitial,
					fmt.Sprintf("output %s (index %d) has an initial state but taps is explicitly set to none; using [-1]",
						nodeName(info.Initial, "None"), i))
			}
			spec.initial, spec.taps, spec.kind = info.Initial, []int{-1}, sitSot
		default:
			spec.initial, spec.taps = info.Initial, slices.Clone(info.Taps)
			spec.kind = mitSot
			if len(spec.taps) == 1 && spec.taps[0] == -1 {
				spec.kind = sitSot
			}
		}
		if spec.initial != nil {
			if err := spec.initial.Err(); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeGraph, "output %d initial state: %s", i, err.Error()).
					WithIndex(i).WithCause(err)
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

func normalizeNonSequences(nodes []*graph.Node) ([]*graph.Node, error) {
	out := make([]*graph.Node, 0, len(nodes))
	for i, n := range nodes {
		if n == nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "non-sequence %d is nil", i).WithIndex(i)
		}
		if err := n.Err(); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "non-sequence %d: %s", i, err.Error()).WithIndex(i).WithCause(err)
		}
		out = append(out, n)
	}
	return out, nil
}

// checkBindings rejects a stateful cell given both as an initial state and as
// an explicit non-sequence.
func checkBindings(outs []outputSpec, nonSeqs []*graph.Node) error {
	for _, o := range outs {
		if o.initial == nil || !o.initial.IsShared() {
			continue
		}
		for j, ns := range nonSeqs {
			if ns == o.initial {
				return schema.NewErrorf(schema.ErrCodeConfiguration,
					"stateful cell %s is both the initial state of output %d and non-sequence %d",
					o.initial, o.index, j).WithIndex(o.index).
					WithDetails(map[string]any{"cell": o.initial.String(), "non_sequence": j})
			}
		}
	}
	return nil
}

func nodeName(n *graph.Node, fallback string) string {
	if n == nil || n.Name() == "" {
		return fallback
	}
	return n.Name()
}
