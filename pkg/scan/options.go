package scan

import (
	"log/slog"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/loop"
	"github.com/rendis/scanop/pkg/schema"
)

// StepFunc is the per-step transformation. It receives the step's arguments in
// order: sequence taps (sequence order, tap order within each), output taps
// (outputs order, tap order within each), then the non-sequences.
//
// It returns the step's outputs, its stateful-cell updates, or both. Accepted
// shapes: *graph.Node, []*graph.Node, *graph.Updates, []graph.Update,
// map[*graph.Node]*graph.Node, or a two-element []any holding outputs and
// updates in either order.
type StepFunc func(args ...*graph.Node) (any, error)

// Sequence is an input iterated along its leading axis.
// Taps are relative offsets into the sequence; empty means [0].
type Sequence struct {
	Input *graph.Node
	Taps  []int
}

// Seq iterates over x one element per step.
func Seq(x *graph.Node) Sequence {
	return Sequence{Input: x}
}

// SeqTaps iterates over x reading the given offsets at every step.
func SeqTaps(x *graph.Node, taps ...int) Sequence {
	return Sequence{Input: x, Taps: taps}
}

// OutputInfo describes one output of the loop. A nil *OutputInfo declares a
// map-style output that does not feed back into the step.
type OutputInfo struct {
	// Initial is the initial state. With Taps [-1] it has the shape of one
	// step; with other taps it carries |min(Taps)| leading pre-steps.
	Initial *graph.Node
	// Taps lists the past steps the step reads. Empty with an initial state
	// means [-1].
	Taps []int
	// NoTaps records an explicit "no taps" request. Combined with an initial
	// state it is reported and ignored.
	NoTaps bool
	// ReturnSteps bounds the returned history: 0 returns all steps, 1 the last
	// step without the time axis, K > 1 the last K steps.
	ReturnSteps int
}

// Init declares a recurrent output that reads its previous step.
func Init(initial *graph.Node) *OutputInfo {
	return &OutputInfo{Initial: initial, Taps: []int{-1}}
}

// InitTaps declares a recurrent output that reads the given past steps.
func InitTaps(initial *graph.Node, taps ...int) *OutputInfo {
	return &OutputInfo{Initial: initial, Taps: taps}
}

// TestValueMode controls propagation of debug sample values to placeholders.
type TestValueMode string

const (
	// TestValuesOff skips debug sample values.
	TestValuesOff TestValueMode = "off"
	// TestValuesIgnore propagates samples and silently skips missing ones.
	TestValuesIgnore TestValueMode = "ignore"
	// TestValuesWarn propagates samples and reports the ones it cannot compute.
	TestValuesWarn TestValueMode = "warn"
)

// Options carries every argument of a construction call besides the step.
type Options struct {
	Sequences    []Sequence
	OutputsInfo  []*OutputInfo
	NonSequences []*graph.Node

	// NSteps is the trip count: nil, an integer, a float (NaN and ±Inf mean
	// absent), or an integer scalar *graph.Node.
	NSteps any

	// TruncateGradient is forwarded to the loop configuration; nil means -1.
	TruncateGradient *int
	GoBackwards      bool
	Mode             string
	Name             string

	TestValues  TestValueMode
	Diagnostics *schema.Diagnostics
	Logger      *slog.Logger

	// lastStep keeps only the final step of outputs found by the probe when
	// no output info was declared.
	lastStep bool
}

// Result is the outcome of a construction call.
type Result struct {
	// Outputs holds one node per declared output, in declaration order.
	Outputs []*graph.Node
	// Updates maps each stateful cell the step updates to its value after
	// the loop.
	Updates *graph.Updates

	// Op is the loop operator, nil when the trip count collapsed to one step.
	Op *loop.Op
	// Config is the operator's configuration, zero when collapsed.
	Config loop.Config
	// Outer is the operator's outer input list, nil when collapsed.
	Outer []*graph.Node
	// NSteps is the resolved trip count.
	NSteps *graph.Node

	Collapsed   bool
	Diagnostics *schema.Diagnostics
}

// Single returns the only output, or nil unless exactly one was produced.
func (r *Result) Single() *graph.Node {
	if r == nil || len(r.Outputs) != 1 {
		return nil
	}
	return r.Outputs[0]
}
