// Package scan builds the symbolic representation of a bounded loop over a
// computation graph.
//
// Scan classifies the loop's sequences and outputs by their taps, invokes the
// step once over placeholders to discover the stateful cells and free inputs
// it reaches, and rebuilds a canonical per-step graph for the loop operator.
// Its result is a graph fragment plus the update map of every stateful cell
// the step writes. Nothing is executed.
//
// Output categories:
//
//	sit_sot  taps == [-1]         initial state has the shape of one step
//	mit_sot  other past taps      initial state carries |min(taps)| pre-steps
//	nit_sot  no taps              map-style, nothing is fed back
//	shared   stateful cells with an update rule found by the probe
package scan

import (
	"context"
	"log/slog"

	"github.com/rendis/scanop/internal/logging"
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// Scan builds a loop running fn over the given sequences and outputs.
func Scan(fn StepFunc, opts Options) (*Result, error) {
	return ScanContext(context.Background(), fn, opts)
}

// ScanContext is Scan with a context for log correlation.
func ScanContext(ctx context.Context, fn StepFunc, opts Options) (*Result, error) {
	if fn == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "scan needs a step function")
	}
	diags := opts.Diagnostics
	if diags == nil {
		diags = &schema.Diagnostics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx = logging.StartCall(ctx, opts.Name)
	logger = logging.LogWith(ctx, logger)

	res, err := build(ctx, logger, fn, opts, diags)
	if err != nil {
		logger.DebugContext(ctx, "scan construction failed", slog.String("error", err.Error()))
		return nil, err
	}
	res.Diagnostics = diags
	for _, w := range diags.Warnings {
		logger.WarnContext(ctx, w.Message, slog.String("code", w.Code), slog.String("path", w.Path))
	}
	return res, nil
}

func build(ctx context.Context, logger *slog.Logger, fn StepFunc, opts Options, diags *schema.Diagnostics) (*Result, error) {
	seqs, err := normalizeSequences(opts.Sequences)
	if err != nil {
		return nil, err
	}
	specs, err := normalizeOutputs(opts.OutputsInfo, diags)
	if err != nil {
		return nil, err
	}
	nonSeqs, err := normalizeNonSequences(opts.NonSequences)
	if err != nil {
		return nil, err
	}
	if err := checkBindings(specs, nonSeqs); err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "scan normalized",
		slog.Int("sequences", len(seqs)), slog.Int("outputs", len(specs)), slog.Int("non_sequences", len(nonSeqs)))

	tc, err := resolveNSteps(opts.NSteps)
	if err != nil {
		return nil, err
	}
	backward := tc.backwards(opts.GoBackwards)

	c := newClassifier(opts.TestValues, diags)
	if err := c.addSequences(seqs, backward); err != nil {
		return nil, err
	}
	nSteps, err := tc.resolve(c.windows())
	if err != nil {
		return nil, err
	}
	if err := c.addOutputs(specs, nSteps); err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "scan classified",
		slog.String("n_steps", nSteps.String()), slog.Bool("backwards", backward),
		slog.Int("mit_sot", len(c.mit)), slog.Int("sit_sot", len(c.sit)), slog.Int("nit_sot", len(c.nit)))

	if tc.collapsible() {
		outs, updates, err := callStep(fn, c.stepArgs(nonSeqs, true))
		if err != nil {
			return nil, err
		}
		if err := checkOutputCount(len(outs), len(specs)); err != nil {
			return nil, err
		}
		logger.DebugContext(ctx, "scan collapsed to a single step", slog.Int("outputs", len(outs)))
		return &Result{
			Outputs:   padCollapsed(outs, specs, lastSteps(opts)),
			Updates:   updates,
			NSteps:    nSteps,
			Collapsed: true,
		}, nil
	}

	args := c.stepArgs(nonSeqs, false)
	outs, updates, err := callStep(fn, args)
	if err != nil {
		return nil, err
	}
	pr, err := probe(withoutShared(args), outs, updates)
	if err != nil {
		return nil, err
	}
	if err := checkOutputCount(pr.nOutputs, len(specs)); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		c.declare(pr.nOutputs, lastSteps(opts))
	}
	logger.DebugContext(ctx, "scan probed",
		slog.Int("extra_inputs", len(pr.extra)), slog.Int("shared", len(pr.shared)), slog.Int("read_only_cells", len(pr.readOnly)))

	asm, err := assemble(assembleInput{
		c:        c,
		pr:       pr,
		nonSeqs:  append(nonSeqs, pr.extra...),
		outputs:  outs,
		nSteps:   nSteps,
		backward: backward,
		opts:     opts,
	})
	if err != nil {
		return nil, err
	}
	ordered, upd := unpack(c, asm)
	logger.DebugContext(ctx, "scan built", slog.String("op", asm.op.Name()), slog.Int("outer_inputs", len(asm.outer)))

	return &Result{
		Outputs: ordered,
		Updates: upd,
		Op:      asm.op,
		Config:  asm.op.Config(),
		Outer:   asm.outer,
		NSteps:  nSteps,
	}, nil
}

// lastSteps is the return_steps of outputs the step returns without a
// declared output info.
func lastSteps(opts Options) int {
	if opts.lastStep {
		return 1
	}
	return 0
}

// checkOutputCount requires the step to return one output per declared
// output info. No declared outputs means every returned output is map-style.
func checkOutputCount(returned, declared int) error {
	if declared == 0 || returned == declared {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeConfiguration,
		"step returns %d outputs but %d were declared; provide a nil output info for any output "+
			"that does not feed back into the loop (map style)", returned, declared).
		WithDetails(map[string]any{"returned": returned, "declared": declared})
}

// withoutShared drops stateful cells from the argument list; the probe finds
// them itself.
func withoutShared(args []*graph.Node) []*graph.Node {
	out := make([]*graph.Node, 0, len(args))
	for _, a := range args {
		if !a.IsShared() {
			out = append(out, a)
		}
	}
	return out
}
