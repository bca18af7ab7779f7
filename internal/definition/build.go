// Package definition runs scans described by JSON documents: it validates the
// document, turns its literal values into graph nodes, lowers the textual step
// with a stepexpr dialect and calls scan.Scan.
package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rendis/scanop/internal/stepexpr"
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/scan"
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Options tune how a definition is built.
type Options struct {
	// Dialect is used when the definition does not name one.
	Dialect    string
	TestValues scan.TestValueMode
	Logger     *slog.Logger
}

// Built is a constructed scan together with the nodes created for the
// definition's named values.
type Built struct {
	Def     *schema.Definition
	Result  *scan.Result
	Scope   stepexpr.Scope
	Cells   map[string]*graph.Node
	Outputs []string
}

// Build creates the graph described by def and constructs its loop.
func Build(ctx context.Context, def *schema.Definition, opts Options) (*Built, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is nil")
	}
	name := def.Dialect
	if name == "" {
		name = opts.Dialect
	}
	d, err := stepexpr.New(name)
	if err != nil {
		return nil, err
	}

	b := &Built{Def: def, Scope: make(stepexpr.Scope), Cells: make(map[string]*graph.Node)}
	so := scan.Options{
		Name:       def.Name,
		Mode:       def.Mode,
		TestValues: opts.TestValues,
		Logger:     opts.Logger,
	}

	for i, s := range def.Sequences {
		n, err := constant(s.Name, s.Value, fmt.Sprintf("sequences[%d]", i))
		if err != nil {
			return nil, err
		}
		b.Scope[s.Name] = n
		so.Sequences = append(so.Sequences, scan.SeqTaps(n, s.Taps...))
	}

	for i, o := range def.OutputsInfo {
		label := fmt.Sprintf("out%d", i)
		if o != nil && o.Name != "" {
			label = o.Name
		}
		b.Outputs = append(b.Outputs, label)
		info, err := outputInfo(o, i)
		if err != nil {
			return nil, err
		}
		if info != nil && info.Initial != nil && o.Name != "" {
			b.Scope[o.Name] = info.Initial
		}
		so.OutputsInfo = append(so.OutputsInfo, info)
	}

	// Cells are reached through the global scope and picked up by the probe.
	for i, v := range def.Shared {
		t, err := decodeValue(v.Value, fmt.Sprintf("shared[%d]", i))
		if err != nil {
			return nil, err
		}
		cell := graph.NewShared(v.Name, t)
		b.Scope[v.Name] = cell
		b.Cells[v.Name] = cell
	}

	for i, v := range def.NonSequences {
		n, err := constant(v.Name, v.Value, fmt.Sprintf("non_sequences[%d]", i))
		if err != nil {
			return nil, err
		}
		b.Scope[v.Name] = n
		so.NonSequences = append(so.NonSequences, n)
	}

	if def.NSteps != nil {
		so.NSteps = *def.NSteps
	}
	so.GoBackwards = def.GoBackwards
	so.TruncateGradient = def.TruncateGradient

	step := stepexpr.Step{Params: def.Params, Outputs: def.Step.Outputs}
	targets := make([]string, 0, len(def.Step.Updates))
	for t := range def.Step.Updates {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		step.Updates = append(step.Updates, stepexpr.Update{Target: t, Expr: def.Step.Updates[t]})
	}

	// A definition without outputs_info returns every step output map-style.
	if len(def.OutputsInfo) == 0 {
		for i := range def.Step.Outputs {
			b.Outputs = append(b.Outputs, fmt.Sprintf("out%d", i))
		}
	}

	res, err := scan.ScanContext(ctx, stepexpr.Compile(ctx, d, step, b.Scope), so)
	if err != nil {
		return nil, err
	}
	b.Result = res
	return b, nil
}

func outputInfo(o *schema.OutputDef, i int) (*scan.OutputInfo, error) {
	if o == nil {
		return nil, nil
	}
	taps, err := o.TapList()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "outputs_info[%d].taps: %s", i, err.Error()).WithCause(err)
	}
	info := &scan.OutputInfo{Taps: taps, NoTaps: o.TapsNull(), ReturnSteps: o.ReturnSteps}
	if o.HasInitial() {
		n, err := constant(o.Name, o.Initial, fmt.Sprintf("outputs_info[%d].initial", i))
		if err != nil {
			return nil, err
		}
		info.Initial = n
	}
	return info, nil
}

func constant(name string, raw json.RawMessage, path string) (*graph.Node, error) {
	t, err := decodeValue(raw, path)
	if err != nil {
		return nil, err
	}
	n := graph.Constant(t, graph.Float64)
	n.SetName(name)
	return n, nil
}

func decodeValue(raw json.RawMessage, path string) (*tensor.Tensor, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", path, err.Error()).WithCause(err)
	}
	t, err := tensor.FromNested(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", path, err.Error()).WithCause(err)
	}
	return t, nil
}
