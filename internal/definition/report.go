package definition

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/loop"
	"github.com/rendis/scanop/pkg/schema"
)

// OutputValue is one evaluated scan output.
type OutputValue struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Value any    `json:"value"`
}

// RunReport is what `scanop run` prints.
type RunReport struct {
	Name        string              `json:"name,omitempty"`
	NSteps      int                 `json:"n_steps"`
	Collapsed   bool                `json:"collapsed"`
	Outputs     []OutputValue       `json:"outputs"`
	Updates     map[string]any      `json:"updates,omitempty"`
	Diagnostics *schema.Diagnostics `json:"diagnostics,omitempty"`
}

// Run evaluates every output and every cell update of b.
func Run(b *Built) (*RunReport, error) {
	res := b.Result
	nodes := append([]*graph.Node{res.NSteps}, res.Outputs...)
	items := res.Updates.Items()
	for _, u := range items {
		nodes = append(nodes, u.Expr)
	}

	vals, err := graph.Evaluate(nodes, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeEvaluation, "cannot evaluate scan").WithCause(err)
	}
	steps, err := vals[0].Int()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeEvaluation, "trip count is not an integer").WithCause(err)
	}

	rep := &RunReport{Name: b.Def.Name, NSteps: steps, Collapsed: res.Collapsed, Diagnostics: nonEmpty(res.Diagnostics)}
	for i := range res.Outputs {
		v := vals[1+i]
		rep.Outputs = append(rep.Outputs, OutputValue{Name: b.outputName(i), Shape: v.Shape(), Value: v.Nested()})
	}
	if len(items) > 0 {
		rep.Updates = make(map[string]any, len(items))
		for i, u := range items {
			rep.Updates[u.Target.Name()] = vals[1+len(res.Outputs)+i].Nested()
		}
	}
	return rep, nil
}

// DescribeReport is what `scanop describe` prints: the loop's structure
// without evaluating it.
type DescribeReport struct {
	Name         string              `json:"name,omitempty"`
	Collapsed    bool                `json:"collapsed"`
	NSteps       string              `json:"n_steps"`
	Config       *loop.Config        `json:"config,omitempty"`
	InnerInputs  []string            `json:"inner_inputs,omitempty"`
	InnerOutputs []string            `json:"inner_outputs,omitempty"`
	OuterInputs  []string            `json:"outer_inputs,omitempty"`
	Outputs      []string            `json:"outputs"`
	Updates      []string            `json:"updates,omitempty"`
	Diagnostics  *schema.Diagnostics `json:"diagnostics,omitempty"`
}

// Describe reports the loop configuration and the inner and outer signatures.
func Describe(b *Built) *DescribeReport {
	res := b.Result
	rep := &DescribeReport{
		Name:        b.Def.Name,
		Collapsed:   res.Collapsed,
		NSteps:      res.NSteps.String(),
		Diagnostics: nonEmpty(res.Diagnostics),
	}
	for i := range res.Outputs {
		rep.Outputs = append(rep.Outputs, b.outputName(i))
	}
	for _, u := range res.Updates.Items() {
		rep.Updates = append(rep.Updates, u.Target.Name())
	}
	sort.Strings(rep.Updates)
	if res.Op != nil {
		cfg := res.Config.Clone()
		rep.Config = &cfg
		rep.InnerInputs = names(res.Op.InnerInputs())
		rep.InnerOutputs = names(res.Op.InnerOutputs())
		rep.OuterInputs = names(res.Outer)
	}
	return rep
}

// Document converts a report into plain JSON values for querying.
func Document(report any) (any, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Built) outputName(i int) string {
	if i < len(b.Outputs) {
		return b.Outputs[i]
	}
	return "out" + strconv.Itoa(i)
}

func names(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
		if out[i] == "" {
			out[i] = n.Type().String()
		}
	}
	return out
}

func nonEmpty(d *schema.Diagnostics) *schema.Diagnostics {
	if d == nil || d.Len() == 0 {
		return nil
	}
	return d
}
