package loop

import (
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Eval runs the loop on concrete outer values. It is the reference
// semantics of the operator:
//
//   - a negative trip count runs |n| steps with sequences read from the end;
//   - at step i a mit_sot entry with taps T and m = |min T| reads
//     buffer[i+m+t] for each t in T and writes buffer[i+m];
//   - a sit_sot entry reads buffer[i] and writes buffer[i+1];
//   - a nit_sot entry contributes one row per step;
//   - a stateful cell is replaced by its update after every step and its final
//     value is returned.
func (o *Op) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	c := o.cfg
	if c.NMitMot > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
			"%s: mit_mot entries are only evaluated by gradient loops", o.Name())
	}
	n, err := in[0].Int()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s: n_steps: %s", o.Name(), err.Error()).WithCause(err)
	}
	reversed := n < 0
	if reversed {
		n = -n
	}

	pos := 1
	seqs := in[pos : pos+c.NSeqs]
	pos += c.NSeqs
	bufs := append([]*tensor.Tensor(nil), in[pos:pos+c.NMitSot+c.NSitSot]...)
	pos += c.NMitSot + c.NSitSot
	cells := append([]*tensor.Tensor(nil), in[pos:pos+c.NSharedOuts]...)
	pos += c.NSharedOuts + c.NNitSot
	others := in[pos:]

	for i, s := range seqs {
		if s.Len() < n {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
				"%s: sequence %d has %d steps, loop needs %d", o.Name(), i, s.Len(), n).WithIndex(i)
		}
	}
	offsets := make([]int, len(bufs))
	for j := range bufs {
		offsets[j] = c.MinTap(c.NMitMot + j)
		if need := offsets[j] + n; bufs[j].Len() < need {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
				"%s: output buffer %d has %d rows, loop needs %d", o.Name(), j, bufs[j].Len(), need).WithIndex(j)
		}
	}

	nitRows := make([][]*tensor.Tensor, c.NNitSot)
	for i := 0; i < n; i++ {
		givens, err := o.stepGivens(i, reversed, seqs, bufs, offsets, cells, others)
		if err != nil {
			return nil, err
		}
		vals, err := graph.Evaluate(o.outputs, givens)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s: step %d: %s", o.Name(), i, err.Error()).WithCause(err)
		}

		k := 0
		for j := range bufs {
			if bufs[j], err = bufs[j].WithRow(i+offsets[j], vals[k]); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s: step %d, output %d: %s", o.Name(), i, j, err.Error())
			}
			k++
		}
		for j := range nitRows {
			nitRows[j] = append(nitRows[j], vals[k])
			k++
		}
		for j := range cells {
			cells[j] = vals[k]
			k++
		}
	}

	out := append([]*tensor.Tensor(nil), bufs...)
	nitStart := c.NMitSot + c.NSitSot
	for j, rows := range nitRows {
		rowShape := staticShape(o.outputs[nitStart+j].Type())
		if len(rows) > 0 {
			rowShape = rows[0].Shape()
		}
		stacked, err := tensor.Stack(rows, rowShape)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "%s: nit_sot %d: %s", o.Name(), j, err.Error())
		}
		out = append(out, stacked)
	}
	return append(out, cells...), nil
}

func (o *Op) stepGivens(i int, reversed bool, seqs, bufs []*tensor.Tensor, offsets []int,
	cells, others []*tensor.Tensor) (map[*graph.Node]*tensor.Tensor, error) {
	c := o.cfg
	givens := make(map[*graph.Node]*tensor.Tensor, len(o.inner))
	k := 0
	for _, s := range seqs {
		row := i
		if reversed {
			row = s.Len() - 1 - i
		}
		v, err := s.Row(row)
		if err != nil {
			return nil, err
		}
		givens[o.inner[k]] = v
		k++
	}
	for j, buf := range bufs {
		for _, t := range c.TapArray[c.NMitMot+j] {
			v, err := buf.Row(i + offsets[j] + t)
			if err != nil {
				return nil, err
			}
			givens[o.inner[k]] = v
			k++
		}
	}
	for _, v := range cells {
		givens[o.inner[k]] = v
		k++
	}
	for _, v := range others {
		if o.inner[k].Kind() == graph.KindInput {
			givens[o.inner[k]] = v
		}
		k++
	}
	return givens, nil
}

func staticShape(t graph.Type) []int {
	dims := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		dims[i] = max(d, 0)
	}
	return dims
}
