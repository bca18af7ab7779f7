package scan

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(name string, vs ...float64) *graph.Node {
	n := graph.Constant(tensor.Vector(vs...), graph.Float64)
	n.SetName(name)
	return n
}

func oneToTen() *graph.Node {
	return vec("x", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
}

func eval(t *testing.T, givens map[*graph.Node]*tensor.Tensor, outs ...*graph.Node) []*tensor.Tensor {
	t.Helper()
	vals, err := graph.Evaluate(outs, givens)
	require.NoError(t, err)
	return vals
}

func runningSum(args ...*graph.Node) (any, error) {
	return graph.Add(args[1], args[0]), nil
}

func TestScan_RunningSum(t *testing.T) {
	res, err := Scan(runningSum, Options{
		Sequences:   []Sequence{Seq(oneToTen())},
		OutputsInfo: []*OutputInfo{{Initial: graph.Const(0), Taps: []int{-1}}},
		Name:        "sum",
	})
	require.NoError(t, err)

	require.NotNil(t, res.Op)
	assert.False(t, res.Collapsed)
	assert.Equal(t, 0, res.Updates.Len())
	assert.Equal(t, "scan{sum}", res.Op.Name())
	assert.Equal(t, 1, res.Config.NSeqs)
	assert.Equal(t, 1, res.Config.NSitSot)
	assert.Equal(t, [][]int{{-1}}, res.Config.TapArray)
	assert.Equal(t, -1, res.Config.TruncateGradient)

	n, ok := graph.ConstantInt(res.NSteps)
	require.True(t, ok)
	assert.Equal(t, 10, n)

	out := eval(t, nil, res.Single())[0]
	assert.Equal(t, []float64{1, 3, 6, 10, 15, 21, 28, 36, 45, 55}, out.Data())
}

func TestScan_MapStyle(t *testing.T) {
	double := func(args ...*graph.Node) (any, error) {
		require.Len(t, args, 1)
		return graph.Mul(args[0], graph.Const(2)), nil
	}

	t.Run("declared nil", func(t *testing.T) {
		res, err := Scan(double, Options{Sequences: []Sequence{Seq(oneToTen())}, OutputsInfo: []*OutputInfo{nil}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Config.NNitSot)
		assert.Equal(t, 0, res.Config.NSitSot)
		out := eval(t, nil, res.Single())[0]
		assert.Equal(t, []float64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}, out.Data())
	})

	t.Run("nothing declared", func(t *testing.T) {
		res, err := Map(double, Options{Sequences: []Sequence{Seq(oneToTen())}})
		require.NoError(t, err)
		require.Len(t, res.Outputs, 1)
		assert.Equal(t, 1, res.Config.NNitSot)
		out := eval(t, nil, res.Single())[0]
		assert.Equal(t, 20.0, out.Data()[9])
	})
}

func TestScan_CollapsedTripCount(t *testing.T) {
	calls := 0
	step := func(args ...*graph.Node) (any, error) {
		calls++
		return graph.Add(args[1], args[0]), nil
	}

	tests := []struct {
		name   string
		nSteps any
		want   []float64
	}{
		{"one step", 1, []float64{1}},
		{"one step reversed", -1, []float64{10}},
		{"constant node", graph.IntConst(1), []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			res, err := Scan(step, Options{
				Sequences:   []Sequence{Seq(oneToTen())},
				OutputsInfo: []*OutputInfo{Init(graph.Const(0))},
				NSteps:      tt.nSteps,
			})
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.True(t, res.Collapsed)
			assert.Nil(t, res.Op)
			assert.Nil(t, res.Outer)

			out := eval(t, nil, res.Single())[0]
			assert.Equal(t, []int{1}, out.Shape())
			assert.Equal(t, tt.want, out.Data())
		})
	}
}

func TestScan_CollapsedMatchesOneStepLoop(t *testing.T) {
	fib := func(args ...*graph.Node) (any, error) {
		return graph.Add(args[0], args[1]), nil
	}
	opts := func(n any) Options {
		return Options{OutputsInfo: []*OutputInfo{InitTaps(vec("fib", 2, 3), -2, -1)}, NSteps: n}
	}

	collapsed, err := Scan(fib, opts(1))
	require.NoError(t, err)
	require.True(t, collapsed.Collapsed)

	n := graph.Input("n", graph.IntScalar)
	looped, err := Scan(fib, opts(n))
	require.NoError(t, err)
	require.False(t, looped.Collapsed)

	a := eval(t, nil, collapsed.Single())[0]
	b := eval(t, map[*graph.Node]*tensor.Tensor{n: tensor.Scalar(1)}, looped.Single())[0]
	assert.Equal(t, []float64{5}, a.Data())
	assert.True(t, tensor.Equal(a, b), "collapsed %s, looped %s", a, b)
}

func TestScan_CollapsedReturnStepsOne(t *testing.T) {
	res, err := Scan(runningSum, Options{
		Sequences:   []Sequence{Seq(oneToTen())},
		OutputsInfo: []*OutputInfo{{Initial: graph.Const(5), ReturnSteps: 1}},
		NSteps:      1,
	})
	require.NoError(t, err)
	out := eval(t, nil, res.Single())[0]
	assert.Equal(t, 0, out.Rank())
	assert.Equal(t, []float64{6}, out.Data())
}

func TestScan_MitSotFibonacci(t *testing.T) {
	var names []string
	fib := func(args ...*graph.Node) (any, error) {
		for _, a := range args {
			names = append(names, a.Name())
		}
		return graph.Add(args[0], args[1]), nil
	}
	res, err := Scan(fib, Options{
		OutputsInfo: []*OutputInfo{InitTaps(vec("fib", 0, 1), -2, -1)},
		NSteps:      6,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fib[t-2]", "fib[t-1]"}, names)
	assert.Equal(t, 1, res.Config.NMitSot)
	assert.Equal(t, [][]int{{-2, -1}}, res.Config.TapArray)

	out := eval(t, nil, res.Single())[0]
	assert.Equal(t, []float64{1, 2, 3, 5, 8, 13}, out.Data())
}

func TestScan_ReturnSteps(t *testing.T) {
	tests := []struct {
		name  string
		steps int
		rank  int
		want  []float64
	}{
		{"full history", 0, 1, []float64{1, 3, 6, 10, 15, 21, 28, 36, 45, 55}},
		{"last three", 3, 1, []float64{36, 45, 55}},
		{"last only", 1, 0, []float64{55}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Scan(runningSum, Options{
				Sequences:   []Sequence{Seq(oneToTen())},
				OutputsInfo: []*OutputInfo{{Initial: graph.Const(0), ReturnSteps: tt.steps}},
			})
			require.NoError(t, err)
			out := eval(t, nil, res.Single())[0]
			assert.Equal(t, tt.rank, out.Rank())
			assert.Equal(t, tt.want, out.Data())
		})
	}

	t.Run("map style", func(t *testing.T) {
		res, err := Scan(func(args ...*graph.Node) (any, error) {
			return graph.Mul(args[0], graph.Const(2)), nil
		}, Options{
			Sequences:   []Sequence{Seq(oneToTen())},
			OutputsInfo: []*OutputInfo{{ReturnSteps: 2}},
		})
		require.NoError(t, err)
		out := eval(t, nil, res.Single())[0]
		assert.Equal(t, []float64{18, 20}, out.Data())
	})
}

func TestScan_OutputOrderAcrossCategories(t *testing.T) {
	var names []string
	step := func(args ...*graph.Node) (any, error) {
		for _, a := range args {
			names = append(names, a.Name())
		}
		x, s, a, b := args[0], args[1], args[2], args[3]
		return []*graph.Node{
			graph.Mul(x, graph.Const(10)),
			graph.Add(s, x),
			graph.Add(a, b),
			graph.Neg(x),
		}, nil
	}
	res, err := Scan(step, Options{
		Sequences: []Sequence{Seq(vec("x", 1, 2, 3, 4))},
		OutputsInfo: []*OutputInfo{
			nil,
			Init(named(graph.Const(0), "s")),
			InitTaps(vec("m", 1, 1), -2, -1),
			nil,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x[t]", "s[t-1]", "m[t-2]", "m[t-1]"}, names)
	assert.Equal(t, 1, res.Config.NMitSot)
	assert.Equal(t, 1, res.Config.NSitSot)
	assert.Equal(t, 2, res.Config.NNitSot)
	assert.Equal(t, [][]int{{-2, -1}, {-1}}, res.Config.TapArray)

	require.Len(t, res.Outputs, 4)
	assert.Nil(t, res.Single())
	vals := eval(t, nil, res.Outputs...)
	assert.Equal(t, []float64{10, 20, 30, 40}, vals[0].Data())
	assert.Equal(t, []float64{1, 3, 6, 10}, vals[1].Data())
	assert.Equal(t, []float64{2, 3, 5, 8}, vals[2].Data())
	assert.Equal(t, []float64{-1, -2, -3, -4}, vals[3].Data())
}

func named(n *graph.Node, name string) *graph.Node {
	n.SetName(name)
	return n
}

func TestScan_SharedUpdates(t *testing.T) {
	for _, order := range []string{"outputs first", "updates first"} {
		t.Run(order, func(t *testing.T) {
			count := graph.NewShared("count", tensor.Scalar(0))
			step := func(args ...*graph.Node) (any, error) {
				out := graph.Mul(args[0], args[0])
				upd := map[*graph.Node]*graph.Node{count: graph.Add(count, graph.Const(1))}
				if order == "updates first" {
					return []any{upd, out}, nil
				}
				return []any{out, upd}, nil
			}
			res, err := Scan(step, Options{Sequences: []Sequence{Seq(vec("x", 1, 2, 3, 4))}, OutputsInfo: []*OutputInfo{nil}})
			require.NoError(t, err)
			assert.Equal(t, 1, res.Config.NSharedOuts)
			require.Equal(t, 1, res.Updates.Len())

			after, ok := res.Updates.Get(count)
			require.True(t, ok)
			vals := eval(t, nil, res.Single(), after)
			assert.Equal(t, []float64{1, 4, 9, 16}, vals[0].Data())
			assert.Equal(t, []float64{4}, vals[1].Data())
			assert.Equal(t, []float64{0}, count.Value().Data(), "building and evaluating never writes the cell")

			var innerNames []string
			for _, in := range res.Op.InnerInputs() {
				innerNames = append(innerNames, in.Name())
			}
			assert.Contains(t, innerNames, "count_copy")

			fn, err := graph.Compile(nil, res.Outputs, res.Updates, graph.ModeDefault)
			require.NoError(t, err)
			_, err = fn.Call()
			require.NoError(t, err)
			assert.Equal(t, []float64{4}, count.Value().Data())
		})
	}
}

func TestScan_ReadOnlyCellIsCopied(t *testing.T) {
	w := graph.NewShared("w", tensor.Scalar(3))
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], w), nil
	}, Options{Sequences: []Sequence{Seq(vec("x", 1, 2, 3))}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Config.NSharedOuts)
	assert.Equal(t, 0, res.Updates.Len())
	assert.NotContains(t, res.Op.InnerInputs(), w)
	assert.Contains(t, res.Outer, w)

	assert.Equal(t, []float64{3, 6, 9}, eval(t, nil, res.Single())[0].Data())
	require.NoError(t, w.SetValue(tensor.Scalar(10)))
	assert.Equal(t, []float64{10, 20, 30}, eval(t, nil, res.Single())[0].Data())
}

func TestScan_DeviceCellsMoveToHost(t *testing.T) {
	w := graph.NewSharedOn("w", tensor.Scalar(2), "gpu0")
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], w), nil
	}, Options{Sequences: []Sequence{Seq(vec("x", 1, 2))}})
	require.NoError(t, err)

	var transfers int
	for _, in := range res.Outer {
		assert.Equal(t, "", in.Type().Device)
		if app := in.Owner(); app != nil && app.Op.Name() == "host_from_device" {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)
	assert.Equal(t, []float64{2, 4}, eval(t, nil, res.Single())[0].Data())
}

func TestScan_ExtraFreeInputs(t *testing.T) {
	z := graph.Input("z", graph.FloatScalar)
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Add(args[0], z), nil
	}, Options{Sequences: []Sequence{Seq(vec("x", 1, 2, 3))}})
	require.NoError(t, err)

	var innerNames []string
	for _, in := range res.Op.InnerInputs() {
		innerNames = append(innerNames, in.Name())
	}
	assert.Equal(t, []string{"x[t]", "z_copy"}, innerNames)
	assert.Contains(t, res.Outer, z)

	out := eval(t, map[*graph.Node]*tensor.Tensor{z: tensor.Scalar(100)}, res.Single())[0]
	assert.Equal(t, []float64{101, 102, 103}, out.Data())
}

func TestScan_NonSequences(t *testing.T) {
	w := graph.Input("w", graph.FloatScalar)
	k := named(graph.Const(5), "k")
	res, err := Map(func(args ...*graph.Node) (any, error) {
		require.Len(t, args, 3)
		return graph.Add(graph.Mul(args[0], args[1]), args[2]), nil
	}, Options{
		Sequences:    []Sequence{Seq(vec("x", 1, 2, 3))},
		NonSequences: []*graph.Node{w, k},
	})
	require.NoError(t, err)

	inner := res.Op.InnerInputs()
	require.Len(t, inner, 3)
	assert.Equal(t, "w_copy", inner[1].Name())
	assert.True(t, inner[2].IsConstant())
	assert.NotSame(t, k, inner[2])

	out := eval(t, map[*graph.Node]*tensor.Tensor{w: tensor.Scalar(2)}, res.Single())[0]
	assert.Equal(t, []float64{7, 9, 11}, out.Data())
}

func TestScan_ComputedNonSequence(t *testing.T) {
	w := graph.Input("w", graph.FloatScalar)
	scaled := named(graph.Mul(w, graph.Const(10)), "scaled")
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Add(args[0], args[1]), nil
	}, Options{
		Sequences:    []Sequence{Seq(vec("x", 1, 2))},
		NonSequences: []*graph.Node{scaled},
	})
	require.NoError(t, err)
	assert.Len(t, res.Op.InnerInputs(), 2)
	out := eval(t, map[*graph.Node]*tensor.Tensor{w: tensor.Scalar(1)}, res.Single())[0]
	assert.Equal(t, []float64{11, 12}, out.Data())
}

func TestScan_SequenceTaps(t *testing.T) {
	x := vec("x", 1, 2, 3, 4, 5, 6)

	t.Run("past and future", func(t *testing.T) {
		var names []string
		res, err := Map(func(args ...*graph.Node) (any, error) {
			names = append(names, args[0].Name(), args[1].Name())
			return graph.Sub(args[1], args[0]), nil
		}, Options{Sequences: []Sequence{SeqTaps(x, -1, 1)}})
		require.NoError(t, err)
		assert.Equal(t, []string{"x[t-1]", "x[t+1]"}, names)
		assert.Equal(t, "x[0:]", res.Outer[1].Name())
		assert.Equal(t, "x[2:]", res.Outer[2].Name())
		assert.Equal(t, []float64{2, 2, 2, 2}, eval(t, nil, res.Single())[0].Data())
	})

	t.Run("past only", func(t *testing.T) {
		res, err := Map(func(args ...*graph.Node) (any, error) {
			return graph.Add(args[0], args[1]), nil
		}, Options{Sequences: []Sequence{SeqTaps(x, -2, -1)}})
		require.NoError(t, err)
		assert.Equal(t, []float64{5, 7, 9, 11}, eval(t, nil, res.Single())[0].Data())
	})

	t.Run("shortest sequence wins", func(t *testing.T) {
		res, err := Map(func(args ...*graph.Node) (any, error) {
			return graph.Mul(args[0], args[1]), nil
		}, Options{Sequences: []Sequence{Seq(x), Seq(vec("y", 1, 10))}})
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 20}, eval(t, nil, res.Single())[0].Data())
	})
}

func TestScan_Direction(t *testing.T) {
	identity := func(args ...*graph.Node) (any, error) { return graph.Mul(args[0], graph.Const(1)), nil }
	x := vec("x", 1, 2, 3, 4)

	tests := []struct {
		name      string
		backwards bool
		nSteps    any
		want      []float64
		cfgBack   bool
	}{
		{"forward", false, nil, []float64{1, 2, 3, 4}, false},
		{"go backwards", true, nil, []float64{4, 3, 2, 1}, true},
		{"negative steps", false, -3, []float64{4, 3, 2}, true},
		{"conflicting directions go forward", true, -3, []float64{1, 2, 3}, false},
		{"bounded by n_steps", false, 2, []float64{1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Map(identity, Options{Sequences: []Sequence{Seq(x)}, GoBackwards: tt.backwards, NSteps: tt.nSteps})
			require.NoError(t, err)
			assert.Equal(t, tt.cfgBack, res.Config.GoBackwards)
			assert.Equal(t, tt.want, eval(t, nil, res.Single())[0].Data())
		})
	}
}

func TestScan_SymbolicTripCount(t *testing.T) {
	n := graph.Input("n", graph.IntScalar)
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], graph.Const(2)), nil
	}, Options{Sequences: []Sequence{Seq(vec("x", 1, 2, 3, 4))}, NSteps: n})
	require.NoError(t, err)

	_, known := graph.ConstantInt(res.NSteps)
	assert.False(t, known)
	out := eval(t, map[*graph.Node]*tensor.Tensor{n: tensor.Scalar(2)}, res.Single())[0]
	assert.Equal(t, []float64{2, 4}, out.Data())
}

func TestScan_SymbolicNegativeTripCount(t *testing.T) {
	double := func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], graph.Const(2)), nil
	}
	n := graph.Input("n", graph.IntScalar)
	res, err := Map(double, Options{Sequences: []Sequence{Seq(oneToTen())}, NSteps: n})
	require.NoError(t, err)

	constant, err := Map(double, Options{Sequences: []Sequence{Seq(oneToTen())}, NSteps: -20})
	require.NoError(t, err)
	want := eval(t, nil, constant.Single())[0].Data()
	assert.Equal(t, []float64{20, 18, 16, 14, 12, 10, 8, 6, 4, 2}, want)

	tests := []struct {
		n    float64
		want []float64
	}{
		{-20, want},
		{-3, []float64{20, 18, 16}},
		{20, []float64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}},
		{3, []float64{2, 4, 6}},
		{0, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			givens := map[*graph.Node]*tensor.Tensor{n: tensor.Scalar(tt.n)}
			vals := eval(t, givens, res.NSteps, res.Single())
			steps, err := vals[0].Int()
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), abs(steps))
			assert.Equal(t, tt.want, vals[1].Data())
		})
	}
}

func TestScan_NStepsOnly(t *testing.T) {
	res, err := Scan(func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], graph.Const(2)), nil
	}, Options{OutputsInfo: []*OutputInfo{Init(graph.Const(1))}, NSteps: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Config.NSeqs)
	assert.Equal(t, []float64{2, 4, 8, 16, 32}, eval(t, nil, res.Single())[0].Data())
}

func TestScan_NaNStepsIsAbsent(t *testing.T) {
	res, err := Map(func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], graph.Const(1)), nil
	}, Options{Sequences: []Sequence{Seq(vec("x", 1, 2, 3))}, NSteps: math.NaN()})
	require.NoError(t, err)
	assert.Len(t, eval(t, nil, res.Single())[0].Data(), 3)

	_, err = Map(func(args ...*graph.Node) (any, error) { return nil, nil }, Options{NSteps: math.Inf(1)})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
}

func TestScan_Errors(t *testing.T) {
	x := vec("x", 1, 2, 3)
	cell := graph.NewShared("h", tensor.Scalar(0))

	tests := []struct {
		name  string
		fn    StepFunc
		opts  Options
		code  string
		index int
	}{
		{
			name:  "taps without initial",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{nil, {Taps: []int{-1}}}},
			code:  schema.ErrCodeConfiguration,
			index: 1,
		},
		{
			name:  "future output tap",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{InitTaps(vec("m", 1, 2), -1, 1)}},
			code:  schema.ErrCodeConfiguration,
			index: 0,
		},
		{
			name:  "initial state too short for taps",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{InitTaps(vec("m", 1), -3)}},
			code:  schema.ErrCodeConfiguration,
			index: 0,
		},
		{
			name: "output count mismatch",
			fn: func(args ...*graph.Node) (any, error) {
				return []*graph.Node{graph.Add(args[0], args[1]), args[0]}, nil
			},
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{Init(graph.Const(0))}},
			code:  schema.ErrCodeConfiguration,
			index: -1,
		},
		{
			name:  "no step information",
			fn:    runningSum,
			opts:  Options{OutputsInfo: []*OutputInfo{Init(graph.Const(0))}},
			code:  schema.ErrCodeConfiguration,
			index: -1,
		},
		{
			name:  "fractional n_steps",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, NSteps: 2.5},
			code:  schema.ErrCodeConfiguration,
			index: -1,
		},
		{
			name:  "float n_steps node",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, NSteps: graph.Const(3)},
			code:  schema.ErrCodeConfiguration,
			index: -1,
		},
		{
			name:  "n_steps of unsupported type",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, NSteps: "3"},
			code:  schema.ErrCodeConfiguration,
			index: -1,
		},
		{
			name:  "cell bound twice",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{Init(cell)}, NonSequences: []*graph.Node{cell}},
			code:  schema.ErrCodeConfiguration,
			index: 0,
		},
		{
			name:  "step fails",
			fn:    func(args ...*graph.Node) (any, error) { return nil, errors.New("boom") },
			opts:  Options{Sequences: []Sequence{Seq(x)}},
			code:  schema.ErrCodeGraph,
			index: -1,
		},
		{
			name:  "step builds an ill-typed graph",
			fn:    func(args ...*graph.Node) (any, error) { return graph.Index(args[0], 0), nil },
			opts:  Options{Sequences: []Sequence{Seq(x)}},
			code:  schema.ErrCodeGraph,
			index: -1,
		},
		{
			name: "recurrent output changes shape",
			fn: func(args ...*graph.Node) (any, error) {
				return graph.Add(args[1], vec("", 1, 2)), nil
			},
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{Init(graph.Const(0))}},
			code:  schema.ErrCodeType,
			index: 0,
		},
		{
			name:  "scalar sequence",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(graph.Const(1))}},
			code:  schema.ErrCodeConfiguration,
			index: 0,
		},
		{
			name:  "negative return steps",
			fn:    runningSum,
			opts:  Options{Sequences: []Sequence{Seq(x)}, OutputsInfo: []*OutputInfo{{Initial: graph.Const(0), ReturnSteps: -1}}},
			code:  schema.ErrCodeConfiguration,
			index: 0,
		},
		{
			name: "unsupported step result",
			fn:   func(args ...*graph.Node) (any, error) { return 42, nil },
			opts: Options{Sequences: []Sequence{Seq(x)}},
			code: schema.ErrCodeConfiguration, index: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Scan(tt.fn, tt.opts)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tt.code), "got %v", err)
			var se *schema.ScanError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.index, se.Index)
		})
	}

	_, err := Scan(nil, Options{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
}

func TestScan_TapsNoneWithInitial(t *testing.T) {
	diags := &schema.Diagnostics{}
	res, err := Scan(runningSum, Options{
		Sequences:   []Sequence{Seq(vec("x", 1, 2))},
		OutputsInfo: []*OutputInfo{{Initial: graph.Const(0), NoTaps: true}},
		Diagnostics: diags,
	})
	require.NoError(t, err)
	assert.Same(t, diags, res.Diagnostics)
	assert.True(t, diags.Has(schema.DiagTapsNoneWithInitial))
	assert.Equal(t, 1, res.Config.NSitSot)
	assert.Equal(t, []float64{1, 3}, eval(t, nil, res.Single())[0].Data())
}

func TestScan_TestValues(t *testing.T) {
	x := graph.Input("x", graph.TensorType(graph.Float64, graph.Unknown))
	var seen *tensor.Tensor
	step := func(args ...*graph.Node) (any, error) {
		seen = args[0].TestValue()
		return graph.Mul(args[0], graph.Const(2)), nil
	}

	t.Run("off", func(t *testing.T) {
		x.SetTestValue(tensor.Vector(7, 8))
		defer x.SetTestValue(nil)
		res, err := Map(step, Options{Sequences: []Sequence{Seq(x)}})
		require.NoError(t, err)
		assert.Nil(t, seen)
		assert.Equal(t, 0, res.Diagnostics.Len())
	})

	t.Run("propagated", func(t *testing.T) {
		x.SetTestValue(tensor.Vector(7, 8))
		defer x.SetTestValue(nil)
		_, err := Map(step, Options{Sequences: []Sequence{Seq(x)}, TestValues: TestValuesWarn})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, []float64{7}, seen.Data())
	})

	t.Run("missing is reported", func(t *testing.T) {
		res, err := Map(step, Options{Sequences: []Sequence{Seq(x)}, TestValues: TestValuesWarn})
		require.NoError(t, err)
		assert.True(t, res.Diagnostics.Has(schema.DiagTestValueMissing))
	})

	t.Run("missing is ignored", func(t *testing.T) {
		res, err := Map(step, Options{Sequences: []Sequence{Seq(x)}, TestValues: TestValuesIgnore})
		require.NoError(t, err)
		assert.False(t, res.Diagnostics.Has(schema.DiagTestValueMissing))
	})
}

func TestScan_LogsWithCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, err := Scan(runningSum, Options{
		Sequences:   []Sequence{Seq(vec("x", 1, 2))},
		OutputsInfo: []*OutputInfo{Init(graph.Const(0))},
		Name:        "acc",
		Logger:      logger,
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"scan_call_id":`)
	assert.Contains(t, out, `"scan_name":"acc"`)
	assert.Contains(t, out, "scan probed")
}

func TestReduceAndFolds(t *testing.T) {
	step := func(args ...*graph.Node) (any, error) {
		return graph.Add(graph.Mul(args[1], graph.Const(10)), args[0]), nil
	}
	opts := Options{
		Sequences:   []Sequence{Seq(vec("x", 1, 2, 3, 4))},
		OutputsInfo: []*OutputInfo{Init(graph.Const(0))},
	}

	for name, tc := range map[string]struct {
		run  func(StepFunc, Options) (*Result, error)
		want float64
	}{
		"reduce": {Reduce, 1234},
		"foldl":  {Foldl, 1234},
		"foldr":  {Foldr, 4321},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := tc.run(step, opts)
			require.NoError(t, err)
			out := eval(t, nil, res.Single())[0]
			assert.Equal(t, 0, out.Rank())
			assert.Equal(t, []float64{tc.want}, out.Data())
		})
	}
	assert.Equal(t, 0, opts.OutputsInfo[0].ReturnSteps, "caller's output info is not modified")
}

func TestReduce_UndeclaredOutputs(t *testing.T) {
	double := func(args ...*graph.Node) (any, error) {
		return graph.Mul(args[0], graph.Const(2)), nil
	}
	tests := []struct {
		name string
		run  func(StepFunc, Options) (*Result, error)
		opts Options
		want float64
	}{
		{"reduce", Reduce, Options{Sequences: []Sequence{Seq(oneToTen())}}, 20},
		{"foldr", Foldr, Options{Sequences: []Sequence{Seq(oneToTen())}}, 2},
		{"collapsed", Reduce, Options{Sequences: []Sequence{Seq(oneToTen())}, NSteps: 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run(double, tt.opts)
			require.NoError(t, err)
			out := eval(t, nil, res.Single())[0]
			assert.Equal(t, 0, out.Rank())
			assert.Equal(t, []float64{tt.want}, out.Data())
		})
	}

	res, err := Map(double, Options{Sequences: []Sequence{Seq(oneToTen())}})
	require.NoError(t, err)
	assert.Len(t, eval(t, nil, res.Single())[0].Data(), 10)
}

func TestScan_TruncateGradient(t *testing.T) {
	opts := Options{Sequences: []Sequence{Seq(oneToTen())}}
	res, err := Map(negate, opts)
	require.NoError(t, err)
	assert.Equal(t, -1, res.Config.TruncateGradient)

	zero := 0
	opts.TruncateGradient = &zero
	res, err = Map(negate, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Config.TruncateGradient)
}

func negate(args ...*graph.Node) (any, error) {
	return graph.Neg(args[0]), nil
}
