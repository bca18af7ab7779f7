package graph

import (
	"testing"

	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(vs ...float64) *Node {
	return Constant(tensor.Vector(vs...), Float64)
}

func TestOps_TypeInference(t *testing.T) {
	x := Input("x", TensorType(Float64, 10, 3))

	row := Index(x, 0)
	require.NoError(t, row.Err())
	assert.Equal(t, []int{3}, row.Type().Dims)

	win := Slice(x, 2, -1)
	assert.Equal(t, []int{7, 3}, win.Type().Dims)

	open := Slice(x, 4, End)
	assert.Equal(t, 6, open.Type().Lead())

	padded := PadLeft(row)
	assert.Equal(t, []int{1, 3}, padded.Type().Dims)

	sum := Add(row, Const(1))
	assert.Equal(t, Float64, sum.Type().DType)
	assert.Equal(t, []int{3}, sum.Type().Dims)

	n := Length(x)
	assert.Equal(t, IntScalar, n.Type())
}

func TestOps_ErrorsPropagate(t *testing.T) {
	s := Const(1)
	bad := Index(s, 0)
	require.Error(t, bad.Err())
	assert.True(t, schema.IsCode(bad.Err(), schema.ErrCodeType))

	downstream := Add(bad, Const(2))
	assert.Error(t, Err(downstream))

	x := Input("x", TensorType(Float64, 2))
	y := Input("y", TensorType(Float64, 3))
	assert.Error(t, Err(Add(x, y)))
	assert.Error(t, Err(Index(x, 5)))
}

func TestInputs_StableDiscoveryOrder(t *testing.T) {
	a := Input("a", FloatScalar)
	b := Input("b", FloatScalar)
	w := NewShared("w", tensor.Scalar(2))
	out1 := Add(Mul(b, w), a)
	out2 := Add(a, Const(3))

	leaves := Inputs([]*Node{out1, out2})
	require.Len(t, leaves, 4)
	assert.Equal(t, []*Node{b, w, a}, leaves[:3])
	assert.True(t, leaves[3].IsConstant())

	assert.Equal(t, []*Node{b, a}, FreeInputs([]*Node{out1, out2}))
	assert.Equal(t, []*Node{w}, SharedInputs([]*Node{out1}))
}

func TestClone_Substitutes(t *testing.T) {
	a := Input("a", FloatScalar)
	b := Input("b", FloatScalar)
	untouched := Mul(b, Const(2))
	out := Add(a, untouched)
	out.SetName("out")

	a2 := Input("a2", FloatScalar)
	cloned := Clone([]*Node{out, untouched}, map[*Node]*Node{a: a2})

	require.Len(t, cloned, 2)
	assert.NotSame(t, out, cloned[0])
	assert.Same(t, untouched, cloned[1])
	assert.Equal(t, "out", cloned[0].Name())
	assert.Equal(t, []*Node{a2, b}, FreeInputs(cloned[:1]))
	assert.Equal(t, []*Node{a, b}, FreeInputs([]*Node{out}))
}

func TestConstantInt(t *testing.T) {
	x := Input("x", TensorType(Float64, 10))
	y := Input("y", TensorType(Float64, Unknown))

	n, ok := ConstantInt(Length(x))
	require.True(t, ok)
	assert.Equal(t, 10, n)

	n, ok = ConstantInt(Minimum(Length(Slice(x, 3, End)), IntConst(9)))
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = ConstantInt(Length(y))
	assert.False(t, ok)

	_, ok = ConstantInt(Input("n", IntScalar))
	assert.False(t, ok)

	_, ok = ConstantInt(Const(1.5))
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	x := Input("x", TensorType(Float64, Unknown))
	w := NewShared("w", tensor.Scalar(10))
	out := Mul(Reverse(x), w)

	vals, err := Evaluate([]*Node{out, Length(x)}, map[*Node]*tensor.Tensor{x: tensor.Vector(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 20, 10}, vals[0].Data())
	assert.Equal(t, []float64{3}, vals[1].Data())

	_, err = Evaluate([]*Node{out}, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraph))
}

func TestExpand(t *testing.T) {
	init := vec(5)
	buf := Expand(PadLeft(Index(init, 0)), IntConst(3))
	require.NoError(t, buf.Err())

	vals, err := Evaluate([]*Node{buf}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, vals[0].Shape())
	assert.Equal(t, []float64{5, 0, 0, 0}, vals[0].Data())

	assert.Error(t, Err(Expand(vec(1), Const(2))))
}

func TestCompile_ExpandedInputs(t *testing.T) {
	x := Input("x", FloatScalar)
	w := NewShared("w", tensor.Scalar(2))
	count := NewShared("count", tensor.Scalar(0))
	out := Mul(x, w)
	upd := NewUpdates(Update{Target: count, Expr: Add(count, Const(1))})

	fn, err := Compile([]*Node{x}, []*Node{out}, upd, ModeUnoptimized)
	require.NoError(t, err)
	require.Len(t, fn.Expanded, 3)
	assert.Equal(t, In{Node: x}, fn.Expanded[0])
	assert.Same(t, w, fn.Expanded[1].Node)
	assert.Nil(t, fn.Expanded[1].Update)
	assert.Same(t, count, fn.Expanded[2].Node)
	assert.NotNil(t, fn.Expanded[2].Update)
	assert.True(t, fn.Expanded[2].Implicit)

	vals, err := fn.Call(tensor.Scalar(4))
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, vals[0].Data())
	assert.Equal(t, []float64{1}, count.Value().Data())

	_, err = fn.Call(tensor.Scalar(4))
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, count.Value().Data())
}

func TestCompile_Rejects(t *testing.T) {
	x := Input("x", FloatScalar)
	y := Input("y", FloatScalar)
	w := NewShared("w", tensor.Vector(1, 2))

	_, err := Compile([]*Node{x}, []*Node{Add(x, y)}, nil, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraph))

	_, err = Compile([]*Node{x, x}, []*Node{x}, nil, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraph))

	_, err = Compile([]*Node{w}, []*Node{w}, nil, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraph))

	_, err = Compile([]*Node{x}, []*Node{x}, NewUpdates(Update{Target: x, Expr: x}), "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraph))

	_, err = Compile([]*Node{x}, []*Node{x}, NewUpdates(Update{Target: w, Expr: x}), "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeType))
}

func TestUpdates_Ordered(t *testing.T) {
	a := NewShared("a", tensor.Scalar(0))
	b := NewShared("b", tensor.Scalar(0))
	e1, e2, e3 := Const(1), Const(2), Const(3)

	u := NewUpdates(Update{Target: b, Expr: e1}, Update{Target: a, Expr: e2})
	u.Set(b, e3)

	require.Equal(t, 2, u.Len())
	items := u.Items()
	assert.Same(t, b, items[0].Target)
	assert.Same(t, e3, items[0].Expr)
	got, ok := u.Get(a)
	require.True(t, ok)
	assert.Same(t, e2, got)

	var empty *Updates
	assert.Equal(t, 0, empty.Len())
	_, ok = empty.Get(a)
	assert.False(t, ok)
}

func TestTestValue(t *testing.T) {
	x := Input("x", TensorType(Float64, 3))
	x.SetTestValue(tensor.Vector(1, 2, 3))

	v, err := TestValue(Index(x, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, v.Data())

	_, err = TestValue(Index(Input("y", TensorType(Float64, 3)), 0))
	assert.Error(t, err)
}

func TestToHost(t *testing.T) {
	host := NewShared("h", tensor.Scalar(1))
	assert.Same(t, host, ToHost(host))

	dev := NewSharedOn("d", tensor.Vector(1, 2), "accel0")
	moved := ToHost(dev)
	require.NotSame(t, dev, moved)
	assert.Equal(t, "", moved.Type().Device)
	assert.Equal(t, "accel0", dev.Type().Device)

	vals, err := Evaluate([]*Node{moved}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, vals[0].Data())
}

func TestSetValue(t *testing.T) {
	w := NewShared("w", tensor.Vector(1, 2))
	require.NoError(t, w.SetValue(tensor.Vector(3, 4)))
	assert.Equal(t, []float64{3, 4}, w.Value().Data())
	assert.Error(t, w.SetValue(tensor.Scalar(1)))
	assert.Error(t, Const(1).SetValue(tensor.Scalar(2)))
}
