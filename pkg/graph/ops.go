package graph

import (
	"math"

	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Op is a pure operation on tensors. OutputTypes must agree with what Eval
// produces for any inputs of the given types.
type Op interface {
	Name() string
	OutputTypes(inputs []Type) ([]Type, error)
	Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// End is an open upper bound for Slice.
const End = math.MaxInt

// ApplyOp binds op to inputs and returns the op's outputs.
func ApplyOp(op Op, inputs ...*Node) ([]*Node, error) {
	types := make([]Type, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "%s: input %d is nil", op.Name(), i)
		}
		if err := in.err; err != nil {
			return nil, err
		}
		types[i] = in.typ
	}
	outTypes, err := op.OutputTypes(types)
	if err != nil {
		return nil, err
	}
	app := &Apply{Op: op, Inputs: append([]*Node(nil), inputs...)}
	app.Outputs = make([]*Node, len(outTypes))
	for i, t := range outTypes {
		out := newNode(KindResult, t, "")
		out.owner = app
		out.index = i
		app.Outputs[i] = out
	}
	return app.Outputs, nil
}

func apply1(op Op, inputs ...*Node) *Node {
	outs, err := ApplyOp(op, inputs...)
	if err != nil {
		return errNode(err)
	}
	return outs[0]
}

type binaryOp struct {
	name string
	fn   func(x, y float64) float64
}

func (o binaryOp) Name() string { return o.name }

func (o binaryOp) OutputTypes(in []Type) ([]Type, error) {
	t, err := broadcastTypes(o.name, in[0], in[1])
	if err != nil {
		return nil, err
	}
	return []Type{t}, nil
}

func (o binaryOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	out, err := tensor.Zip(in[0], in[1], o.fn)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

type unaryOp struct {
	name string
	fn   func(float64) float64
}

func (o unaryOp) Name() string { return o.name }

func (o unaryOp) OutputTypes(in []Type) ([]Type, error) {
	t := in[0]
	if o.name != "neg" && o.name != "abs" {
		t.DType = Float64
	}
	return []Type{t}, nil
}

func (o unaryOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{in[0].Map(o.fn)}, nil
}

var (
	addOp = binaryOp{"add", func(x, y float64) float64 { return x + y }}
	subOp = binaryOp{"sub", func(x, y float64) float64 { return x - y }}
	mulOp = binaryOp{"mul", func(x, y float64) float64 { return x * y }}
	divOp = binaryOp{"div", func(x, y float64) float64 { return x / y }}
	powOp = binaryOp{"pow", math.Pow}
	maxOp = binaryOp{"maximum", math.Max}
	minOp = binaryOp{"minimum", math.Min}

	negOp  = unaryOp{"neg", func(x float64) float64 { return -x }}
	absOp  = unaryOp{"abs", math.Abs}
	expOp  = unaryOp{"exp", math.Exp}
	logOp  = unaryOp{"log", math.Log}
	tanhOp = unaryOp{"tanh", math.Tanh}
	sqrtOp = unaryOp{"sqrt", math.Sqrt}
)

// Add returns a + b elementwise.
func Add(a, b *Node) *Node { return apply1(addOp, a, b) }

// Sub returns a - b elementwise.
func Sub(a, b *Node) *Node { return apply1(subOp, a, b) }

// Mul returns a * b elementwise.
func Mul(a, b *Node) *Node { return apply1(mulOp, a, b) }

// Div returns a / b elementwise.
func Div(a, b *Node) *Node { return apply1(divOp, a, b) }

// Pow returns a ** b elementwise.
func Pow(a, b *Node) *Node { return apply1(powOp, a, b) }

// Maximum returns the elementwise maximum.
func Maximum(a, b *Node) *Node { return apply1(maxOp, a, b) }

// Minimum returns the elementwise minimum.
func Minimum(a, b *Node) *Node { return apply1(minOp, a, b) }

func Neg(x *Node) *Node  { return apply1(negOp, x) }
func Abs(x *Node) *Node  { return apply1(absOp, x) }
func Exp(x *Node) *Node  { return apply1(expOp, x) }
func Log(x *Node) *Node  { return apply1(logOp, x) }
func Tanh(x *Node) *Node { return apply1(tanhOp, x) }
func Sqrt(x *Node) *Node { return apply1(sqrtOp, x) }

// indexOp selects one element of the leading axis.
type indexOp struct{ i int }

func (o indexOp) Name() string { return "index" }

func (o indexOp) OutputTypes(in []Type) ([]Type, error) {
	t, err := in[0].Step()
	if err != nil {
		return nil, err
	}
	if lead := in[0].Lead(); lead != Unknown && (o.i >= lead || o.i < -lead) {
		return nil, schema.NewErrorf(schema.ErrCodeType, "index %d out of range for %s", o.i, in[0])
	}
	return []Type{t}, nil
}

func (o indexOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	r, err := in[0].Row(o.i)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{r}, nil
}

// Index returns x[i] along the leading axis. Negative i counts from the end.
func Index(x *Node, i int) *Node { return apply1(indexOp{i}, x) }

// sliceOp selects [start, stop) of the leading axis.
type sliceOp struct{ start, stop int }

func (o sliceOp) Name() string { return "slice" }

func (o sliceOp) OutputTypes(in []Type) ([]Type, error) {
	if in[0].Rank() == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "cannot slice scalar type %s", in[0])
	}
	lead := in[0].Lead()
	if lead == Unknown {
		return []Type{in[0].WithLead(Unknown)}, nil
	}
	start, stop := clamp(o.start, lead), clamp(o.stop, lead)
	if stop < start {
		stop = start
	}
	return []Type{in[0].WithLead(stop - start)}, nil
}

func (o sliceOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	r, err := in[0].Rows(o.start, o.stop)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{r}, nil
}

func clamp(b, n int) int {
	if b == End {
		return n
	}
	if b < 0 {
		b += n
	}
	return max(0, min(b, n))
}

// Slice returns x[start:stop] along the leading axis, with Python semantics
// for negative bounds. Pass End for an open upper bound.
func Slice(x *Node, start, stop int) *Node { return apply1(sliceOp{start, stop}, x) }

type reverseOp struct{}

func (reverseOp) Name() string { return "reverse" }

func (reverseOp) OutputTypes(in []Type) ([]Type, error) {
	if in[0].Rank() == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "cannot reverse scalar type %s", in[0])
	}
	return []Type{in[0]}, nil
}

func (reverseOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	r, err := in[0].Reverse()
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{r}, nil
}

// Reverse flips x along the leading axis.
func Reverse(x *Node) *Node { return apply1(reverseOp{}, x) }

type padLeftOp struct{}

func (padLeftOp) Name() string { return "pad_left" }

func (padLeftOp) OutputTypes(in []Type) ([]Type, error) {
	t := in[0]
	return []Type{{DType: t.DType, Dims: append([]int{1}, t.Dims...), Device: t.Device}}, nil
}

func (padLeftOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{in[0].PadLeft()}, nil
}

// PadLeft adds a leading axis of length 1.
func PadLeft(x *Node) *Node { return apply1(padLeftOp{}, x) }

type lengthOp struct{}

func (lengthOp) Name() string { return "length" }

func (lengthOp) OutputTypes(in []Type) ([]Type, error) {
	if in[0].Rank() == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "length of scalar type %s", in[0])
	}
	return []Type{IntScalar}, nil
}

func (lengthOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{tensor.Scalar(float64(in[0].Len()))}, nil
}

// Length returns the size of x's leading axis as an integer scalar.
func Length(x *Node) *Node { return apply1(lengthOp{}, x) }

// expandOp allocates a buffer whose first rows are x and whose remaining n
// rows are left for the loop operator to fill.
type expandOp struct{}

func (expandOp) Name() string { return "expand" }

func (expandOp) OutputTypes(in []Type) ([]Type, error) {
	x, n := in[0], in[1]
	if x.Rank() == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "cannot expand scalar type %s", x)
	}
	if n.DType != Int64 || n.Rank() != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeType, "expand size must be an integer scalar, got %s", n)
	}
	return []Type{x.WithLead(Unknown)}, nil
}

func (expandOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	n, err := in[1].Int()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = -n
	}
	out, err := in[0].Grow(n)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

// Expand returns a buffer of length len(x)+|n| whose leading rows hold x.
func Expand(x, n *Node) *Node { return apply1(expandOp{}, x, n) }

type transferOp struct{}

func (transferOp) Name() string { return "host_from_device" }

func (transferOp) OutputTypes(in []Type) ([]Type, error) {
	return []Type{in[0].OnHost()}, nil
}

func (transferOp) Eval(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{in[0]}, nil
}

// ToHost returns x when it already lives in host memory, else a transfer of x.
func ToHost(x *Node) *Node {
	if x == nil || x.err != nil || x.typ.Device == "" {
		return x
	}
	return apply1(transferOp{}, x)
}
