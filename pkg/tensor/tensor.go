// Package tensor provides the dense value container carried by constants,
// stateful cells and debug sample values, and produced by graph evaluation.
//
// It is deliberately small: row-major float64 storage, a leading "time" axis
// that can be indexed, sliced, reversed and stacked, and elementwise
// arithmetic with scalar broadcasting. It is not a general array library.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor is an immutable n-dimensional array. Rank 0 is a scalar.
type Tensor struct {
	shape []int
	data  []float64
}

// New creates a tensor with the given shape over a copy of data.
func New(shape []int, data []float64) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: append([]float64(nil), data...)}, nil
}

// Scalar returns a rank-0 tensor.
func Scalar(v float64) *Tensor {
	return &Tensor{data: []float64{v}}
}

// Vector returns a rank-1 tensor.
func Vector(vs ...float64) *Tensor {
	return &Tensor{shape: []int{len(vs)}, data: append([]float64(nil), vs...)}
}

// Zeros returns a zero-filled tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{shape: append([]int(nil), shape...), data: make([]float64, n)}
}

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Data returns a copy of the flat row-major storage.
func (t *Tensor) Data() []float64 { return append([]float64(nil), t.data...) }

// Len returns the size of the leading axis; 0 for scalars.
func (t *Tensor) Len() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[0]
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("item of tensor with shape %v", t.shape)
	}
	return t.data[0], nil
}

// Int returns the value of a single-element tensor as an integer.
func (t *Tensor) Int() (int, error) {
	v, err := t.Item()
	if err != nil {
		return 0, err
	}
	if math.Trunc(v) != v {
		return 0, fmt.Errorf("value %v is not integral", v)
	}
	return int(v), nil
}

func (t *Tensor) rowSize() int {
	n := 1
	for _, d := range t.shape[1:] {
		n *= d
	}
	return n
}

// Row returns element i of the leading axis. Negative i counts from the end.
func (t *Tensor) Row(i int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("cannot index a scalar")
	}
	if i < 0 {
		i += t.shape[0]
	}
	if i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("index %d out of range for length %d", i, t.shape[0])
	}
	rs := t.rowSize()
	return &Tensor{shape: append([]int(nil), t.shape[1:]...), data: append([]float64(nil), t.data[i*rs:(i+1)*rs]...)}, nil
}

// Rows returns the half-open range [start, stop) of the leading axis, with
// Python-like clamping of out-of-range bounds. Negative bounds count from the end.
func (t *Tensor) Rows(start, stop int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("cannot slice a scalar")
	}
	n := t.shape[0]
	start, stop = clampBound(start, n), clampBound(stop, n)
	if stop < start {
		stop = start
	}
	rs := t.rowSize()
	shape := append([]int{stop - start}, t.shape[1:]...)
	return &Tensor{shape: shape, data: append([]float64(nil), t.data[start*rs:stop*rs]...)}, nil
}

func clampBound(b, n int) int {
	if b < 0 {
		b += n
	}
	if b < 0 {
		return 0
	}
	if b > n {
		return n
	}
	return b
}

// Reverse flips the leading axis.
func (t *Tensor) Reverse() (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("cannot reverse a scalar")
	}
	n, rs := t.shape[0], t.rowSize()
	out := make([]float64, 0, len(t.data))
	for i := n - 1; i >= 0; i-- {
		out = append(out, t.data[i*rs:(i+1)*rs]...)
	}
	return &Tensor{shape: t.Shape(), data: out}, nil
}

// PadLeft adds a leading axis of length 1.
func (t *Tensor) PadLeft() *Tensor {
	return &Tensor{shape: append([]int{1}, t.shape...), data: t.Data()}
}

// Stack joins equally shaped tensors along a new leading axis.
func Stack(rows []*Tensor, rowShape []int) (*Tensor, error) {
	out := make([]float64, 0)
	for i, r := range rows {
		if !sameShape(r.shape, rowShape) {
			return nil, fmt.Errorf("row %d has shape %v, want %v", i, r.shape, rowShape)
		}
		out = append(out, r.data...)
	}
	return &Tensor{shape: append([]int{len(rows)}, rowShape...), data: out}, nil
}

// WithRow returns a copy of t with element i of the leading axis replaced.
func (t *Tensor) WithRow(i int, row *Tensor) (*Tensor, error) {
	if len(t.shape) == 0 || i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("row %d out of range for shape %v", i, t.shape)
	}
	if !sameShape(row.shape, t.shape[1:]) {
		return nil, fmt.Errorf("row shape %v does not match %v", row.shape, t.shape[1:])
	}
	data := t.Data()
	rs := t.rowSize()
	copy(data[i*rs:(i+1)*rs], row.data)
	return &Tensor{shape: t.Shape(), data: data}, nil
}

// Grow appends n zero rows to the leading axis.
func (t *Tensor) Grow(n int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("cannot grow a scalar")
	}
	if n < 0 {
		return nil, fmt.Errorf("negative growth %d", n)
	}
	data := append(t.Data(), make([]float64, n*t.rowSize())...)
	shape := t.Shape()
	shape[0] += n
	return &Tensor{shape: shape, data: data}, nil
}

// Map applies f to every element.
func (t *Tensor) Map(f func(float64) float64) *Tensor {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = f(v)
	}
	return &Tensor{shape: t.Shape(), data: out}
}

// Zip combines two tensors elementwise. Shapes must match unless one side is a
// single-element tensor, which is broadcast.
func Zip(a, b *Tensor, f func(x, y float64) float64) (*Tensor, error) {
	switch {
	case sameShape(a.shape, b.shape):
		out := make([]float64, len(a.data))
		for i := range a.data {
			out[i] = f(a.data[i], b.data[i])
		}
		return &Tensor{shape: a.Shape(), data: out}, nil
	case len(b.data) == 1 && len(b.shape) <= len(a.shape):
		return a.Map(func(x float64) float64 { return f(x, b.data[0]) }), nil
	case len(a.data) == 1 && len(a.shape) <= len(b.shape):
		return b.Map(func(y float64) float64 { return f(a.data[0], y) }), nil
	default:
		return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a.shape, b.shape)
	}
}

// Equal reports whether two tensors have the same shape and elements.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !sameShape(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Nested converts the tensor into nested []any of float64, the shape JSON encodes.
func (t *Tensor) Nested() any {
	if len(t.shape) == 0 {
		return t.data[0]
	}
	out := make([]any, t.shape[0])
	for i := range out {
		r, _ := t.Row(i)
		out[i] = r.Nested()
	}
	return out
}

// FromNested builds a tensor from a number or nested slices of numbers,
// as produced by decoding JSON into any.
func FromNested(v any) (*Tensor, error) {
	switch x := v.(type) {
	case float64:
		return Scalar(x), nil
	case int:
		return Scalar(float64(x)), nil
	case []any:
		if len(x) == 0 {
			return &Tensor{shape: []int{0}}, nil
		}
		rows := make([]*Tensor, len(x))
		for i, e := range x {
			r, err := FromNested(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			rows[i] = r
		}
		return Stack(rows, rows[0].shape)
	default:
		return nil, fmt.Errorf("unsupported element %T", v)
	}
}

func (t *Tensor) String() string {
	if len(t.shape) == 0 {
		return fmt.Sprintf("%g", t.data[0])
	}
	parts := make([]string, t.shape[0])
	for i := range parts {
		r, _ := t.Row(i)
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
