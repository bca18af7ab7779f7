package graph

import (
	"fmt"
	"strings"

	"github.com/rendis/scanop/pkg/schema"
)

// DType is the element type of a node.
type DType string

const (
	Float64 DType = "float64"
	Int64   DType = "int64"
)

// Unknown marks a dimension whose size is not known at construction time.
const Unknown = -1

// Type is the static type of a node: element type, dimensions and the memory
// space the value lives in. An empty Device means host memory.
type Type struct {
	DType  DType
	Dims   []int
	Device string
}

// TensorType builds a host type. Use Unknown for dimensions of unknown size.
func TensorType(dt DType, dims ...int) Type {
	return Type{DType: dt, Dims: append([]int(nil), dims...)}
}

// Scalar types.
var (
	FloatScalar = TensorType(Float64)
	IntScalar   = TensorType(Int64)
)

// Rank returns the number of dimensions.
func (t Type) Rank() int { return len(t.Dims) }

// Lead returns the size of the leading axis, or Unknown.
func (t Type) Lead() int {
	if len(t.Dims) == 0 {
		return Unknown
	}
	return t.Dims[0]
}

// Step returns the type of one element along the leading axis.
func (t Type) Step() (Type, error) {
	if len(t.Dims) == 0 {
		return Type{}, schema.NewErrorf(schema.ErrCodeType, "cannot take a time slice of scalar type %s", t)
	}
	return Type{DType: t.DType, Dims: append([]int(nil), t.Dims[1:]...), Device: t.Device}, nil
}

// WithLead returns t with the leading dimension replaced.
func (t Type) WithLead(n int) Type {
	dims := append([]int(nil), t.Dims...)
	if len(dims) > 0 {
		dims[0] = n
	}
	return Type{DType: t.DType, Dims: dims, Device: t.Device}
}

// OnHost returns t placed in host memory.
func (t Type) OnHost() Type {
	return Type{DType: t.DType, Dims: append([]int(nil), t.Dims...)}
}

// Compatible reports whether values of the two types are interchangeable:
// same element type and rank, and no conflicting known dimension.
func (t Type) Compatible(o Type) bool {
	if t.DType != o.DType || len(t.Dims) != len(o.Dims) {
		return false
	}
	for i := range t.Dims {
		if t.Dims[i] != Unknown && o.Dims[i] != Unknown && t.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return true
}

func (t Type) String() string {
	dims := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		if d == Unknown {
			dims[i] = "?"
		} else {
			dims[i] = fmt.Sprint(d)
		}
	}
	s := fmt.Sprintf("%s[%s]", t.DType, strings.Join(dims, ","))
	if t.Device != "" {
		s += "@" + t.Device
	}
	return s
}

func promote(a, b DType) DType {
	if a == Float64 || b == Float64 {
		return Float64
	}
	return Int64
}

// broadcastTypes infers the result of an elementwise binary op.
func broadcastTypes(op string, a, b Type) (Type, error) {
	dt := promote(a.DType, b.DType)
	switch {
	case a.Rank() == 0:
		return Type{DType: dt, Dims: append([]int(nil), b.Dims...)}, nil
	case b.Rank() == 0:
		return Type{DType: dt, Dims: append([]int(nil), a.Dims...)}, nil
	case a.Rank() != b.Rank():
		return Type{}, schema.NewErrorf(schema.ErrCodeType, "%s: rank mismatch between %s and %s", op, a, b)
	}
	dims := make([]int, a.Rank())
	for i := range dims {
		switch {
		case a.Dims[i] == Unknown:
			dims[i] = b.Dims[i]
		case b.Dims[i] == Unknown || a.Dims[i] == b.Dims[i]:
			dims[i] = a.Dims[i]
		default:
			return Type{}, schema.NewErrorf(schema.ErrCodeType, "%s: dimension %d mismatch between %s and %s", op, i, a, b)
		}
	}
	return Type{DType: dt, Dims: dims}, nil
}
