package graph

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rendis/scanop/pkg/schema"
	"github.com/rendis/scanop/pkg/tensor"
)

// Kind classifies a node.
type Kind int

const (
	KindInput    Kind = iota // free placeholder, bound at evaluation time
	KindConstant             // literal value
	KindShared               // stateful cell with a current value
	KindResult               // output of an Apply
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConstant:
		return "constant"
	case KindShared:
		return "shared"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// Node is one value in a computation graph.
type Node struct {
	id    string
	kind  Kind
	typ   Type
	name  string
	owner *Apply
	index int
	value *tensor.Tensor // constants
	cell  *cell          // stateful cells
	test  *tensor.Tensor
	err   error
}

type cell struct {
	mu    sync.RWMutex
	value *tensor.Tensor
}

// Apply binds an Op to its inputs and owns its outputs.
type Apply struct {
	Op      Op
	Inputs  []*Node
	Outputs []*Node
}

func newNode(kind Kind, typ Type, name string) *Node {
	return &Node{id: uuid.NewString(), kind: kind, typ: typ, name: name}
}

// Input creates a free placeholder of the given type.
func Input(name string, typ Type) *Node {
	return newNode(KindInput, typ, name)
}

// Constant creates a literal node of element type dt.
func Constant(v *tensor.Tensor, dt DType) *Node {
	n := newNode(KindConstant, TensorType(dt, v.Shape()...), "")
	n.value = v
	return n
}

// Const creates a float scalar constant.
func Const(v float64) *Node {
	return Constant(tensor.Scalar(v), Float64)
}

// IntConst creates an integer scalar constant.
func IntConst(v int) *Node {
	return Constant(tensor.Scalar(float64(v)), Int64)
}

// NewShared creates a host-resident stateful cell holding v.
func NewShared(name string, v *tensor.Tensor) *Node {
	return NewSharedOn(name, v, "")
}

// NewSharedOn creates a stateful cell whose value lives on the named device.
func NewSharedOn(name string, v *tensor.Tensor, device string) *Node {
	typ := TensorType(Float64, v.Shape()...)
	typ.Device = device
	n := newNode(KindShared, typ, name)
	n.cell = &cell{value: v}
	return n
}

// Like creates a fresh placeholder with the same type as n, in host memory.
func Like(n *Node, name string) *Node {
	return Input(name, n.typ.OnHost())
}

func errNode(err error) *Node {
	n := newNode(KindResult, Type{}, "")
	n.err = err
	return n
}

// ID returns the node's unique identifier.
func (n *Node) ID() string { return n.id }

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.kind }

// Type returns the node's static type.
func (n *Node) Type() Type { return n.typ }

// Name returns the debug name, possibly empty.
func (n *Node) Name() string { return n.name }

// SetName sets the debug name.
func (n *Node) SetName(name string) { n.name = name }

// Owner returns the Apply that produced n, or nil for leaves.
func (n *Node) Owner() *Apply { return n.owner }

// Index returns n's position among its owner's outputs.
func (n *Node) Index() int { return n.index }

// Err returns the construction error carried by this node itself.
func (n *Node) Err() error { return n.err }

// IsShared reports whether n is a stateful cell.
func (n *Node) IsShared() bool { return n.kind == KindShared }

// IsConstant reports whether n is a literal.
func (n *Node) IsConstant() bool { return n.kind == KindConstant }

// Value returns the literal of a constant or the current value of a stateful
// cell; nil for other kinds.
func (n *Node) Value() *tensor.Tensor {
	switch n.kind {
	case KindConstant:
		return n.value
	case KindShared:
		n.cell.mu.RLock()
		defer n.cell.mu.RUnlock()
		return n.cell.value
	default:
		return nil
	}
}

// SetValue replaces the current value of a stateful cell.
func (n *Node) SetValue(v *tensor.Tensor) error {
	if n.kind != KindShared {
		return schema.NewErrorf(schema.ErrCodeGraph, "%s is not a stateful cell", n)
	}
	if v.Rank() != n.typ.Rank() {
		return schema.NewErrorf(schema.ErrCodeType, "value of rank %d for cell %s of type %s", v.Rank(), n, n.typ)
	}
	n.cell.mu.Lock()
	defer n.cell.mu.Unlock()
	n.cell.value = v
	return nil
}

// TestValue returns the debug sample attached to n, if any.
func (n *Node) TestValue() *tensor.Tensor { return n.test }

// SetTestValue attaches a debug sample to n.
func (n *Node) SetTestValue(v *tensor.Tensor) { n.test = v }

func (n *Node) String() string {
	if n.name != "" {
		return n.name
	}
	if n.owner != nil {
		return n.owner.Op.Name() + "." + n.id[:8]
	}
	return n.kind.String() + "." + n.id[:8]
}
