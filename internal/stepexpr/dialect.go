// Package stepexpr lowers textual step expressions into graph nodes so that a
// loop's step transformation can be written as source text.
//
// Two dialects are provided: "expr" (expr-lang syntax, with ** for powers and
// x[i] / x[a:b] indexing) and "cel" (Common Expression Language syntax, with
// pow(a, b) and x[i]). Both accept the same functions:
//
//	exp log tanh sqrt abs reverse len   one argument
//	max min pow                          two arguments
package stepexpr

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// Scope binds identifiers to graph nodes.
type Scope map[string]*graph.Node

// Dialect lowers one expression into a graph node over the given scope.
type Dialect interface {
	Name() string
	Lower(ctx context.Context, expression string, scope Scope) (*graph.Node, error)
}

// Dialect names.
const (
	DialectExpr = "expr"
	DialectCEL  = "cel"
)

// New returns the dialect registered under name. An empty name selects expr.
func New(name string) (Dialect, error) {
	switch name {
	case "", DialectExpr:
		return NewExprDialect(), nil
	case DialectCEL:
		return NewCELDialect()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"unknown step dialect %q (want %q or %q)", name, DialectExpr, DialectCEL)
	}
}

var unaryFuncs = map[string]func(*graph.Node) *graph.Node{
	"exp":     graph.Exp,
	"log":     graph.Log,
	"tanh":    graph.Tanh,
	"sqrt":    graph.Sqrt,
	"abs":     graph.Abs,
	"reverse": graph.Reverse,
	"len":     graph.Length,
}

var binaryFuncs = map[string]func(a, b *graph.Node) *graph.Node{
	"max": graph.Maximum,
	"min": graph.Minimum,
	"pow": graph.Pow,
}

var binaryOps = map[string]func(a, b *graph.Node) *graph.Node{
	"+":  graph.Add,
	"-":  graph.Sub,
	"*":  graph.Mul,
	"/":  graph.Div,
	"**": graph.Pow,
	"^":  graph.Pow,
}

func lookup(scope Scope, name, expression string) (*graph.Node, error) {
	if n, ok := scope[name]; ok && n != nil {
		return n, nil
	}
	known := make([]string, 0, len(scope))
	for k := range scope {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown identifier %q in %q", name, expression).
		WithDetails(map[string]any{"identifier": name, "expression": expression, "known": known})
}

func call(name string, args []*graph.Node, expression string) (*graph.Node, error) {
	if f, ok := unaryFuncs[name]; ok {
		if len(args) != 1 {
			return nil, arity(name, 1, len(args), expression)
		}
		return f(args[0]), nil
	}
	if f, ok := binaryFuncs[name]; ok {
		if len(args) != 2 {
			return nil, arity(name, 2, len(args), expression)
		}
		return f(args[0], args[1]), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown function %q in %q", name, expression).
		WithDetails(map[string]any{"function": name, "expression": expression})
}

func arity(name string, want, got int, expression string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s takes %d argument(s), got %d in %q", name, want, got, expression)
}

// cancelled stops lowering once the caller's context is done.
func cancelled(ctx context.Context, expression string) error {
	if err := ctx.Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeEvaluation, "lowering %q: %s", expression, err.Error()).WithCause(err)
	}
	return nil
}

func unsupported(what, expression string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "unsupported %s in step expression %q", what, expression).
		WithDetails(map[string]any{"expression": expression})
}

// checked surfaces a type error carried by the lowered node.
func checked(n *graph.Node, expression string) (*graph.Node, error) {
	if err := graph.Err(n); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeType, "%q: %s", expression, err.Error()).
			WithCause(err).WithDetails(map[string]any{"expression": expression})
	}
	return n, nil
}

func literal(v float64) *graph.Node {
	n := graph.Const(v)
	n.SetName(fmt.Sprint(v))
	return n
}
