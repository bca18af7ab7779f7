package stepexpr

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// ExprDialect lowers expr-lang expressions.
// Thread-safe: parse trees are cached and reused across goroutines.
type ExprDialect struct {
	mu    sync.RWMutex
	cache map[string]ast.Node
}

// NewExprDialect creates an expr dialect.
func NewExprDialect() *ExprDialect {
	return &ExprDialect{cache: make(map[string]ast.Node)}
}

// Name returns the dialect identifier.
func (d *ExprDialect) Name() string { return DialectExpr }

// Lower parses (or retrieves from cache) an expression and builds its graph.
func (d *ExprDialect) Lower(ctx context.Context, expression string, scope Scope) (*graph.Node, error) {
	if err := cancelled(ctx, expression); err != nil {
		return nil, err
	}
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty step expression")
	}
	tree, err := d.getOrParse(expression)
	if err != nil {
		return nil, err
	}
	n, err := (&exprLowerer{scope: scope, src: expression}).lower(tree)
	if err != nil {
		return nil, err
	}
	return checked(n, expression)
}

func (d *ExprDialect) getOrParse(expression string) (ast.Node, error) {
	d.mu.RLock()
	if n, ok := d.cache[expression]; ok {
		d.mu.RUnlock()
		return n, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.cache[expression]; ok {
		return n, nil
	}
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expr parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	d.cache[expression] = tree.Node
	return tree.Node, nil
}

type exprLowerer struct {
	scope Scope
	src   string
}

func (l *exprLowerer) lower(node ast.Node) (*graph.Node, error) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return lookup(l.scope, n.Value, l.src)
	case *ast.IntegerNode:
		return literal(float64(n.Value)), nil
	case *ast.FloatNode:
		return literal(n.Value), nil
	case *ast.UnaryNode:
		x, err := l.lower(n.Node)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case "-":
			return graph.Neg(x), nil
		case "+":
			return x, nil
		}
		return nil, unsupported("operator "+n.Operator, l.src)
	case *ast.BinaryNode:
		f, ok := binaryOps[n.Operator]
		if !ok {
			return nil, unsupported("operator "+n.Operator, l.src)
		}
		a, err := l.lower(n.Left)
		if err != nil {
			return nil, err
		}
		b, err := l.lower(n.Right)
		if err != nil {
			return nil, err
		}
		return f(a, b), nil
	case *ast.BuiltinNode:
		return l.call(n.Name, n.Arguments)
	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return nil, unsupported("method call", l.src)
		}
		return l.call(id.Value, n.Arguments)
	case *ast.MemberNode:
		i, ok := intLiteral(n.Property)
		if !ok {
			return nil, unsupported("index (only integer literals are allowed)", l.src)
		}
		x, err := l.lower(n.Node)
		if err != nil {
			return nil, err
		}
		return graph.Index(x, i), nil
	case *ast.SliceNode:
		x, err := l.lower(n.Node)
		if err != nil {
			return nil, err
		}
		from, to, ok := 0, graph.End, true
		if n.From != nil {
			if from, ok = intLiteral(n.From); !ok {
				return nil, unsupported("slice bound", l.src)
			}
		}
		if n.To != nil {
			if to, ok = intLiteral(n.To); !ok {
				return nil, unsupported("slice bound", l.src)
			}
		}
		return graph.Slice(x, from, to), nil
	default:
		return nil, unsupported(fmt.Sprintf("%T", node), l.src)
	}
}

func (l *exprLowerer) call(name string, argNodes []ast.Node) (*graph.Node, error) {
	args := make([]*graph.Node, len(argNodes))
	for i, a := range argNodes {
		n, err := l.lower(a)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return call(name, args, l.src)
}

func intLiteral(node ast.Node) (int, bool) {
	switch n := node.(type) {
	case *ast.IntegerNode:
		return n.Value, true
	case *ast.UnaryNode:
		if n.Operator == "-" {
			if v, ok := intLiteral(n.Node); ok {
				return -v, true
			}
		}
	}
	return 0, false
}

var _ Dialect = (*ExprDialect)(nil)
