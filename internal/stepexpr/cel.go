package stepexpr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// CELDialect lowers CEL expressions. Only parsing is done by CEL; identifiers
// are resolved against the scope while lowering, so no declarations are needed.
// Thread-safe: parsed expressions are cached and reused across goroutines.
type CELDialect struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]celast.Expr
}

// NewCELDialect creates a CEL dialect.
func NewCELDialect() (*CELDialect, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELDialect{env: env, cache: make(map[string]celast.Expr)}, nil
}

// Name returns the dialect identifier.
func (d *CELDialect) Name() string { return DialectCEL }

// Lower parses (or retrieves from cache) an expression and builds its graph.
func (d *CELDialect) Lower(ctx context.Context, expression string, scope Scope) (*graph.Node, error) {
	if err := cancelled(ctx, expression); err != nil {
		return nil, err
	}
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty step expression")
	}
	e, err := d.getOrParse(expression)
	if err != nil {
		return nil, err
	}
	n, err := (&celLowerer{scope: scope, src: expression}).lower(e)
	if err != nil {
		return nil, err
	}
	return checked(n, expression)
}

func (d *CELDialect) getOrParse(expression string) (celast.Expr, error) {
	d.mu.RLock()
	if e, ok := d.cache[expression]; ok {
		d.mu.RUnlock()
		return e, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.cache[expression]; ok {
		return e, nil
	}
	parsed, issues := d.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "CEL parse error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	e := parsed.NativeRep().Expr()
	d.cache[expression] = e
	return e, nil
}

var celBinary = map[string]string{
	operators.Add:      "+",
	operators.Subtract: "-",
	operators.Multiply: "*",
	operators.Divide:   "/",
}

type celLowerer struct {
	scope Scope
	src   string
}

func (l *celLowerer) lower(e celast.Expr) (*graph.Node, error) {
	switch e.Kind() {
	case celast.IdentKind:
		return lookup(l.scope, e.AsIdent(), l.src)
	case celast.LiteralKind:
		v, ok := celNumber(e.AsLiteral())
		if !ok {
			return nil, unsupported(fmt.Sprintf("literal %v", e.AsLiteral()), l.src)
		}
		return literal(v), nil
	case celast.CallKind:
		return l.call(e.AsCall())
	default:
		return nil, unsupported("CEL expression kind", l.src)
	}
}

func (l *celLowerer) call(c celast.CallExpr) (*graph.Node, error) {
	if c.IsMemberFunction() {
		return nil, unsupported("method call ."+c.FunctionName(), l.src)
	}
	fn := c.FunctionName()
	if fn == operators.Index {
		i, ok := celInt(c.Args()[1])
		if !ok {
			return nil, unsupported("index (only integer literals are allowed)", l.src)
		}
		x, err := l.lower(c.Args()[0])
		if err != nil {
			return nil, err
		}
		return graph.Index(x, i), nil
	}

	args := make([]*graph.Node, len(c.Args()))
	for i, a := range c.Args() {
		n, err := l.lower(a)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	if op, ok := celBinary[fn]; ok {
		return binaryOps[op](args[0], args[1]), nil
	}
	if fn == operators.Negate {
		return graph.Neg(args[0]), nil
	}
	if _, ok := operators.FindReverse(fn); ok {
		return nil, unsupported("operator "+fn, l.src)
	}
	return call(fn, args, l.src)
}

func celNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case types.Int:
		return float64(n), true
	case types.Uint:
		return float64(n), true
	case types.Double:
		return float64(n), true
	}
	return 0, false
}

func celInt(e celast.Expr) (int, bool) {
	switch e.Kind() {
	case celast.LiteralKind:
		if n, ok := e.AsLiteral().(types.Int); ok {
			return int(n), true
		}
	case celast.CallKind:
		c := e.AsCall()
		if c.FunctionName() == operators.Negate && len(c.Args()) == 1 {
			if v, ok := celInt(c.Args()[0]); ok {
				return -v, true
			}
		}
	}
	return 0, false
}

var _ Dialect = (*CELDialect)(nil)
