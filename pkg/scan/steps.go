package scan

import (
	"fmt"
	"math"

	"github.com/rendis/scanop/pkg/graph"
	"github.com/rendis/scanop/pkg/schema"
)

// tripCount is the caller's n_steps after type checks.
type tripCount struct {
	given bool        // n_steps takes part in resolution
	known bool        // value is known at construction time
	fixed int         // the known value
	node  *graph.Node // n_steps as given, when it is a node
}

func resolveNSteps(v any) (tripCount, error) {
	switch n := v.(type) {
	case nil:
		return tripCount{}, nil
	case int:
		return knownTrip(n), nil
	case int32:
		return knownTrip(int(n)), nil
	case int64:
		return knownTrip(int(n)), nil
	case uint:
		return knownTrip(int(n)), nil
	case uint32:
		return knownTrip(int(n)), nil
	case uint64:
		return knownTrip(int(n)), nil
	case float32:
		return floatTrip(float64(n))
	case float64:
		return floatTrip(n)
	case *graph.Node:
		if n == nil {
			return tripCount{}, nil
		}
		if err := n.Err(); err != nil {
			return tripCount{}, schema.NewErrorf(schema.ErrCodeGraph, "n_steps: %s", err.Error()).WithCause(err)
		}
		if t := n.Type(); t.DType != graph.Int64 || t.Rank() != 0 {
			return tripCount{}, schema.NewErrorf(schema.ErrCodeConfiguration,
				"n_steps must be an integer scalar, type provided is %s", t).
				WithDetails(map[string]any{"type": t.String()})
		}
		tc := tripCount{given: true, node: n}
		if k, ok := graph.ConstantInt(n); ok {
			tc.known, tc.fixed = true, k
		}
		return tc, nil
	default:
		return tripCount{}, schema.NewErrorf(schema.ErrCodeConfiguration, "n_steps must be an int, got %T", v)
	}
}

func knownTrip(n int) tripCount {
	return tripCount{given: true, known: true, fixed: n}
}

func floatTrip(f float64) (tripCount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return tripCount{}, nil
	}
	if f != math.Trunc(f) {
		return tripCount{}, schema.NewErrorf(schema.ErrCodeConfiguration, "n_steps must be an int, got %v", f)
	}
	return knownTrip(int(f)), nil
}

// collapsible reports a known trip count of exactly one step.
func (tc tripCount) collapsible() bool {
	return tc.known && (tc.fixed == 1 || tc.fixed == -1)
}

// backwards combines the requested direction with the sign of a known trip
// count. When the two conflict iteration goes forward.
func (tc tripCount) backwards(goBackwards bool) bool {
	negative := tc.known && tc.fixed < 0
	return goBackwards != negative
}

// resolve returns the trip count node: the minimum over the window lengths
// and the magnitude of the given n_steps. It folds to a constant whenever
// every contestant is known. A symbolic n_steps keeps its sign on the result,
// so a negative runtime value still reverses iteration inside the loop.
func (tc tripCount) resolve(windows []*graph.Node) (*graph.Node, error) {
	symbolic := tc.given && !tc.known
	if symbolic && len(windows) == 0 {
		return tc.node, nil
	}

	var contestants []*graph.Node
	for _, w := range windows {
		contestants = append(contestants, graph.Length(w))
	}
	switch {
	case !tc.given:
	case tc.known:
		contestants = append(contestants, graph.IntConst(abs(tc.fixed)))
	default:
		contestants = append(contestants, graph.Abs(tc.node))
	}
	if len(contestants) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration,
			"no information about the number of steps provided; either provide n_steps or a sequence")
	}

	least, allKnown := math.MaxInt, true
	for _, c := range contestants {
		k, ok := graph.ConstantInt(c)
		if !ok {
			allKnown = false
			break
		}
		least = min(least, k)
	}
	if allKnown {
		n := graph.IntConst(least)
		n.SetName(fmt.Sprintf("n_steps=%d", least))
		return n, nil
	}

	if len(contestants) == 1 {
		return contestants[0], nil
	}
	n := contestants[0]
	for _, c := range contestants[1:] {
		n = graph.Minimum(n, c)
	}
	if symbolic {
		n = graph.Mul(n, sign(tc.node))
	}
	if err := graph.Err(n); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "n_steps: %s", err.Error()).WithCause(err)
	}
	n.SetName("n_steps")
	return n, nil
}

// sign is -1, 0 or 1 as an integer node.
func sign(n *graph.Node) *graph.Node {
	return graph.Minimum(graph.Maximum(n, graph.IntConst(-1)), graph.IntConst(1))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
