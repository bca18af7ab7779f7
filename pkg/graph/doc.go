// Package graph is the symbolic computation-graph capability the loop
// constructor is built on.
//
// A graph is made of Nodes. A node is either a leaf (an Input placeholder, a
// Constant, or a Shared stateful cell) or the result of an Apply, which binds an
// Op to its input nodes and owns one or more output nodes. Nodes are immutable
// once created, except for a stateful cell's current value, its name, and its
// optional debug sample (TestValue).
//
// # Capabilities
//
//   - Construction: Input, Constant, NewShared, and the op helpers in ops.go.
//     Helpers never panic; a node built from ill-typed operands carries an error
//     that Err reports.
//   - Discovery: Inputs lists the free leaves a set of outputs depends on, in
//     stable discovery order.
//   - Substitution: Clone rebuilds a subgraph replacing selected nodes.
//   - Folding: ConstantInt evaluates compile-time-known integer expressions.
//   - Evaluation: Evaluate computes values given bindings for the free inputs.
//   - Compilation: Compile produces an unoptimized Function whose expanded input
//     list enumerates every stateful cell touched, with its update rule if any.
//
// # Thread-Safety
//
// Building graphs is not synchronized; a graph under construction belongs to
// one goroutine. Stateful cell values are guarded and may be read and written
// concurrently.
package graph
