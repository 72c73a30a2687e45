// Package pipeline runs agents and fixed pipelines as an explicit graph of
// named nodes. A router picks the next node after each step, so both
// straight-line DAGs and bounded loops are expressed the same way.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/curio/internal/trace"
)

// End is returned by a Router to stop the graph.
const End = ""

const defaultMaxSteps = 1000

// ErrStepLimit is returned when a graph executes more node steps than its limit.
var ErrStepLimit = errors.New("pipeline: step limit exceeded")

// NodeFunc transforms the state. Nodes may emit their own nested steps
// (llm or tool calls) through emit.
type NodeFunc[S any] func(ctx context.Context, state S, emit trace.Emitter) (S, error)

// Node is a named step of a graph.
type Node[S any] struct {
	Name string
	// Type defaults to trace.TypeAgent.
	Type trace.StepType
	Fn   NodeFunc[S]
	// Output, when set, summarizes the state after the node for the trace.
	Output func(S) any
}

// Router returns the name of the node to run after last, or End.
type Router[S any] func(state S, last string) string

// Graph is an interpreter over a fixed set of nodes.
type Graph[S any] struct {
	start    string
	nodes    []Node[S]
	index    map[string]int
	route    Router[S]
	maxSteps int
}

// New builds a graph that starts at start. It panics on duplicate or
// missing node names, which are programming errors.
func New[S any](start string, route Router[S], nodes ...Node[S]) *Graph[S] {
	g := &Graph[S]{
		start:    start,
		nodes:    nodes,
		index:    make(map[string]int, len(nodes)),
		route:    route,
		maxSteps: defaultMaxSteps,
	}
	for i, n := range nodes {
		if _, dup := g.index[n.Name]; dup {
			panic(fmt.Sprintf("pipeline: duplicate node %q", n.Name))
		}
		g.index[n.Name] = i
	}
	if _, ok := g.index[start]; !ok {
		panic(fmt.Sprintf("pipeline: unknown start node %q", start))
	}
	return g
}

// Sequence returns a router that walks names in order and then ends.
func Sequence[S any](names ...string) Router[S] {
	next := make(map[string]string, len(names))
	for i := 0; i < len(names)-1; i++ {
		next[names[i]] = names[i+1]
	}
	return func(_ S, last string) string {
		return next[last]
	}
}

// WithMaxSteps caps the number of node executions per Run.
func (g *Graph[S]) WithMaxSteps(n int) *Graph[S] {
	g.maxSteps = n
	return g
}

// Run executes the graph from its start node. Every node emits a running
// step and then an ok or error step. When the graph stops, because the
// router returned End or a node failed, nodes that never ran are emitted
// as skipped in declaration order. The first node error stops the graph
// and is returned together with the state as of that node's start.
func (g *Graph[S]) Run(ctx context.Context, state S, emit trace.Emitter) (S, error) {
	visited := make(map[string]bool, len(g.nodes))
	cur := g.start
	steps := 0

	for cur != End {
		idx, ok := g.index[cur]
		if !ok {
			g.emitSkipped(emit, visited)
			return state, fmt.Errorf("pipeline: router chose unknown node %q", cur)
		}
		if steps >= g.maxSteps {
			g.emitSkipped(emit, visited)
			return state, ErrStepLimit
		}
		steps++

		node := g.nodes[idx]
		visited[cur] = true
		typ := node.Type
		if typ == "" {
			typ = trace.TypeAgent
		}

		emit.Emit(trace.Step{Type: typ, Name: node.Name, Status: trace.StatusRunning})

		next, err := node.Fn(ctx, state, emit)
		if err != nil {
			emit.Emit(trace.Step{Type: typ, Name: node.Name, Status: trace.StatusError, Error: err.Error()})
			g.emitSkipped(emit, visited)
			return state, err
		}
		state = next

		done := trace.Step{Type: typ, Name: node.Name, Status: trace.StatusOK}
		if node.Output != nil {
			done.Output = trace.JSON(node.Output(state))
		}
		emit.Emit(done)

		cur = g.route(state, cur)
	}

	g.emitSkipped(emit, visited)
	return state, nil
}

func (g *Graph[S]) emitSkipped(emit trace.Emitter, visited map[string]bool) {
	for _, n := range g.nodes {
		if visited[n.Name] {
			continue
		}
		typ := n.Type
		if typ == "" {
			typ = trace.TypeAgent
		}
		emit.Emit(trace.Step{Type: typ, Name: n.Name, Status: trace.StatusSkipped})
	}
}
