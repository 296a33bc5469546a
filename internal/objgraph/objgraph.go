// SPDX-License-Identifier: MPL-2.0

// Package objgraph provides a generic directed object graph with named roots
// and attributed edges. It knows nothing about imports: nodes are identified by
// the string returned from their Identifier method, and every edge carries an
// arbitrary payload.
//
// Enumeration order is always insertion order so that everything derived from
// the graph is reproducible between identical runs.
package objgraph

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

var (
	// ErrDuplicateNode is the sentinel wrapped by DuplicateNodeError.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownNode is the sentinel wrapped by UnknownNodeError.
	ErrUnknownNode = errors.New("unknown node")
	// ErrDuplicateEdge is the sentinel wrapped by DuplicateEdgeError.
	ErrDuplicateEdge = errors.New("duplicate edge")
	// ErrUnknownEdge is the sentinel wrapped by UnknownEdgeError.
	ErrUnknownEdge = errors.New("unknown edge")
)

type (
	// Node is anything that can be stored in a Graph.
	Node interface {
		Identifier() string
	}

	// MergeFunc combines the payload of an existing edge with a new one.
	MergeFunc[E any] func(old, new E) E

	// Graph is a directed graph of nodes of type N whose edges carry payloads of type E.
	// At most one edge exists between an ordered pair of nodes.
	Graph[N Node, E any] struct {
		// nodes maps identifiers to stored nodes.
		nodes map[string]N
		// order tracks node identifiers in insertion order.
		order []string
		// out and in hold neighbor identifiers in edge insertion order.
		out map[string][]string
		in  map[string][]string
		// edges stores payloads keyed by (source, target).
		edges map[edgeKey]E
		// edgeOrder tracks edges in insertion order.
		edgeOrder []edgeKey
		roots     []string
		rootSet   map[string]bool
	}

	// Edge is one enumerated edge.
	Edge[N Node, E any] struct {
		Source N
		Target N
		Data   E
	}

	edgeKey struct {
		source string
		target string
	}

	// DuplicateNodeError is returned when a node with the same identifier already exists.
	DuplicateNodeError struct {
		ID string
	}

	// UnknownNodeError is returned when an operation references a node that is not in the graph.
	UnknownNodeError struct {
		ID string
	}

	// DuplicateEdgeError is returned when an edge already exists and no merge function was given.
	DuplicateEdgeError struct {
		Source string
		Target string
	}

	// UnknownEdgeError is returned when edge data is requested for a missing edge.
	UnknownEdgeError struct {
		Source string
		Target string
	}

	// CycleError reports the nodes that could not be placed in a dependency-first order.
	CycleError struct {
		Cycle []string
	}
)

func (e *DuplicateNodeError) Error() string { return fmt.Sprintf("duplicate node %q", e.ID) }

// Unwrap returns ErrDuplicateNode.
func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

func (e *UnknownNodeError) Error() string { return fmt.Sprintf("unknown node %q", e.ID) }

// Unwrap returns ErrUnknownNode.
func (e *UnknownNodeError) Unwrap() error { return ErrUnknownNode }

func (e *DuplicateEdgeError) Error() string {
	return fmt.Sprintf("duplicate edge %q -> %q", e.Source, e.Target)
}

// Unwrap returns ErrDuplicateEdge.
func (e *DuplicateEdgeError) Unwrap() error { return ErrDuplicateEdge }

func (e *UnknownEdgeError) Error() string {
	return fmt.Sprintf("unknown edge %q -> %q", e.Source, e.Target)
}

// Unwrap returns ErrUnknownEdge.
func (e *UnknownEdgeError) Unwrap() error { return ErrUnknownEdge }

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New[N Node, E any]() *Graph[N, E] {
	return &Graph[N, E]{
		nodes:   make(map[string]N),
		out:     make(map[string][]string),
		in:      make(map[string][]string),
		edges:   make(map[edgeKey]E),
		rootSet: make(map[string]bool),
	}
}

// AddNode stores n. It fails with DuplicateNodeError if a node with the same
// identifier is already present.
func (g *Graph[N, E]) AddNode(n N) error {
	id := n.Identifier()
	if _, ok := g.nodes[id]; ok {
		return &DuplicateNodeError{ID: id}
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return nil
}

// AddRoot marks an existing node as a traversal root. Marking a node twice is a no-op.
func (g *Graph[N, E]) AddRoot(n N) error {
	id := n.Identifier()
	if _, ok := g.nodes[id]; !ok {
		return &UnknownNodeError{ID: id}
	}
	if g.rootSet[id] {
		return nil
	}
	g.rootSet[id] = true
	g.roots = append(g.roots, id)
	return nil
}

// Find returns the stored node with the given identifier.
func (g *Graph[N, E]) Find(id string) (N, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// FindNode returns the stored node sharing n's identity. n may be the stored
// instance itself or an equal but distinct value.
func (g *Graph[N, E]) FindNode(n N) (N, bool) {
	return g.Find(n.Identifier())
}

// Replace swaps the stored node sharing n's identifier for n. Edges and the
// root mark stay in place.
func (g *Graph[N, E]) Replace(n N) error {
	id := n.Identifier()
	if _, ok := g.nodes[id]; !ok {
		return &UnknownNodeError{ID: id}
	}
	g.nodes[id] = n
	return nil
}

// Contains reports whether a node with the given identifier exists.
func (g *Graph[N, E]) Contains(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddEdge adds a directed edge source -> target carrying data. If the edge
// already exists, merge combines the old and new payloads in place; without a
// merge function a DuplicateEdgeError is returned.
func (g *Graph[N, E]) AddEdge(source, target N, data E, merge MergeFunc[E]) error {
	key, err := g.key(source, target)
	if err != nil {
		return err
	}
	if old, ok := g.edges[key]; ok {
		if merge == nil {
			return &DuplicateEdgeError{Source: key.source, Target: key.target}
		}
		g.edges[key] = merge(old, data)
		return nil
	}
	g.edges[key] = data
	g.edgeOrder = append(g.edgeOrder, key)
	g.out[key.source] = append(g.out[key.source], key.target)
	g.in[key.target] = append(g.in[key.target], key.source)
	return nil
}

// EdgeData returns the payload of the edge source -> target.
func (g *Graph[N, E]) EdgeData(source, target N) (E, error) {
	var zero E
	key, err := g.key(source, target)
	if err != nil {
		return zero, err
	}
	data, ok := g.edges[key]
	if !ok {
		return zero, &UnknownEdgeError{Source: key.source, Target: key.target}
	}
	return data, nil
}

// HasEdge reports whether the edge source -> target exists.
func (g *Graph[N, E]) HasEdge(source, target N) bool {
	_, ok := g.edges[edgeKey{source: source.Identifier(), target: target.Identifier()}]
	return ok
}

// Outgoing yields (data, target) pairs for the edges leaving n.
// Unknown nodes yield nothing.
func (g *Graph[N, E]) Outgoing(n N) iter.Seq2[E, N] {
	id := n.Identifier()
	return func(yield func(E, N) bool) {
		for _, target := range g.out[id] {
			if !yield(g.edges[edgeKey{source: id, target: target}], g.nodes[target]) {
				return
			}
		}
	}
}

// Incoming yields (data, source) pairs for the edges entering n.
// Unknown nodes yield nothing.
func (g *Graph[N, E]) Incoming(n N) iter.Seq2[E, N] {
	id := n.Identifier()
	return func(yield func(E, N) bool) {
		for _, source := range g.in[id] {
			if !yield(g.edges[edgeKey{source: source, target: id}], g.nodes[source]) {
				return
			}
		}
	}
}

// Reachable returns every node reachable from start (start included) using a
// depth-first traversal. Each node appears exactly once.
func (g *Graph[N, E]) Reachable(start N) ([]N, error) {
	id := start.Identifier()
	if _, ok := g.nodes[id]; !ok {
		return nil, &UnknownNodeError{ID: id}
	}
	return g.walk([]string{id}), nil
}

// ReachableFromRoots returns every node reachable from any root.
func (g *Graph[N, E]) ReachableFromRoots() []N {
	return g.walk(g.roots)
}

// walk runs an iterative depth-first traversal guarded by a visited set.
func (g *Graph[N, E]) walk(starts []string) []N {
	visited := make(map[string]bool)
	var result []N
	for _, s := range starts {
		stack := []string{s}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[id] {
				continue
			}
			visited[id] = true
			result = append(result, g.nodes[id])
			neighbors := g.out[id]
			// Push in reverse so neighbors are visited in insertion order.
			for i := len(neighbors) - 1; i >= 0; i-- {
				if !visited[neighbors[i]] {
					stack = append(stack, neighbors[i])
				}
			}
		}
	}
	return result
}

// Nodes returns all nodes in insertion order.
func (g *Graph[N, E]) Nodes() []N {
	result := make([]N, 0, len(g.order))
	for _, id := range g.order {
		result = append(result, g.nodes[id])
	}
	return result
}

// Edges returns all edges in insertion order.
func (g *Graph[N, E]) Edges() []Edge[N, E] {
	result := make([]Edge[N, E], 0, len(g.edgeOrder))
	for _, key := range g.edgeOrder {
		result = append(result, Edge[N, E]{
			Source: g.nodes[key.source],
			Target: g.nodes[key.target],
			Data:   g.edges[key],
		})
	}
	return result
}

// Roots returns the root nodes in the order they were marked.
func (g *Graph[N, E]) Roots() []N {
	result := make([]N, 0, len(g.roots))
	for _, id := range g.roots {
		result = append(result, g.nodes[id])
	}
	return result
}

// Len returns the number of nodes.
func (g *Graph[N, E]) Len() int {
	return len(g.order)
}

// DependencyOrder returns all nodes ordered so that every edge target comes
// before its source (dependencies first), using Kahn's algorithm. Nodes at the
// same level keep insertion order. Nodes caught in or behind a cycle cannot be
// ordered; they are appended in insertion order and also reported through a
// CycleError, so callers that tolerate cycles can still use the full order.
func (g *Graph[N, E]) DependencyOrder() ([]N, error) {
	if len(g.order) == 0 {
		return nil, nil
	}

	// An edge source -> target means target must be placed first, so count
	// each node's outgoing edges as its pending prerequisites.
	pending := make(map[string]int, len(g.order))
	for _, id := range g.order {
		pending[id] = len(g.out[id])
	}

	queue := make([]string, 0)
	for _, id := range g.order {
		if pending[id] == 0 {
			queue = append(queue, id)
		}
	}

	placed := make(map[string]bool, len(g.order))
	var result []N
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		placed[id] = true
		result = append(result, g.nodes[id])

		for _, dependent := range g.in[id] {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) == len(g.order) {
		return result, nil
	}

	var cycle []string
	for _, id := range g.order {
		if !placed[id] {
			cycle = append(cycle, id)
			result = append(result, g.nodes[id])
		}
	}
	return result, &CycleError{Cycle: cycle}
}

func (g *Graph[N, E]) key(source, target N) (edgeKey, error) {
	src, dst := source.Identifier(), target.Identifier()
	if _, ok := g.nodes[src]; !ok {
		return edgeKey{}, &UnknownNodeError{ID: src}
	}
	if _, ok := g.nodes[dst]; !ok {
		return edgeKey{}, &UnknownNodeError{ID: dst}
	}
	return edgeKey{source: src, target: dst}, nil
}
