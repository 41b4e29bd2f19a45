// Package graph implements a directed, adjacency-list graph with dense
// NodeIndex identifiers and a deterministic, seed-rooted topological sort.
// It backs the schedule-order DAG in runtime/schedule, but is otherwise a
// standalone, reusable data structure.
package graph

import "github.com/phasorframe/phasor/runtime/errs"

// NodeIndex identifies a node. Indices are dense: at any point in time they
// span exactly [0, NodeCount()), and RemoveNode renumbers to preserve that.
type NodeIndex uint32

type edge[E any] struct {
	to     NodeIndex
	weight E
}

// Graph is a directed graph with node weights of type N and edge weights
// of type E.
type Graph[N, E any] struct {
	nodes []N
	out   [][]edge[E]
}

// New returns an empty graph.
func New[N, E any]() *Graph[N, E] {
	return &Graph[N, E]{}
}

// NodeCount returns the number of live nodes.
func (g *Graph[N, E]) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the total number of directed edges.
func (g *Graph[N, E]) EdgeCount() int {
	n := 0
	for _, es := range g.out {
		n += len(es)
	}
	return n
}

// AddNode appends a node with the given weight and returns its index.
func (g *Graph[N, E]) AddNode(weight N) NodeIndex {
	g.nodes = append(g.nodes, weight)
	g.out = append(g.out, nil)
	return NodeIndex(len(g.nodes) - 1)
}

func (g *Graph[N, E]) inBounds(i NodeIndex) bool {
	return int(i) >= 0 && int(i) < len(g.nodes)
}

// AddEdge appends a directed edge from -> to carrying weight. It reports
// false (without error) if the edge already exists; duplicate direct edges
// are not stored. It fails errs.ErrIndicesOutOfBounds if either index is
// not a live node.
func (g *Graph[N, E]) AddEdge(from, to NodeIndex, weight E) (bool, error) {
	if !g.inBounds(from) || !g.inBounds(to) {
		return false, errs.ErrIndicesOutOfBounds
	}
	for _, e := range g.out[from] {
		if e.to == to {
			return false, nil
		}
	}
	g.out[from] = append(g.out[from], edge[E]{to: to, weight: weight})
	return true, nil
}

// ContainsEdge reports whether a direct edge a -> b exists.
func (g *Graph[N, E]) ContainsEdge(a, b NodeIndex) bool {
	if !g.inBounds(a) || !g.inBounds(b) {
		return false
	}
	for _, e := range g.out[a] {
		if e.to == b {
			return true
		}
	}
	return false
}

// OutDegree returns the number of outgoing edges from i.
func (g *Graph[N, E]) OutDegree(i NodeIndex) (int, error) {
	if !g.inBounds(i) {
		return 0, errs.ErrIndicesOutOfBounds
	}
	return len(g.out[i]), nil
}

// Neighbors returns the target indices of i's outgoing edges, in insertion
// order.
func (g *Graph[N, E]) Neighbors(i NodeIndex) ([]NodeIndex, error) {
	if !g.inBounds(i) {
		return nil, errs.ErrIndicesOutOfBounds
	}
	out := make([]NodeIndex, len(g.out[i]))
	for j, e := range g.out[i] {
		out[j] = e.to
	}
	return out, nil
}

// NeighborIterator returns a function that yields each neighbor of i in
// turn, then false once exhausted. It is a lighter-weight alternative to
// Neighbors when the caller wants to break out early.
func (g *Graph[N, E]) NeighborIterator(i NodeIndex) (func() (NodeIndex, bool), error) {
	if !g.inBounds(i) {
		return nil, errs.ErrIndicesOutOfBounds
	}
	es := g.out[i]
	idx := 0
	return func() (NodeIndex, bool) {
		if idx >= len(es) {
			return 0, false
		}
		n := es[idx].to
		idx++
		return n, true
	}, nil
}

// GetNodeWeight returns the weight of node i.
func (g *Graph[N, E]) GetNodeWeight(i NodeIndex) (N, error) {
	var zero N
	if !g.inBounds(i) {
		return zero, errs.ErrIndicesOutOfBounds
	}
	return g.nodes[i], nil
}

// SetNodeWeight replaces the weight of node i.
func (g *Graph[N, E]) SetNodeWeight(i NodeIndex, weight N) error {
	if !g.inBounds(i) {
		return errs.ErrIndicesOutOfBounds
	}
	g.nodes[i] = weight
	return nil
}

// RemoveNode removes node i, all edges incident to it (in either
// direction), and compacts the index space: the formerly-last node is
// relocated to index i (swap-remove), with every edge referencing the old
// last index rewritten to i.
func (g *Graph[N, E]) RemoveNode(i NodeIndex) error {
	if !g.inBounds(i) {
		return errs.ErrIndicesOutOfBounds
	}
	last := NodeIndex(len(g.nodes) - 1)

	// Drop edges incident to i from every adjacency list, and rewrite edges
	// targeting `last` to target `i` (since last moves there), except when
	// i == last, in which case there's nothing to relocate.
	for n := range g.out {
		filtered := g.out[n][:0]
		for _, e := range g.out[n] {
			if e.to == i {
				continue
			}
			if e.to == last && last != i {
				e.to = i
			}
			filtered = append(filtered, e)
		}
		g.out[n] = filtered
	}

	if i != last {
		g.nodes[i] = g.nodes[last]
		g.out[i] = g.out[last]
	}
	g.nodes = g.nodes[:last]
	g.out = g.out[:last]
	return nil
}

// TopoResult is the outcome of a seed-rooted topological sort.
type TopoResult struct {
	// Order lists nodes reachable from the seed in a valid topological
	// order (or the acyclic prefix thereof, if HasCycles).
	Order []NodeIndex
	// HasCycles reports whether the reachable subgraph contains a cycle.
	HasCycles bool
}

// TopologicalSortFrom performs Kahn's algorithm restricted to the subgraph
// reachable from seed. Ties among zero-in-degree nodes are broken by
// smallest NodeIndex, making the result deterministic. If the reachable
// subgraph has cycles, Order holds the acyclic prefix and HasCycles is
// true.
func (g *Graph[N, E]) TopologicalSortFrom(seed NodeIndex) (TopoResult, error) {
	if !g.inBounds(seed) {
		return TopoResult{}, errs.ErrIndicesOutOfBounds
	}

	reachable := g.bfsReachable(seed)

	inDegree := make(map[NodeIndex]int, len(reachable))
	for n := range reachable {
		inDegree[n] = 0
	}
	for n := range reachable {
		for _, e := range g.out[n] {
			if _, ok := reachable[e.to]; ok {
				inDegree[e.to]++
			}
		}
	}

	ready := newMinHeap()
	for n := range reachable {
		if inDegree[n] == 0 {
			ready.push(n)
		}
	}

	order := make([]NodeIndex, 0, len(reachable))
	for ready.len() > 0 {
		n := ready.pop()
		order = append(order, n)
		for _, e := range g.out[n] {
			if _, ok := reachable[e.to]; !ok {
				continue
			}
			inDegree[e.to]--
			if inDegree[e.to] == 0 {
				ready.push(e.to)
			}
		}
	}

	return TopoResult{Order: order, HasCycles: len(order) != len(reachable)}, nil
}

func (g *Graph[N, E]) bfsReachable(seed NodeIndex) map[NodeIndex]struct{} {
	reachable := map[NodeIndex]struct{}{seed: {}}
	queue := []NodeIndex{seed}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.out[n] {
			if _, ok := reachable[e.to]; ok {
				continue
			}
			reachable[e.to] = struct{}{}
			queue = append(queue, e.to)
		}
	}
	return reachable
}

// minHeap is a small binary heap of NodeIndex used to emit zero-in-degree
// nodes in smallest-index-first order, for deterministic tie-breaking.
type minHeap struct{ data []NodeIndex }

func newMinHeap() *minHeap { return &minHeap{} }

func (h *minHeap) len() int { return len(h.data) }

func (h *minHeap) push(v NodeIndex) {
	h.data = append(h.data, v)
	i := len(h.data) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.data[parent] <= h.data[i] {
			break
		}
		h.data[parent], h.data[i] = h.data[i], h.data[parent]
		i = parent
	}
}

func (h *minHeap) pop() NodeIndex {
	top := h.data[0]
	last := len(h.data) - 1
	h.data[0] = h.data[last]
	h.data = h.data[:last]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < len(h.data) && h.data[l] < h.data[smallest] {
			smallest = l
		}
		if r < len(h.data) && h.data[r] < h.data[smallest] {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.data[i], h.data[smallest] = h.data[smallest], h.data[i]
		i = smallest
	}
	return top
}
