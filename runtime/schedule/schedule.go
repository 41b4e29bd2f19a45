// Package schedule implements the schedule registry and default runner: a
// named set of schedules, each an ordered list of systems, arranged into a
// schedule-order DAG of before/after relations between schedules.
package schedule

import (
	"github.com/phasorframe/phasor/runtime/errs"
	"github.com/phasorframe/phasor/runtime/graph"
	"github.com/phasorframe/phasor/runtime/txn"
)

// System is one unit of work registered into a Schedule: a name, unique
// within its schedule, and a callable the core never inspects beyond its
// error return.
type System struct {
	Name string
	Fn   func(txn.Transaction) error
}

// Schedule is a named, ordered list of systems.
type Schedule struct {
	Name     string
	Index    int
	Systems  []System
	systemAt map[string]int
}

// Registry owns the set of schedules and the schedule-order DAG encoding
// before/after relations between them. Nodes in the order graph are
// schedule indices; an edge a->b means "a runs before b".
type Registry struct {
	schedules    []*Schedule
	byName       map[string]int
	order        *graph.Graph[int, struct{}]
	nodeByIndex  map[int]graph.NodeIndex
	cachedOrder  []int
	cacheDirty   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:      make(map[string]int),
		order:       graph.New[int, struct{}](),
		nodeByIndex: make(map[int]graph.NodeIndex),
		cacheDirty:  true,
	}
}

// AddSchedule registers a new, empty schedule and returns its index as a
// ScheduleHandle. Fails errs.ErrDuplicateSchedule if name is already used.
func (r *Registry) AddSchedule(name string) (ScheduleHandle, error) {
	if _, exists := r.byName[name]; exists {
		return ScheduleHandle{}, errs.ErrDuplicateSchedule
	}
	idx := len(r.schedules)
	s := &Schedule{Name: name, Index: idx, systemAt: make(map[string]int)}
	r.schedules = append(r.schedules, s)
	r.byName[name] = idx

	node := r.order.AddNode(idx)
	r.nodeByIndex[idx] = node
	r.cacheDirty = true

	return ScheduleHandle{index: idx}, nil
}

// ScheduleHandle identifies a registered schedule.
type ScheduleHandle struct{ index int }

// ScheduleBefore adds a "before" edge: a runs before b. Fails
// errs.ErrUnknownSchedule if either name is unregistered, or
// errs.ErrCycleDetected if the edge would create a cycle.
func (r *Registry) ScheduleBefore(a, b string) error {
	return r.addOrderEdge(a, b)
}

// ScheduleAfter adds an "after" edge: b runs before a. Equivalent to
// ScheduleBefore(b, a).
func (r *Registry) ScheduleAfter(a, b string) error {
	return r.addOrderEdge(b, a)
}

func (r *Registry) addOrderEdge(before, after string) error {
	bi, ok := r.byName[before]
	if !ok {
		return errs.ErrUnknownSchedule
	}
	ai, ok := r.byName[after]
	if !ok {
		return errs.ErrUnknownSchedule
	}
	bn, an := r.nodeByIndex[bi], r.nodeByIndex[ai]

	if _, err := r.order.AddEdge(bn, an, struct{}{}); err != nil {
		return err
	}
	if _, ok := kahnFullGraph(r.order); !ok {
		// Roll back: Graph has no RemoveEdge, so rebuild the adjacency list
		// without the edge we just added.
		r.removeOrderEdge(bn, an)
		return errs.ErrCycleDetected
	}
	r.cacheDirty = true
	return nil
}

// removeOrderEdge is a narrow escape hatch used only to undo a
// cycle-introducing AddEdge; Graph itself has no RemoveEdge operation.
func (r *Registry) removeOrderEdge(from, to graph.NodeIndex) {
	rebuilt := graph.New[int, struct{}]()
	n := r.order.NodeCount()
	for i := 0; i < n; i++ {
		w, _ := r.order.GetNodeWeight(graph.NodeIndex(i))
		rebuilt.AddNode(w)
	}
	for i := 0; i < n; i++ {
		neighbors, _ := r.order.Neighbors(graph.NodeIndex(i))
		for _, to2 := range neighbors {
			if graph.NodeIndex(i) == from && to2 == to {
				continue
			}
			_, _ = rebuilt.AddEdge(graph.NodeIndex(i), to2, struct{}{})
		}
	}
	r.order = rebuilt
}

// kahnFullGraph runs Kahn's algorithm over every node in g (not restricted
// to any seed's reachable set), breaking ties by smallest NodeIndex. It
// reports (order, false) if g is not acyclic.
func kahnFullGraph(g *graph.Graph[int, struct{}]) ([]int, bool) {
	n := g.NodeCount()
	inDegree := make([]int, n)
	for i := 0; i < n; i++ {
		neighbors, _ := g.Neighbors(graph.NodeIndex(i))
		for _, to := range neighbors {
			inDegree[to]++
		}
	}
	order := make([]int, 0, n)
	emitted := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !emitted[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return order, false
		}
		emitted[next] = true
		w, _ := g.GetNodeWeight(graph.NodeIndex(next))
		order = append(order, w)
		neighbors, _ := g.Neighbors(graph.NodeIndex(next))
		for _, to := range neighbors {
			inDegree[to]--
		}
	}
	return order, true
}

// AddSystem appends a system to schedule name. Fails
// errs.ErrUnknownSchedule if the schedule is unregistered, or
// errs.ErrDuplicateSystem if a system with that name already exists in it.
func (r *Registry) AddSystem(scheduleName, systemName string, fn func(txn.Transaction) error) error {
	idx, ok := r.byName[scheduleName]
	if !ok {
		return errs.ErrUnknownSchedule
	}
	s := r.schedules[idx]
	if _, exists := s.systemAt[systemName]; exists {
		return errs.ErrDuplicateSystem
	}
	s.systemAt[systemName] = len(s.Systems)
	s.Systems = append(s.Systems, System{Name: systemName, Fn: fn})
	return nil
}

// Order returns the schedule execution order as a slice of schedule
// indices, recomputing (and caching) only when the registry has changed
// since the last call. Fails errs.ErrCycleDetected if the schedule-order
// graph as a whole is not acyclic.
func (r *Registry) Order() ([]int, error) {
	if !r.cacheDirty {
		return r.cachedOrder, nil
	}
	order, ok := kahnFullGraph(r.order)
	if !ok {
		return nil, errs.ErrCycleDetected
	}
	r.cachedOrder = order
	r.cacheDirty = false
	return order, nil
}

// Schedule returns the schedule registered at index i.
func (r *Registry) Schedule(index int) *Schedule {
	return r.schedules[index]
}

// ScheduleCount returns the number of registered schedules.
func (r *Registry) ScheduleCount() int { return len(r.schedules) }
