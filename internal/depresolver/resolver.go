// Package depresolver maintains the task dependency DAG: cycle-safe
// submission, a waiting set for tasks whose dependencies haven't
// completed, and ready-set computation as dependencies complete.
package depresolver

import (
	"github.com/swarmguard/taskcore/internal/taskerr"
)

// Resolver owns the dependency graph. It has no lock and is not safe
// for concurrent use; the owning Scheduler calls it only from its actor
// goroutine.
type Resolver struct {
	// edges[id] = set of ids that id depends on.
	edges map[string]map[string]bool
	// completed tracks task ids that have finished successfully.
	completed map[string]bool
}

// New constructs an empty resolver.
func New() *Resolver {
	return &Resolver{
		edges:     make(map[string]map[string]bool),
		completed: make(map[string]bool),
	}
}

// Submit registers id with the given dependencies. If adding the edges
// would introduce a cycle, Submit fails with CircularDependencyError
// and the resolver's state is left exactly as it was before the call —
// submission is atomic with respect to cycle detection.
func (r *Resolver) Submit(id string, dependencies []string) error {
	// Work on a copy-on-write snapshot so a rejected submission never
	// mutates the live graph.
	trial := r.cloneEdges()
	set := make(map[string]bool, len(dependencies))
	for _, dep := range dependencies {
		set[dep] = true
	}
	trial[id] = set

	if cycle := findCycle(trial, id); cycle != nil {
		return &taskerr.CircularDependencyError{Cycle: cycle}
	}

	r.edges = trial
	return nil
}

// Remove drops id from the graph entirely (used on cancellation).
func (r *Resolver) Remove(id string) {
	delete(r.edges, id)
	delete(r.completed, id)
	for _, deps := range r.edges {
		delete(deps, id)
	}
}

// MarkCompleted records id as finished and returns the set of ids that
// this completion made ready to run: tasks that depend on id, have
// every dependency satisfied, and are not already completed.
func (r *Resolver) MarkCompleted(id string) []string {
	r.completed[id] = true

	ready := make([]string, 0)
	for candidate, deps := range r.edges {
		if r.completed[candidate] || !deps[id] {
			continue
		}
		if !r.allSatisfied(deps) {
			continue
		}
		ready = append(ready, candidate)
	}
	return ready
}

// Waiting reports the dependencies of id that have not yet completed.
func (r *Resolver) Waiting(id string) []string {
	deps, ok := r.edges[id]
	if !ok {
		return nil
	}
	pending := make([]string, 0, len(deps))
	for dep := range deps {
		if !r.completed[dep] {
			pending = append(pending, dep)
		}
	}
	return pending
}

// Ready reports whether id has every dependency satisfied.
func (r *Resolver) Ready(id string) bool {
	deps, ok := r.edges[id]
	if !ok {
		return true
	}
	return r.allSatisfied(deps)
}

func (r *Resolver) allSatisfied(deps map[string]bool) bool {
	for dep := range deps {
		if !r.completed[dep] {
			return false
		}
	}
	return true
}

func (r *Resolver) cloneEdges() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(r.edges)+1)
	for id, deps := range r.edges {
		cp := make(map[string]bool, len(deps))
		for d := range deps {
			cp[d] = true
		}
		out[id] = cp
	}
	return out
}

// findCycle runs a DFS from start over edges, returning the cycle path
// if one includes start, or nil if the graph (restricted to nodes
// reachable from start) is acyclic.
func findCycle(edges map[string]map[string]bool, start string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var path []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		path = append(path, node)

		for dep := range edges[node] {
			switch color[dep] {
			case gray:
				// Found the back edge; extract the cycle portion of path.
				idx := indexOf(path, dep)
				cycle = append([]string(nil), path[idx:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	if visit(start) {
		return cycle
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
