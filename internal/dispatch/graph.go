package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/orca/internal/worker"
)

// ErrCycleDetected indicates a circular dependency among subtasks.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrInvalidBatch indicates a malformed subtask batch: duplicate ids or a
// dependency on a subtask that is not in the batch.
var ErrInvalidBatch = errors.New("invalid subtask batch")

// CyclicDependencyError reports the cycle that aborted a batch.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCycleDetected }

// graph holds the dependency edges of one batch. Node order follows the
// input order so traversal is deterministic.
type graph struct {
	order      []string
	deps       map[string][]string // id -> ids it depends on
	dependents map[string][]string // id -> ids that depend on it
}

// buildGraph validates subtasks and returns their graph. Unknown dependency
// ids, duplicate ids and cycles are rejected.
func buildGraph(subtasks []worker.Subtask) (*graph, error) {
	g := &graph{
		order:      make([]string, 0, len(subtasks)),
		deps:       make(map[string][]string, len(subtasks)),
		dependents: make(map[string][]string, len(subtasks)),
	}

	for _, st := range subtasks {
		if _, dup := g.deps[st.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate subtask id %q", ErrInvalidBatch, st.ID)
		}
		g.order = append(g.order, st.ID)
		g.deps[st.ID] = nil
	}

	for _, st := range subtasks {
		seen := make(map[string]bool, len(st.DependsOn))
		for _, dep := range st.DependsOn {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("%w: subtask %s depends on unknown subtask %s", ErrInvalidBatch, st.ID, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[st.ID] = append(g.deps[st.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], st.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}
	return g, nil
}

// findCycle runs a white/gray/black DFS and returns the first cycle found as
// a path that starts and ends on the same id, or nil.
func (g *graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch colors[dep] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, dep)
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.order {
		if colors[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// topologicalOrder returns ids with every dependency before its dependents,
// breaking ties by input order.
func (g *graph) topologicalOrder() []string {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	var out []string
	emitted := make(map[string]bool, len(g.order))
	for len(out) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if emitted[id] || indegree[id] > 0 {
				continue
			}
			emitted[id] = true
			out = append(out, id)
			progressed = true
			for _, d := range g.dependents[id] {
				indegree[d]--
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// TopologicalOrder validates subtasks and returns their ids in an order that
// respects dependencies.
func TopologicalOrder(subtasks []worker.Subtask) ([]string, error) {
	g, err := buildGraph(subtasks)
	if err != nil {
		return nil, err
	}
	return g.topologicalOrder(), nil
}
