// Package analyzer implements the optional, separate static-analysis checks
// of SPEC_FULL.md §6: cycle detection, a data-race heuristic, and critical-
// path computation over a build-time graph description. None of this is
// invoked by graphflow.Graph itself - cycles are legal at run time
// (§4.3) and draining a cyclic graph is the caller's responsibility via
// graphflow.WithCanTerminate. Running these checks ahead of time is how a
// caller finds out a cycle has no way to drain before it hangs in
// production.
//
// The cycle test is grounded directly on the teacher's kdag/validation.go
// detectCycles: the same DFS-with-recursion-stack algorithm, generalized
// from "reject any cycle" into "enumerate every cycle and report whether it
// carries a custom terminator".
package analyzer

import (
	"fmt"
	"time"
)

// Describable is the minimal read-only view of a graph description this
// package needs: *graphflow.Graph satisfies it without analyzer importing
// the graphflow package, avoiding an import
// cycle (graphflow -> analyzer would be needed only for tests).
type Describable interface {
	NodeNames() []string
	Edges(node string) []string
	HasCustomTerminator(node string) bool
}

// Cycle is one elementary circuit found by CycleTest.
type Cycle struct {
	Path             []string
	HasTerminator    bool
}

func (c Cycle) String() string {
	s := ""
	for i, n := range c.Path {
		if i > 0 {
			s += " -> "
		}
		s += n
	}
	return s
}

const maxDepth = 10000

// CycleTest runs one depth-first search over g and reports one cycle per
// back edge it meets, with whether at least one node on that cycle overrides
// CanTerminate. It does not list every elementary cycle: a cycle that closes
// only through a node whose search has already finished is not reported.
// A cycle with
// HasTerminator == false will hang the graph at run time unless the caller
// adds one (see SPEC_FULL.md §4.3).
func CycleTest(g Describable) []Cycle {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string
	var cycles []Cycle

	var visit func(node string, depth int) error
	visit = func(node string, depth int) error {
		if depth > maxDepth {
			return fmt.Errorf("analyzer: graph exceeds max depth %d, possible runaway topology", maxDepth)
		}
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, child := range g.Edges(node) {
			if recStack[child] {
				cycle := extractCycle(path, child)
				cycles = append(cycles, Cycle{Path: cycle, HasTerminator: anyCustomTerminator(g, cycle)})
				continue
			}
			if !visited[child] {
				if err := visit(child, depth+1); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	for _, n := range g.NodeNames() {
		if !visited[n] {
			_ = visit(n, 0)
		}
	}
	return cycles
}

func extractCycle(path []string, start string) []string {
	for i, n := range path {
		if n == start {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, start)
		}
	}
	return append([]string(nil), start)
}

func anyCustomTerminator(g Describable, path []string) bool {
	for _, n := range path {
		if g.HasCustomTerminator(n) {
			return true
		}
	}
	return false
}

// OutputDescribable additionally exposes fan-out and mutability metadata
// for the data-race heuristic.
type OutputDescribable interface {
	Describable
	Receivers(node string) int
	OutputIsConst(node string) bool
	AllReceiversReadOnly(node string) bool
}

// Finding is one potential data race reported by DataRaceTest.
type Finding struct {
	Node   string
	Reason string
}

// DataRaceTest flags any node whose output type is non-const, has more than
// one live receiver, and where not every receiver declared the value
// read-only - the scenario where two goroutines could observe the same
// mutable payload without synchronization (§9 fan-out ownership note).
func DataRaceTest(g OutputDescribable) []Finding {
	var findings []Finding
	for _, n := range g.NodeNames() {
		if g.OutputIsConst(n) {
			continue
		}
		if g.Receivers(n) <= 1 {
			continue
		}
		if g.AllReceiversReadOnly(n) {
			continue
		}
		findings = append(findings, Finding{
			Node:   n,
			Reason: fmt.Sprintf("node %s fans a mutable output out to %d receivers, not all read-only", n, g.Receivers(n)),
		})
	}
	return findings
}

// Path is the result of CriticalPathTest: the heaviest-weighted route from
// any input node to any output node.
type Path struct {
	Nodes []string
	Total time.Duration
}

// CriticalPathTest computes the longest (by weight) input-to-output path
// through g via a topological longest-path DP over its own depth-first
// topological sort - a graph containing any cycle, with or without a custom
// terminator, has no finite critical path and CriticalPathTest returns an
// error in that case instead of looping forever.
func CriticalPathTest(g Describable, weight func(node string) time.Duration) (Path, error) {
	order, err := topologicalOrder(g)
	if err != nil {
		return Path{}, err
	}

	best := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))

	for _, n := range order {
		w := weight(n)
		if _, ok := best[n]; !ok {
			best[n] = w
		}
		for _, child := range g.Edges(n) {
			candidate := best[n] + weight(child)
			if candidate > best[child] {
				best[child] = candidate
				prev[child] = n
			}
		}
	}

	var end string
	var max time.Duration
	for n, d := range best {
		if d >= max {
			max = d
			end = n
		}
	}

	var path []string
	for n := end; n != ""; n = prev[n] {
		path = append([]string{n}, path...)
		if _, ok := prev[n]; !ok {
			break
		}
	}

	return Path{Nodes: path, Total: max}, nil
}

func topologicalOrder(g Describable) ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var order []string

	var visit func(n string) error
	visit = func(n string) error {
		color[n] = gray
		for _, child := range g.Edges(n) {
			switch color[child] {
			case gray:
				return fmt.Errorf("analyzer: graph contains a cycle through %s, no finite critical path", child)
			case white:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		color[n] = black
		order = append([]string{n}, order...)
		return nil
	}

	for _, n := range g.NodeNames() {
		if color[n] == white {
			if err := visit(n); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}
