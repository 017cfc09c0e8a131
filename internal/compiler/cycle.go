package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cardflow/internal/ir"
)

// CycleWarning represents a loop of OnCardUpdate transitions.
//
// A card update can advance an execution along such a loop indefinitely,
// bounded only by the transition depth limit. Loops are reported, not
// rejected: a guarded loop is a legitimate rework cycle.
type CycleWarning struct {
	Process string   `json:"process"`
	Path    []string `json:"path"`    // State path: ["p.a", "p.b", "p.a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds loops of OnCardUpdate transitions in every process.
//
// The algorithm:
//  1. Build a state graph per process from its OnCardUpdate transitions
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// A loop where no transition carries a guard is a "warning": any card
// update keeps it spinning. A loop with at least one guard is "info".
func AnalyzeCycles(d *Definitions) []CycleWarning {
	warnings := []CycleWarning{}
	for _, p := range d.Processes {
		graph := buildStateGraph(d.Transitions, p.ID)
		if len(graph.edges) == 0 {
			continue
		}
		for _, scc := range tarjanSCC(graph) {
			if len(scc) > 1 || (len(scc) == 1 && graph.hasSelfLoop(scc[0])) {
				warnings = append(warnings, graph.warning(p.ID, scc))
			}
		}
	}
	return warnings
}

// stateGraph maps a state to the OnCardUpdate transitions leaving it.
type stateGraph struct {
	edges map[string][]ir.Transition
}

func buildStateGraph(transitions []ir.Transition, process string) stateGraph {
	g := stateGraph{edges: make(map[string][]ir.Transition)}
	for _, t := range transitions {
		if t.Process != process || t.IsInitial() || t.Trigger != ir.TriggerOnCardUpdate {
			continue
		}
		g.edges[*t.From] = append(g.edges[*t.From], t)
		if _, ok := g.edges[t.To]; !ok {
			g.edges[t.To] = nil
		}
	}
	return g
}

func (g stateGraph) hasSelfLoop(state string) bool {
	for _, t := range g.edges[state] {
		if t.To == state {
			return true
		}
	}
	return false
}

// nodes returns the states in a stable order.
func (g stateGraph) nodes() []string {
	out := make([]string, 0, len(g.edges))
	for n := range g.edges {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g stateGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, t := range g.edges[v] {
			w := t.To
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func (g stateGraph) warning(process string, scc []string) CycleWarning {
	members := make(map[string]bool, len(scc))
	for _, s := range scc {
		members[s] = true
	}

	guarded := false
	for _, s := range scc {
		for _, t := range g.edges[s] {
			if members[t.To] && len(t.Guard) > 0 {
				guarded = true
			}
		}
	}
	level := "warning"
	if guarded {
		level = "info"
	}

	path := g.cyclePath(scc, members)
	return CycleWarning{
		Process: process,
		Path:    path,
		Message: fmt.Sprintf("card updates can loop through %s", strings.Join(path, " -> ")),
		Level:   level,
	}
}

// cyclePath walks SCC members from the smallest state id until it returns
// to the start.
func (g stateGraph) cyclePath(scc []string, members map[string]bool) []string {
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}

	for current := start; ; {
		next := ""
		for _, t := range g.edges[current] {
			if t.To == start {
				next = start
				break
			}
			if next == "" && members[t.To] && !visited[t.To] {
				next = t.To
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return path
}
