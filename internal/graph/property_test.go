package graph

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// buildDAG creates n tables and turns each (i, j) pair into an edge from the
// lower to the higher numbered table, which can never form a cycle. Table
// names are configured in reverse so the sort actually has to reorder them.
func buildDAG(n int, pairs []int) *Graph {
	tables := make([]string, n)
	for i := range tables {
		tables[i] = fmt.Sprintf("t%02d", n-1-i)
	}
	g := NewGraph(tables)
	for k := 0; k+1 < len(pairs); k += 2 {
		a, b := pairs[k]%n, pairs[k+1]%n
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		g.AddEdge(fmt.Sprintf("t%02d", a), fmt.Sprintf("t%02d", b))
	}
	return g
}

func TestTopologicalSortProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("every parent precedes its children", prop.ForAll(
		func(n int, pairs []int) bool {
			g := buildDAG(n, pairs)
			order, err := g.TopologicalSort()
			if err != nil {
				return false
			}
			pos := make(map[string]int, len(order))
			for i, name := range order {
				pos[name] = i
			}
			for _, e := range g.AllEdges() {
				if pos[e.From] >= pos[e.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 15),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("sort is a permutation of the configured tables", prop.ForAll(
		func(n int, pairs []int) bool {
			g := buildDAG(n, pairs)
			order, err := g.TopologicalSort()
			if err != nil || len(order) != g.NodeCount() {
				return false
			}
			seen := make(map[string]bool, len(order))
			for _, name := range order {
				if !g.HasNode(name) || seen[name] {
					return false
				}
				seen[name] = true
			}
			return true
		},
		gen.IntRange(1, 15),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("acyclic graphs never report a cycle", prop.ForAll(
		func(n int, pairs []int) bool {
			return buildDAG(n, pairs).DetectIncompleteProcessing() == nil
		},
		gen.IntRange(1, 15),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
