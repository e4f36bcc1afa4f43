// Package graph orders the tables of a replication set by their foreign keys
// so that parents are created and seeded before their children.
package graph

// Edge represents a dependency relationship between tables.
type Edge struct {
	From string // Parent table name
	To   string // Child table name
}

// Graph is a table dependency graph. Node positions follow the configured
// table order and break ties during sorting.
type Graph struct {
	Nodes    map[string]int      // table name -> configured position
	Children map[string][]string // table name -> child table names (outgoing edges)
	Parents  map[string][]string // table name -> parent table names (incoming edges)
	order    []string
}

// NewGraph creates a graph holding tables in their configured order.
// Duplicate names are ignored.
func NewGraph(tables []string) *Graph {
	g := &Graph{
		Nodes:    make(map[string]int, len(tables)),
		Children: make(map[string][]string),
		Parents:  make(map[string][]string),
	}
	for _, t := range tables {
		g.AddNode(t)
	}
	return g
}

// AddNode appends a table to the graph.
func (g *Graph) AddNode(name string) {
	if _, exists := g.Nodes[name]; exists {
		return
	}
	g.Nodes[name] = len(g.order)
	g.order = append(g.order, name)
}

// AddEdge adds a parent -> child relationship to the graph. Both tables must
// already be nodes; duplicate edges are ignored.
func (g *Graph) AddEdge(parent, child string) {
	if !g.HasNode(parent) || !g.HasNode(child) {
		return
	}
	for _, c := range g.Children[parent] {
		if c == child {
			return
		}
	}
	g.Children[parent] = append(g.Children[parent], child)
	g.Parents[child] = append(g.Parents[child], parent)
}

// GetChildren returns all direct children of a table.
func (g *Graph) GetChildren(parent string) []string {
	return g.Children[parent]
}

// HasNode returns true if the graph contains a node with the given name.
func (g *Graph) HasNode(name string) bool {
	_, exists := g.Nodes[name]
	return exists
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.order)
}

// AllEdges returns every edge, parents in configured order.
func (g *Graph) AllEdges() []Edge {
	var edges []Edge
	for _, parent := range g.order {
		for _, child := range g.Children[parent] {
			edges = append(edges, Edge{From: parent, To: child})
		}
	}
	return edges
}

// OrderViolations returns the edges whose child is configured before its
// parent. Change batches are applied in fetch order, so such tables can
// violate destination foreign keys within one version.
func (g *Graph) OrderViolations() []Edge {
	var out []Edge
	for _, e := range g.AllEdges() {
		if g.Nodes[e.To] < g.Nodes[e.From] {
			out = append(out, e)
		}
	}
	return out
}
