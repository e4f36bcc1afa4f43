package graph

import (
	"container/list"
	"errors"
	"fmt"
	"strings"
)

// ProcessingQueue holds nodes that are ready to be processed (in-degree 0),
// kept sorted by configured position so ties resolve to configuration order.
type ProcessingQueue struct {
	queue *list.List
	pos   map[string]int
}

// NewProcessingQueue creates a new empty processing queue ordered by pos.
func NewProcessingQueue(pos map[string]int) *ProcessingQueue {
	return &ProcessingQueue{
		queue: list.New(),
		pos:   pos,
	}
}

// InitializeQueue creates a processing queue populated with all nodes
// that have in-degree of 0 (no dependencies).
func (g *Graph) InitializeQueue(inDegree map[string]int) *ProcessingQueue {
	pq := NewProcessingQueue(g.Nodes)
	for _, name := range g.order {
		if inDegree[name] == 0 {
			pq.Enqueue(name)
		}
	}
	return pq
}

// Enqueue inserts a node keeping the queue sorted by position.
func (pq *ProcessingQueue) Enqueue(node string) {
	p := pq.pos[node]
	for e := pq.queue.Back(); e != nil; e = e.Prev() {
		if pq.pos[e.Value.(string)] <= p {
			pq.queue.InsertAfter(node, e)
			return
		}
	}
	pq.queue.PushFront(node)
}

// Dequeue removes and returns the node at the front of the queue.
// Returns empty string and false if queue is empty.
func (pq *ProcessingQueue) Dequeue() (string, bool) {
	if pq.queue.Len() == 0 {
		return "", false
	}
	elem := pq.queue.Front()
	pq.queue.Remove(elem)
	return elem.Value.(string), true
}

// Len returns the number of nodes in the queue.
func (pq *ProcessingQueue) Len() int {
	return pq.queue.Len()
}

// IsEmpty returns true if the queue has no nodes.
func (pq *ProcessingQueue) IsEmpty() bool {
	return pq.queue.Len() == 0
}

// CalculateInDegrees computes the number of incoming edges for each node.
func (g *Graph) CalculateInDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		inDegree[name] = len(g.Parents[name])
	}
	return inDegree
}

// ErrCycleDetected is returned when the dependency graph contains a cycle,
// making topological sorting impossible.
var ErrCycleDetected = errors.New("cycle detected in dependency graph")

// CycleInfo contains information about incomplete processing due to cycles.
type CycleInfo struct {
	TotalNodes        int
	ProcessedNodes    int
	UnprocessedNodes  []string // part of or blocked by a cycle
	CycleParticipants []string // subset of UnprocessedNodes that lie on a cycle
	CyclePath         []string // e.g. [A, B, C, A]
}

// CycleError represents a cycle detection error with the tables involved.
type CycleError struct {
	Info *CycleInfo
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("cycle detected in dependency graph: %d of %d tables could not be ordered",
		len(e.Info.UnprocessedNodes), e.Info.TotalNodes)

	if len(e.Info.CyclePath) > 0 {
		msg += fmt.Sprintf("\nCycle path: %s", strings.Join(e.Info.CyclePath, " -> "))
	}

	if len(e.Info.CycleParticipants) > 0 {
		msg += fmt.Sprintf("\nTables in cycle: %s", strings.Join(e.Info.CycleParticipants, ", "))
	}

	return msg
}

// Is makes errors.Is(err, ErrCycleDetected) hold for every CycleError.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// DetectIncompleteProcessing runs Kahn's algorithm and returns information
// about any nodes that couldn't be processed, or nil when there is no cycle.
func (g *Graph) DetectIncompleteProcessing() *CycleInfo {
	_, processed := g.kahn()
	if len(processed) == len(g.order) {
		return nil
	}

	var unprocessed []string
	unprocessedSet := make(map[string]bool)
	for _, name := range g.order {
		if !processed[name] {
			unprocessed = append(unprocessed, name)
			unprocessedSet[name] = true
		}
	}

	var cycleParticipants []string
	for _, node := range unprocessed {
		if g.canReachSelf(node, unprocessedSet) {
			cycleParticipants = append(cycleParticipants, node)
		}
	}

	var cyclePath []string
	if len(cycleParticipants) > 0 {
		cyclePath = g.FindCyclePath(cycleParticipants[0], unprocessedSet)
	}

	return &CycleInfo{
		TotalNodes:        len(g.order),
		ProcessedNodes:    len(processed),
		UnprocessedNodes:  unprocessed,
		CycleParticipants: cycleParticipants,
		CyclePath:         cyclePath,
	}
}

// FindCyclePath finds the path that forms a cycle starting from the given node.
// Returns the ordered list of nodes forming the cycle (start node at both ends).
func (g *Graph) FindCyclePath(start string, allowedNodes map[string]bool) []string {
	visited := make(map[string]bool)
	path := []string{start}

	if g.dfsFindPath(start, start, visited, allowedNodes, &path) {
		return path
	}
	return nil
}

func (g *Graph) dfsFindPath(current, target string, visited, allowedNodes map[string]bool, path *[]string) bool {
	for _, child := range g.GetChildren(current) {
		if !allowedNodes[child] {
			continue
		}
		if child == target {
			*path = append(*path, target)
			return true
		}
		if visited[child] {
			continue
		}

		visited[child] = true
		*path = append(*path, child)

		if g.dfsFindPath(child, target, visited, allowedNodes, path) {
			return true
		}

		// Backtrack
		*path = (*path)[:len(*path)-1]
	}
	return false
}

// canReachSelf checks if a node can reach itself inside allowedNodes.
func (g *Graph) canReachSelf(start string, allowedNodes map[string]bool) bool {
	visited := make(map[string]bool)
	return g.dfsCanReach(start, start, visited, allowedNodes, true)
}

func (g *Graph) dfsCanReach(current, target string, visited, allowedNodes map[string]bool, isStart bool) bool {
	if current == target && !isStart {
		return true
	}
	if visited[current] || !allowedNodes[current] {
		return false
	}

	visited[current] = true
	for _, child := range g.GetChildren(current) {
		if g.dfsCanReach(child, target, visited, allowedNodes, false) {
			return true
		}
	}
	return false
}

func (g *Graph) kahn() ([]string, map[string]bool) {
	inDegree := g.CalculateInDegrees()
	queue := g.InitializeQueue(inDegree)

	result := make([]string, 0, len(g.order))
	processed := make(map[string]bool, len(g.order))

	for !queue.IsEmpty() {
		node, _ := queue.Dequeue()
		result = append(result, node)
		processed[node] = true

		for _, child := range g.GetChildren(node) {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue.Enqueue(child)
			}
		}
	}
	return result, processed
}

// TopologicalSort returns tables with parents before children. Among tables
// that are ready at the same time the configured order wins, so a graph
// without edges sorts to exactly the configured order.
func (g *Graph) TopologicalSort() ([]string, error) {
	result, _ := g.kahn()
	if len(result) != len(g.order) {
		return nil, &CycleError{Info: g.DetectIncompleteProcessing()}
	}
	return result, nil
}

// CreateOrder is the order in which destination tables are created and seeded.
func (g *Graph) CreateOrder() ([]string, error) {
	return g.TopologicalSort()
}
